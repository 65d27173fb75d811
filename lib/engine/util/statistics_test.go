package util

import "testing"

func TestSizeHistogram(t *testing.T) {
	h := NewSizeHistogram()
	if h.Average() != 0 || h.Percentile(50) != 0 {
		t.Error("empty histogram should report zeros")
	}

	for _, size := range []int{4, 10, 10, 100, 5000} {
		h.AddSample(size)
	}

	if h.Count() != 5 {
		t.Errorf("expected 5 samples, got %d", h.Count())
	}
	if h.Sum() != 5124 {
		t.Errorf("expected sum 5124, got %d", h.Sum())
	}
	if min, max := h.MinMax(); min != 4 || max != 5000 {
		t.Errorf("expected min/max 4/5000, got %d/%d", min, max)
	}
	if p := h.Percentile(50); p != 16 {
		t.Errorf("expected median bucket bound 16, got %d", p)
	}
	if p := h.Percentile(100); p != 5000 {
		t.Errorf("expected p100 capped at the max sample, got %d", p)
	}

	bounds, shares := h.Distribution()
	if len(shares) != len(bounds)+1 {
		t.Errorf("expected %d shares, got %d", len(bounds)+1, len(shares))
	}
	var total float64
	for _, s := range shares {
		total += s
	}
	if total < 99.9 || total > 100.1 {
		t.Errorf("shares should sum to 100, got %f", total)
	}

	h.Reset()
	if h.Count() != 0 {
		t.Error("Reset should clear the histogram")
	}
}

func TestPrefixEnd(t *testing.T) {
	cases := []struct {
		in, want []byte
	}{
		{[]byte("abc"), []byte("abd")},
		{[]byte{0x01, 0xff}, []byte{0x02}},
		{[]byte{0xff, 0xff}, nil},
		{nil, nil},
	}
	for _, c := range cases {
		got := PrefixEnd(c.in)
		if string(got) != string(c.want) || (got == nil) != (c.want == nil) {
			t.Errorf("PrefixEnd(%x) = %x, want %x", c.in, got, c.want)
		}
	}
}

func TestHashBytes(t *testing.T) {
	seed := GenerateSeed()
	if HashBytes([]byte("key-1"), seed) != HashBytes([]byte("key-1"), seed) {
		t.Error("hashing should be deterministic for one seed")
	}
	if HashBytes([]byte("key-1"), seed) == HashBytes([]byte("key-2"), seed) {
		t.Error("different keys should hash differently")
	}
}
