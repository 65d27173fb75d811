package kvdb

// --------------------------------------------------------------------------
// Buffer Protocol
// --------------------------------------------------------------------------
//
// The *Into variants copy results into caller owned buffers. A buffer that is too small
// receives a truncated copy, the result always carries the true length. A nil buffer only
// reports the length.

// GetResult is the result of KVS.GetInto
type GetResult struct {
	Found  bool   // false if the key does not exist, an empty value is found with Length 0
	Value  []byte // buf[:min(len(buf), Length)], nil for a nil buf
	Length int    // true length of the stored value
}

// Truncated reports if the value did not fit into the buffer
func (r GetResult) Truncated() bool { return len(r.Value) < r.Length }

// ReadResult is the result of Cursor.ReadInto
type ReadResult struct {
	EOF         bool
	Key         []byte
	Value       []byte
	KeyLength   int
	ValueLength int
}

// Truncated reports if the key or value did not fit into its buffer
func (r ReadResult) Truncated() bool {
	return len(r.Key) < r.KeyLength || len(r.Value) < r.ValueLength
}

// Cardinality classifies how many keys match a probed prefix
type Cardinality uint8

const (
	ProbeZero Cardinality = iota // No key has the prefix
	ProbeOne                     // Exactly one key has the prefix
	ProbeMul                     // More than one key has the prefix
)

func (c Cardinality) String() string {
	switch c {
	case ProbeZero:
		return "ZERO"
	case ProbeOne:
		return "ONE"
	case ProbeMul:
		return "MUL"
	default:
		return "UNKNOWN"
	}
}

// ProbeResult is the result of a prefix probe.
// For ProbeOne and ProbeMul it holds one matching pair, for ProbeMul it is not specified which.
type ProbeResult struct {
	Cardinality Cardinality
	Key         []byte
	Value       []byte
	KeyLength   int
	ValueLength int
}

// fill copies src into buf and returns the copied part, nil if buf is nil
func fill(buf, src []byte) []byte {
	if buf == nil {
		return nil
	}
	n := copy(buf, src)
	return buf[:n]
}
