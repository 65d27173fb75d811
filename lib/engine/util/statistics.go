// Package util
//
// This file implements a size histogram with exponential buckets.
// It is used to describe key and value sizes of a keyspace without keeping every sample,
// for example by the KVS statistics scan of the kvdb package.
package util

import (
	"sync"
)

// sizeBoundaries are the inclusive upper bounds of the buckets, the last bucket takes everything larger
var sizeBoundaries = []int{
	8, 16, 32, 64, 128, 256, 512, // small keys and values
	1024, 4096, 16384, 65536, // up to 64KB
	262144, 1048576, // up to the largest value a KVS accepts
}

// SizeHistogram tracks the distribution of data sizes
//
// Thread-safety: All methods are safe for concurrent use.
type SizeHistogram struct {
	mu      sync.RWMutex
	buckets []int64
	count   int64
	sum     int64
	min     int
	max     int
}

func NewSizeHistogram() *SizeHistogram {
	return &SizeHistogram{buckets: make([]int64, len(sizeBoundaries)+1)}
}

// AddSample records one size
func (h *SizeHistogram) AddSample(size int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	i := len(sizeBoundaries)
	for j, boundary := range sizeBoundaries {
		if size <= boundary {
			i = j
			break
		}
	}
	h.buckets[i]++
	if h.count == 0 || size < h.min {
		h.min = size
	}
	if size > h.max {
		h.max = size
	}
	h.count++
	h.sum += int64(size)
}

func (h *SizeHistogram) Count() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

func (h *SizeHistogram) Sum() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sum
}

// MinMax returns the smallest and largest sample (0, 0 without samples)
func (h *SizeHistogram) MinMax() (int, int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.min, h.max
}

func (h *SizeHistogram) Average() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.count == 0 {
		return 0
	}
	return int(h.sum / h.count)
}

// Percentile estimates the p-th percentile (0-100) as the upper bound of the bucket it falls in,
// capped by the largest sample.
func (h *SizeHistogram) Percentile(p int) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.count == 0 || p < 0 || p > 100 {
		return 0
	}
	target := (h.count*int64(p) + 99) / 100
	if target == 0 {
		target = 1
	}
	var seen int64
	for i, n := range h.buckets {
		seen += n
		if seen < target {
			continue
		}
		if i < len(sizeBoundaries) && sizeBoundaries[i] < h.max {
			return sizeBoundaries[i]
		}
		return h.max
	}
	return h.max
}

// Distribution returns the bucket bounds and the share of samples (in percent) per bucket.
// The last share belongs to samples above the last bound.
func (h *SizeHistogram) Distribution() ([]int, []float64) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	shares := make([]float64, len(h.buckets))
	if h.count == 0 {
		return sizeBoundaries, shares
	}
	for i, n := range h.buckets {
		shares[i] = float64(n) * 100 / float64(h.count)
	}
	return sizeBoundaries, shares
}

func (h *SizeHistogram) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := range h.buckets {
		h.buckets[i] = 0
	}
	h.count, h.sum, h.min, h.max = 0, 0, 0, 0
}
