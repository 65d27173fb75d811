package util

import (
	"crypto/rand"
	"encoding/binary"
	"time"
)

// --------------------------------------------------------------------------
// Seeds and Hashing
// --------------------------------------------------------------------------

// GenerateSeed returns a random seed for hashing
func GenerateSeed() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return uint64(time.Now().UnixNano())
	}
	return binary.LittleEndian.Uint64(b[:])
}

// UintKey is a compact hash representation of a byte key
type UintKey uint64

// HashBytes hashes b with FNV-1a, mixing in the seed
func HashBytes(b []byte, seed uint64) UintKey {
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)

	hash := uint64(offset64) ^ seed
	for _, c := range b {
		hash ^= uint64(c)
		hash *= prime64
	}
	return UintKey(hash)
}

// --------------------------------------------------------------------------
// Key Ranges
// --------------------------------------------------------------------------

// PrefixEnd returns the smallest key that is greater than every key starting with prefix.
// It returns nil if no such key exists (empty prefix or all bytes 0xff), meaning unbounded.
func PrefixEnd(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

// Concat returns a new slice holding a followed by b
func Concat(a, b []byte) []byte {
	out := make([]byte, len(a)+len(b))
	copy(out, a)
	copy(out[len(a):], b)
	return out
}
