package lockmgr

import (
	"crypto/rand"
	"errors"
)

const (
	ownerIDLength = 32
)

// errLost is returned by inTxn when a concurrent caller changed the lock first
var errLost = errors.New("lock changed concurrently")

// generateOwnerID creates a new unique owner ID
// The owner ID is a random byte slice of 256 bits.
func generateOwnerID() ([]byte, error) {
	randomBytes := make([]byte, ownerIDLength)
	_, err := rand.Read(randomBytes)
	return randomBytes, err
}
