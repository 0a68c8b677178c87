package ternutil

import (
	"crypto/rand"
	"encoding/base64"
	"hash/fnv"

	"github.com/pkg/errors"
)

// Convenience function creating an FNV-1a 64-bit hash from the input byte
// slices. The allocators use it to derive stable offsets from client
// identifiers, so the hash must not depend on anything but the input.
func Fnv64(input ...[]byte) uint64 {
	h := fnv.New64a()
	// Ignore errors because they are never returned in this case.
	for _, i := range input {
		_, _ = h.Write(i)
	}
	return h.Sum64()
}

// Returns a Base64-encoded string of the given number of random bytes.
// Used to generate database passwords.
func Base64Random(length int) (string, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", errors.Wrap(err, "cannot read random bytes")
	}
	return base64.StdEncoding.EncodeToString(b), nil
}
