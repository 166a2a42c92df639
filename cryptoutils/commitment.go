package cryptoutils

import (
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/blake2b"

	"github.com/varanames/registrar-client/interfaces"
)

// BuildCommitment computes blake2b-256(name || owner || secret || salt), the
// digest the registrar recomputes when the name is revealed. The field order
// and hash must match the deployed program; owner, secret and salt are fixed
// 32-byte fields so no separators are used.
func BuildCommitment(name interfaces.Name, owner interfaces.OwnerID, secret interfaces.Secret, salt interfaces.Salt) (interfaces.Commitment, error) {
	if err := name.Validate(); err != nil {
		return interfaces.Commitment{}, err
	}

	preimage := make([]byte, 0, len(name)+3*32)
	preimage = append(preimage, name...)
	preimage = append(preimage, owner[:]...)
	preimage = append(preimage, secret[:]...)
	preimage = append(preimage, salt[:]...)

	return interfaces.Commitment(blake2b.Sum256(preimage)), nil
}

// NewBlinding draws a fresh secret and salt from r. A nil reader means crypto/rand.
func NewBlinding(r io.Reader) (interfaces.Secret, interfaces.Salt, error) {
	if r == nil {
		r = rand.Reader
	}
	var secret interfaces.Secret
	var salt interfaces.Salt
	if _, err := io.ReadFull(r, secret[:]); err != nil {
		return secret, salt, fmt.Errorf("failed to generate secret: %w", err)
	}
	if _, err := io.ReadFull(r, salt[:]); err != nil {
		return secret, salt, fmt.Errorf("failed to generate salt: %w", err)
	}
	return secret, salt, nil
}

// Wipe zeroes blinding material once an attempt is over.
func Wipe(secret *interfaces.Secret, salt *interfaces.Salt) {
	clear(secret[:])
	clear(salt[:])
}
