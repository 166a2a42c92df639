// Package signer holds the secp256k1 keys that authorize registrar transactions.
package signer

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/varanames/registrar-client/interfaces"
)

// ErrInvalidPayload is returned for payloads that are not a 32-byte digest.
var ErrInvalidPayload = errors.New("signing payload must be a 32-byte digest")

// KeyedSigner signs with an in-memory private key.
type KeyedSigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

var _ interfaces.Signer = (*KeyedSigner)(nil)

func NewKeyedSigner(key *ecdsa.PrivateKey) *KeyedSigner {
	return &KeyedSigner{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}
}

// FromHex parses a hex-encoded private key, with or without 0x prefix.
func FromHex(s string) (*KeyedSigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return nil, fmt.Errorf("could not parse private key: %w", err)
	}
	return NewKeyedSigner(key), nil
}

// FromFile reads a hex-encoded private key from path.
func FromFile(path string) (*KeyedSigner, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read key file: %w", err)
	}
	return FromHex(string(raw))
}

// Generate creates a fresh random key.
func Generate() (*KeyedSigner, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	return NewKeyedSigner(key), nil
}

func (s *KeyedSigner) Address() common.Address {
	return s.address
}

// Owner is the registrar identity of this signer's account.
func (s *KeyedSigner) Owner() interfaces.OwnerID {
	return interfaces.OwnerIDFromAddress(s.address)
}

// Hex returns the private key encoded for FromHex.
func (s *KeyedSigner) Hex() string {
	return fmt.Sprintf("%x", crypto.FromECDSA(s.key))
}

func (s *KeyedSigner) Sign(ctx context.Context, payload []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(payload) != 32 {
		return nil, ErrInvalidPayload
	}
	return crypto.Sign(payload, s.key)
}
