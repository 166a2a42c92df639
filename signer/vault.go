package signer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hashicorp/vault/api"
)

// ErrKeyNotFound is returned when the Vault path holds no key.
var ErrKeyNotFound = errors.New("signing key not found in vault")

const vaultKeyField = "private_key"

// VaultKeyStore keeps signing keys in a Vault KV v2 mount.
type VaultKeyStore struct {
	client    *api.Client
	mountPath string
	dataPath  string
	log       *slog.Logger
}

// NewVaultKeyStore creates a key store using token authentication.
//
// Parameters:
//   - address: Vault server address (e.g. https://vault.example.com:8200)
//   - token: Vault token with read (and for keygen, write) access
//   - mountPath: KV v2 mount path (e.g. "secret")
//   - dataPath: Path of the key within the mount (e.g. "vns/signer")
func NewVaultKeyStore(address, token, mountPath, dataPath string, log *slog.Logger) (*VaultKeyStore, error) {
	config := api.DefaultConfig()
	config.Address = address

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	client.SetToken(token)

	return &VaultKeyStore{
		client:    client,
		mountPath: strings.Trim(mountPath, "/"),
		dataPath:  strings.Trim(dataPath, "/"),
		log:       log,
	}, nil
}

func (s *VaultKeyStore) path() string {
	return fmt.Sprintf("%s/data/%s", s.mountPath, s.dataPath)
}

// Load fetches the key and returns a signer for it.
func (s *VaultKeyStore) Load(ctx context.Context) (*KeyedSigner, error) {
	path := s.path()
	secret, err := s.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		s.log.Error("Failed to read signing key from Vault", slog.String("path", path), "err", err)
		return nil, fmt.Errorf("failed to read from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, ErrKeyNotFound
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid data format in Vault response")
	}
	hexKey, ok := data[vaultKeyField].(string)
	if !ok {
		return nil, ErrKeyNotFound
	}

	signer, err := FromHex(hexKey)
	if err != nil {
		return nil, err
	}
	s.log.Debug("Loaded signing key from Vault", slog.String("path", path), slog.String("address", signer.Address().Hex()))
	return signer, nil
}

// Store writes the signer's key to Vault.
func (s *VaultKeyStore) Store(ctx context.Context, signer *KeyedSigner) error {
	path := s.path()
	_, err := s.client.Logical().WriteWithContext(ctx, path, map[string]interface{}{
		"data": map[string]interface{}{
			vaultKeyField: signer.Hex(),
		},
	})
	if err != nil {
		s.log.Error("Failed to write signing key to Vault", slog.String("path", path), "err", err)
		return fmt.Errorf("failed to write to vault: %w", err)
	}
	return nil
}
