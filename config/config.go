// Package config provides configuration types, defaults, and loading for the
// registrar client binaries.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/varanames/registrar-client/interfaces"
)

// Config is the root structure of the YAML config file.
type Config struct {
	RPCAddr  string `yaml:"rpc_addr"`
	Program  string `yaml:"program"`
	Resolver string `yaml:"resolver"`

	// TimeUnit is the length of one ledger tick, e.g. "1ms" or "1s".
	TimeUnit time.Duration `yaml:"time_unit"`

	Registrar RegistrarConfig `yaml:"registrar"`
	Signer    SignerConfig    `yaml:"signer"`
	HTTP      HTTPConfig      `yaml:"http"`
	Log       LogConfig       `yaml:"log"`
}

// RegistrarConfig tunes the client and orchestrator.
type RegistrarConfig struct {
	// Commit-age bounds in ledger ticks. They are refreshed from CommitAgesSet
	// events when the event subscriber runs.
	MinCommitAge uint64 `yaml:"min_commit_age"`
	MaxCommitAge uint64 `yaml:"max_commit_age"`

	AttemptTimeout   time.Duration `yaml:"attempt_timeout"`
	InclusionTimeout time.Duration `yaml:"inclusion_timeout"`
	PollInterval     time.Duration `yaml:"poll_interval"`
	GasMarginPercent uint64        `yaml:"gas_margin_percent"`
	ResubscribeAfter time.Duration `yaml:"resubscribe_backoff"`
}

// SignerConfig selects where the transaction key comes from. At most one
// source may be set.
type SignerConfig struct {
	KeyHex  string      `yaml:"key_hex"`
	KeyFile string      `yaml:"key_file"`
	Vault   VaultConfig `yaml:"vault"`
}

type VaultConfig struct {
	Address string `yaml:"address"`
	Token   string `yaml:"token"`
	Mount   string `yaml:"mount"`
	Path    string `yaml:"path"`
}

type HTTPConfig struct {
	ListenAddr   string `yaml:"listen_addr"`
	MetricsAddr  string `yaml:"metrics_addr"`
	Pprof        bool   `yaml:"pprof"`
	DrainSeconds int64  `yaml:"drain_seconds"`
}

type LogConfig struct {
	JSON    bool   `yaml:"json"`
	Debug   bool   `yaml:"debug"`
	Service string `yaml:"service"`
}

// Defaults returns the configuration used when no file is given.
func Defaults() *Config {
	return &Config{
		RPCAddr:  "http://127.0.0.1:8545",
		TimeUnit: time.Millisecond,
		Registrar: RegistrarConfig{
			MinCommitAge:     60_000,
			MaxCommitAge:     86_400_000,
			InclusionTimeout: 5 * time.Minute,
			PollInterval:     time.Second,
			GasMarginPercent: 20,
			ResubscribeAfter: 30 * time.Second,
		},
		Signer: SignerConfig{
			Vault: VaultConfig{Mount: "secret"},
		},
		HTTP: HTTPConfig{
			ListenAddr:   "127.0.0.1:8080",
			MetricsAddr:  "127.0.0.1:8090",
			DrainSeconds: 45,
		},
		Log: LogConfig{Service: "vns"},
	}
}

// Load reads path over the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	var errs []error
	if c.Program != "" && !common.IsHexAddress(c.Program) {
		errs = append(errs, &interfaces.ValidationError{Field: "program", Reason: "not a hex address"})
	}
	if c.Resolver != "" && !common.IsHexAddress(c.Resolver) {
		errs = append(errs, &interfaces.ValidationError{Field: "resolver", Reason: "not a hex address"})
	}
	if err := c.Unit().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Registrar.MinCommitAge > c.Registrar.MaxCommitAge {
		errs = append(errs, &interfaces.ValidationError{Field: "registrar.min_commit_age", Reason: "exceeds max_commit_age"})
	}
	if c.Registrar.AttemptTimeout < 0 || c.Registrar.InclusionTimeout < 0 || c.Registrar.PollInterval < 0 {
		errs = append(errs, &interfaces.ValidationError{Field: "registrar", Reason: "timeouts must not be negative"})
	}

	sources := 0
	for _, set := range []bool{c.Signer.KeyHex != "", c.Signer.KeyFile != "", c.Signer.Vault.Address != ""} {
		if set {
			sources++
		}
	}
	if sources > 1 {
		errs = append(errs, &interfaces.ValidationError{Field: "signer", Reason: "configure only one of key_hex, key_file and vault"})
	}
	if c.Signer.Vault.Address != "" && c.Signer.Vault.Path == "" {
		errs = append(errs, &interfaces.ValidationError{Field: "signer.vault.path", Reason: "required with vault.address"})
	}
	return errors.Join(errs...)
}

// ProgramAddress returns the registrar address. Validate must have passed.
func (c *Config) ProgramAddress() common.Address {
	return common.HexToAddress(c.Program)
}

// ResolverAddress returns the resolver passed on register, or the zero address.
func (c *Config) ResolverAddress() common.Address {
	if c.Resolver == "" {
		return common.Address{}
	}
	return common.HexToAddress(c.Resolver)
}

func (c *Config) Unit() interfaces.TimeUnit {
	return interfaces.TimeUnit(c.TimeUnit)
}
