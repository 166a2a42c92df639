package flags

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"

	"github.com/varanames/registrar-client/common"
	"github.com/varanames/registrar-client/config"
	"github.com/varanames/registrar-client/interfaces"
	"github.com/varanames/registrar-client/ledger/ethledger"
	"github.com/varanames/registrar-client/ledger/simledger"
	"github.com/varanames/registrar-client/metrics"
	"github.com/varanames/registrar-client/registry"
	"github.com/varanames/registrar-client/signer"
)

// devProgram is the registrar address used by --dev when none is configured.
var devProgram = ethcommon.HexToAddress("0x000000000000000000000000000000000000a11c")

var ErrNoProgram = errors.New("registrar program address is required (--program or config 'program')")

// Env holds the components every binary builds from flags and config.
type Env struct {
	Log      *slog.Logger
	Config   *config.Config
	Ledger   interfaces.Ledger
	Client   *registry.OnchainRegistrarClient
	Signer   *signer.KeyedSigner
	Metrics  *metrics.Metrics
	Registry *prometheus.Registry

	closers []func()
}

// Setup loads config, connects the ledger and builds the registrar client.
// A signer is attached when one is configured.
func Setup(cCtx *cli.Context) (*Env, error) {
	cfg, err := LoadConfig(cCtx)
	if err != nil {
		return nil, err
	}
	log := SetupLogger(cCtx, cfg)
	ctx := cCtx.Context

	env := &Env{
		Log:      log,
		Config:   cfg,
		Registry: prometheus.NewRegistry(),
	}
	env.Metrics = metrics.New(common.PackageName, env.Registry)

	env.Signer, err = LoadSigner(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	program := cfg.ProgramAddress()
	if cCtx.Bool(DevFlag.Name) {
		if cfg.Program == "" {
			program = devProgram
		}
		if env.Signer == nil {
			if env.Signer, err = signer.Generate(); err != nil {
				return nil, err
			}
			log.Warn("Using an ephemeral signing key", "address", env.Signer.Address().Hex())
		}
		env.Ledger, err = simledger.New(&simledger.Config{
			Program:  program,
			TimeUnit: cfg.Unit(),
			Log:      log,
			Params: simledger.Params{
				Controller:   env.Signer.Address(),
				BasePrice:    big.NewInt(1),
				PremiumPrice: big.NewInt(1),
				MinCommitAge: interfaces.LedgerSpan(cfg.Registrar.MinCommitAge),
				MaxCommitAge: interfaces.LedgerSpan(cfg.Registrar.MaxCommitAge),
			},
		})
		if err != nil {
			return nil, err
		}
		log.Info("Using simulated registrar", "program", program.Hex())
	} else {
		if cfg.Program == "" {
			return nil, ErrNoProgram
		}
		log.Info("Connecting to Ethereum RPC", "address", cfg.RPCAddr)
		ethClient, err := ethclient.DialContext(ctx, cfg.RPCAddr)
		if err != nil {
			log.Error("Failed to dial RPC", "err", err)
			return nil, err
		}
		env.closers = append(env.closers, ethClient.Close)

		env.Ledger, err = ethledger.New(log, ethClient, ethledger.Config{
			TimeUnit:         cfg.Unit(),
			PollInterval:     cfg.Registrar.PollInterval,
			GasMarginPercent: cfg.Registrar.GasMarginPercent,
		})
		if err != nil {
			return nil, err
		}
	}

	env.Client, err = registry.NewOnchainRegistrarClient(log, env.Ledger, program)
	if err != nil {
		return nil, err
	}
	env.Client.SetMetrics(env.Metrics)
	if cfg.Registrar.InclusionTimeout > 0 {
		env.Client.InclusionTimeout = cfg.Registrar.InclusionTimeout
	}
	if env.Signer != nil {
		env.Client.SetSigner(env.Signer)
		log.Info("Signer loaded", "address", env.Signer.Address().Hex())
	}
	return env, nil
}

// RequireSigner fails when no signing key was configured.
func (e *Env) RequireSigner() error {
	if e.Signer == nil {
		return fmt.Errorf("%w: use --key, --key-file or --vault-addr", interfaces.ErrNoSigner)
	}
	return nil
}

func (e *Env) Close() {
	for _, c := range e.closers {
		c()
	}
}

// LoadSigner returns the configured key, or nil when none is configured.
func LoadSigner(ctx context.Context, cfg *config.Config, log *slog.Logger) (*signer.KeyedSigner, error) {
	switch {
	case cfg.Signer.KeyHex != "":
		return signer.FromHex(cfg.Signer.KeyHex)
	case cfg.Signer.KeyFile != "":
		return signer.FromFile(cfg.Signer.KeyFile)
	case cfg.Signer.Vault.Address != "":
		v := cfg.Signer.Vault
		store, err := signer.NewVaultKeyStore(v.Address, v.Token, v.Mount, v.Path, log)
		if err != nil {
			return nil, err
		}
		return store.Load(ctx)
	}
	return nil, nil
}
