package flags

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/varanames/registrar-client/common"
	"github.com/varanames/registrar-client/config"
	"github.com/varanames/registrar-client/httpserver"
)

// SetupLogger builds the process logger from cfg.Log, with flags taking precedence.
func SetupLogger(cCtx *cli.Context, cfg *config.Config) (log *slog.Logger) {
	logJSON := cfg.Log.JSON || cCtx.Bool(LogJsonFlag.Name)
	logDebug := cfg.Log.Debug || cCtx.Bool(LogDebugFlag.Name)
	logUID := cCtx.Bool(LogUidFlag.Name)
	logService := cfg.Log.Service
	if cCtx.IsSet(LogServiceFlag.Name) {
		logService = cCtx.String(LogServiceFlag.Name)
	}

	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   logDebug,
		JSON:    logJSON,
		Service: logService,
		Version: common.Version,
	})

	if logUID {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

// LoadConfig reads --config when given, then applies explicitly set flags.
func LoadConfig(cCtx *cli.Context) (*config.Config, error) {
	cfg := config.Defaults()
	if path := cCtx.String(ConfigFlag.Name); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if cCtx.IsSet(RpcAddrFlag.Name) {
		cfg.RPCAddr = cCtx.String(RpcAddrFlag.Name)
	}
	if cCtx.IsSet(ProgramFlag.Name) {
		cfg.Program = cCtx.String(ProgramFlag.Name)
	}
	if cCtx.IsSet(TimeUnitFlag.Name) {
		cfg.TimeUnit = cCtx.Duration(TimeUnitFlag.Name)
	}
	if cCtx.IsSet(KeyHexFlag.Name) {
		cfg.Signer.KeyHex = cCtx.String(KeyHexFlag.Name)
	}
	if cCtx.IsSet(KeyFileFlag.Name) {
		cfg.Signer.KeyFile = cCtx.String(KeyFileFlag.Name)
	}
	if cCtx.IsSet(VaultAddrFlag.Name) {
		cfg.Signer.Vault.Address = cCtx.String(VaultAddrFlag.Name)
	}
	if cCtx.IsSet(VaultTokenFlag.Name) {
		cfg.Signer.Vault.Token = cCtx.String(VaultTokenFlag.Name)
	}
	if cCtx.IsSet(VaultMountFlag.Name) {
		cfg.Signer.Vault.Mount = cCtx.String(VaultMountFlag.Name)
	}
	if cCtx.IsSet(VaultPathFlag.Name) {
		cfg.Signer.Vault.Path = cCtx.String(VaultPathFlag.Name)
	}
	if cCtx.IsSet(MetricsAddrFlag.Name) {
		cfg.HTTP.MetricsAddr = cCtx.String(MetricsAddrFlag.Name)
	}
	if cCtx.IsSet(PprofFlag.Name) {
		cfg.HTTP.Pprof = cCtx.Bool(PprofFlag.Name)
	}
	if cCtx.IsSet(DrainSecondsFlag.Name) {
		cfg.HTTP.DrainSeconds = cCtx.Int64(DrainSecondsFlag.Name)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func ConfigureServer(cfg *config.Config, logger *slog.Logger, listenAddr string) *httpserver.HTTPServerConfig {
	return &httpserver.HTTPServerConfig{
		ListenAddr:               listenAddr,
		MetricsAddr:              cfg.HTTP.MetricsAddr,
		Log:                      logger,
		EnablePprof:              cfg.HTTP.Pprof,
		DrainDuration:            time.Duration(cfg.HTTP.DrainSeconds) * time.Second,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             30 * time.Second,
	}
}

var ConfigFlag = &cli.StringFlag{
	Name:    "config",
	Usage:   "YAML config file; flags override its values",
	EnvVars: []string{"VNS_CONFIG"},
}

var RpcAddrFlag = &cli.StringFlag{
	Name:  "rpc-addr",
	Value: "http://127.0.0.1:8545",
	Usage: "address to connect to RPC",
}

var ProgramFlag = &cli.StringFlag{
	Name:    "program",
	Usage:   "registrar program address, 0x-prefixed hex",
	EnvVars: []string{"VNS_PROGRAM"},
}

var TimeUnitFlag = &cli.DurationFlag{
	Name:  "time-unit",
	Value: time.Millisecond,
	Usage: "length of one ledger time tick",
}

var DevFlag = &cli.BoolFlag{
	Name:  "dev",
	Value: false,
	Usage: "run against an in-process simulated registrar instead of an RPC node",
}

var KeyHexFlag = &cli.StringFlag{
	Name:    "key",
	Usage:   "hex-encoded secp256k1 private key used to sign transactions",
	EnvVars: []string{"VNS_KEY"},
}
var KeyFileFlag = &cli.StringFlag{
	Name:  "key-file",
	Usage: "file holding a hex-encoded private key",
}
var VaultAddrFlag = &cli.StringFlag{
	Name:    "vault-addr",
	Usage:   "Vault server holding the signing key",
	EnvVars: []string{"VAULT_ADDR"},
}
var VaultTokenFlag = &cli.StringFlag{
	Name:    "vault-token",
	Usage:   "Vault token",
	EnvVars: []string{"VAULT_TOKEN"},
}
var VaultMountFlag = &cli.StringFlag{
	Name:  "vault-mount",
	Value: "secret",
	Usage: "Vault KV v2 mount path",
}
var VaultPathFlag = &cli.StringFlag{
	Name:  "vault-path",
	Usage: "Vault KV v2 secret path of the signing key",
}

var LogJsonFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}
var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}
var LogServiceFlag = &cli.StringFlag{
	Name:  "log-service",
	Value: "vns",
	Usage: "add 'service' tag to logs",
}

var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}
var DrainSecondsFlag = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 45,
	Usage: "seconds to wait in drain HTTP request",
}
var MetricsAddrFlag = &cli.StringFlag{
	Name:  "metrics-addr",
	Value: "127.0.0.1:8090",
	Usage: "address to listen on for Prometheus metrics",
}

var LogFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
	LogServiceFlag,
}

var LedgerFlags = []cli.Flag{
	ConfigFlag,
	RpcAddrFlag,
	ProgramFlag,
	TimeUnitFlag,
	DevFlag,
}

var SignerFlags = []cli.Flag{
	KeyHexFlag,
	KeyFileFlag,
	VaultAddrFlag,
	VaultTokenFlag,
	VaultMountFlag,
	VaultPathFlag,
}

var CommonFlags = []cli.Flag{
	PprofFlag,
	DrainSecondsFlag,
	MetricsAddrFlag,
}
