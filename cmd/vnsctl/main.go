package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/varanames/registrar-client/cmd/flags"
	"github.com/varanames/registrar-client/events"
	"github.com/varanames/registrar-client/interfaces"
	"github.com/varanames/registrar-client/orchestrator"
	"github.com/varanames/registrar-client/signer"
)

var flagDuration = &cli.Uint64Flag{
	Name:     "duration",
	Required: true,
	Usage:    "registration or renewal length in ledger ticks",
}
var flagOwner = &cli.StringFlag{
	Name:  "owner",
	Usage: "32-byte owner identity in hex; defaults to the signer's address",
}
var flagAttemptTimeout = &cli.DurationFlag{
	Name:  "attempt-timeout",
	Usage: "give up a claim after this long; 0 waits indefinitely",
}
var flagBlock = &cli.Uint64Flag{
	Name:  "block",
	Usage: "run views against this block instead of the latest",
}

const usage string = `Client for the commit-reveal name registrar.

Reads need only --program and --rpc-addr. Transactions need a signing key from
--key, --key-file or Vault (--vault-addr, --vault-path).`

func main() {
	app := &cli.App{
		Name:  "vnsctl",
		Usage: usage,
		Flags: append(append(append([]cli.Flag{}, flags.LedgerFlags...), flags.SignerFlags...), flags.LogFlags...),
		Commands: []*cli.Command{
			{
				Name:      "status",
				Usage:     "show whether a name is available, active, in grace or reserved",
				ArgsUsage: "NAME",
				Flags:     []cli.Flag{flagBlock},
				Action:    withEnv(status),
			},
			{
				Name:      "price",
				Usage:     "quote the cost of registering or renewing a name",
				ArgsUsage: "NAME",
				Flags:     []cli.Flag{flagDuration, flagBlock},
				Action:    withEnv(price),
			},
			{
				Name:      "claim",
				Usage:     "commit, wait for the minimum commit age and register a name",
				ArgsUsage: "NAME",
				Flags:     []cli.Flag{flagDuration, flagOwner, flagAttemptTimeout},
				Action:    withEnv(claim),
			},
			{
				Name:      "renew",
				Usage:     "extend a registered name",
				ArgsUsage: "NAME",
				Flags:     []cli.Flag{flagDuration},
				Action:    withEnv(renew),
			},
			{
				Name:   "watch",
				Usage:  "print registrar events as JSON lines until interrupted",
				Action: withEnv(watch),
			},
			{
				Name:        "admin",
				Usage:       "controller-only operations",
				Subcommands: adminCommands,
			},
			{
				Name:  "keygen",
				Usage: "generate a signing key; stores it in Vault when --vault-addr is set",
				Action: func(cCtx *cli.Context) error {
					return keygen(cCtx)
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

var adminCommands = []*cli.Command{
	{
		Name:      "reserve",
		Usage:     "reserve labels so they can never be registered",
		ArgsUsage: "LABEL [LABEL...]",
		Action: withEnv(func(cCtx *cli.Context, env *flags.Env) error {
			labels := make([]interfaces.Name, 0, cCtx.NArg())
			for _, arg := range cCtx.Args().Slice() {
				labels = append(labels, interfaces.Name(arg))
			}
			return send(cCtx, env, func(ctx context.Context) (interfaces.TxOutcome, error) {
				return env.Client.ReserveNames(ctx, labels)
			})
		}),
	},
	{
		Name:  "set-prices",
		Usage: "set the per-tick base price and short-name premium",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "base", Required: true, Usage: "base price per tick"},
			&cli.StringFlag{Name: "premium", Required: true, Usage: "premium per tick for names under 5 bytes"},
		},
		Action: withEnv(func(cCtx *cli.Context, env *flags.Env) error {
			base, err := parseAmount("base", cCtx.String("base"))
			if err != nil {
				return err
			}
			premium, err := parseAmount("premium", cCtx.String("premium"))
			if err != nil {
				return err
			}
			return send(cCtx, env, func(ctx context.Context) (interfaces.TxOutcome, error) {
				return env.Client.SetPrices(ctx, base, premium)
			})
		}),
	},
	{
		Name:  "set-commit-ages",
		Usage: "set the minimum and maximum commitment age in ticks",
		Flags: []cli.Flag{
			&cli.Uint64Flag{Name: "min", Required: true},
			&cli.Uint64Flag{Name: "max", Required: true},
		},
		Action: withEnv(func(cCtx *cli.Context, env *flags.Env) error {
			min, max := interfaces.LedgerSpan(cCtx.Uint64("min")), interfaces.LedgerSpan(cCtx.Uint64("max"))
			return send(cCtx, env, func(ctx context.Context) (interfaces.TxOutcome, error) {
				return env.Client.SetCommitAges(ctx, min, max)
			})
		}),
	},
	{
		Name:  "set-grace-period",
		Usage: "set the grace period in ticks",
		Flags: []cli.Flag{
			&cli.Uint64Flag{Name: "grace", Required: true},
		},
		Action: withEnv(func(cCtx *cli.Context, env *flags.Env) error {
			grace := interfaces.LedgerSpan(cCtx.Uint64("grace"))
			return send(cCtx, env, func(ctx context.Context) (interfaces.TxOutcome, error) {
				return env.Client.SetGracePeriod(ctx, grace)
			})
		}),
	},
	{
		Name:  "withdraw",
		Usage: "transfer collected fees",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "to", Required: true, Usage: "32-byte recipient identity in hex"},
			&cli.StringFlag{Name: "amount", Required: true},
		},
		Action: withEnv(func(cCtx *cli.Context, env *flags.Env) error {
			to, err := interfaces.NewOwnerIDFromHex(cCtx.String("to"))
			if err != nil {
				return err
			}
			amount, err := parseAmount("amount", cCtx.String("amount"))
			if err != nil {
				return err
			}
			return send(cCtx, env, func(ctx context.Context) (interfaces.TxOutcome, error) {
				return env.Client.Withdraw(ctx, to, amount)
			})
		}),
	},
}

func withEnv(fn func(cCtx *cli.Context, env *flags.Env) error) cli.ActionFunc {
	return func(cCtx *cli.Context) error {
		env, err := flags.Setup(cCtx)
		if err != nil {
			return err
		}
		defer env.Close()
		return fn(cCtx, env)
	}
}

func nameArg(cCtx *cli.Context) (interfaces.Name, error) {
	if cCtx.NArg() != 1 {
		return nil, fmt.Errorf("expected exactly one NAME argument")
	}
	return interfaces.NewName(cCtx.Args().First())
}

func blockArg(cCtx *cli.Context) *big.Int {
	if !cCtx.IsSet(flagBlock.Name) {
		return nil
	}
	return new(big.Int).SetUint64(cCtx.Uint64(flagBlock.Name))
}

func parseAmount(field, s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, &interfaces.ValidationError{Field: field, Reason: "not a decimal integer"}
	}
	return v, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func status(cCtx *cli.Context, env *flags.Env) error {
	name, err := nameArg(cCtx)
	if err != nil {
		return err
	}
	if at := blockArg(cCtx); at != nil {
		available, err := env.Client.Available(cCtx.Context, name, at)
		if err != nil {
			return err
		}
		reserved, err := env.Client.IsReserved(cCtx.Context, name, at)
		if err != nil {
			return err
		}
		expiry, err := env.Client.ExpiryOf(cCtx.Context, name, at)
		if err != nil {
			return err
		}
		return printJSON(map[string]any{"name": name.String(), "block": at, "available": available, "reserved": reserved, "expiry": expiry})
	}

	st, err := env.Client.Status(cCtx.Context, name)
	if err != nil {
		return err
	}
	return printJSON(map[string]any{"name": name.String(), "status": st.Kind, "expiry": st.Expiry})
}

func price(cCtx *cli.Context, env *flags.Env) error {
	name, err := nameArg(cCtx)
	if err != nil {
		return err
	}
	duration := interfaces.LedgerSpan(cCtx.Uint64(flagDuration.Name))
	p, err := env.Client.Price(cCtx.Context, name, duration, blockArg(cCtx))
	if err != nil {
		return err
	}
	return printJSON(map[string]any{"name": name.String(), "duration": duration, "price": p})
}

func claim(cCtx *cli.Context, env *flags.Env) error {
	if err := env.RequireSigner(); err != nil {
		return err
	}
	name, err := nameArg(cCtx)
	if err != nil {
		return err
	}
	owner := env.Signer.Owner()
	if cCtx.IsSet(flagOwner.Name) {
		if owner, err = interfaces.NewOwnerIDFromHex(cCtx.String(flagOwner.Name)); err != nil {
			return err
		}
	}

	cfg := env.Config
	orch, err := orchestrator.New(env.Log, env.Client, orchestrator.Config{
		TimeUnit:       cfg.Unit(),
		MinCommitAge:   interfaces.LedgerSpan(cfg.Registrar.MinCommitAge),
		MaxCommitAge:   interfaces.LedgerSpan(cfg.Registrar.MaxCommitAge),
		AttemptTimeout: cCtx.Duration(flagAttemptTimeout.Name),
		Resolver:       cfg.ResolverAddress(),
		Metrics:        env.Metrics,
	})
	if err != nil {
		return err
	}
	orch.OnProgress(func(v orchestrator.IntentView) {
		attrs := []any{"intent", v.ID, "phase", v.Phase}
		if v.RegisterAfter != nil && v.Phase == orchestrator.PhaseAwaitingMinAge {
			attrs = append(attrs, "register_after", v.RegisterAfter.Format(time.RFC3339))
		}
		env.Log.Info("Claim progress", attrs...)
	})

	ctx, stop := signal.NotifyContext(cCtx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	view, err := orch.Claim(ctx, orchestrator.ClaimRequest{
		Name:     name,
		Owner:    owner,
		Duration: interfaces.LedgerSpan(cCtx.Uint64(flagDuration.Name)),
	})
	if err != nil {
		return err
	}
	return printJSON(view.Result)
}

func renew(cCtx *cli.Context, env *flags.Env) error {
	if err := env.RequireSigner(); err != nil {
		return err
	}
	name, err := nameArg(cCtx)
	if err != nil {
		return err
	}
	duration := interfaces.LedgerSpan(cCtx.Uint64(flagDuration.Name))
	return send(cCtx, env, func(ctx context.Context) (interfaces.TxOutcome, error) {
		return env.Client.Renew(ctx, name, duration)
	})
}

// send submits one transaction and prints the decoded event once finalized.
func send(cCtx *cli.Context, env *flags.Env, submit func(ctx context.Context) (interfaces.TxOutcome, error)) error {
	if err := env.RequireSigner(); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cCtx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	outcome, err := submit(ctx)
	if err != nil {
		return err
	}
	env.Log.Info("Transaction submitted", "tx", outcome.TxHash().Hex())

	fin, err := outcome.Wait(ctx)
	if err != nil {
		return err
	}
	return printJSON(map[string]any{
		"tx":    fin.TxHash.Hex(),
		"block": fin.Block.Number,
		"kind":  fin.Event.Kind(),
		"event": fin.Event,
	})
}

func watch(cCtx *cli.Context, env *flags.Env) error {
	sub, err := events.NewSubscriber(env.Log, env.Ledger, env.Client.Program(), events.Config{
		Backoff: env.Config.Registrar.ResubscribeAfter,
		Metrics: env.Metrics,
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	for _, kind := range interfaces.AllEventKinds {
		sub.Subscribe(kind, func(_ context.Context, ev interfaces.Event) error {
			return enc.Encode(map[string]any{"kind": ev.Kind(), "event": ev})
		})
	}

	ctx, stop := signal.NotifyContext(cCtx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := sub.Start(ctx); err != nil {
		return err
	}
	defer sub.Stop()

	<-ctx.Done()
	return nil
}

func keygen(cCtx *cli.Context) error {
	cfg, err := flags.LoadConfig(cCtx)
	if err != nil {
		return err
	}
	logger := flags.SetupLogger(cCtx, cfg)

	s, err := signer.Generate()
	if err != nil {
		return err
	}

	v := cfg.Signer.Vault
	if v.Address == "" {
		return printJSON(map[string]string{"address": s.Address().Hex(), "owner": s.Owner().String(), "private_key": s.Hex()})
	}
	if v.Path == "" {
		return errors.New("--vault-path is required to store the key")
	}
	store, err := signer.NewVaultKeyStore(v.Address, v.Token, v.Mount, v.Path, logger)
	if err != nil {
		return err
	}
	if err := store.Store(cCtx.Context, s); err != nil {
		return err
	}
	logger.Info("Stored signing key in Vault", "path", v.Path)
	return printJSON(map[string]string{"address": s.Address().Hex(), "owner": s.Owner().String()})
}
