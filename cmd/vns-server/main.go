package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/varanames/registrar-client/cmd/flags"
	"github.com/varanames/registrar-client/events"
	"github.com/varanames/registrar-client/httpserver"
	"github.com/varanames/registrar-client/interfaces"
	"github.com/varanames/registrar-client/metrics"
	"github.com/varanames/registrar-client/orchestrator"
)

var flagListenAddr = &cli.StringFlag{
	Name:  "listen-addr",
	Usage: "address to listen on for API",
}

func main() {
	app := &cli.App{
		Name:  "vns-server",
		Usage: "Serve name lookups and claims for the commit-reveal registrar",
		Flags: append(append(append(append([]cli.Flag{flagListenAddr}, flags.LedgerFlags...), flags.SignerFlags...), flags.LogFlags...), flags.CommonFlags...),
		Action: func(cCtx *cli.Context) error {
			env, err := flags.Setup(cCtx)
			if err != nil {
				return err
			}
			defer env.Close()
			logger := env.Log
			cfg := env.Config

			listenAddr := cfg.HTTP.ListenAddr
			if cCtx.IsSet(flagListenAddr.Name) {
				listenAddr = cCtx.String(flagListenAddr.Name)
			}

			// Claims need a key; without one the server only answers lookups.
			var claims httpserver.ClaimService
			var orch *orchestrator.Orchestrator
			var owner interfaces.OwnerID
			if env.Signer != nil {
				owner = env.Signer.Owner()
				orch, err = orchestrator.New(logger, env.Client, orchestrator.Config{
					TimeUnit:       cfg.Unit(),
					MinCommitAge:   interfaces.LedgerSpan(cfg.Registrar.MinCommitAge),
					MaxCommitAge:   interfaces.LedgerSpan(cfg.Registrar.MaxCommitAge),
					AttemptTimeout: cfg.Registrar.AttemptTimeout,
					Resolver:       cfg.ResolverAddress(),
					Metrics:        env.Metrics,
				})
				if err != nil {
					logger.Error("Failed to create orchestrator", "err", err)
					return err
				}
				claims = orch
			} else {
				logger.Warn("No signer configured, claims API disabled")
			}

			sub, err := events.NewSubscriber(logger, env.Ledger, env.Client.Program(), events.Config{
				Backoff: cfg.Registrar.ResubscribeAfter,
				Metrics: env.Metrics,
			})
			if err != nil {
				return err
			}
			if orch != nil {
				events.On(sub, orch.OnCommitAgesSet)
			}
			events.On(sub, func(_ context.Context, ev *interfaces.NameRegistered) error {
				logger.Info("Name registered", "name", ev.Name.String(), "owner", ev.Owner.String(), "expires", ev.Expires)
				return nil
			})

			ctx, stop := signal.NotifyContext(cCtx.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := sub.Start(ctx); err != nil {
				logger.Error("Failed to start event subscriber", "err", err)
				return err
			}
			defer sub.Stop()

			var metricsSrv *metrics.MetricsServer
			if cfg.HTTP.MetricsAddr != "" {
				metricsSrv = metrics.NewMetricsServer(cfg.HTTP.MetricsAddr, env.Registry)
			}
			handler := httpserver.NewHandler(env.Client, claims, owner, logger)
			server, err := httpserver.New(flags.ConfigureServer(cfg, logger, listenAddr), handler, metricsSrv)
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}

			logger.Info("Starting server")
			server.RunInBackground()

			logger.Info("Server is running, press Ctrl+C to stop")
			<-ctx.Done()
			logger.Info("Shutdown signal received")

			if orch != nil {
				for _, v := range orch.Active() {
					if err := orch.Cancel(v.ID); err != nil {
						logger.Warn("Failed to cancel intent", "intent", v.ID, "err", err)
					}
				}
			}

			server.Shutdown()
			logger.Info("Server shutdown complete")
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
