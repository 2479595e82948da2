package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/ocs-answerer/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the OCS answer API",
	Long:  "Serves the OCS search API. SIGHUP reloads the question bank definitions and the manual bank file.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		port := cfg.Server.Port
		if servePort > 0 {
			port = servePort
		}

		srv := server.New(server.Options{
			Resolver:       env.Resolver,
			Banks:          env.Banks,
			Manual:         env.Manual,
			Metrics:        env.Metrics,
			AllowedOrigins: cfg.Server.Origins(),
			APIPrefix:      cfg.Server.APIPrefix,
			SuccessCode:    cfg.Response.SuccessCode,
			ErrorCode:      cfg.Response.ErrorCode,
			RequestTimeout: time.Duration(cfg.Server.RequestTimeoutSecs) * time.Second,
		})

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return srv.Run(gctx, server.Addr(port))
		})
		if env.Manual != nil && cfg.Manual.Watch {
			g.Go(func() error {
				debounce := time.Duration(cfg.Manual.DebounceMillis) * time.Millisecond
				if err := env.Manual.Watch(gctx, debounce); err != nil {
					zap.L().Warn("manual bank watch stopped", zap.Error(err))
				}
				return nil
			})
		}
		g.Go(func() error {
			reloadOnHangup(gctx, env)
			return nil
		})

		return g.Wait()
	},
}

// reloadOnHangup reloads bank definitions and the manual bank on SIGHUP
// until ctx is done.
func reloadOnHangup(ctx context.Context, env *appEnv) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			zap.L().Info("reload requested")
			if err := reloadBanks(env.Banks); err != nil {
				zap.L().Error("bank reload failed, keeping previous banks", zap.Error(err))
			}
			if env.Manual != nil {
				if err := env.Manual.Reload(); err != nil {
					zap.L().Error("manual reload failed", zap.Error(err))
				}
			}
		}
	}
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (overrides server.port)")
	rootCmd.AddCommand(serveCmd)
}
