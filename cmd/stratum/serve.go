package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aretw0/stratum"
	"github.com/aretw0/stratum/internal/presentation/tui"
	httpAdapter "github.com/aretw0/stratum/pkg/adapters/http"
	"github.com/aretw0/stratum/pkg/migration"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start a coordinator node with its HTTP API",
	Long: `Starts a coordinator node exposing a JSON API over HTTP. The node keeps its session cache
coherent with the rest of the cluster and periodically reclaims inactive sessions.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		if addr == "" {
			addr = cfg.HTTP.Addr
		}
		noJanitor, _ := cmd.Flags().GetBool("no-janitor")
		version := strings.TrimSpace(stratum.Version)

		sc := newSignalContext(cmd)
		defer sc.Cancel()

		rt, err := openRuntime(sc)
		if err != nil {
			return err
		}
		defer rt.Close()

		tui.PrintBanner(cmd.ErrOrStderr(), version)

		srv := &http.Server{
			Addr:              addr,
			Handler:           httpAdapter.NewHandler(rt.Coordinator, httpAdapter.WithLogger(logger), httpAdapter.WithVersion(version)),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, ctx := errgroup.WithContext(sc)

		if err := rt.Coordinator.Watch(ctx); err != nil {
			logger.Debug("Session cache runs without cross-node invalidation", "err", err)
		}

		if !noJanitor {
			janitor := rt.Coordinator.Janitor(cfg.Cleanup.Interval, cfg.Cleanup.InactiveAfter,
				migration.WithJanitorLogger(logger),
				migration.WithReportHandler(func(r *migration.CleanupReport) {
					if n := r.Count(migration.OutcomeAbandoned); n > 0 {
						logger.Info("Reclaimed inactive sessions", "count", n)
					}
				}),
			)
			g.Go(func() error {
				if err := janitor.Run(ctx); !errors.Is(err, context.Canceled) {
					return err
				}
				return nil
			})
		}

		g.Go(func() error {
			logger.Info("Stratum node listening", "node", rt.Coordinator.NodeID(), "address", addr, "store", cfg.Store.Backend)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})

		g.Go(func() error {
			<-ctx.Done()
			if sig := sc.Signal(); sig != nil {
				logger.Info("Start shutdown", "signal", sig)
			}

			// Give outstanding requests a deadline for completion.
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("Graceful shutdown did not complete", "timeout", shutdownTimeout, "err", err)
				return srv.Close()
			}
			logger.Info("Stratum node stopped gracefully")
			return nil
		})

		return g.Wait()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "Listen address (default: http.addr)")
	serveCmd.Flags().Bool("no-janitor", false, "Do not reclaim inactive sessions from this node")
}
