package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/duckmemory/duckmem/internal/hygiene"
	"github.com/duckmemory/duckmem/internal/inbound"
	"github.com/duckmemory/duckmem/internal/metrics"
	"github.com/duckmemory/duckmem/internal/scheduler"
)

const hygieneJob = "hygiene"

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the worker, inbound consumer and nightly hygiene in one process",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(func(rt *runtime) error {
			ctx, stop := signalContext()
			defer stop()
			printHeader(cmd.OutOrStdout(), "🦆 duckmem daemon")
			return runDaemon(ctx, rt)
		})
	},
}

var workerOnce bool

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the extraction worker loop",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(func(rt *runtime) error {
			if err := rt.requireLLM(); err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()
			w := rt.newWorker()
			if workerOnce {
				if err := w.RunOnce(ctx); err != nil {
					return err
				}
				s := w.Stats()
				fmt.Fprintf(cmd.OutOrStdout(), "Processed %d messages, %d SMS (%d trivial, %d contradictions)\n",
					s.Processed, s.SMSProcessed, s.TrivialSkipped, s.Contradictions)
				return nil
			}
			return ignoreCancel(w.Run(ctx))
		})
	},
}

var hygieneCmd = &cobra.Command{
	Use:   "hygiene",
	Short: "Run memory maintenance once",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(func(rt *runtime) error {
			ctx, stop := signalContext()
			defer stop()
			var rep *hygiene.Report
			err := scheduler.Exclusive(rt.cfg.Paths.LockFile, func() error {
				var err error
				rep, err = rt.newHygiene().Run(ctx)
				return err
			})
			if errors.Is(err, scheduler.ErrLocked) {
				return fmt.Errorf("hygiene already running (lock %s)", rt.cfg.Paths.LockFile)
			}
			if rep != nil {
				printReport(cmd.OutOrStdout(), rep)
			}
			return err
		})
	},
}

func init() {
	workerCmd.Flags().BoolVar(&workerOnce, "once", false, "Run a single iteration and exit")
}

// runDaemon blocks until ctx is cancelled or a component fails.
func runDaemon(ctx context.Context, rt *runtime) error {
	g, ctx := errgroup.WithContext(ctx)

	if rt.ex != nil {
		w := rt.newWorker()
		g.Go(func() error { return ignoreCancel(w.Run(ctx)) })
	} else {
		slog.Warn("No API key configured, extraction worker disabled")
	}

	if in := rt.cfg.Inbound; in.Enabled {
		consumer := inbound.NewKafkaConsumer(in.Brokers, in.GroupID, in.Topics)
		ing := inbound.NewIngester(rt.store, consumer)
		g.Go(func() error { return ing.Run(ctx) })
	}

	if h := rt.cfg.Hygiene; h.Enabled {
		s := scheduler.New()
		if err := s.Register(scheduler.Job{
			Name:     hygieneJob,
			Spec:     h.Schedule,
			LockPath: rt.cfg.Paths.LockFile,
			Timeout:  time.Hour,
			Run: func(ctx context.Context) error {
				_, err := rt.newHygiene().Run(ctx)
				return err
			},
		}); err != nil {
			return err
		}
		g.Go(func() error { return s.Run(ctx) })
	}

	if addr := rt.cfg.Metrics.Listen; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			slog.Info("Metrics endpoint listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	slog.Info("Daemon started", "db", rt.store.Path(), "inbound", rt.cfg.Inbound.Enabled, "hygiene", rt.cfg.Hygiene.Enabled)
	err := g.Wait()
	slog.Info("Daemon stopped")
	return err
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
