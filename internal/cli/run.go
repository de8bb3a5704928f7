package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/annosync/internal/config"
	"github.com/roach88/annosync/internal/engine"
	"github.com/roach88/annosync/internal/ir"
	"github.com/roach88/annosync/internal/metrics"
	"github.com/roach88/annosync/internal/state"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	StoreOptions
	MetricsAddr string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <doc>...",
		Short: "Keep annotations in sync while reading transactions from stdin",
		Long: `Opens the given documents and reads one transaction message per line from
stdin. Heading numbers and figure indexes are recomputed as edits arrive and
written back to the block store as decorations.

The command exits at end of input, once pending recomputes have settled, or
on SIGINT/SIGTERM. When --config is set the file is watched and changes are
applied without a restart.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(cmd, opts, args)
		},
	}

	opts.bind(cmd)
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")

	return cmd
}

func runEngine(cmd *cobra.Command, opts *RunOptions, docs []string) error {
	logger := newLogger(cmd.ErrOrStderr(), opts.Verbose)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	var m *metrics.Metrics
	if opts.MetricsAddr != "" {
		m = metrics.New()
		srv := serveMetrics(opts.MetricsAddr, m, logger)
		defer func() {
			shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
			defer stop()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	sess, err := startSession(ctx, &opts.StoreOptions, logger, m)
	if err != nil {
		return err
	}
	defer sess.close()

	for _, scope := range []ir.Scope{ir.ScopeHeadings, ir.ScopeFigures} {
		unsubscribe, err := sess.engine.Subscribe(scope, logNotification(sess, scope))
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to subscribe", err)
		}
		defer unsubscribe()
	}

	if err := sess.open(ctx, docs); err != nil {
		return err
	}

	if opts.Config != "" {
		go func() {
			err := config.Watch(ctx, opts.Config, func(cfg config.Config) {
				sess.engine.ApplyConfig(ctx, cfg)
			}, logger)
			if err != nil {
				logger.Warn("config watch stopped", "path", opts.Config, "error", err)
			}
		}()
	}

	in := cmd.InOrStdin()

	// The line reader cannot be interrupted, so it runs on its own and a
	// signal abandons it.
	done := make(chan error, 1)
	go func() {
		done <- sess.engine.Consume(ctx, engine.NewLineStream(in), sess.store)
	}()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			return WrapExitError(ExitCommandError, "reading transactions failed", err)
		}
	case <-ctx.Done():
		return nil
	}

	if err := sess.engine.Settle(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitCommandError, "waiting for recomputes failed", err)
	}
	stats := sess.engine.Stats()
	logger.Info("input finished",
		"open_documents", stats.OpenDocuments,
		"heading_states", stats.Headings.LiveKeys,
		"figure_states", stats.Figures.LiveKeys)
	return nil
}

func logNotification(sess *session, scope ir.Scope) state.Listener {
	return func(n state.Notification) error {
		switch n.Kind {
		case state.NotificationChanged:
			if n.State.Loading {
				return nil
			}
			if n.State.Err != nil {
				sess.logger.Warn("recompute failed",
					"scope", scope, "key", n.Key, "error", n.State.Err)
				return nil
			}
			sess.logger.Info("annotations updated",
				"scope", scope,
				"key", n.Key,
				"version", n.State.Version,
				"entries", len(n.State.Payload))
		case state.NotificationCleared:
			sess.logger.Debug("annotations cleared", "scope", scope, "key", n.Key)
		}
		return nil
	}
}

func serveMetrics(addr string, m *metrics.Metrics, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()
	return srv
}
