package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/annosync/internal/blockstore"
	"github.com/roach88/annosync/internal/config"
	"github.com/roach88/annosync/internal/engine"
	"github.com/roach88/annosync/internal/ir"
	"github.com/roach88/annosync/internal/metrics"
)

// StoreOptions are the flags shared by commands that open a block store.
type StoreOptions struct {
	Database string
	Config   string
}

func (o *StoreOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.Database, "db", "", "path to the block store database (required)")
	cmd.Flags().StringVar(&o.Config, "config", "", "path to a .yaml or .cue configuration file")
	_ = cmd.MarkFlagRequired("db")
}

// newLogger builds the command logger. Logs always go to w so stdout stays
// clean for JSON output.
func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func newFormatter(cmd *cobra.Command, opts *RootOptions) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

// loadConfig returns the defaults when path is empty.
func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, WrapExitError(ExitFailure, "invalid configuration", err)
	}
	return cfg, nil
}

func openStore(path string, logger *slog.Logger) (*blockstore.Store, error) {
	bs, err := blockstore.Open(path, blockstore.WithLogger(logger))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open block store", err)
	}
	return bs, nil
}

// session is a started engine over an opened block store.
type session struct {
	store  *blockstore.Store
	engine *engine.Engine
	logger *slog.Logger
}

func startSession(ctx context.Context, opts *StoreOptions, logger *slog.Logger, m *metrics.Metrics) (*session, error) {
	cfg, err := loadConfig(opts.Config)
	if err != nil {
		return nil, err
	}
	bs, err := openStore(opts.Database, logger)
	if err != nil {
		return nil, err
	}
	engOpts := []engine.Option{engine.WithConfig(cfg), engine.WithLogger(logger)}
	if m != nil {
		engOpts = append(engOpts, engine.WithMetrics(m))
	}
	eng := engine.New(bs, bs, engOpts...)
	eng.Start(ctx)
	return &session{store: bs, engine: eng, logger: logger}, nil
}

// open opens each document, rejecting unknown ones.
func (s *session) open(ctx context.Context, docs []string) error {
	for _, d := range docs {
		if err := s.engine.OpenDocument(ctx, ir.DocumentKey(d)); err != nil {
			if errors.Is(err, blockstore.ErrDocumentNotFound) || ir.IsFetchError(err) {
				return WrapExitError(ExitFailure, fmt.Sprintf("cannot open document %s", d), err)
			}
			return WrapExitError(ExitCommandError, fmt.Sprintf("cannot open document %s", d), err)
		}
	}
	return nil
}

func (s *session) close() {
	s.engine.Close()
	if err := s.store.Close(); err != nil {
		s.logger.Warn("closing block store failed", "error", err)
	}
}
