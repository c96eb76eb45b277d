package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/roach88/timeline/internal/compiler"
	"github.com/roach88/timeline/internal/engine"
	"github.com/roach88/timeline/internal/ir"
	"github.com/roach88/timeline/internal/metrics"
	"github.com/roach88/timeline/internal/recorder"
	"github.com/roach88/timeline/internal/store"
)

// flushInterval is how often a running session persists recorded events.
const flushInterval = time.Second

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	PlaybackOptions
	Database    string
	MetricsAddr string

	// SessionGenerator allows overriding the session id generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	SessionGenerator store.SessionIDGenerator
}

// RunResult summarises a finished run.
type RunResult struct {
	Score     string       `json:"score"`
	SessionID string       `json:"session_id,omitempty"`
	Events    int          `json:"events"`
	Digest    string       `json:"digest"`
	Stats     engine.Stats `json:"stats"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <score-path>",
		Short: "Play a score in real time",
		Long: `Play a score against the wall clock with a periodic driver.

The run stops after --duration seconds, or on Ctrl-C when --duration
is 0. With --db the trace is persisted as a session in a SQLite
database (created if it doesn't exist). With --metrics-addr the
scheduler counters are served on /metrics and /stats.

Examples:
  timeline run ./scores/pulse.cue --duration 10
  timeline run ./scores --score pulse --db ./timeline.db --metrics-addr 127.0.0.1:9464`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScore(opts, args[0], cmd)
		},
	}

	opts.bind(cmd, 0.02, 0)
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve metrics on host:port")

	return cmd
}

func runScore(opts *RunOptions, path string, cmd *cobra.Command) error {
	if err := opts.validate(); err != nil {
		return err
	}

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	logger := newLogger(formatter.GetErrWriter(), opts.Verbose)

	sc, err := LoadScore(path, opts.Score)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load score", err)
	}
	logger.Info("score loaded", "score", sc.Name, "steps", len(sc.Main))

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if opts.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(opts.Duration*float64(time.Second)))
		defer cancel()
	}

	var st *store.Store
	var sessionID string
	if opts.Database != "" {
		logger.Info("opening database", "path", opts.Database)
		st, err = store.Open(opts.Database)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				logger.Error("error closing database", "error", closeErr)
			}
		}()

		gen := opts.SessionGenerator
		if gen == nil {
			gen = store.UUIDv7Generator{}
		}
		sessionID = gen.Generate()
		if err := st.WriteSession(ctx, store.Session{
			ID:     sessionID,
			Score:  sc.Name,
			TickUs: ir.Micros(opts.Tick),
			Seed:   opts.Seed,
		}); err != nil {
			return WrapExitError(ExitCommandError, "failed to create session", err)
		}
	}

	result, err := play(ctx, sc, opts, st, sessionID, logger)
	if err != nil {
		return WrapExitError(ExitFailure, "run failed", err)
	}

	if opts.Format == "json" {
		return json.NewEncoder(formatter.Writer).Encode(CLIResponse{
			Status:    "ok",
			Data:      result,
			SessionID: result.SessionID,
		})
	}
	formatter.Summary(PlaybackSummary{
		Score:     result.Score,
		Events:    result.Events,
		Stats:     result.Stats,
		SessionID: result.SessionID,
		Digest:    result.Digest,
	})
	return nil
}

// play runs sc on the wall clock until ctx is done.
func play(ctx context.Context, sc *compiler.Score, opts *RunOptions, st *store.Store, sessionID string, logger *slog.Logger) (*RunResult, error) {
	recOpts := []recorder.Option{recorder.WithLogger(logger)}
	if st != nil {
		recOpts = append(recOpts, recorder.WithStore(st, sessionID))
	}
	rec := recorder.New(recOpts...)

	now := engine.WallClock()
	interval := time.Duration(opts.Tick * float64(time.Second))
	driver := engine.NewTickerDriver(interval, now, logger)
	s := engine.New(now, driver, opts.engineOptions(logger, rec)...)
	rec.Attach(s)

	prog, err := sc.Build(s, rec)
	if err != nil {
		return nil, err
	}

	metricsDone := make(chan error, 1)
	if opts.MetricsAddr != "" {
		srv, err := newMetricsServer(opts.MetricsAddr, s, logger)
		if err != nil {
			return nil, err
		}
		go func() { metricsDone <- srv.Run(ctx) }()
	} else {
		metricsDone <- nil
	}

	// Play before the driver starts so no tick races the first actions.
	if err := prog.Play(s); err != nil {
		logger.Warn("play failed", "score", sc.Name, "error", err)
	}
	if err := s.Start(); err != nil {
		return nil, err
	}
	logger.Info("playing", "score", sc.Name, "tick", opts.Tick, "session", sessionID)

	flush := time.NewTicker(flushInterval)
	defer flush.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-flush.C:
			if err := rec.Flush(ctx); err != nil {
				logger.Warn("flush failed", "error", err)
			}
		}
	}

	if err := s.SetRunning(false); err != nil {
		logger.Error("stop driver", "error", err)
	}
	if err := <-metricsDone; err != nil {
		logger.Error("metrics server", "error", err)
	}

	// ctx is done; persist the tail on a fresh context.
	digest, err := rec.Finish(context.Background())
	if err != nil {
		return nil, fmt.Errorf("finish session: %w", err)
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		logger.Info("interrupted")
	}

	return &RunResult{
		Score:     sc.Name,
		SessionID: sessionID,
		Events:    rec.Len(),
		Digest:    digest,
		Stats:     s.Stats(),
	}, nil
}

func newMetricsServer(addr string, s *engine.Scheduler, logger *slog.Logger) (*metrics.Server, error) {
	opts, err := metrics.ParseAddress(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid --metrics-addr %q: %w", addr, err)
	}

	reg := prometheus.NewRegistry()
	if _, err := metrics.Register(reg, s); err != nil {
		return nil, err
	}
	return metrics.NewServer(metrics.NewConfig(opts...), reg, s, logger)
}
