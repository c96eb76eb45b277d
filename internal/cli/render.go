package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/timeline/internal/compiler"
	"github.com/roach88/timeline/internal/engine"
	"github.com/roach88/timeline/internal/ir"
	"github.com/roach88/timeline/internal/recorder"
)

// PlaybackOptions holds the flags shared by render and run.
type PlaybackOptions struct {
	Score       string
	Tick        float64
	Duration    float64
	Seed        uint64
	Diagnostics bool
}

func (p *PlaybackOptions) bind(cmd *cobra.Command, defaultTick, defaultDuration float64) {
	cmd.Flags().StringVar(&p.Score, "score", "", "score name, required when the file declares several")
	cmd.Flags().Float64Var(&p.Tick, "tick", defaultTick, "driver interval in seconds")
	cmd.Flags().Float64Var(&p.Duration, "duration", defaultDuration, "seconds to play")
	cmd.Flags().Uint64Var(&p.Seed, "seed", 0, "seed for choice (0 leaves it unseeded)")
	cmd.Flags().BoolVar(&p.Diagnostics, "diagnostics", false, "report late fires and delays")
}

func (p *PlaybackOptions) validate() error {
	if p.Tick <= 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("--tick must be positive, got %g", p.Tick))
	}
	if p.Duration < 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("--duration must not be negative, got %g", p.Duration))
	}
	return nil
}

func (p *PlaybackOptions) engineOptions(logger *slog.Logger, rec *recorder.Recorder) []engine.Option {
	opts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithMonitor(rec),
		engine.WithDiagnostics(p.Diagnostics),
	}
	if p.Seed != 0 {
		opts = append(opts, engine.WithSeed(p.Seed))
	}
	return opts
}

// RenderOptions holds flags for the render command.
type RenderOptions struct {
	*RootOptions
	PlaybackOptions
}

// RenderResult is the outcome of an offline render.
type RenderResult struct {
	Score  string       `json:"score"`
	Tick   float64      `json:"tick"`
	Events []ir.Event   `json:"events"`
	Digest string       `json:"digest"`
	Stats  engine.Stats `json:"stats"`
}

// NewRenderCommand creates the render command.
func NewRenderCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RenderOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "render <score-path>",
		Short: "Play a score offline and print its trace",
		Long: `Play a score against simulated time and print the resulting trace.

Time advances by exactly --tick per driver tick, so the output depends
only on the score, the flags and the seed. Use it to inspect a score
or to produce a trace for diffing.

Examples:
  timeline render ./scores/pulse.cue --duration 4
  timeline render ./scores --score pulse --tick 0.01 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRender(opts, args[0], cmd)
		},
	}

	opts.bind(cmd, engine.DefaultTickWidth, 2)
	return cmd
}

func runRender(opts *RenderOptions, path string, cmd *cobra.Command) error {
	if err := opts.validate(); err != nil {
		return err
	}

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	sc, err := LoadScore(path, opts.Score)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load score", err)
	}

	result, err := render(sc, opts.PlaybackOptions, newLogger(formatter.GetErrWriter(), opts.Verbose))
	if err != nil {
		return WrapExitError(ExitFailure, "render failed", err)
	}

	if opts.Format == "json" {
		return formatter.Success(result)
	}
	printTrace(formatter.Writer, result.Events)
	fmt.Fprintln(formatter.Writer)
	formatter.Summary(PlaybackSummary{
		Score:  result.Score,
		Events: len(result.Events),
		Stats:  result.Stats,
		Digest: result.Digest,
	})
	return nil
}

// render plays sc on a simulated clock that the loop advances itself.
// Sweep failures are logged and do not stop the render.
func render(sc *compiler.Score, opts PlaybackOptions, logger *slog.Logger) (*RenderResult, error) {
	var now float64
	rec := recorder.New(recorder.WithLogger(logger))

	engineOpts := append(opts.engineOptions(logger, rec), engine.WithTickWidth(opts.Tick))
	s := engine.New(func() float64 { return now }, nil, engineOpts...)
	rec.Attach(s)
	if err := s.Start(); err != nil {
		return nil, err
	}

	prog, err := sc.Build(s, rec)
	if err != nil {
		return nil, err
	}
	if err := prog.Play(s); err != nil {
		logger.Warn("play failed", "score", sc.Name, "error", err)
	}

	for now+opts.Tick/2 < opts.Duration {
		now += opts.Tick
		if err := s.Tick(now); err != nil {
			logger.Warn("tick failed", "t", now, "error", err)
		}
	}

	digest, err := rec.Digest()
	if err != nil {
		return nil, err
	}
	return &RenderResult{
		Score:  sc.Name,
		Tick:   opts.Tick,
		Events: rec.Events(),
		Digest: digest,
		Stats:  s.Stats(),
	}, nil
}

// printTrace writes one aligned line per event.
func printTrace(w io.Writer, events []ir.Event) {
	for _, e := range events {
		fmt.Fprintf(w, "%4d  %-8s %-20s rel=%.6f abs=%.6f real=%.6f",
			e.Seq, e.Kind, e.Name,
			ir.Seconds(e.RelUs), ir.Seconds(e.AbsUs), ir.Seconds(e.RealUs))
		if e.LateUs > 0 {
			fmt.Fprintf(w, " late=%.6f", ir.Seconds(e.LateUs))
		}
		fmt.Fprintln(w)
	}
}

// newLogger builds the command logger. Verbose switches the level to Debug.
func newLogger(w io.Writer, verbose bool) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
