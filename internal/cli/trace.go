package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/roach88/timeline/internal/ir"
	"github.com/roach88/timeline/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	Session  string   // optional - without it sessions are listed
	Kinds    []string // optional - filter to these event kinds
}

// TraceResult holds the trace of one session.
type TraceResult struct {
	Session store.Session `json:"session"`
	Events  []ir.Event    `json:"events"`
	Stats   TraceStats    `json:"stats"`
}

// TraceStats holds summary statistics for a trace.
type TraceStats struct {
	TotalEvents int            `json:"total_events"`
	ByKind      map[string]int `json:"by_kind"`
	MaxLateUs   int64          `json:"max_late_us"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show recorded sessions",
		Long: `Show sessions recorded by "timeline run --db".

Without --session every session is listed, oldest first. With
--session the session's events are printed in sequence order,
optionally narrowed to some event kinds.

Examples:
  timeline trace --db ./timeline.db
  timeline trace --db ./timeline.db --session 0192f4c1-...
  timeline trace --db ./timeline.db --session 0192f4c1-... --kind late,drift --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Session, "session", "", "session id to show")
	cmd.Flags().StringSliceVar(&opts.Kinds, "kind", nil, "filter to event kinds (fire, display, param, gate, late, drift, abort)")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	if opts.Session == "" {
		return listSessions(ctx, st, opts, cmd)
	}

	sess, err := st.ReadSession(ctx, opts.Session)
	if errors.Is(err, store.ErrNotFound) {
		return NewExitError(ExitCommandError, fmt.Sprintf("session not found: %s", opts.Session))
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read session", err)
	}

	kinds := make([]ir.EventKind, 0, len(opts.Kinds))
	for _, k := range opts.Kinds {
		kinds = append(kinds, ir.EventKind(k))
	}
	events, err := st.ReadEvents(ctx, opts.Session, kinds...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read events", err)
	}

	result := TraceResult{
		Session: sess,
		Events:  events,
		Stats:   summarize(events),
	}

	if opts.Format == "json" {
		return outputTraceJSON(cmd, result)
	}
	return outputTraceText(cmd, result)
}

func listSessions(ctx context.Context, st *store.Store, opts *TraceOptions, cmd *cobra.Command) error {
	sessions, err := st.ListSessions(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list sessions", err)
	}

	if opts.Format == "json" {
		return outputTraceJSON(cmd, sessions)
	}

	w := cmd.OutOrStdout()
	if len(sessions) == 0 {
		fmt.Fprintln(w, "No sessions recorded.")
		return nil
	}
	for _, s := range sessions {
		digest := s.Digest
		if digest == "" {
			digest = "(unfinished)"
		}
		fmt.Fprintf(w, "%s  %-16s tick=%.6f seed=%d  %s\n", s.ID, s.Score, ir.Seconds(s.TickUs), s.Seed, digest)
	}
	return nil
}

// summarize counts events per kind and finds the worst lateness.
func summarize(events []ir.Event) TraceStats {
	stats := TraceStats{
		TotalEvents: len(events),
		ByKind:      map[string]int{},
	}
	for _, e := range events {
		stats.ByKind[string(e.Kind)]++
		if e.Kind != ir.KindDrift && e.LateUs > stats.MaxLateUs {
			stats.MaxLateUs = e.LateUs
		}
	}
	return stats
}

// outputTraceJSON outputs data wrapped in the standard response.
func outputTraceJSON(cmd *cobra.Command, data any) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(CLIResponse{
		Status: "ok",
		Data:   data,
	})
}

// outputTraceText outputs the trace in human-readable format.
func outputTraceText(cmd *cobra.Command, result TraceResult) error {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Session: %s\n", result.Session.ID)
	fmt.Fprintf(w, "Score:   %s\n", result.Session.Score)
	if result.Session.Digest != "" {
		fmt.Fprintf(w, "Digest:  %s\n", result.Session.Digest)
	}
	fmt.Fprintln(w)

	if len(result.Events) == 0 {
		fmt.Fprintln(w, "No events.")
		return nil
	}
	printTrace(w, result.Events)

	kinds := make([]string, 0, len(result.Stats.ByKind))
	for k := range result.Stats.ByKind {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%d event(s):", result.Stats.TotalEvents)
	for _, k := range kinds {
		fmt.Fprintf(w, " %s=%d", k, result.Stats.ByKind[k])
	}
	fmt.Fprintln(w)
	if result.Stats.MaxLateUs > 0 {
		fmt.Fprintf(w, "max late %.6fs\n", ir.Seconds(result.Stats.MaxLateUs))
	}
	return nil
}
