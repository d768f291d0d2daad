package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/abxfeed/internal/store"
	"github.com/roach88/abxfeed/internal/wire"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Database string
	RunID    string // optional - show a single run with its packets
	Limit    int
}

// HistoryRunResult is a single run with its packets.
type HistoryRunResult struct {
	Run     store.Run     `json:"run"`
	Packets []wire.Packet `json:"packets"`
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show stored fetch runs",
		Long: `Show runs stored by fetch --db.

Without --run, lists runs newest first. With --run, prints that run and
its reassembled packets.

Exit codes:
  0 - Success
  2 - Command error (database not found, unknown run, etc.)

Examples:
  abxfeed history --db ./history.db
  abxfeed history --db ./history.db --limit 5
  abxfeed history --db ./history.db --run 01927f3a-... --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "show a single run")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum runs to list (0 = all)")

	return cmd
}

func runHistory(opts *HistoryOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	// Opening would create an empty database.
	if _, err := os.Stat(opts.Database); err != nil {
		return WrapExitError(ExitCommandError, "database not found", err)
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	if opts.RunID != "" {
		run, err := st.LoadRun(ctx, opts.RunID)
		if errors.Is(err, store.ErrRunNotFound) {
			return WrapExitError(ExitCommandError, "unknown run", err)
		}
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load run", err)
		}
		packets, err := st.LoadPackets(ctx, opts.RunID)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load packets", err)
		}

		result := HistoryRunResult{Run: run, Packets: packets}
		if formatter.JSON() {
			return formatter.Success(result)
		}
		outputRunText(cmd.OutOrStdout(), result)
		return nil
	}

	runs, err := st.ListRuns(ctx, opts.Limit)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list runs", err)
	}

	formatter.VerboseLog("%d run(s) in %s", len(runs), opts.Database)
	if formatter.JSON() {
		return formatter.Success(runs)
	}
	if len(runs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No runs found in database.")
		return nil
	}
	outputRunsText(cmd.OutOrStdout(), runs)
	return nil
}

func outputRunsText(w io.Writer, runs []store.Run) {
	fmt.Fprintf(w, "%-36s  %-20s  %7s  %9s  %7s\n", "RUN", "STARTED", "PACKETS", "RECOVERED", "MISSING")
	for _, r := range runs {
		fmt.Fprintf(w, "%-36s  %-20s  %7d  %9d  %7d\n",
			r.ID, r.StartedAt.Format(time.RFC3339), r.Packets, r.Recovered, int64(len(r.Missing))+r.Unrequestable)
	}
}

func outputRunText(w io.Writer, result HistoryRunResult) {
	r := result.Run
	fmt.Fprintf(w, "Run %s against %s\n", r.ID, r.Endpoint)
	fmt.Fprintf(w, "  started:   %s (%s)\n", r.StartedAt.Format(time.RFC3339), r.Duration)
	fmt.Fprintf(w, "  packets:   %d (streamed %d, recovered %d)\n", r.Packets, r.Streamed, r.Recovered)
	fmt.Fprintf(w, "  gaps:      %v\n", r.Gaps)
	fmt.Fprintf(w, "  missing:   %v\n", r.Missing)
	if r.Unrequestable > 0 {
		fmt.Fprintf(w, "  beyond:    %d sequences above the resend range\n", r.Unrequestable)
	}
	if r.StreamError != "" {
		fmt.Fprintf(w, "  stream:    %s\n", r.StreamError)
	}
	fmt.Fprintln(w)
	for _, p := range result.Packets {
		fmt.Fprintln(w, p.String())
	}
}
