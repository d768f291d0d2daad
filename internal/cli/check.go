package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/abxfeed/internal/schema"
)

// CheckResult holds the outcome of checking a snapshot file.
type CheckResult struct {
	File   string         `json:"file"`
	Valid  bool           `json:"valid"`
	Report *schema.Report `json:"report"`
}

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check <file>",
		Short: "Check a fetched feed snapshot",
		Long: `Check a JSON feed snapshot written by fetch.

Validates the shape of every packet (4-character symbol, side B or S,
32-bit quantity and price, positive sequence) and that the packets are
ordered by sequence with no repeats and no holes.

Examples:
  abxfeed check output.json
  abxfeed check output.json --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runCheck(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		_ = formatter.Error("E001", fmt.Sprintf("cannot read snapshot: %v", err), nil)
		return WrapExitError(ExitCommandError, "failed to read snapshot", err)
	}

	checker, err := schema.NewChecker()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load snapshot schema", err)
	}

	formatter.VerboseLog("Checking %s (%d bytes)", path, len(data))
	report := checker.Check(data)

	if !report.OK() {
		return outputCheckErrors(formatter, path, report)
	}
	return outputCheckSuccess(formatter, path, report)
}

// outputCheckSuccess outputs a valid snapshot report.
func outputCheckSuccess(formatter *OutputFormatter, path string, report *schema.Report) error {
	if formatter.JSON() {
		return formatter.Success(CheckResult{File: path, Valid: true, Report: report})
	}

	if report.Packets == 0 {
		fmt.Fprintf(formatter.Writer, "✓ %s valid: no packets\n", path)
		return nil
	}
	fmt.Fprintf(formatter.Writer, "✓ %s valid: %d packets, sequences %d..%d\n",
		path, report.Packets, report.First, report.Last)
	return nil
}

// outputCheckErrors outputs every problem found in a snapshot.
func outputCheckErrors(formatter *OutputFormatter, path string, report *schema.Report) error {
	errs := report.Errors
	if formatter.JSON() {
		result := CheckResult{File: path, Valid: false, Report: report}
		if err := formatter.Fail(result, errs[0].Code, errs[0].Message); err != nil {
			return err
		}
		return NewExitError(ExitFailure, fmt.Sprintf("check failed with %d error(s)", len(errs)))
	}

	fmt.Fprintf(formatter.Writer, "✗ %s invalid\n", path)
	fmt.Fprintln(formatter.Writer)
	for _, e := range errs {
		if e.Field != "" {
			fmt.Fprintf(formatter.Writer, "%s\n", e.Field)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", e.Code, e.Message)
	}

	return NewExitError(ExitFailure, fmt.Sprintf("check failed with %d error(s)", len(errs)))
}
