package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wanjiru/amri/internal/agent"
)

var (
	runMessage string
	runYes     bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Translate one request into a command and run it",
	Long: `Translate a single natural language request into a shell command,
classify it, and run it in the right place. Non-interactive: suited for
scripts and one-off use.

Examples:
  amri run -m "show disk usage of the current directory"
  amri run -m "delete all .tmp files" --yes

Exit codes:
  0  command succeeded
  1  command or generation failed
  2  dangerous command declined
  3  ollama or the model unavailable`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runMessage, "message", "m", "", "request to translate (required)")
	runCmd.Flags().BoolVarP(&runYes, "yes", "y", false, "run dangerous commands without confirmation")
	_ = runCmd.MarkFlagRequired("message")
}

func runRun(_ *cobra.Command, _ []string) error {
	c, err := initComponents()
	if err != nil {
		return err
	}
	defer c.Cleanup()

	ctx := context.Background()

	if err := c.Provider.Available(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		c.Cleanup()
		os.Exit(ExitUnavailable)
	}

	if !runYes {
		c.Assistant.WithConfirmer(agent.ConfirmFunc(confirmOnTerminal))
	}

	res, err := c.Assistant.Handle(ctx, runMessage)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		c.Cleanup()
		os.Exit(ExitFailure)
	}

	exitWithResult(c, res)
	return nil
}

// exitWithResult prints a result and exits with the matching code. The
// command's own exit code is surfaced when it ran and failed.
func exitWithResult(c *components, res *agent.Result) {
	printResult(res)
	c.Cleanup()

	switch {
	case res.Cancelled:
		os.Exit(ExitCancelled)
	case res.Outcome != nil && res.Outcome.Failed():
		os.Exit(res.Outcome.ExitCode)
	default:
		os.Exit(ExitSuccess)
	}
}
