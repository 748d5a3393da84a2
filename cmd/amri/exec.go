package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wanjiru/amri/internal/agent"
)

var execYes bool

var execCmd = &cobra.Command{
	Use:   "exec -- <command>",
	Short: "Classify and run a literal shell command",
	Long: `Run a shell command you already have, skipping generation. The command
is still classified and routed: safe commands run on the host, everything
else in the sandbox.

Examples:
  amri exec -- ls -la
  amri exec --yes -- rm -rf build`,
	Args: cobra.MinimumNArgs(1),
	RunE: runExec,
}

func init() {
	execCmd.Flags().BoolVarP(&execYes, "yes", "y", false, "run dangerous commands without confirmation")
}

func runExec(_ *cobra.Command, args []string) error {
	c, err := initComponents()
	if err != nil {
		return err
	}
	defer c.Cleanup()

	if !execYes {
		c.Assistant.WithConfirmer(agent.ConfirmFunc(confirmOnTerminal))
	}

	command := strings.Join(args, " ")
	res, err := c.Assistant.RunCommand(context.Background(), command)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		c.Cleanup()
		os.Exit(ExitFailure)
	}

	exitWithResult(c, res)
	return nil
}
