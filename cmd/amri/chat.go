package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wanjiru/amri/internal/agent"
	"github.com/wanjiru/amri/internal/safety"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start the interactive chat (default)",
	Long: `Start an interactive session. Type requests in plain language and Amri
generates, classifies, and runs the matching shell command.

Special commands:
  help         show this help
  cd <dir>     change the working directory
  !!           repeat the last command
  explain      explain the last command and its output
  clear        clear the screen
  exit, quit   leave the session`,
}

func init() {
	chatCmd.RunE = runChat
}

func runChat(_ *cobra.Command, _ []string) error {
	c, err := initComponents()
	if err != nil {
		return err
	}
	defer c.Cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c.Assistant.WithConfirmer(agent.ConfirmFunc(confirmOnTerminal))

	printPrereqs(ctx, c)

	fmt.Printf("amri (model %s, working in %s)\n", c.Config.LLM.ModelName(), c.Assistant.WorkDir())
	fmt.Println(`Type a request in plain language, or "help" for commands.`)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("amri> ")
		if !scanner.Scan() {
			break
		}
		if ctx.Err() != nil {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if handleSpecial(ctx, c, line) {
			continue
		}

		res, err := c.Assistant.Handle(ctx, line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		printResult(res)
	}

	fmt.Println()
	return scanner.Err()
}

// handleSpecial processes REPL builtins. Returns true when the line was
// consumed.
func handleSpecial(ctx context.Context, c *components, line string) bool {
	switch {
	case line == "exit" || line == "quit" || line == "q":
		c.Cleanup()
		os.Exit(ExitSuccess)

	case line == "help":
		fmt.Println(chatCmd.Long)
		return true

	case line == "clear":
		fmt.Print("\033[2J\033[H")
		return true

	case line == "!!":
		res, err := c.Assistant.RepeatLast(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return true
		}
		printResult(res)
		return true

	case line == "explain":
		text, err := c.Assistant.ExplainLast(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return true
		}
		fmt.Println(text)
		return true

	case strings.HasPrefix(line, "cd "):
		dir := strings.TrimSpace(strings.TrimPrefix(line, "cd "))
		if err := c.Assistant.ChangeDirectory(dir); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		} else {
			fmt.Printf("working directory: %s\n", dir)
		}
		return true
	}
	return false
}

// printPrereqs probes Ollama and Docker. Neither failure is fatal here: the
// session starts anyway and individual requests report their own errors.
func printPrereqs(ctx context.Context, c *components) {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := c.Provider.Available(probeCtx); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}
	if !c.SandboxMgr.Available(probeCtx) {
		fmt.Fprintln(os.Stderr, "warning: docker unreachable, sandboxed commands will fail")
	}
}

// confirmOnTerminal prompts for approval of a dangerous command.
func confirmOnTerminal(command string) (bool, error) {
	fmt.Printf("about to run (dangerous, sandboxed): %s\n", command)
	fmt.Print("proceed? [y/N] ")

	reader := bufio.NewReader(os.Stdin)
	answer, err := reader.ReadString('\n')
	if err != nil {
		return false, err
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes", nil
}

func printResult(res *agent.Result) {
	switch {
	case res.Cancelled:
		fmt.Println("cancelled.")

	case res.Answer != "" && !res.Executed():
		fmt.Println(res.Answer)

	default:
		marker := tierMarker(res.Tier)
		if res.Cached {
			marker += " (cached)"
		}
		fmt.Printf("%s $ %s\n", marker, res.Command)
		if res.Outcome != nil {
			if res.Outcome.Stdout != "" {
				fmt.Print(res.Outcome.Stdout)
			}
			if res.Outcome.Stderr != "" {
				fmt.Fprint(os.Stderr, res.Outcome.Stderr)
			}
			if res.Outcome.Failed() {
				fmt.Fprintf(os.Stderr, "exit %d\n", res.Outcome.ExitCode)
			}
		}
	}
}

func tierMarker(tier safety.Tier) string {
	switch tier {
	case safety.TierSafe:
		return "[safe]"
	case safety.TierDangerous:
		return "[dangerous/sandboxed]"
	default:
		return "[sandboxed]"
	}
}
