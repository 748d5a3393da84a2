// Amri is a natural language shell assistant with sandboxed execution.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/wanjiru/amri/internal/config"
)

var (
	configPath string
	debugMode  bool
)

var rootCmd = &cobra.Command{
	Use:   "amri",
	Short: "Amri turns natural language into safe shell commands.",
	Long: `Amri translates natural language requests into shell commands using a
local Ollama model. Every command is classified by risk before it runs:
read-only commands execute directly on the host, everything else runs in
an isolated Docker container mounted on the working directory.`,
	RunE:          runChat, // Default to the interactive chat.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultConfigPath(), "config file path")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "enable debug logging")
	rootCmd.AddCommand(chatCmd, runCmd, execCmd, exportCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(ExitFailure)
	}
}
