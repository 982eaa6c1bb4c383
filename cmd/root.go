/*
Copyright © 2025 ALESSIO TONIOLO
*/
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "xcodeagent",
	Short: "AI coding assistant backend for DeepSeek-R1 on vLLM",
	Long: `xcodeagent is the backend gateway for the xCodeAgent coding assistant.
It fronts one or more vLLM servers running DeepSeek-R1-0528 and exposes a
stable HTTP API for chat, code generation and code analysis.

Key Features:
  - Routes completions across vLLM servers by load and measured latency
  - Persists chat sessions locally with full message history
  - Exposes Prometheus metrics plus system and application health summaries
  - Ships a mock vLLM server for frontend development without a GPU
  - Supports production, demo and hybrid execution modes per request

Use "xcodeagent [command] --help" for more information about a command.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
