/*
Copyright © 2025 ALESSIO TONIOLO

mockvllm.go runs the standalone mock vLLM server for development without
a GPU.
*/
package cmd

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/atoniolo76/xcodeagent/pkg/config"
	"github.com/atoniolo76/xcodeagent/pkg/mockvllm"
)

var mockVLLMCmd = &cobra.Command{
	Use:   "mock-vllm",
	Short: "Run a mock vLLM server with canned coding responses",
	Long: `Run an OpenAI-compatible mock vLLM server.

The mock classifies each prompt (greeting, code request, explanation,
analysis, ...) and returns a canned response, with processing latency
proportional to prompt length. Point the gateway's --vllm-url at it to
develop the frontend without a GPU.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		host, _ := cmd.Flags().GetString("host")
		port, _ := cmd.Flags().GetInt("port")
		model, _ := cmd.Flags().GetString("model")
		noLatency, _ := cmd.Flags().GetBool("no-latency")

		cfg := mockvllm.DefaultConfig()
		cfg.Model = model
		if noLatency {
			cfg.SimulateLatency = false
		}

		addr := fmt.Sprintf("%s:%d", host, port)
		log.Printf("[MockVLLM] Serving model %s on %s", cfg.Model, addr)
		return mockvllm.New(cfg).ListenAndServe(addr)
	},
}

func init() {
	rootCmd.AddCommand(mockVLLMCmd)

	mockVLLMCmd.Flags().String("host", "0.0.0.0", "Bind address")
	mockVLLMCmd.Flags().IntP("port", "p", config.DefaultVLLMPort, "Listen port")
	mockVLLMCmd.Flags().String("model", config.DefaultModel, "Model name to advertise")
	mockVLLMCmd.Flags().Bool("no-latency", false, "Disable simulated processing latency")
}
