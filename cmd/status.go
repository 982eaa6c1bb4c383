/*
Copyright © 2025 ALESSIO TONIOLO

status.go queries a running backend and prints its status report.
*/
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check the status of a running backend",
	Long: `Check the status of a running backend gateway.

Fetches /api/v3/status from the given URL and prints the full report:
vLLM server health, available models, backend info and performance metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		url, _ := cmd.Flags().GetString("url")
		url = strings.TrimRight(url, "/")

		client := &http.Client{Timeout: 30 * time.Second}
		resp, err := client.Get(url + "/api/v3/status")
		if err != nil {
			return fmt.Errorf("backend unreachable at %s: %w", url, err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read status response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("backend returned %d: %s", resp.StatusCode, body)
		}

		var pretty map[string]any
		if err := json.Unmarshal(body, &pretty); err != nil {
			return fmt.Errorf("failed to parse status response: %w", err)
		}
		out, err := json.MarshalIndent(pretty, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().String("url", "http://localhost:12000", "Backend base URL")
}
