/*
Copyright © 2025 ALESSIO TONIOLO

serve.go starts the backend gateway: session store, upstream pool,
metrics collector and HTTP server.
*/
package cmd

import (
	"log"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/atoniolo76/xcodeagent/pkg/config"
	"github.com/atoniolo76/xcodeagent/pkg/monitor"
	"github.com/atoniolo76/xcodeagent/pkg/pool"
	"github.com/atoniolo76/xcodeagent/pkg/server"
	"github.com/atoniolo76/xcodeagent/pkg/session"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the backend gateway",
	Long: `Run the backend gateway on the configured host and port.

Configuration is read from the environment (and a .env file when present);
flags override it. Point --vllm-url at one or more running vLLM servers, or
at "xcodeagent mock-vllm" during frontend development.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		if cmd.Flags().Changed("host") {
			cfg.BackendHost, _ = cmd.Flags().GetString("host")
		}
		if cmd.Flags().Changed("port") {
			cfg.BackendPort, _ = cmd.Flags().GetInt("port")
		}
		if cmd.Flags().Changed("vllm-url") {
			cfg.VLLMServerURLs, _ = cmd.Flags().GetStringSlice("vllm-url")
		}
		if cmd.Flags().Changed("production") {
			cfg.ProductionMode, _ = cmd.Flags().GetBool("production")
		}
		if cmd.Flags().Changed("static-dir") {
			cfg.StaticDir, _ = cmd.Flags().GetString("static-dir")
		}

		store, err := session.Open()
		if err != nil {
			return err
		}
		defer store.Close()

		metrics := monitor.NewMetrics()
		collector := monitor.NewCollector(metrics, store)
		collector.Start()
		defer collector.Stop()

		p := pool.New(pool.DefaultConfig(), cfg.Model, cfg.VLLMServerURLs)
		if err := p.Start(); err != nil {
			return err
		}
		defer p.Stop()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		log.Printf("[Serve] Starting xCodeAgent backend v%s", config.Version)
		return server.New(cfg, p, store, metrics, collector).Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "", "Bind address (overrides BACKEND_HOST)")
	serveCmd.Flags().IntP("port", "p", 0, "Listen port (overrides BACKEND_PORT)")
	serveCmd.Flags().StringSlice("vllm-url", nil, "vLLM server URL, repeatable (overrides VLLM_SERVER_URL)")
	serveCmd.Flags().Bool("production", false, "Enable production mode (overrides PRODUCTION_MODE)")
	serveCmd.Flags().String("static-dir", "", "Directory with the frontend build (overrides STATIC_DIR)")
}
