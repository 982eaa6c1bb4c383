/*
Copyright © 2025 ALESSIO TONIOLO

config.go loads runtime configuration for the backend from the environment.
A .env file in the working directory is honored when present.
*/
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds runtime configuration for the backend server.
type Config struct {
	// VLLMServerURLs is the list of model server base URLs. A single URL is
	// the common case; more than one enables pool routing across replicas.
	VLLMServerURLs []string

	BackendHost    string
	BackendPort    int
	ProductionMode bool

	// Model is the model name sent on every completion request
	Model string

	// StaticDir serves the bundled frontend when it exists on disk
	StaticDir string
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first if present, without overriding real env vars.
func Load() (*Config, error) {
	if err := godotenv.Load(".env"); err == nil {
		log.Printf("[Config] Loaded environment from .env")
	}

	cfg := &Config{
		VLLMServerURLs: splitURLs(getEnv("VLLM_SERVER_URL", fmt.Sprintf("http://localhost:%d", DefaultVLLMPort))),
		BackendHost:    getEnv("BACKEND_HOST", "0.0.0.0"),
		BackendPort:    DefaultBackendPort,
		ProductionMode: true,
		Model:          getEnv("VLLM_MODEL", DefaultModel),
		StaticDir:      getEnv("STATIC_DIR", "frontend-v2"),
	}

	if v := os.Getenv("BACKEND_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid BACKEND_PORT %q: %w", v, err)
		}
		cfg.BackendPort = port
	}

	if v := os.Getenv("PRODUCTION_MODE"); v != "" {
		cfg.ProductionMode = strings.EqualFold(v, "true")
	}

	if len(cfg.VLLMServerURLs) == 0 {
		return nil, fmt.Errorf("VLLM_SERVER_URL must name at least one server")
	}

	return cfg, nil
}

// Addr returns the listen address for the backend server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.BackendHost, c.BackendPort)
}

// PrimaryVLLMURL returns the first configured model server URL.
func (c *Config) PrimaryVLLMURL() string {
	return c.VLLMServerURLs[0]
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// splitURLs parses a comma-separated URL list, trimming whitespace and
// trailing slashes.
func splitURLs(raw string) []string {
	var urls []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimRight(strings.TrimSpace(part), "/")
		if part != "" {
			urls = append(urls, part)
		}
	}
	return urls
}
