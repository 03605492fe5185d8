// Command mcp serves the reputation API as MCP tools over stdio.
//
// Usage:
//
//	mcp [-api http://localhost:8080] [-timeout 30s]
//
// TONTINE_API_URL and TONTINE_API_TOKEN may be set in the environment or a
// .env file. Logs go to stderr since stdout carries the protocol.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ProjetAlpha-1/tontine-connect-sub001/internal/logging"
	"github.com/ProjetAlpha-1/tontine-connect-sub001/internal/mcpserver"
	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"
)

func main() {
	_ = godotenv.Load()

	apiURL := flag.String("api", envOrDefault("TONTINE_API_URL", "http://localhost:8080"), "base URL of the reputation API")
	timeout := flag.Duration("timeout", 30*time.Second, "per-request timeout")
	logLevel := flag.String("log-level", "warn", "log level (debug, info, warn, error)")
	flag.Parse()

	logger := logging.NewWithWriter(os.Stderr, *logLevel, "text")

	cfg := mcpserver.Config{
		APIURL:  *apiURL,
		Token:   os.Getenv("TONTINE_API_TOKEN"),
		Timeout: *timeout,
	}
	logger.Info("starting MCP server", "api", cfg.APIURL, "authenticated", cfg.Token != "")

	if err := server.ServeStdio(mcpserver.NewMCPServer(cfg)); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
