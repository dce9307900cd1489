// CLAUDE:SUMMARY mangafetch CLI: serve the scrape API (HTTP + MCP), run one-off scrapes, manage the sources database.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/mangafetch/scrape"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:           "mangafetch",
	Short:         "Fetch manga listings, details, chapters and pages from configurable sources.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		slog.SetDefault(newLogger(logLevel))
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", env("MANGAFETCH_CONFIG", "mangafetch.yaml"), "path to the YAML config")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", env("LOG_LEVEL", "info"), "debug, info, warn or error")
	rootCmd.AddCommand(serveCmd, scrapeCmd, sourcesCmd)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "mangafetch:", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	// stdout carries MCP frames in stdio mode; logs go to stderr.
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// openScraper loads the config and builds a Scraper.
func openScraper() (*scrape.Scraper, error) {
	cfg, err := scrape.LoadConfigFile(configPath)
	if err != nil {
		return nil, err
	}
	return scrape.New(*cfg, scrape.WithLogger(slog.Default()))
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
