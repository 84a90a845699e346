//	@title			docconv API
//	@version		1.0
//	@description	Document conversion gateway. Converts uploaded word-processor and PDF files to HTML and HTML back to documents using AbiWord or LibreOffice.
//
//	@host		localhost:9001
//	@BasePath	/
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				Token from the docconv token command. Format: **Bearer {token}**. The apikey query parameter is accepted instead.

// Package main is the entry point for the docconv server.
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/docconv/service/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "docconv",
	Short: "Document conversion gateway",
	Long: `docconv accepts uploaded documents (.doc, .docx, .pdf, .odt, .rtf) and converts
them to HTML, or converts HTML into one of those formats, using AbiWord or
LibreOffice. Requests are authenticated with a shared API key and rate limited
per client.

Running docconv without a subcommand starts the server.`,
	SilenceUsage: true,
	RunE:         runServe,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file (yaml, json, toml or env); environment variables take precedence")
}

// loadConfig reads configuration using the --config flag of cmd.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	file, _ := cmd.Flags().GetString("config")
	return config.Load(file)
}

// newLogger returns a text logger for development and a JSON logger in
// production.
func newLogger(cfg *config.Config) *slog.Logger {
	if cfg.IsProduction() {
		return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
