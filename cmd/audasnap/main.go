// Command audasnap captures the damage graphics of a claim from the vendor
// claims application and serves the resulting archive.
//
// Usage:
//
//	audasnap serve -config audasnap.yaml           # web UI on :8000
//	audasnap extract -vin WVWZZZ1JZXW000001        # one run from the shell
//	audasnap history list                          # archived claims
//	audasnap mcp                                   # MCP tools on stdio
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env")

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "audasnap:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts rootOptions
	rootCmd := &cobra.Command{
		Use:           "audasnap",
		Short:         "Capture claim damage graphics and browse the archive",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", os.Getenv("AUDASNAP_CONFIG"), "path to audasnap.yaml")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")

	rootCmd.AddCommand(serveCmd(&opts))
	rootCmd.AddCommand(extractCmd(&opts))
	rootCmd.AddCommand(historyCmd(&opts))
	rootCmd.AddCommand(mcpCmd(&opts))
	return rootCmd
}
