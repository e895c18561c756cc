// svcctl checks a services file, probes a single service from the command
// line and manages the monitors of a running monitord.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:          "svcctl",
	Short:        "Service monitor control",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("services", envOr("SERVICES_FILE", "services.yaml"), "Path to the services file")
	rootCmd.PersistentFlags().String("api", envOr("API_BASE", "http://localhost:8080"), "monitord base URL")
	rootCmd.PersistentFlags().String("key", os.Getenv("API_KEY"), "API key sent as a bearer token")

	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newProbeCmd())
	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newAddCmd())
	rootCmd.AddCommand(newRemoveCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
