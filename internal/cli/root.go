// Package cli implements the toxnode command-line interface using Cobra.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "toxnode",
	Short: "toxnode runs a toxcore overlay node",
	Long: `toxnode joins the DHT through the configured bootstrap nodes and relays,
keeps encrypted sessions with its closest peers and reports its connection
status.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "toxnode.toml", "path to the TOML configuration file")
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
