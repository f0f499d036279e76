// Package cmd provides the CLI commands for the pe.audio.sys command gateway.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fabian4/peaudiosys-gateway/internal/config"
)

var (
	cfgFile   string
	verbosity int
	listen    string
)

var rootCmd = &cobra.Command{
	Use:   "gateway",
	Short: "HTTP to TCP command gateway for pe.audio.sys",
	Long: `gateway relays single-line commands received over HTTP to the
line-oriented TCP control services of a pe.audio.sys preamp and returns
the service reply as the HTTP body.

Quick start:
  gateway serve --config gateway.yaml
  curl 'http://localhost:8080/?command=level%20-15'

Commands:
  serve       Run the HTTP gateway
  route       Show which service a command would be relayed to
  send        Relay one command directly and print the reply
  version     Print version information`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "./gateway.yaml", "path to YAML config")
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "log commands (-v) and full replies (-vv)")
}

// loadConfig reads --config and applies flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	c, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if cmd.Flags().Changed("verbose") {
		c.Log.Verbose = min(verbosity, 2)
	}
	if f := cmd.Flags().Lookup("listen"); f != nil && f.Changed {
		c.Listen = listen
	}
	return c, nil
}
