// Package cmd provides CLI commands for the ipmbridge tool.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/remote-agent-terminal/ipmbridge/internal/config"
)

// Version is set at build time.
var Version = "dev"

var configFile string

var rootCmd = &cobra.Command{
	Use:     "ipmbridge",
	Short:   "IPM terminal session bridge",
	Version: Version,
	Long: `ipmbridge opens IPM terminal sessions on remote evaluators.

Each server and namespace pair has at most one live session. Sessions
can be driven from the console (attach) or from browser panels served
by the HTTP API (serve).`,
	SilenceUsage: true,
}

// Execute runs the root command and returns an exit code.
// The caller (main) should call os.Exit with this code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default $IPMBRIDGE_CONFIG or "+config.DefaultPath+")")
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "ipmbridge %s\n", Version)
	},
}

// loadConfig reads the config file named by --config or the environment.
func loadConfig() (*config.Config, error) {
	path := configFile
	if path == "" {
		path = config.Path()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}
