// Package cli implements the tako command line: fetch, store, gen-key, and
// version.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/tako-update/tako/internal/logging"
)

var logger *zap.Logger

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "tako",
	Short: "Tako - trust-minimized image update agent",
	Long: `Tako is an update agent for container-style images.

A publisher signs image versions into a server directory with 'tako store';
clients configured with the publisher's public key periodically run
'tako fetch' to download, verify, and atomically install the newest trusted
version, optionally restarting dependent service units.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		logger, err = logging.NewLogger(viper.GetString("log.level"), viper.GetString("log.format"))
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// Execute runs the root command. It is called once from main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "console", "log format (json, console)")

	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))

	viper.SetEnvPrefix("TAKO")
	viper.AutomaticEnv()
}
