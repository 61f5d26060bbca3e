package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tako-update/tako/pkg/config"
	"github.com/tako-update/tako/pkg/fetch"
)

var fetchInit bool

var fetchCmd = &cobra.Command{
	Use:   "fetch [--init] <config>...",
	Short: "Download or update an image",
	Long: `Fetch downloads or updates the image described by each config file.

For every config, tako lists the manifests published at the Origin, verifies
each against the pinned PublicKey, and selects the newest version. If it
exceeds the installed one, the image blob is downloaded, digest-checked,
installed atomically at Destination, and the configured RestartUnits are
restarted in order.

Having no newer version is a normal outcome, not a failure: the command
reports "No candidate to fetch." and exits successfully.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runFetch,
}

func init() {
	rootCmd.AddCommand(fetchCmd)
	fetchCmd.Flags().BoolVar(&fetchInit, "init", false, "download the image only if none exists already")
}

func runFetch(cmd *cobra.Command, args []string) error {
	for _, configPath := range args {
		if err := fetchOne(cmd, configPath); err != nil {
			return err
		}
	}
	return nil
}

func fetchOne(cmd *cobra.Command, configPath string) error {
	log := logger.With(zap.String("config", configPath))
	log.Info("running fetch")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	engine, err := fetch.NewFromConfig(cfg, log)
	if err != nil {
		return err
	}

	if fetchInit {
		err = engine.RunInit(cmd.Context())
	} else {
		err = engine.Run(cmd.Context())
	}
	if errors.Is(err, fetch.ErrNoCandidate) {
		// Nothing qualifies for install. Not an error.
		fmt.Fprintln(cmd.OutOrStdout(), "No candidate to fetch.")
		return nil
	}
	return err
}
