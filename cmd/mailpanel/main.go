// Command mailpanel serves the webmail and mailbox provisioning API.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/nhle/mailpanel/internal/logging"
	"github.com/nhle/mailpanel/internal/model"
)

var configPath string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "mailpanel",
		Short:         "Webmail and mailbox provisioning for Plesk-hosted domains",
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", model.DefaultConfigPath(), "path to the YAML config file")

	root.AddCommand(
		newServeCmd(),
		newSetupCmd(),
		newCheckCmd(),
		newDomainsCmd(),
	)
	return root
}

// loadEnv reads the config file and builds the logger every command uses.
func loadEnv() (*model.AppConfig, *logrus.Logger, error) {
	cfg, err := model.LoadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, fmt.Errorf("configuring logging: %w", err)
	}
	return cfg, logger, nil
}
