package main

import (
	"errors"
	"fmt"

	"github.com/99designs/keyring"
	"github.com/spf13/cobra"

	"github.com/nhle/mailpanel/internal/credential"
	"github.com/nhle/mailpanel/internal/model"
	"github.com/nhle/mailpanel/internal/setup"
	"github.com/nhle/mailpanel/internal/theme"
)

func newSetupCmd() *cobra.Command {
	var rotateSessionKey bool
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Write the config file interactively",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			cfg, err := model.LoadConfig(configPath)
			if err != nil {
				return err
			}

			if rotateSessionKey {
				if err := rotateKeyringSessionKey(cfg); err != nil {
					return err
				}
				fmt.Fprintln(out, theme.Success("Session key removed; every webmail session must sign in again"))
				return nil
			}

			if err := setup.NewWizard(cfg).Run(cfg); err != nil {
				return err
			}
			if err := model.SaveConfig(configPath, cfg); err != nil {
				return err
			}
			fmt.Fprintln(out, theme.Success("Configuration written to "+configPath))
			return nil
		},
	}
	cmd.Flags().BoolVar(&rotateSessionKey, "rotate-session-key", false,
		"delete the keyring session key so the next serve generates a new one")
	return cmd
}

// rotateKeyringSessionKey drops the keyring-held session key. Stored
// mailbox passwords use a separate key and are unaffected.
func rotateKeyringSessionKey(cfg *model.AppConfig) error {
	if cfg.Session.Secret != "" || !cfg.Session.UseKeyring {
		return errors.New("session keys come from session.secret; change the secret instead")
	}
	ring, err := credential.OpenKeyring()
	if err != nil {
		return err
	}
	if err := ring.Delete(credential.PurposeSession); err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return err
	}
	return nil
}
