package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/nhle/mailpanel/internal/model"
	"github.com/nhle/mailpanel/internal/theme"
)

func newCheckCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Log in to a mailbox and show how its special folders resolve",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadEnv()
			if err != nil {
				return err
			}
			if password == "" {
				err := huh.NewInput().
					Title("Password for " + email).
					EchoMode(huh.EchoModePassword).
					Value(&password).
					Run()
				if err != nil {
					return fmt.Errorf("reading password: %w", err)
				}
			}

			out := cmd.OutOrStdout()
			mail := newWebmail(cfg, logger, nil)
			creds := model.Credentials{Address: strings.TrimSpace(email), Secret: password}

			fmt.Fprintln(out, theme.HeaderStyle.Render("Mailbox check"))
			fmt.Fprintln(out, theme.KeyValue("IMAP", fmt.Sprintf("%s:%d (%s)", cfg.Mail.IMAPHost, cfg.Mail.IMAPPort, cfg.Mail.IMAPSecurity)))
			fmt.Fprintln(out, theme.KeyValue("SMTP", fmt.Sprintf("%s:%d (%s)", cfg.Mail.SMTPHost, cfg.Mail.SMTPPort, cfg.Mail.SMTPSecurity)))

			if err := mail.TestCredentials(cmd.Context(), creds); err != nil {
				fmt.Fprintln(out, theme.Failure("Login failed: "+err.Error()))
				return err
			}
			fmt.Fprintln(out, theme.Success("Login succeeded"))

			for _, kind := range []model.SpecialUse{model.SpecialUseSent, model.SpecialUseDrafts, model.SpecialUseTrash, model.SpecialUseJunk} {
				path, err := mail.ResolveSpecialFolder(cmd.Context(), creds, kind)
				if err != nil {
					fmt.Fprintln(out, theme.Failure(fmt.Sprintf("%s: %v", kind, err)))
					continue
				}
				fmt.Fprintln(out, theme.KeyValue(string(kind), string(path)))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "mailbox address")
	cmd.Flags().StringVar(&password, "password", "", "mailbox password (prompted when empty)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}
