package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/nhle/mailpanel/internal/logging"
	"github.com/nhle/mailpanel/internal/plesk"
	"github.com/nhle/mailpanel/internal/theme"
)

func newDomainsCmd() *cobra.Command {
	var withMailboxes bool
	cmd := &cobra.Command{
		Use:   "domains",
		Short: "List the domains hosted on the Plesk server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadEnv()
			if err != nil {
				return err
			}
			if cfg.Plesk.Host == "" {
				return errors.New("plesk.host is not configured")
			}
			panel, err := plesk.NewClient(cfg.Plesk, logging.Component(logger, "plesk"))
			if err != nil {
				return err
			}

			domains, err := panel.ListDomains(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(domains) == 0 {
				fmt.Fprintln(out, theme.MutedStyle.Render("No domains found"))
				return nil
			}

			rows := make([][]string, 0, len(domains))
			for _, d := range domains {
				row := []string{strconv.Itoa(d.ID), d.Name, d.HostingType}
				if withMailboxes {
					boxes, err := panel.ListMailboxes(cmd.Context(), d.Name)
					if err != nil {
						row = append(row, theme.ErrorStyle.Render("unavailable"))
					} else {
						row = append(row, strconv.Itoa(len(boxes)))
					}
				}
				rows = append(rows, row)
			}

			headers := []string{"ID", "Domain", "Hosting"}
			if withMailboxes {
				headers = append(headers, "Mailboxes")
			}
			fmt.Fprintln(out, theme.HeaderStyle.Render("Plesk domains"))
			fmt.Fprintln(out, theme.Table(headers, rows))
			return nil
		},
	}
	cmd.Flags().BoolVar(&withMailboxes, "mailboxes", false, "also count mailboxes per domain")
	return cmd
}
