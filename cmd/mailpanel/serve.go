package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/nhle/mailpanel/internal/app"
	"github.com/nhle/mailpanel/internal/credential"
	"github.com/nhle/mailpanel/internal/logging"
	"github.com/nhle/mailpanel/internal/model"
	"github.com/nhle/mailpanel/internal/plesk"
	"github.com/nhle/mailpanel/internal/provision"
	"github.com/nhle/mailpanel/internal/reconcile"
	"github.com/nhle/mailpanel/internal/session"
	"github.com/nhle/mailpanel/internal/store"
	"github.com/nhle/mailpanel/internal/webmail"
)

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadEnv()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides server.addr")
	return cmd
}

func serve(ctx context.Context, cfg *model.AppConfig, logger *logrus.Logger) error {
	var ring *credential.Keyring
	if cfg.Session.Secret == "" && cfg.Session.UseKeyring {
		var err error
		if ring, err = credential.OpenKeyring(); err != nil {
			return err
		}
	}

	sessionKey, err := credential.KeyFor(cfg.Session, credential.PurposeSession, ring)
	if err != nil {
		return fmt.Errorf("session key: %w", err)
	}
	sessions, err := session.NewManager(sessionKey, cfg.Session.TTL())
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	mail := newWebmail(cfg, logger, registry)
	deps := app.Deps{
		Config:   cfg.Server,
		Webmail:  mail,
		Sessions: sessions,
		Registry: registry,
		Log:      logging.Component(logger, "http"),
	}

	if cfg.Plesk.Host != "" {
		st, err := store.Open(cfg.Database)
		if err != nil {
			return err
		}
		defer st.Close()

		accountKey, err := credential.KeyFor(cfg.Session, credential.PurposeAccount, ring)
		if err != nil {
			return fmt.Errorf("account key: %w", err)
		}
		cipher, err := credential.NewCipher(accountKey)
		if err != nil {
			return err
		}
		panel, err := plesk.NewClient(cfg.Plesk, logging.Component(logger, "plesk"))
		if err != nil {
			return err
		}
		svc := provision.NewService(panel, st, cipher, mail, logging.Component(logger, "provision"))
		deps.Provision = svc

		poller := reconcile.New(svc, cfg.Plesk.ReconcileInterval(), logging.Component(logger, "reconcile"), registry)
		go poller.Run(ctx)
		deps.Reconciler = poller
	} else {
		logger.Warn("plesk.host is not set, mailbox provisioning routes are disabled")
	}

	return app.NewServer(deps).Run(ctx, cfg.Server.Addr)
}

func newWebmail(cfg *model.AppConfig, logger *logrus.Logger, reg prometheus.Registerer) *webmail.Service {
	log := logging.Component(logger, "webmail")
	var metrics *webmail.Metrics
	if reg != nil {
		metrics = webmail.NewMetrics(reg)
	}
	return webmail.NewService(webmail.NewNetDialer(cfg.Mail, log), cfg.Mail, log, metrics)
}
