// Package setup runs the interactive first-run configuration wizard.
package setup

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/nhle/mailpanel/internal/model"
)

// Wizard holds the values the form fields bind to.
type Wizard struct {
	Addr       string
	AdminToken string

	IMAPHost     string
	IMAPPort     string
	IMAPSecurity string
	SMTPHost     string
	SMTPPort     string
	SMTPSecurity string

	PleskHost   string
	PleskAPIKey string

	UseKeyring bool
}

// NewWizard seeds the form from cfg.
func NewWizard(cfg *model.AppConfig) *Wizard {
	return &Wizard{
		Addr:         cfg.Server.Addr,
		AdminToken:   cfg.Server.AdminToken,
		IMAPHost:     cfg.Mail.IMAPHost,
		IMAPPort:     strconv.Itoa(cfg.Mail.IMAPPort),
		IMAPSecurity: cfg.Mail.IMAPSecurity,
		SMTPHost:     cfg.Mail.SMTPHost,
		SMTPPort:     strconv.Itoa(cfg.Mail.SMTPPort),
		SMTPSecurity: cfg.Mail.SMTPSecurity,
		PleskHost:    cfg.Plesk.Host,
		PleskAPIKey:  cfg.Plesk.APIKey,
		UseKeyring:   cfg.Session.UseKeyring || cfg.Session.Secret == "",
	}
}

// Form builds the huh form over w.
func (w *Wizard) Form() *huh.Form {
	security := func() []huh.Option[string] {
		return []huh.Option[string]{
			huh.NewOption("Implicit TLS", model.SecurityTLS),
			huh.NewOption("STARTTLS", model.SecurityStartTLS),
		}
	}

	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Listen address").
				Description("Address the HTTP server binds to").
				Placeholder(":8080").
				Value(&w.Addr).
				Validate(validateRequired("Listen address")),
			huh.NewInput().
				Title("Admin token").
				Description("Sent as X-Admin-Token on provisioning routes; empty disables them").
				EchoMode(huh.EchoModePassword).
				Value(&w.AdminToken),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("IMAP Host").
				Placeholder("mail.example.com").
				Value(&w.IMAPHost).
				Validate(validateRequired("IMAP Host")),
			huh.NewInput().
				Title("IMAP Port").
				Placeholder("993").
				Value(&w.IMAPPort).
				Validate(validatePort),
			huh.NewSelect[string]().
				Title("IMAP Security").
				Options(security()...).
				Value(&w.IMAPSecurity),
			huh.NewInput().
				Title("SMTP Host").
				Placeholder("mail.example.com").
				Value(&w.SMTPHost).
				Validate(validateRequired("SMTP Host")),
			huh.NewInput().
				Title("SMTP Port").
				Placeholder("465").
				Value(&w.SMTPPort).
				Validate(validatePort),
			huh.NewSelect[string]().
				Title("SMTP Security").
				Options(security()...).
				Value(&w.SMTPSecurity),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Plesk URL").
				Description("Leave empty to run webmail without provisioning").
				Placeholder("https://plesk.example.com:8443").
				Value(&w.PleskHost).
				Validate(validateOptionalURL),
			huh.NewInput().
				Title("Plesk API key").
				EchoMode(huh.EchoModePassword).
				Value(&w.PleskAPIKey),
			huh.NewConfirm().
				Title("Keep encryption keys in the system keyring").
				Description("Otherwise a random secret is written to the config file").
				Affirmative("Yes").
				Negative("No").
				Value(&w.UseKeyring),
		),
	)
}

// Run shows the form and applies the answers to cfg.
func (w *Wizard) Run(cfg *model.AppConfig) error {
	if err := w.Form().Run(); err != nil {
		return fmt.Errorf("running setup form: %w", err)
	}
	return w.Apply(cfg)
}

// Apply copies the answers into cfg. A session secret is generated when
// the keyring is not used and none is set yet.
func (w *Wizard) Apply(cfg *model.AppConfig) error {
	imapPort, err := parsePort(w.IMAPPort)
	if err != nil {
		return fmt.Errorf("IMAP port: %w", err)
	}
	smtpPort, err := parsePort(w.SMTPPort)
	if err != nil {
		return fmt.Errorf("SMTP port: %w", err)
	}

	cfg.Server.Addr = strings.TrimSpace(w.Addr)
	cfg.Server.AdminToken = w.AdminToken
	cfg.Mail.IMAPHost = strings.TrimSpace(w.IMAPHost)
	cfg.Mail.IMAPPort = imapPort
	cfg.Mail.IMAPSecurity = w.IMAPSecurity
	cfg.Mail.SMTPHost = strings.TrimSpace(w.SMTPHost)
	cfg.Mail.SMTPPort = smtpPort
	cfg.Mail.SMTPSecurity = w.SMTPSecurity
	cfg.Plesk.Host = strings.TrimRight(strings.TrimSpace(w.PleskHost), "/")
	cfg.Plesk.APIKey = w.PleskAPIKey
	cfg.Session.UseKeyring = w.UseKeyring

	if !w.UseKeyring && cfg.Session.Secret == "" {
		secret, err := randomSecret()
		if err != nil {
			return err
		}
		cfg.Session.Secret = secret
	}
	return cfg.Validate()
}

func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating session secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func validateRequired(fieldName string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", fieldName)
		}
		return nil
	}
}

func validateOptionalURL(s string) error {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parsed, err := url.Parse(s)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("URL must include scheme and host (e.g., https://plesk.example.com:8443)")
	}
	return nil
}

func validatePort(s string) error {
	_, err := parsePort(s)
	return err
}

func parsePort(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("port is required")
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("port must be a number")
	}
	if n < 1 || n > 65535 {
		return 0, fmt.Errorf("port must be between 1 and 65535")
	}
	return n, nil
}
