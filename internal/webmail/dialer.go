package webmail

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/mail"
	"github.com/sirupsen/logrus"

	"github.com/nhle/mailpanel/internal/model"
)

// NetDialer opens real IMAP and SMTP connections using the server
// endpoints from MailConfig, overridden per mailbox by Credentials.
type NetDialer struct {
	cfg model.MailConfig
	log *logrus.Entry
}

// NewNetDialer creates a dialer for the configured mail server.
func NewNetDialer(cfg model.MailConfig, log *logrus.Entry) *NetDialer {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &NetDialer{cfg: cfg, log: log.WithField("component", "dialer")}
}

// validateCredentials rejects credentials that can never authenticate
// without touching the network.
func validateCredentials(creds model.Credentials) error {
	if strings.TrimSpace(creds.Secret) == "" {
		return &AuthError{Protocol: "credentials", Err: fmt.Errorf("%w: empty password", ErrInvalidCredentials)}
	}
	addr, err := mail.ParseAddress(creds.Address)
	if err != nil || addr.Address != creds.Address {
		return &AuthError{Protocol: "credentials", Err: fmt.Errorf("%w: malformed address", ErrInvalidCredentials)}
	}
	return nil
}

func (d *NetDialer) imapEndpoint(creds model.Credentials) (host string, port int) {
	host, port = d.cfg.IMAPHost, d.cfg.IMAPPort
	if creds.IMAPHost != "" {
		host = creds.IMAPHost
	}
	if creds.IMAPPort != 0 {
		port = creds.IMAPPort
	}
	return host, port
}

func (d *NetDialer) smtpEndpoint(creds model.Credentials) (host string, port int) {
	host, port = d.cfg.SMTPHost, d.cfg.SMTPPort
	if creds.SMTPHost != "" {
		host = creds.SMTPHost
	}
	if creds.SMTPPort != 0 {
		port = creds.SMTPPort
	}
	return host, port
}

func (d *NetDialer) tlsConfig(host string) *tls.Config {
	return &tls.Config{
		ServerName:         host,
		InsecureSkipVerify: d.cfg.InsecureSkipVerify,
		MinVersion:         tls.VersionTLS12,
	}
}

// dial opens a TCP connection, wrapping it in TLS when implicit is set.
// The handshake honours the dial timeout and ctx.
func (d *NetDialer) dial(
	ctx context.Context, host string, port int, implicit bool,
) (net.Conn, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	ctx, cancel := context.WithTimeout(ctx, d.cfg.DialTimeout())
	defer cancel()

	nd := &net.Dialer{Timeout: d.cfg.DialTimeout()}
	conn, err := nd.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &ConnectError{Addr: addr, Err: err}
	}
	if !implicit {
		return conn, nil
	}

	tlsConn := tls.Client(conn, d.tlsConfig(host))
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		_ = conn.Close()
		return nil, &ConnectError{Addr: addr, Err: fmt.Errorf("TLS handshake: %w", err)}
	}
	return tlsConn, nil
}

// OpenMailSession connects to IMAP, authenticates, and returns the
// session. The caller must Close it.
func (d *NetDialer) OpenMailSession(
	ctx context.Context, creds model.Credentials,
) (MailSession, error) {
	if err := validateCredentials(creds); err != nil {
		return nil, err
	}

	host, port := d.imapEndpoint(creds)
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	implicit := d.cfg.IMAPSecurity != model.SecurityStartTLS

	conn, err := d.dial(ctx, host, port, implicit)
	if err != nil {
		return nil, err
	}

	var client *imapclient.Client
	if implicit {
		client = imapclient.New(conn, nil)
	} else {
		client, err = imapclient.NewStartTLS(conn, &imapclient.Options{TLSConfig: d.tlsConfig(host)})
		if err != nil {
			_ = conn.Close()
			return nil, &ConnectError{Addr: addr, Err: fmt.Errorf("STARTTLS: %w", err)}
		}
	}

	if err := client.WaitGreeting(); err != nil {
		_ = client.Close()
		return nil, &ConnectError{Addr: addr, Err: fmt.Errorf("reading greeting: %w", err)}
	}

	if err := client.Login(creds.Address, creds.Secret).Wait(); err != nil {
		_ = client.Close()
		var imapErr *imap.Error
		if errors.As(err, &imapErr) && imapErr.Type == imap.StatusResponseTypeNo {
			return nil, &AuthError{Protocol: "IMAP", Err: err}
		}
		return nil, &ConnectError{Addr: addr, Err: fmt.Errorf("login: %w", err)}
	}

	d.log.WithField("addr", addr).Debug("IMAP session opened")
	return &imapSession{client: client}, nil
}

// OpenTransport connects to SMTP and authenticates. The caller must
// Close the returned Sender.
func (d *NetDialer) OpenTransport(
	ctx context.Context, creds model.Credentials,
) (Sender, error) {
	if err := validateCredentials(creds); err != nil {
		return nil, err
	}

	host, port := d.smtpEndpoint(creds)
	implicit := d.cfg.SMTPSecurity != model.SecurityStartTLS

	conn, err := d.dial(ctx, host, port, implicit)
	if err != nil {
		return nil, err
	}

	s, err := newSMTPSender(conn, host, implicit, d.tlsConfig(host), creds)
	if err != nil {
		return nil, err
	}

	d.log.WithField("addr", conn.RemoteAddr().String()).Debug("SMTP transport opened")
	return s, nil
}
