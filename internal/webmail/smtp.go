package webmail

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/nhle/mailpanel/internal/model"
)

// smtpSender is an authenticated SMTP client.
type smtpSender struct {
	client *smtp.Client
}

// newSMTPSender takes ownership of conn, upgrading it with STARTTLS when
// the connection is not already encrypted, then authenticates with PLAIN.
func newSMTPSender(
	conn net.Conn, host string, implicit bool,
	tlsConfig *tls.Config, creds model.Credentials,
) (*smtpSender, error) {
	addr := conn.RemoteAddr().String()

	var client *smtp.Client
	if implicit {
		client = smtp.NewClient(conn)
	} else {
		var err error
		client, err = smtp.NewClientStartTLS(conn, tlsConfig)
		if err != nil {
			_ = conn.Close()
			return nil, &ConnectError{Addr: addr, Err: fmt.Errorf("SMTP STARTTLS: %w", err)}
		}
	}

	auth := sasl.NewPlainClient("", creds.Address, creds.Secret)
	if err := client.Auth(auth); err != nil {
		_ = client.Close()
		var smtpErr *smtp.SMTPError
		if errors.As(err, &smtpErr) && smtpErr.Code == 535 {
			return nil, &AuthError{Protocol: "SMTP", Err: err}
		}
		return nil, &ConnectError{Addr: host, Err: fmt.Errorf("SMTP auth: %w", err)}
	}

	return &smtpSender{client: client}, nil
}

// Send transmits raw to every recipient. A rejected recipient fails the
// whole submission.
func (s *smtpSender) Send(from string, rcpts []string, raw []byte) error {
	if err := s.client.Mail(from, nil); err != nil {
		return &ProtocolError{Op: "SMTP MAIL FROM", Err: err}
	}

	for _, rcpt := range rcpts {
		if err := s.client.Rcpt(rcpt, nil); err != nil {
			return &ProtocolError{Op: "SMTP RCPT TO", Err: err}
		}
	}

	w, err := s.client.Data()
	if err != nil {
		return &ProtocolError{Op: "SMTP DATA", Err: err}
	}

	if _, err := w.Write(raw); err != nil {
		_ = w.Close()
		return &ProtocolError{Op: "writing message body", Err: err}
	}

	if err := w.Close(); err != nil {
		return &ProtocolError{Op: "SMTP DATA", Err: err}
	}

	return nil
}

func (s *smtpSender) Close() error {
	_ = s.client.Quit()
	return s.client.Close()
}
