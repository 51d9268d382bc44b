package plesk

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// Domain is a hosted domain as returned by GET /api/v2/domains.
type Domain struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	ASCIIName   string `json:"ascii_name"`
	GUID        string `json:"guid"`
	HostingType string `json:"hosting_type"`
	Created     string `json:"created"`
}

// MailboxInfo is the parsed output of `mail --info`.
type MailboxInfo struct {
	Address string
	Fields  map[string]string
	Raw     string
}

type cliRequest struct {
	Params []string `json:"params"`
}

type cliResult struct {
	Code   int    `json:"code"`
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
}

// ListDomains returns every domain hosted on the panel.
func (c *Client) ListDomains(ctx context.Context) ([]Domain, error) {
	var domains []Domain
	if err := c.get(ctx, "/domains", &domains); err != nil {
		return nil, fmt.Errorf("listing domains: %w", err)
	}
	if domains == nil {
		domains = []Domain{}
	}
	return domains, nil
}

// GetDomain returns a single domain by panel id.
func (c *Client) GetDomain(ctx context.Context, id int) (*Domain, error) {
	var d Domain
	if err := c.get(ctx, fmt.Sprintf("/domains/%d", id), &d); err != nil {
		return nil, fmt.Errorf("getting domain %d: %w", id, err)
	}
	return &d, nil
}

// Ping checks connectivity and credentials.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.ListDomains(ctx)
	return err
}

// CreateMailbox creates address with a mailbox and the given password.
// The panel's default quota applies.
func (c *Client) CreateMailbox(ctx context.Context, address, password string) error {
	_, err := c.mail(ctx, address, "--create", address, "-passwd", password, "-mailbox", "true")
	return err
}

// DeleteMailbox removes address from the panel.
func (c *Client) DeleteMailbox(ctx context.Context, address string) error {
	_, err := c.mail(ctx, address, "--remove", address)
	return err
}

// SetMailboxPassword changes the mailbox password on the panel.
func (c *Client) SetMailboxPassword(ctx context.Context, address, password string) error {
	_, err := c.mail(ctx, address, "--update", address, "-passwd", password)
	return err
}

// SetMailboxEnabled turns mail service for address on or off.
func (c *Client) SetMailboxEnabled(ctx context.Context, address string, enabled bool) error {
	action := "--off"
	if enabled {
		action = "--on"
	}
	_, err := c.mail(ctx, address, "--update", address, action)
	return err
}

// ListMailboxes returns the addresses configured for domain. Entries the
// panel prints without a domain are qualified with it.
func (c *Client) ListMailboxes(ctx context.Context, domain string) ([]string, error) {
	out, err := c.mail(ctx, domain, "--list", "-domain", domain)
	if err != nil {
		return nil, err
	}

	addresses := []string{}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !strings.Contains(line, "@") {
			line += "@" + domain
		}
		addresses = append(addresses, line)
	}
	return addresses, nil
}

// MailboxInfo returns the panel's description of address.
func (c *Client) MailboxInfo(ctx context.Context, address string) (*MailboxInfo, error) {
	out, err := c.mail(ctx, address, "--info", address)
	if err != nil {
		return nil, err
	}

	info := &MailboxInfo{Address: address, Fields: map[string]string{}, Raw: out}
	for _, line := range strings.Split(out, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		info.Fields[key] = strings.TrimSpace(value)
	}
	return info, nil
}

// mail runs a `plesk bin mail` command through the CLI gateway and returns
// its stdout. A non-zero exit becomes a ProvisioningError.
func (c *Client) mail(ctx context.Context, address string, params ...string) (string, error) {
	command := params[0]
	c.log.WithFields(logrus.Fields{
		"command": command,
		"target":  address,
	}).Debug("Plesk mail call")

	var res cliResult
	if err := c.post(ctx, "/cli/mail/call", cliRequest{Params: params}, &res); err != nil {
		return "", fmt.Errorf("plesk mail %s %s: %w", command, address, err)
	}
	if res.Code != 0 {
		return "", &ProvisioningError{
			Command: command,
			Address: address,
			Code:    res.Code,
			Stderr:  res.Stderr,
		}
	}
	return res.Stdout, nil
}
