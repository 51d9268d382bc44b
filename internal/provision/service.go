package provision

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/nhle/mailpanel/internal/credential"
	"github.com/nhle/mailpanel/internal/model"
	"github.com/nhle/mailpanel/internal/plesk"
	"github.com/nhle/mailpanel/internal/store"
	"github.com/nhle/mailpanel/internal/webmail"
)

// MinPasswordLength is the shortest mailbox password accepted.
const MinPasswordLength = 8

var (
	ErrInvalidMailName   = errors.New("mail name may only contain letters, digits, dots, dashes and underscores")
	ErrDomainRequired    = errors.New("domain is required")
	ErrWeakPassword      = fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	ErrAlreadyRegistered = errors.New("mailbox is already registered")
	ErrAccountDisabled   = errors.New("mailbox is disabled")

	// ErrNeedPassword means auto-login is impossible until a current
	// password is stored for the account.
	ErrNeedPassword = errors.New("no usable stored password for this mailbox")
)

var mailNamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// Panel is the subset of the control panel client the service needs.
type Panel interface {
	ListDomains(ctx context.Context) ([]plesk.Domain, error)
	ListMailboxes(ctx context.Context, domain string) ([]string, error)
	MailboxInfo(ctx context.Context, address string) (*plesk.MailboxInfo, error)
	CreateMailbox(ctx context.Context, address, password string) error
	DeleteMailbox(ctx context.Context, address string) error
	SetMailboxPassword(ctx context.Context, address, password string) error
	SetMailboxEnabled(ctx context.Context, address string, enabled bool) error
}

// Verifier checks mailbox credentials against the mail server.
type Verifier interface {
	TestCredentials(ctx context.Context, creds model.Credentials) error
}

// Service manages the mailbox lifecycle on the panel and keeps the local
// registry, including the encrypted password, in step with it.
type Service struct {
	panel    Panel
	store    store.Store
	cipher   *credential.Cipher
	verifier Verifier
	log      *logrus.Entry
}

// NewService wires the panel client, registry, and at-rest cipher.
func NewService(panel Panel, st store.Store, cipher *credential.Cipher, verifier Verifier, log *logrus.Entry) *Service {
	return &Service{
		panel:    panel,
		store:    st,
		cipher:   cipher,
		verifier: verifier,
		log:      log,
	}
}

// CreateRequest describes a new mailbox.
type CreateRequest struct {
	MailName    string `json:"mailName"`
	Domain      string `json:"domainName"`
	Password    string `json:"password"`
	Description string `json:"description"`
}

// ListDomains returns the domains hosted on the panel.
func (s *Service) ListDomains(ctx context.Context) ([]plesk.Domain, error) {
	return s.panel.ListDomains(ctx)
}

// ListPanelMailboxes returns the addresses the panel knows for domain,
// whether or not they are registered locally.
func (s *Service) ListPanelMailboxes(ctx context.Context, domain string) ([]string, error) {
	if strings.TrimSpace(domain) == "" {
		return nil, ErrDomainRequired
	}
	return s.panel.ListMailboxes(ctx, strings.ToLower(strings.TrimSpace(domain)))
}

// MailboxInfo returns the panel's view of a registered account.
func (s *Service) MailboxInfo(ctx context.Context, id string) (*plesk.MailboxInfo, error) {
	acct, err := s.store.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.panel.MailboxInfo(ctx, acct.Address)
}

// ListAccounts returns the registered accounts.
func (s *Service) ListAccounts(ctx context.Context, filter store.AccountFilter) ([]model.MailAccount, error) {
	return s.store.ListAccounts(ctx, filter)
}

// GetAccount returns one registered account.
func (s *Service) GetAccount(ctx context.Context, id string) (*model.MailAccount, error) {
	return s.store.GetAccount(ctx, id)
}

// CreateMailbox creates the mailbox on the panel, then registers it with
// its password encrypted at rest.
func (s *Service) CreateMailbox(ctx context.Context, req CreateRequest) (*model.MailAccount, error) {
	name := strings.ToLower(strings.TrimSpace(req.MailName))
	domain := strings.ToLower(strings.TrimSpace(req.Domain))
	if !mailNamePattern.MatchString(name) {
		return nil, ErrInvalidMailName
	}
	if domain == "" {
		return nil, ErrDomainRequired
	}
	if len(req.Password) < MinPasswordLength {
		return nil, ErrWeakPassword
	}
	address := name + "@" + domain

	_, err := s.store.GetAccountByAddress(ctx, address)
	if err == nil {
		return nil, fmt.Errorf("%s: %w", address, ErrAlreadyRegistered)
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	if err := s.panel.CreateMailbox(ctx, address, req.Password); err != nil {
		return nil, err
	}

	sealed, err := s.seal(address, req.Password)
	if err != nil {
		return nil, err
	}

	acct := &model.MailAccount{
		Address:           address,
		Domain:            domain,
		EncryptedPassword: sealed,
		Enabled:           true,
		Description:       strings.TrimSpace(req.Description),
	}
	if err := s.store.UpsertAccount(ctx, acct); err != nil {
		s.log.WithError(err).WithField("address", address).
			Error("Mailbox created on the panel but not registered")
		return nil, err
	}

	s.log.WithField("address", address).Info("Mailbox created")
	return acct, nil
}

// RegisterMailbox adds a mailbox that already exists on the server to the
// registry once its password logs in.
func (s *Service) RegisterMailbox(ctx context.Context, address, password, description string) (*model.MailAccount, error) {
	address = strings.ToLower(strings.TrimSpace(address))
	creds := model.Credentials{Address: address, Secret: password}
	if creds.Domain() == "" {
		return nil, ErrDomainRequired
	}
	if err := s.verifier.TestCredentials(ctx, creds); err != nil {
		return nil, err
	}

	sealed, err := s.seal(address, password)
	if err != nil {
		return nil, err
	}
	acct := &model.MailAccount{
		Address:           address,
		Domain:            creds.Domain(),
		EncryptedPassword: sealed,
		Enabled:           true,
		Description:       strings.TrimSpace(description),
	}
	if err := s.store.UpsertAccount(ctx, acct); err != nil {
		return nil, err
	}
	return acct, nil
}

// DeleteMailbox removes the mailbox from the panel and the registry.
func (s *Service) DeleteMailbox(ctx context.Context, id string) error {
	acct, err := s.store.GetAccount(ctx, id)
	if err != nil {
		return err
	}
	if err := s.panel.DeleteMailbox(ctx, acct.Address); err != nil {
		return err
	}
	if err := s.store.DeleteAccount(ctx, id); err != nil {
		return err
	}
	s.log.WithField("address", acct.Address).Info("Mailbox deleted")
	return nil
}

// SetEnabled turns the mailbox on or off on the panel and records it.
func (s *Service) SetEnabled(ctx context.Context, id string, enabled bool) (*model.MailAccount, error) {
	acct, err := s.store.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.panel.SetMailboxEnabled(ctx, acct.Address, enabled); err != nil {
		return nil, err
	}
	if err := s.store.SetAccountEnabled(ctx, id, enabled); err != nil {
		return nil, err
	}
	acct.Enabled = enabled
	return acct, nil
}

// ChangePassword sets a new password on the panel and stores it.
func (s *Service) ChangePassword(ctx context.Context, id, password string) error {
	if len(password) < MinPasswordLength {
		return ErrWeakPassword
	}
	acct, err := s.store.GetAccount(ctx, id)
	if err != nil {
		return err
	}
	if err := s.panel.SetMailboxPassword(ctx, acct.Address, password); err != nil {
		return err
	}
	return s.storePassword(ctx, acct, password)
}

// StorePassword records the mailbox's current password without touching
// the panel, for accounts created elsewhere or changed out of band. The
// password is checked against the mail server first.
func (s *Service) StorePassword(ctx context.Context, id, password string) error {
	if password == "" {
		return ErrWeakPassword
	}
	acct, err := s.store.GetAccount(ctx, id)
	if err != nil {
		return err
	}
	if err := s.verifier.TestCredentials(ctx, model.Credentials{Address: acct.Address, Secret: password}); err != nil {
		return err
	}
	return s.storePassword(ctx, acct, password)
}

func (s *Service) storePassword(ctx context.Context, acct *model.MailAccount, password string) error {
	sealed, err := s.seal(acct.Address, password)
	if err != nil {
		return err
	}
	return s.store.SetAccountPassword(ctx, acct.ID, sealed)
}

// Credentials decrypts the stored password of a registered account and
// checks it against the mail server. ErrNeedPassword is returned when
// there is no stored password, it cannot be decrypted, or the server
// rejects it at login.
func (s *Service) Credentials(ctx context.Context, id string) (model.Credentials, error) {
	acct, err := s.store.GetAccount(ctx, id)
	if err != nil {
		return model.Credentials{}, err
	}
	if !acct.Enabled {
		return model.Credentials{}, ErrAccountDisabled
	}
	if !acct.HasStoredPassword() {
		return model.Credentials{}, ErrNeedPassword
	}

	plain, err := s.cipher.Open(acct.EncryptedPassword, accountAD(acct.Address))
	if err != nil {
		s.log.WithError(err).WithField("account", acct.ID).Warn("Stored password could not be decrypted")
		return model.Credentials{}, ErrNeedPassword
	}

	creds := model.Credentials{Address: acct.Address, Secret: string(plain)}
	if err := s.verifier.TestCredentials(ctx, creds); err != nil {
		if webmail.IsAuthError(err) {
			return model.Credentials{}, fmt.Errorf("%w: %w", ErrNeedPassword, err)
		}
		return model.Credentials{}, err
	}
	return creds, nil
}

func (s *Service) seal(address, password string) (string, error) {
	sealed, err := s.cipher.Seal([]byte(password), accountAD(address))
	if err != nil {
		return "", fmt.Errorf("encrypting password for %s: %w", address, err)
	}
	return sealed, nil
}

// accountAD binds a sealed password to its address so it cannot be
// copied onto another row.
func accountAD(address string) []byte {
	return []byte("account:" + strings.ToLower(address))
}
