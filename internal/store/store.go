package store

import (
	"context"
	"errors"

	"github.com/nhle/mailpanel/internal/model"
)

// ErrNotFound is returned when no account matches.
var ErrNotFound = errors.New("account not found")

// AccountFilter narrows ListAccounts.
type AccountFilter struct {
	Domain      string // exact match, empty for all
	EnabledOnly bool
	Limit       int
	Offset      int // ignored without Limit
}

// Store persists the provisioned mail accounts.
type Store interface {
	// UpsertAccount inserts an account or updates the one with the same
	// address, keeping its ID and creation time.
	UpsertAccount(ctx context.Context, acct *model.MailAccount) error
	GetAccount(ctx context.Context, id string) (*model.MailAccount, error)
	GetAccountByAddress(ctx context.Context, address string) (*model.MailAccount, error)
	ListAccounts(ctx context.Context, filter AccountFilter) ([]model.MailAccount, error)
	DeleteAccount(ctx context.Context, id string) error
	SetAccountEnabled(ctx context.Context, id string, enabled bool) error
	SetAccountPassword(ctx context.Context, id string, encrypted string) error

	Close() error
}
