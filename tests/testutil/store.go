package testutil

import (
	"context"
	"testing"

	"github.com/nhle/mailpanel/internal/model"
	"github.com/nhle/mailpanel/internal/store"
)

// NewTestStore creates an in-memory SQLStore with all migrations applied.
// It automatically closes the store when the test completes.
func NewTestStore(t *testing.T) *store.SQLStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})

	return s
}

// SeedAccount stores an enabled account for address with the given
// already-encrypted password and returns it.
func SeedAccount(t *testing.T, s store.Store, address, encrypted string) *model.MailAccount {
	t.Helper()

	acct := &model.MailAccount{
		Address:           address,
		EncryptedPassword: encrypted,
		Enabled:           true,
	}
	if err := s.UpsertAccount(context.Background(), acct); err != nil {
		t.Fatalf("seeding account %s: %v", address, err)
	}
	return acct
}
