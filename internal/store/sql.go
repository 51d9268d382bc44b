package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/nhle/mailpanel/internal/model"
)

// SQLStore implements Store on SQLite or PostgreSQL.
type SQLStore struct {
	db *sqlx.DB
}

// Open connects to the configured database and runs any pending
// migrations.
func Open(cfg model.DatabaseConfig) (*SQLStore, error) {
	switch cfg.Driver {
	case "sqlite":
		return NewSQLiteStore(cfg.DSN)
	case "postgres":
		return NewPostgresStore(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, enables
// WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	if dbPath == ":memory:" {
		// Every pooled connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	return newSQLStore(db)
}

// NewPostgresStore connects to PostgreSQL using a lib/pq DSN.
func NewPostgresStore(dsn string) (*SQLStore, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	return newSQLStore(db)
}

func newSQLStore(db *sqlx.DB) (*SQLStore, error) {
	s := &SQLStore{db: db}
	if err := s.runMigrations(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order, each in its own transaction.
func (s *SQLStore) runMigrations(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx,
		"CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)",
	); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	var currentVersion int
	if err := s.db.GetContext(ctx, &currentVersion,
		"SELECT COALESCE(MAX(version), 0) FROM schema_version",
	); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("beginning migration v%d: %w", m.version, err)
		}
		if _, err := tx.ExecContext(ctx, m.sql); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
		if _, err := tx.ExecContext(ctx,
			tx.Rebind("INSERT INTO schema_version (version) VALUES (?)"), m.version,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("recording migration v%d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration v%d: %w", m.version, err)
		}
	}

	return nil
}

const accountColumns = `id, address, domain, encrypted_password, enabled, description, created_at, updated_at`

// UpsertAccount inserts or updates an account keyed by address. acct.ID
// and acct.CreatedAt are filled from the stored row.
func (s *SQLStore) UpsertAccount(ctx context.Context, acct *model.MailAccount) error {
	acct.Address = strings.ToLower(strings.TrimSpace(acct.Address))
	if acct.Address == "" {
		return fmt.Errorf("account address must not be empty")
	}
	if acct.Domain == "" {
		if i := strings.LastIndexByte(acct.Address, '@'); i >= 0 {
			acct.Domain = acct.Address[i+1:]
		}
	}
	if acct.ID == "" {
		acct.ID = uuid.New().String()
	}
	now := time.Now().UTC().Truncate(time.Second)
	if acct.CreatedAt.IsZero() {
		acct.CreatedAt = now
	}
	acct.UpdatedAt = now

	query := s.db.Rebind(`
		INSERT INTO mail_accounts (` + accountColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (address) DO UPDATE SET
			domain = excluded.domain,
			encrypted_password = excluded.encrypted_password,
			enabled = excluded.enabled,
			description = excluded.description,
			updated_at = excluded.updated_at`)

	_, err := s.db.ExecContext(ctx, query,
		acct.ID, acct.Address, acct.Domain, acct.EncryptedPassword,
		acct.Enabled, acct.Description, acct.CreatedAt, acct.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upserting account %s: %w", acct.Address, err)
	}

	stored, err := s.GetAccountByAddress(ctx, acct.Address)
	if err != nil {
		return err
	}
	*acct = *stored
	return nil
}

func (s *SQLStore) getAccount(ctx context.Context, column, value string) (*model.MailAccount, error) {
	var acct model.MailAccount
	err := s.db.GetContext(ctx, &acct, s.db.Rebind(
		"SELECT "+accountColumns+" FROM mail_accounts WHERE "+column+" = ?",
	), value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s %s: %w", column, value, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting account by %s: %w", column, err)
	}
	return &acct, nil
}

// GetAccount retrieves an account by ID.
func (s *SQLStore) GetAccount(ctx context.Context, id string) (*model.MailAccount, error) {
	return s.getAccount(ctx, "id", id)
}

// GetAccountByAddress retrieves an account by its mailbox address.
func (s *SQLStore) GetAccountByAddress(ctx context.Context, address string) (*model.MailAccount, error) {
	return s.getAccount(ctx, "address", strings.ToLower(strings.TrimSpace(address)))
}

// ListAccounts returns accounts ordered by address.
func (s *SQLStore) ListAccounts(ctx context.Context, filter AccountFilter) ([]model.MailAccount, error) {
	var conditions []string
	var args []interface{}

	if filter.Domain != "" {
		conditions = append(conditions, "domain = ?")
		args = append(args, strings.ToLower(filter.Domain))
	}
	if filter.EnabledOnly {
		conditions = append(conditions, "enabled = ?")
		args = append(args, true)
	}

	query := "SELECT " + accountColumns + " FROM mail_accounts"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY address ASC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	accounts := []model.MailAccount{}
	if err := s.db.SelectContext(ctx, &accounts, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	return accounts, nil
}

// DeleteAccount removes an account.
func (s *SQLStore) DeleteAccount(ctx context.Context, id string) error {
	return s.execOne(ctx, "deleting account "+id,
		"DELETE FROM mail_accounts WHERE id = ?", id)
}

// SetAccountEnabled flips the enabled flag.
func (s *SQLStore) SetAccountEnabled(ctx context.Context, id string, enabled bool) error {
	return s.execOne(ctx, "updating account "+id,
		"UPDATE mail_accounts SET enabled = ?, updated_at = ? WHERE id = ?",
		enabled, time.Now().UTC().Truncate(time.Second), id)
}

// SetAccountPassword replaces the stored (already encrypted) password.
func (s *SQLStore) SetAccountPassword(ctx context.Context, id string, encrypted string) error {
	return s.execOne(ctx, "updating account "+id,
		"UPDATE mail_accounts SET encrypted_password = ?, updated_at = ? WHERE id = ?",
		encrypted, time.Now().UTC().Truncate(time.Second), id)
}

// execOne runs a statement that must touch exactly one row.
func (s *SQLStore) execOne(ctx context.Context, what, query string, args ...interface{}) error {
	result, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}
