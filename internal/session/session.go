// Package session issues and opens webmail session tokens. A token is a
// sealed, time-boxed copy of the mailbox credentials, so no server-side
// session table is kept.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nhle/mailpanel/internal/credential"
	"github.com/nhle/mailpanel/internal/model"
)

var (
	// ErrInvalidToken is returned for tokens that fail to open or decode.
	ErrInvalidToken = errors.New("invalid session token")

	// ErrExpiredToken is returned for well-formed tokens past their expiry.
	ErrExpiredToken = errors.New("session expired")
)

// CookieName is the cookie carrying the token.
const CookieName = "webmail_session"

var tokenAD = []byte("mailpanel/webmail-session")

// Session is an opened token.
type Session struct {
	Credentials model.Credentials
	LoginAt     time.Time
	ExpiresAt   time.Time
}

type payload struct {
	Email    string `json:"e"`
	Password string `json:"p"`
	LoginAt  int64  `json:"iat"`
	Expires  int64  `json:"exp"`
}

// Manager seals and opens session tokens.
type Manager struct {
	cipher *credential.Cipher
	ttl    time.Duration
	now    func() time.Time
}

// NewManager creates a Manager using key, which must be
// credential.KeySize bytes.
func NewManager(key []byte, ttl time.Duration) (*Manager, error) {
	c, err := credential.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return &Manager{cipher: c, ttl: ttl, now: time.Now}, nil
}

// TTL is the lifetime of newly issued tokens.
func (m *Manager) TTL() time.Duration { return m.ttl }

// Issue seals creds into a token valid for the manager's TTL.
func (m *Manager) Issue(creds model.Credentials) (string, time.Time, error) {
	now := m.now()
	expires := now.Add(m.ttl)

	data, err := json.Marshal(payload{
		Email:    creds.Address,
		Password: creds.Secret,
		LoginAt:  now.Unix(),
		Expires:  expires.Unix(),
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("encoding session: %w", err)
	}

	token, err := m.cipher.Seal(data, tokenAD)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sealing session: %w", err)
	}
	return token, expires, nil
}

// Open verifies a token and returns its session.
func (m *Manager) Open(token string) (*Session, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}

	data, err := m.cipher.Open(token, tokenAD)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if p.Email == "" || p.Password == "" {
		return nil, fmt.Errorf("%w: missing credentials", ErrInvalidToken)
	}

	expires := time.Unix(p.Expires, 0)
	if !m.now().Before(expires) {
		return nil, ErrExpiredToken
	}

	return &Session{
		Credentials: model.Credentials{Address: p.Email, Secret: p.Password},
		LoginAt:     time.Unix(p.LoginAt, 0),
		ExpiresAt:   expires,
	}, nil
}
