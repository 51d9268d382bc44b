package credential

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"

	"github.com/nhle/mailpanel/internal/model"
)

// KeySize is the key length for Cipher.
const KeySize = chacha20poly1305.KeySize

const sealedPrefix = "v1:"

// ErrMalformed is returned by Open for values that were not produced by
// Seal or were tampered with.
var ErrMalformed = errors.New("malformed sealed value")

// Cipher seals small secrets with XChaCha20-Poly1305. The associated
// data binds a sealed value to its context so it cannot be replayed
// elsewhere.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher creates a Cipher from a KeySize-byte key.
func NewCipher(key []byte) (*Cipher, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Seal encrypts plaintext and returns a printable, URL-safe value.
func (c *Cipher) Seal(plaintext, ad []byte) (string, error) {
	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plaintext)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, plaintext, ad)
	return sealedPrefix + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal.
func (c *Cipher) Open(value string, ad []byte) ([]byte, error) {
	encoded, ok := strings.CutPrefix(value, sealedPrefix)
	if !ok {
		return nil, fmt.Errorf("%w: unknown version", ErrMalformed)
	}
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(raw) < c.aead.NonceSize()+c.aead.Overhead() {
		return nil, fmt.Errorf("%w: too short", ErrMalformed)
	}

	nonce, sealed := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	plaintext, err := c.aead.Open(nil, nonce, sealed, ad)
	if err != nil {
		return nil, fmt.Errorf("%w: authentication failed", ErrMalformed)
	}
	return plaintext, nil
}

// Key purposes. Each gets an independent key.
const (
	PurposeSession = "session-key"
	PurposeAccount = "account-key"
)

// DeriveKey stretches a configured secret into a key for purpose.
func DeriveKey(secret, purpose string) ([]byte, error) {
	key, err := scrypt.Key([]byte(secret), []byte("mailpanel/"+purpose), 1<<15, 8, 1, KeySize)
	if err != nil {
		return nil, fmt.Errorf("deriving %s: %w", purpose, err)
	}
	return key, nil
}

// ErrNoKeySource is returned when neither a secret nor the keyring is
// configured.
var ErrNoKeySource = errors.New("session.secret is empty and session.use_keyring is off")

// KeyFor returns the key for purpose: derived from the configured secret
// when set, otherwise loaded from (or created in) the keyring. ring may
// be nil when the keyring is not in use.
func KeyFor(cfg model.SessionConfig, purpose string, ring *Keyring) ([]byte, error) {
	switch {
	case cfg.Secret != "":
		return DeriveKey(cfg.Secret, purpose)
	case cfg.UseKeyring && ring != nil:
		return ring.LoadOrCreateKey(purpose)
	default:
		return nil, ErrNoKeySource
	}
}
