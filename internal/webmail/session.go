package webmail

import (
	"context"
	"time"

	"github.com/emersion/go-imap/v2"

	"github.com/nhle/mailpanel/internal/model"
)

// MailboxInfo is one entry of a recursive LIST.
type MailboxInfo struct {
	Path      string
	Delimiter string // empty for a flat namespace
	Attrs     []imap.MailboxAttr
}

// FetchedMessage holds whatever items a fetch asked for.
type FetchedMessage struct {
	UID           imap.UID
	Flags         []imap.Flag
	InternalDate  time.Time
	Envelope      *imap.Envelope
	BodyStructure imap.BodyStructure
	Raw           []byte
}

// MailSession is one authenticated IMAP connection. Message operations
// act on the mailbox chosen by the last Select. Callers must Close it on
// every path.
type MailSession interface {
	List() ([]MailboxInfo, error)
	Status(path string) (model.MessageCounts, error)

	// Select opens a mailbox and returns its message count.
	Select(path string, readOnly bool) (uint32, error)

	// Search returns matching UIDs; an empty text matches everything.
	Search(text string) ([]imap.UID, error)

	// FetchDates fetches UID and INTERNALDATE only.
	FetchDates(uids []imap.UID) ([]FetchedMessage, error)

	// FetchSummaries fetches envelope, flags and body structure.
	FetchSummaries(uids []imap.UID) ([]FetchedMessage, error)

	// FetchRaw fetches the complete message. A non-peek fetch sets \Seen.
	FetchRaw(uid imap.UID, markSeen bool) (*FetchedMessage, error)

	StoreFlags(uid imap.UID, flags []imap.Flag, add bool) error
	Move(uid imap.UID, target string) error

	// Expunge marks the message \Deleted and removes it.
	Expunge(uid imap.UID) error

	Append(path string, raw []byte, flags []imap.Flag, date time.Time) error
	Create(path string) error
	Delete(path string) error

	Close() error
}

// Sender is one authenticated SMTP connection.
type Sender interface {
	Send(from string, rcpts []string, raw []byte) error
	Close() error
}

// Dialer is the connection factory. Every call opens a new, authenticated
// connection that is never reused.
type Dialer interface {
	OpenMailSession(ctx context.Context, creds model.Credentials) (MailSession, error)
	OpenTransport(ctx context.Context, creds model.Credentials) (Sender, error)
}
