package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Credentials identify a mailbox on the mail server. Host and port fields
// override the server defaults from MailConfig when non-zero.
type Credentials struct {
	Address  string
	Secret   string
	IMAPHost string
	IMAPPort int
	SMTPHost string
	SMTPPort int
}

// String never reveals the address or the secret.
func (c Credentials) String() string { return "Credentials{<redacted>}" }

// GoString keeps %#v from leaking the secret into logs.
func (c Credentials) GoString() string { return c.String() }

// Domain returns the part of the address after the last '@'.
func (c Credentials) Domain() string {
	if i := strings.LastIndexByte(c.Address, '@'); i >= 0 {
		return c.Address[i+1:]
	}
	return ""
}

// FolderPath is the server-side mailbox name. It is the only identifier
// passed back into folder and message operations.
type FolderPath string

// ErrInvalidFolderPath is returned by ParseFolderPath for names the server
// could never accept.
var ErrInvalidFolderPath = errors.New("invalid folder path")

// ParseFolderPath validates a client-supplied folder path.
func ParseFolderPath(s string) (FolderPath, error) {
	if s == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidFolderPath)
	}
	if !utf8.ValidString(s) {
		return "", fmt.Errorf("%w: not valid UTF-8", ErrInvalidFolderPath)
	}
	if strings.ContainsAny(s, "\r\n\x00") {
		return "", fmt.Errorf("%w: control characters", ErrInvalidFolderPath)
	}
	return FolderPath(s), nil
}

// InboxPath is the one mailbox name every IMAP server must provide.
const InboxPath FolderPath = "INBOX"

// SpecialUse is the role a server (or the resolver) assigns to a folder.
type SpecialUse string

const (
	SpecialUseNone    SpecialUse = ""
	SpecialUseSent    SpecialUse = "Sent"
	SpecialUseDrafts  SpecialUse = "Drafts"
	SpecialUseTrash   SpecialUse = "Trash"
	SpecialUseJunk    SpecialUse = "Junk"
	SpecialUseArchive SpecialUse = "Archive"
	SpecialUseFlagged SpecialUse = "Flagged"
)

// MessageCounts is the result of a folder status probe.
type MessageCounts struct {
	Total  uint32 `json:"total"`
	Unseen uint32 `json:"unseen"`
}

// Folder is one mailbox as discovered from the server.
type Folder struct {
	Name       string        `json:"name"`
	Path       FolderPath    `json:"path"`
	Delimiter  string        `json:"delimiter"`
	Attributes []string      `json:"flags"`
	SpecialUse SpecialUse    `json:"specialUse,omitempty"`
	Messages   MessageCounts `json:"messages"`
}

// Address is a display name plus mailbox address.
type Address struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// Protocol flag names.
const (
	FlagSeen     = `\Seen`
	FlagFlagged  = `\Flagged`
	FlagAnswered = `\Answered`
	FlagDeleted  = `\Deleted`
	FlagDraft    = `\Draft`
)

// MessageFlag is a flag a client may toggle through SetFlag.
type MessageFlag string

const (
	MessageFlagSeen    MessageFlag = FlagSeen
	MessageFlagFlagged MessageFlag = FlagFlagged
)

// MessageSummary is a message as shown in a folder listing. UID is only
// meaningful together with the folder path it was listed from.
type MessageSummary struct {
	UID            uint32    `json:"uid"`
	MessageID      string    `json:"messageId"`
	Subject        string    `json:"subject"`
	From           []Address `json:"from"`
	To             []Address `json:"to"`
	Cc             []Address `json:"cc,omitempty"`
	Date           time.Time `json:"date"`
	Flags          []string  `json:"flags"`
	HasAttachments bool      `json:"hasAttachments"`
}

// HasFlag reports whether the flag set contains flag (case-insensitive, as
// system flags are).
func (m *MessageSummary) HasFlag(flag string) bool {
	for _, f := range m.Flags {
		if strings.EqualFold(f, flag) {
			return true
		}
	}
	return false
}

// IsRead is derived from the flag set.
func (m *MessageSummary) IsRead() bool { return m.HasFlag(FlagSeen) }

// IsStarred is derived from the flag set.
func (m *MessageSummary) IsStarred() bool { return m.HasFlag(FlagFlagged) }

// Attachment describes one attachment of a fetched message. Content is
// only populated when the attachment bytes were explicitly requested.
type Attachment struct {
	Filename  string `json:"filename"`
	MIMEType  string `json:"contentType"`
	Size      int64  `json:"size"`
	ContentID string `json:"contentId,omitempty"`
	Content   []byte `json:"-"`
}

// MessageDetail is a fully parsed message.
type MessageDetail struct {
	MessageSummary
	HTMLBody    string       `json:"html,omitempty"`
	TextBody    string       `json:"text,omitempty"`
	InReplyTo   string       `json:"inReplyTo,omitempty"`
	References  []string     `json:"references,omitempty"`
	Attachments []Attachment `json:"attachments"`
}

// OutgoingAttachment is a file attached to a composition.
type OutgoingAttachment struct {
	Filename string
	MIMEType string
	Content  []byte
}

// Composition is a message to send or save as a draft. Replies carry
// InReplyTo/References and already contain any quoted text in TextBody.
type Composition struct {
	To          []string
	Cc          []string
	Bcc         []string
	Subject     string
	TextBody    string
	HTMLBody    string
	Attachments []OutgoingAttachment
	InReplyTo   string
	References  string
}

// Recipients returns every envelope recipient.
func (c *Composition) Recipients() []string {
	rcpts := make([]string, 0, len(c.To)+len(c.Cc)+len(c.Bcc))
	rcpts = append(rcpts, c.To...)
	rcpts = append(rcpts, c.Cc...)
	rcpts = append(rcpts, c.Bcc...)
	return rcpts
}

// ListOptions controls paging and search for message listings.
type ListOptions struct {
	Page     int
	PageSize int
	Search   string
}

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// Normalize clamps the paging fields to valid values.
func (o ListOptions) Normalize() ListOptions {
	if o.Page < 1 {
		o.Page = 1
	}
	if o.PageSize < 1 {
		o.PageSize = DefaultPageSize
	}
	if o.PageSize > MaxPageSize {
		o.PageSize = MaxPageSize
	}
	o.Search = strings.TrimSpace(o.Search)
	return o
}

// MessagePage is one page of a listing. Total counts the whole (filtered)
// result set, not just this page.
type MessagePage struct {
	Messages []MessageSummary `json:"messages"`
	Total    int              `json:"total"`
}
