package webmail

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"

	"github.com/nhle/mailpanel/internal/model"
)

// BuildOptions control header generation for BuildMessage.
type BuildOptions struct {
	MessageID string // without angle brackets
	Date      time.Time

	// IncludeBcc keeps the Bcc header; only drafts should set it.
	IncludeBcc bool
}

// NewMessageID returns a globally unique Message-ID for domain.
func NewMessageID(domain string) string {
	if domain == "" {
		domain = "localhost"
	}
	return uuid.NewString() + "@" + domain
}

// BuildMessage renders a composition as an RFC 5322 message. Plain text
// without attachments is a single part; anything else is multipart/mixed
// with an alternative text/HTML part when both bodies are present.
func BuildMessage(from string, c model.Composition, opts BuildOptions) ([]byte, error) {
	fromAddr, err := mail.ParseAddress(from)
	if err != nil {
		return nil, fmt.Errorf("%w: sender %q", ErrInvalidRecipient, from)
	}

	var h mail.Header
	h.SetAddressList("From", []*mail.Address{fromAddr})
	if err := setAddressHeader(&h, "To", c.To); err != nil {
		return nil, err
	}
	if err := setAddressHeader(&h, "Cc", c.Cc); err != nil {
		return nil, err
	}
	if opts.IncludeBcc {
		if err := setAddressHeader(&h, "Bcc", c.Bcc); err != nil {
			return nil, err
		}
	}
	h.SetSubject(c.Subject)
	h.SetDate(opts.Date)
	h.SetMessageID(opts.MessageID)
	h.Set("MIME-Version", "1.0")

	if inReplyTo := trimMsgID(c.InReplyTo); inReplyTo != "" {
		h.SetMsgIDList("In-Reply-To", []string{inReplyTo})
	}
	refs := splitMsgIDs(c.References)
	if len(refs) == 0 && c.InReplyTo != "" {
		refs = splitMsgIDs(c.InReplyTo)
	}
	if len(refs) > 0 {
		h.SetMsgIDList("References", refs)
	}

	var buf bytes.Buffer
	if len(c.Attachments) == 0 && c.HTMLBody == "" {
		h.Header.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
		h.Header.Set("Content-Transfer-Encoding", "base64")
		w, err := mail.CreateSingleInlineWriter(&buf, h)
		if err != nil {
			return nil, fmt.Errorf("creating message writer: %w", err)
		}
		if err := writeAndClose(w, []byte(c.TextBody)); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}

	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("creating message writer: %w", err)
	}

	if err := writeBodies(mw, c); err != nil {
		return nil, err
	}

	for _, att := range c.Attachments {
		var ah mail.AttachmentHeader
		mimeType, params, err := mime.ParseMediaType(att.MIMEType)
		if err != nil {
			mimeType, params = "application/octet-stream", nil
		}
		ah.SetContentType(mimeType, params)
		ah.SetFilename(att.Filename)
		ah.Set("Content-Transfer-Encoding", "base64")

		w, err := mw.CreateAttachment(ah)
		if err != nil {
			return nil, fmt.Errorf("creating attachment %q: %w", att.Filename, err)
		}
		if err := writeAndClose(w, att.Content); err != nil {
			return nil, err
		}
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("closing message: %w", err)
	}
	return buf.Bytes(), nil
}

func writeBodies(mw *mail.Writer, c model.Composition) error {
	textHeader := func(subtype string) mail.InlineHeader {
		var ih mail.InlineHeader
		ih.SetContentType("text/"+subtype, map[string]string{"charset": "utf-8"})
		ih.Set("Content-Transfer-Encoding", "base64")
		return ih
	}

	if c.HTMLBody == "" {
		w, err := mw.CreateSingleInline(textHeader("plain"))
		if err != nil {
			return fmt.Errorf("creating text part: %w", err)
		}
		return writeAndClose(w, []byte(c.TextBody))
	}

	iw, err := mw.CreateInline()
	if err != nil {
		return fmt.Errorf("creating alternative part: %w", err)
	}
	for _, p := range []struct {
		subtype string
		body    string
	}{{"plain", c.TextBody}, {"html", c.HTMLBody}} {
		w, err := iw.CreatePart(textHeader(p.subtype))
		if err != nil {
			return fmt.Errorf("creating %s part: %w", p.subtype, err)
		}
		if err := writeAndClose(w, []byte(p.body)); err != nil {
			return err
		}
	}
	if err := iw.Close(); err != nil {
		return fmt.Errorf("closing alternative part: %w", err)
	}
	return nil
}

func writeAndClose(w io.WriteCloser, body []byte) error {
	if _, err := w.Write(body); err != nil {
		_ = w.Close()
		return fmt.Errorf("writing part: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("closing part: %w", err)
	}
	return nil
}

func setAddressHeader(h *mail.Header, key string, raw []string) error {
	if len(raw) == 0 {
		return nil
	}
	list, err := parseAddresses(raw)
	if err != nil {
		return err
	}
	h.SetAddressList(key, list)
	return nil
}

// parseAddresses accepts entries that are single addresses or
// comma-separated lists.
func parseAddresses(raw []string) ([]*mail.Address, error) {
	var out []*mail.Address
	for _, entry := range raw {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		list, err := mail.ParseAddressList(entry)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidRecipient, entry)
		}
		out = append(out, list...)
	}
	return out, nil
}

// envelopeRecipients flattens To, Cc and Bcc into bare addresses.
func envelopeRecipients(c model.Composition) ([]string, error) {
	list, err := parseAddresses(c.Recipients())
	if err != nil {
		return nil, err
	}
	rcpts := make([]string, 0, len(list))
	for _, a := range list {
		rcpts = append(rcpts, a.Address)
	}
	return rcpts, nil
}

func trimMsgID(id string) string {
	return strings.Trim(strings.TrimSpace(id), "<>")
}

func splitMsgIDs(s string) []string {
	var ids []string
	for _, f := range strings.Fields(s) {
		if id := trimMsgID(f); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
