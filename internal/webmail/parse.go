package webmail

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset" // legacy charsets in received mail
	"github.com/emersion/go-message/mail"

	"github.com/nhle/mailpanel/internal/model"
)

// summaryFromFetched builds a listing row from envelope data. The date
// falls back to INTERNALDATE when the Date header is missing or invalid.
func summaryFromFetched(fm FetchedMessage) model.MessageSummary {
	sum := model.MessageSummary{
		UID:   uint32(fm.UID),
		Date:  fm.InternalDate,
		Flags: flagStrings(fm.Flags),
		From:  []model.Address{},
		To:    []model.Address{},
	}

	if env := fm.Envelope; env != nil {
		sum.MessageID = env.MessageID
		sum.Subject = env.Subject
		sum.From = envelopeAddresses(env.From)
		sum.To = envelopeAddresses(env.To)
		sum.Cc = envelopeAddresses(env.Cc)
		if !env.Date.IsZero() {
			sum.Date = env.Date
		}
	}

	if fm.BodyStructure != nil {
		sum.HasAttachments = hasAttachmentParts(fm.BodyStructure)
	}
	return sum
}

func envelopeAddresses(addrs []imap.Address) []model.Address {
	out := make([]model.Address, 0, len(addrs))
	for _, a := range addrs {
		if a.IsGroupStart() || a.IsGroupEnd() {
			continue
		}
		out = append(out, model.Address{Name: a.Name, Address: a.Addr()})
	}
	return out
}

func flagStrings(flags []imap.Flag) []string {
	out := make([]string, 0, len(flags))
	for _, f := range flags {
		out = append(out, string(f))
	}
	return out
}

// hasAttachmentParts reports whether any leaf part is an attachment or
// carries a filename.
func hasAttachmentParts(bs imap.BodyStructure) bool {
	found := false
	bs.Walk(func(_ []int, part imap.BodyStructure) bool {
		single, ok := part.(*imap.BodyStructureSinglePart)
		if !ok {
			return !found
		}
		if disp := single.Disposition(); disp != nil && strings.EqualFold(disp.Value, "attachment") {
			found = true
		} else if single.Filename() != "" {
			found = true
		}
		return !found
	})
	return found
}

// parseMessage decodes a full RFC 5322 message. Attachment bytes are only
// kept when withContent is set.
func parseMessage(uid imap.UID, raw []byte, withContent bool) (*model.MessageDetail, error) {
	if len(raw) == 0 {
		return nil, &ParseError{UID: uint32(uid), Err: errors.New("empty message body")}
	}

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, &ParseError{UID: uint32(uid), Err: err}
	}
	defer mr.Close()

	detail := &model.MessageDetail{
		MessageSummary: model.MessageSummary{UID: uint32(uid)},
		Attachments:    []model.Attachment{},
	}
	if err := fillHeader(&detail.MessageSummary, detail, mr.Header); err != nil {
		return nil, &ParseError{UID: uint32(uid), Err: err}
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return nil, &ParseError{UID: uint32(uid), Err: fmt.Errorf("reading part: %w", err)}
		}
		if part == nil {
			continue
		}

		body, err := io.ReadAll(part.Body)
		if err != nil {
			return nil, &ParseError{UID: uint32(uid), Err: fmt.Errorf("reading part body: %w", err)}
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ := h.ContentType()
			contentID := strings.Trim(h.Get("Content-Id"), "<> ")
			switch {
			case contentType == "text/plain" && detail.TextBody == "":
				detail.TextBody = string(body)
			case contentType == "text/html" && detail.HTMLBody == "":
				detail.HTMLBody = string(body)
			case !strings.HasPrefix(contentType, "text/") && (contentID != "" || inlineFilename(h) != ""):
				detail.Attachments = append(detail.Attachments, newAttachment(
					inlineFilename(h), contentType, contentID, body, withContent,
				))
			}

		case *mail.AttachmentHeader:
			filename, _ := h.Filename()
			contentType, _, _ := h.ContentType()
			contentID := strings.Trim(h.Get("Content-Id"), "<> ")
			detail.Attachments = append(detail.Attachments, newAttachment(
				filename, contentType, contentID, body, withContent,
			))
		}
	}

	detail.HasAttachments = len(detail.Attachments) > 0
	return detail, nil
}

func fillHeader(sum *model.MessageSummary, detail *model.MessageDetail, h mail.Header) error {
	subject, err := h.Subject()
	if err != nil && !message.IsUnknownCharset(err) {
		return fmt.Errorf("decoding subject: %w", err)
	}
	sum.Subject = subject

	sum.MessageID, _ = h.MessageID()
	sum.From = headerAddresses(h, "From")
	sum.To = headerAddresses(h, "To")
	sum.Cc = headerAddresses(h, "Cc")

	if date, err := h.Date(); err == nil {
		sum.Date = date
	}

	if ids, err := h.MsgIDList("In-Reply-To"); err == nil && len(ids) > 0 {
		detail.InReplyTo = ids[0]
	}
	if ids, err := h.MsgIDList("References"); err == nil {
		detail.References = ids
	}
	return nil
}

func headerAddresses(h mail.Header, key string) []model.Address {
	list, err := h.AddressList(key)
	out := make([]model.Address, 0, len(list))
	if err != nil {
		return out
	}
	for _, a := range list {
		out = append(out, model.Address{Name: a.Name, Address: a.Address})
	}
	return out
}

func inlineFilename(h *mail.InlineHeader) string {
	_, params, err := h.ContentDisposition()
	if err == nil && params["filename"] != "" {
		return params["filename"]
	}
	_, params, err = h.ContentType()
	if err == nil {
		return params["name"]
	}
	return ""
}

func newAttachment(filename, contentType, contentID string, body []byte, withContent bool) model.Attachment {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	a := model.Attachment{
		Filename:  filename,
		MIMEType:  contentType,
		Size:      int64(len(body)),
		ContentID: contentID,
	}
	if withContent {
		a.Content = body
	}
	return a
}

// findAttachment matches exactly first, then case-insensitively.
func findAttachment(atts []model.Attachment, filename string) (*model.Attachment, bool) {
	for i := range atts {
		if atts[i].Filename == filename {
			return &atts[i], true
		}
	}
	for i := range atts {
		if strings.EqualFold(atts[i].Filename, filename) {
			return &atts[i], true
		}
	}
	return nil, false
}

// dateOrFallback returns t, or fallback when t is zero.
func dateOrFallback(t, fallback time.Time) time.Time {
	if t.IsZero() {
		return fallback
	}
	return t
}
