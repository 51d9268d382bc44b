package app

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/nhle/mailpanel/internal/model"
)

const (
	maxUploadBytes = 25 << 20
	noSubject      = "(no subject)"
)

// parseComposition reads a send or draft form. Fields: to, cc, bcc
// (comma-separated), subject, text, html, inReplyTo, references, and
// any number of "attachments" files.
func parseComposition(w http.ResponseWriter, r *http.Request, draft bool) (model.Composition, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return model.Composition{}, badRequest("Attachments are too large")
		}
		if !errors.Is(err, http.ErrNotMultipart) {
			return model.Composition{}, badRequest("Could not read the form")
		}
		if err := r.ParseForm(); err != nil {
			return model.Composition{}, badRequest("Could not read the form")
		}
	}

	c := model.Composition{
		To:         splitList(r.FormValue("to")),
		Cc:         splitList(r.FormValue("cc")),
		Bcc:        splitList(r.FormValue("bcc")),
		Subject:    strings.TrimSpace(r.FormValue("subject")),
		TextBody:   r.FormValue("text"),
		HTMLBody:   r.FormValue("html"),
		InReplyTo:  strings.TrimSpace(r.FormValue("inReplyTo")),
		References: strings.TrimSpace(r.FormValue("references")),
	}

	if !draft {
		if len(c.To) == 0 {
			return c, badRequest("At least one recipient is required")
		}
		if c.Subject == "" {
			return c, badRequest("Subject is required")
		}
	} else if c.Subject == "" {
		c.Subject = noSubject
	}

	if r.MultipartForm != nil {
		for _, fh := range r.MultipartForm.File["attachments"] {
			att, err := readAttachment(fh)
			if err != nil {
				return c, err
			}
			if att != nil {
				c.Attachments = append(c.Attachments, *att)
			}
		}
	}
	return c, nil
}

// readAttachment loads an uploaded file. Empty uploads are skipped. The
// content type is sniffed when the browser sent none.
func readAttachment(fh *multipart.FileHeader) (*model.OutgoingAttachment, error) {
	if fh.Size == 0 {
		return nil, nil
	}
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("opening upload %s: %w", fh.Filename, err)
	}
	defer f.Close()

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("reading upload %s: %w", fh.Filename, err)
	}

	contentType := fh.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = mimetype.Detect(content).String()
	}
	return &model.OutgoingAttachment{
		Filename: fh.Filename,
		MIMEType: contentType,
		Content:  content,
	}, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
