package app

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/nhle/mailpanel/internal/model"
	"github.com/nhle/mailpanel/internal/plesk"
	"github.com/nhle/mailpanel/internal/provision"
	"github.com/nhle/mailpanel/internal/session"
	"github.com/nhle/mailpanel/internal/store"
	"github.com/nhle/mailpanel/internal/webmail"
)

// envelope is the body of every JSON response.
type envelope struct {
	Success      bool   `json:"success"`
	Message      string `json:"message,omitempty"`
	Data         any    `json:"data,omitempty"`
	NeedPassword bool   `json:"needPassword,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeData(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data})
}

func writeOK(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: message})
}

func writeFail(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{Success: false, Message: message})
}

// writeError maps err to a status and a message safe to show a user.
// Raw server replies stay in the log.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := classify(err)

	entry := requestLog(r, s.log).WithError(err).WithField("status", status)
	if status >= http.StatusInternalServerError {
		entry.Error("Request failed")
	} else {
		entry.Debug("Request rejected")
	}

	writeJSON(w, status, envelope{
		Success:      false,
		Message:      message,
		NeedPassword: errors.Is(err, provision.ErrNeedPassword),
	})
}

// userErrors are validation failures whose text is written for users.
var userErrors = []error{
	webmail.ErrInvalidRecipient,
	webmail.ErrUnsupportedFlag,
	webmail.ErrReservedFolder,
	model.ErrInvalidFolderPath,
	provision.ErrInvalidMailName,
	provision.ErrDomainRequired,
	provision.ErrWeakPassword,
	plesk.ErrPasswordRejected,
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, session.ErrInvalidToken), errors.Is(err, session.ErrExpiredToken):
		return http.StatusUnauthorized, "Session expired, please sign in again"
	case errors.Is(err, provision.ErrNeedPassword):
		if webmail.IsAuthError(err) {
			return http.StatusUnauthorized, "The stored password no longer works, please update it"
		}
		return http.StatusBadRequest, "No stored password for this mailbox, please update it"
	case webmail.IsAuthError(err):
		return http.StatusUnauthorized, "Invalid email or password"
	case errors.Is(err, webmail.ErrMessageNotFound):
		return http.StatusNotFound, "Message not found"
	case errors.Is(err, webmail.ErrAttachmentNotFound):
		return http.StatusNotFound, "Attachment not found"
	case errors.Is(err, webmail.ErrFolderMissing):
		return http.StatusNotFound, "Folder not found"
	case errors.Is(err, webmail.ErrUIDExpungeUnsupported):
		return http.StatusNotImplemented, "The mail server does not support deleting a single message permanently"
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "Mailbox not found"
	case errors.Is(err, provision.ErrAccountDisabled):
		return http.StatusForbidden, "This mailbox is disabled"
	case errors.Is(err, provision.ErrAlreadyRegistered), errors.Is(err, plesk.ErrMailboxExists):
		return http.StatusConflict, "This mailbox already exists"
	}

	var reqErr *requestError
	if errors.As(err, &reqErr) {
		return http.StatusBadRequest, reqErr.message
	}
	for _, target := range userErrors {
		if errors.Is(err, target) {
			return http.StatusBadRequest, target.Error()
		}
	}

	var provErr *plesk.ProvisioningError
	switch {
	case webmail.IsConnectError(err):
		return http.StatusBadGateway, "Could not connect to the mail server"
	case webmail.IsParseError(err):
		return http.StatusUnprocessableEntity, "The message could not be read"
	case webmail.IsProtocolError(err):
		return http.StatusInternalServerError, "The mail server rejected the request"
	case errors.As(err, &provErr):
		return http.StatusBadGateway, provErr.Error()
	case plesk.IsProvisioningError(err):
		return http.StatusBadGateway, "The control panel request failed"
	}
	return http.StatusInternalServerError, "Internal error"
}

// requestError is malformed input found by the handlers themselves.
type requestError struct{ message string }

func (e *requestError) Error() string { return e.message }

func badRequest(message string) error {
	return &requestError{message: message}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return badRequest("Request body must be valid JSON")
	}
	return nil
}

func requestLog(r *http.Request, log *logrus.Entry) *logrus.Entry {
	entry := log.WithFields(logrus.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
	})
	if id := requestIDFrom(r.Context()); id != "" {
		entry = entry.WithField("request_id", id)
	}
	return entry
}
