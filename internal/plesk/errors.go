package plesk

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrMailboxExists is reported by the panel when creating an address
	// that is already taken.
	ErrMailboxExists = errors.New("mailbox already exists")

	// ErrPasswordRejected is reported when the panel's password policy
	// refuses the new password.
	ErrPasswordRejected = errors.New("password does not meet the panel's requirements")
)

// APIError is a non-2xx reply from the REST API itself.
type APIError struct {
	StatusCode int
	Method     string
	Path       string
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden {
		return fmt.Sprintf("plesk authentication failed (%d): check the API key or admin credentials", e.StatusCode)
	}
	if e.Message != "" {
		return fmt.Sprintf("plesk API error (%d) on %s %s: %s", e.StatusCode, e.Method, e.Path, e.Message)
	}
	return fmt.Sprintf("unexpected status %d on %s %s", e.StatusCode, e.Method, e.Path)
}

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func newAPIError(status int, method, path string, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Method: method, Path: path}
	var resp errorResponse
	if json.Unmarshal(body, &resp) == nil && resp.Message != "" {
		apiErr.Message = resp.Message
	} else {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}

// ProvisioningError is a CLI gateway call that ran but exited non-zero.
type ProvisioningError struct {
	Command string // --create, --remove, ...
	Address string
	Code    int
	Stderr  string
}

func (e *ProvisioningError) Error() string {
	switch {
	case errors.Is(e, ErrMailboxExists):
		return fmt.Sprintf("%s: %v", e.Address, ErrMailboxExists)
	case errors.Is(e, ErrPasswordRejected):
		return ErrPasswordRejected.Error()
	}
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		msg = fmt.Sprintf("exit code %d", e.Code)
	}
	return fmt.Sprintf("plesk mail %s %s failed: %s", e.Command, e.Address, msg)
}

// Unwrap classifies well-known panel messages.
func (e *ProvisioningError) Unwrap() error {
	stderr := strings.ToLower(e.Stderr)
	switch {
	case strings.Contains(stderr, "already exists"):
		return ErrMailboxExists
	case strings.Contains(stderr, "password"):
		return ErrPasswordRejected
	}
	return nil
}

// IsProvisioningError reports whether err came from the panel, either
// the REST API or a CLI gateway call.
func IsProvisioningError(err error) bool {
	var provErr *ProvisioningError
	var apiErr *APIError
	return errors.As(err, &provErr) || errors.As(err, &apiErr)
}
