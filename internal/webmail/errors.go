package webmail

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCredentials is returned before dialing when the address is
	// not a valid mailbox or the secret is empty.
	ErrInvalidCredentials = errors.New("invalid mailbox credentials")

	// ErrMessageNotFound is returned when a UID does not exist in the
	// selected folder.
	ErrMessageNotFound = errors.New("message not found")

	// ErrAttachmentNotFound is returned by GetAttachment for an unknown
	// filename.
	ErrAttachmentNotFound = errors.New("attachment not found")

	// ErrInvalidRecipient is returned before any connection is made when a
	// composition has no usable recipient.
	ErrInvalidRecipient = errors.New("invalid recipient")

	// ErrUnsupportedFlag is returned by SetFlag for flags clients may not toggle.
	ErrUnsupportedFlag = errors.New("unsupported flag")

	// ErrReservedFolder is returned when deleting INBOX.
	ErrReservedFolder = errors.New("folder cannot be deleted")

	// ErrFolderMissing marks a server reply saying the target mailbox does
	// not exist, typically a guessed special folder.
	ErrFolderMissing = errors.New("special folder does not exist on the server")

	// ErrUIDExpungeUnsupported is returned for a permanent delete on a
	// server that cannot expunge a single UID.
	ErrUIDExpungeUnsupported = errors.New("server cannot expunge a single message")
)

// ConnectError is a network or TLS failure while opening a connection.
type ConnectError struct {
	Addr string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connecting to %s: %v", e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// AuthError indicates the mail server rejected the credentials.
type AuthError struct {
	Protocol string
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s authentication failed: %v", e.Protocol, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// ProtocolError is any failure after a session was opened.
type ProtocolError struct {
	Op  string
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// ParseError means a fetched message could not be decoded.
type ParseError struct {
	UID uint32
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing message %d: %v", e.UID, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// IsConnectError reports whether err (or any error in its chain) is a ConnectError.
func IsConnectError(err error) bool {
	var target *ConnectError
	return errors.As(err, &target)
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var target *AuthError
	return errors.As(err, &target)
}

// IsProtocolError reports whether err (or any error in its chain) is a ProtocolError.
func IsProtocolError(err error) bool {
	var target *ProtocolError
	return errors.As(err, &target)
}

// IsParseError reports whether err (or any error in its chain) is a ParseError.
func IsParseError(err error) bool {
	var target *ParseError
	return errors.As(err, &target)
}

// protocolError wraps err unless it already carries a classification.
func protocolError(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsConnectError(err) || IsAuthError(err) || IsProtocolError(err) || IsParseError(err) {
		return err
	}
	return &ProtocolError{Op: op, Err: err}
}
