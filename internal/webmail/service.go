package webmail

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/sirupsen/logrus"

	"github.com/nhle/mailpanel/internal/model"
)

// Service implements the webmail operations. Each call opens its own
// connection and closes it before returning.
type Service struct {
	dialer  Dialer
	cfg     model.MailConfig
	log     *logrus.Entry
	metrics *Metrics
	now     func() time.Time
}

// SendResult is returned by a successful Send.
type SendResult struct {
	MessageID string `json:"messageId"`
}

// NewService creates a Service. metrics may be nil.
func NewService(dialer Dialer, cfg model.MailConfig, log *logrus.Entry, metrics *Metrics) *Service {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Service{
		dialer:  dialer,
		cfg:     cfg,
		log:     log.WithField("component", "webmail"),
		metrics: metrics,
		now:     time.Now,
	}
}

// withSession runs fn on a fresh IMAP session and classifies its error.
func (s *Service) withSession(
	ctx context.Context, creds model.Credentials, op string,
	fn func(MailSession) error,
) error {
	sess, err := s.dialer.OpenMailSession(ctx, creds)
	if err != nil {
		s.metrics.observe(op, err)
		return err
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			s.log.WithError(cerr).WithField("op", op).Debug("Closing IMAP session")
		}
	}()

	err = protocolError(op, fn(sess))
	s.metrics.observe(op, err)
	return err
}

// TestCredentials opens and closes a session to check a login.
func (s *Service) TestCredentials(ctx context.Context, creds model.Credentials) error {
	return s.withSession(ctx, creds, "login", func(MailSession) error { return nil })
}

// ListFolders returns every folder with message counts.
func (s *Service) ListFolders(ctx context.Context, creds model.Credentials) ([]model.Folder, error) {
	var folders []model.Folder
	err := s.withSession(ctx, creds, "list_folders", func(sess MailSession) error {
		var err error
		folders, err = listFolders(sess, s.log)
		return err
	})
	return folders, err
}

// CreateFolder creates a folder and returns its server path.
func (s *Service) CreateFolder(ctx context.Context, creds model.Credentials, name string) (model.FolderPath, error) {
	var path model.FolderPath
	err := s.withSession(ctx, creds, "create_folder", func(sess MailSession) error {
		boxes, err := sess.List()
		if err != nil {
			return err
		}
		path, err = folderPathForCreate(boxes, name)
		if err != nil {
			return err
		}
		return sess.Create(string(path))
	})
	return path, err
}

// DeleteFolder removes a folder. INBOX cannot be deleted.
func (s *Service) DeleteFolder(ctx context.Context, creds model.Credentials, path model.FolderPath) error {
	if strings.EqualFold(string(path), string(model.InboxPath)) {
		return fmt.Errorf("%w: %s", ErrReservedFolder, path)
	}
	return s.withSession(ctx, creds, "delete_folder", func(sess MailSession) error {
		return sess.Delete(string(path))
	})
}

// ResolveSpecialFolder returns the path used for kind. It never creates
// anything; the path may be a guess when the server has no such folder.
func (s *Service) ResolveSpecialFolder(ctx context.Context, creds model.Credentials, kind model.SpecialUse) (model.FolderPath, error) {
	var path model.FolderPath
	err := s.withSession(ctx, creds, "resolve_folder", func(sess MailSession) error {
		res, err := s.resolve(sess, kind, false)
		path = res.Path
		return err
	})
	return path, err
}

// resolve lists mailboxes and resolves kind, creating a guessed folder
// when create is set and configuration allows it.
func (s *Service) resolve(sess MailSession, kind model.SpecialUse, create bool) (resolvedFolder, error) {
	boxes, err := sess.List()
	if err != nil {
		return resolvedFolder{}, err
	}

	res := resolveSpecial(boxes, kind)
	if res.Fabricated {
		log := s.log.WithFields(logrus.Fields{"kind": kind, "folder": res.Path})
		if create && s.cfg.CreateMissingSpecialFolders {
			if err := sess.Create(string(res.Path)); err != nil {
				log.WithError(err).Debug("Creating guessed special folder")
			} else {
				log.Info("Created missing special folder")
			}
		} else {
			log.Debug("No special folder found, using guessed path")
		}
	}
	return res, nil
}

// ListMessages returns one page of a folder.
func (s *Service) ListMessages(
	ctx context.Context, creds model.Credentials,
	path model.FolderPath, opts model.ListOptions,
) (*model.MessagePage, error) {
	var page *model.MessagePage
	err := s.withSession(ctx, creds, "list_messages", func(sess MailSession) error {
		var err error
		page, err = listMessages(sess, path, opts)
		return err
	})
	return page, err
}

// GetMessage fetches, parses and marks one message read.
func (s *Service) GetMessage(
	ctx context.Context, creds model.Credentials,
	path model.FolderPath, uid uint32,
) (*model.MessageDetail, error) {
	var detail *model.MessageDetail
	err := s.withSession(ctx, creds, "get_message", func(sess MailSession) error {
		var err error
		detail, err = getMessage(sess, path, uid)
		return err
	})
	return detail, err
}

// GetAttachment returns one attachment's metadata and bytes.
func (s *Service) GetAttachment(
	ctx context.Context, creds model.Credentials,
	path model.FolderPath, uid uint32, filename string,
) (*model.Attachment, error) {
	var att *model.Attachment
	err := s.withSession(ctx, creds, "get_attachment", func(sess MailSession) error {
		var err error
		att, err = getAttachment(sess, path, uid, filename)
		return err
	})
	return att, err
}

// SetFlag sets or clears \Seen or \Flagged. Repeating a call is a no-op.
func (s *Service) SetFlag(
	ctx context.Context, creds model.Credentials,
	path model.FolderPath, uid uint32, flag model.MessageFlag, value bool,
) error {
	return s.withSession(ctx, creds, "set_flag", func(sess MailSession) error {
		return setFlag(sess, path, uid, flag, value)
	})
}

// MoveMessage moves a message to target. The uid is not valid in target.
func (s *Service) MoveMessage(
	ctx context.Context, creds model.Credentials,
	path model.FolderPath, uid uint32, target model.FolderPath,
) error {
	return s.withSession(ctx, creds, "move_message", func(sess MailSession) error {
		return moveMessage(sess, path, uid, target)
	})
}

// DeleteMessage moves a message to Trash, or expunges it when permanent
// is set or it is already in Trash.
func (s *Service) DeleteMessage(
	ctx context.Context, creds model.Credentials,
	path model.FolderPath, uid uint32, permanent bool,
) error {
	return s.withSession(ctx, creds, "delete_message", func(sess MailSession) error {
		if permanent {
			return deleteMessage(sess, path, uid, true, "")
		}
		trash, err := s.resolve(sess, model.SpecialUseTrash, true)
		if err != nil {
			return err
		}
		return markFolderMissing(trash, deleteMessage(sess, path, uid, false, trash.Path))
	})
}

// Send transmits c over SMTP, then tries to store a copy in Sent. Only
// the transmission decides the result; a failed copy is logged.
func (s *Service) Send(ctx context.Context, creds model.Credentials, c model.Composition) (*SendResult, error) {
	rcpts, err := envelopeRecipients(c)
	if err != nil {
		return nil, err
	}
	if len(rcpts) == 0 {
		return nil, fmt.Errorf("%w: no recipients", ErrInvalidRecipient)
	}

	now := s.now()
	msgID := NewMessageID(creds.Domain())
	raw, err := BuildMessage(creds.Address, c, BuildOptions{MessageID: msgID, Date: now})
	if err != nil {
		return nil, err
	}

	sender, err := s.dialer.OpenTransport(ctx, creds)
	if err != nil {
		s.metrics.observe("send", err)
		return nil, err
	}
	err = protocolError("send", sender.Send(creds.Address, rcpts, raw))
	if cerr := sender.Close(); cerr != nil {
		s.log.WithError(cerr).Debug("Closing SMTP transport")
	}
	s.metrics.observe("send", err)
	if err != nil {
		return nil, err
	}

	s.storeSentCopy(ctx, creds, raw, now)
	return &SendResult{MessageID: msgID}, nil
}

func (s *Service) storeSentCopy(ctx context.Context, creds model.Credentials, raw []byte, date time.Time) {
	err := s.withSession(ctx, creds, "store_sent_copy", func(sess MailSession) error {
		sent, err := s.resolve(sess, model.SpecialUseSent, true)
		if err != nil {
			return err
		}
		return markFolderMissing(sent, sess.Append(string(sent.Path), raw, []imap.Flag{imap.FlagSeen}, date))
	})
	s.metrics.sentCopy(err)
	if err != nil {
		s.log.WithError(err).Warn("Message sent but storing a copy in Sent failed")
	}
}

// SaveDraft stores c in the Drafts folder without transmitting it.
func (s *Service) SaveDraft(ctx context.Context, creds model.Credentials, c model.Composition) error {
	now := s.now()
	raw, err := BuildMessage(creds.Address, c, BuildOptions{
		MessageID:  NewMessageID(creds.Domain()),
		Date:       now,
		IncludeBcc: true,
	})
	if err != nil {
		return err
	}

	return s.withSession(ctx, creds, "save_draft", func(sess MailSession) error {
		drafts, err := s.resolve(sess, model.SpecialUseDrafts, true)
		if err != nil {
			return err
		}
		flags := []imap.Flag{imap.FlagDraft, imap.FlagSeen}
		return markFolderMissing(drafts, sess.Append(string(drafts.Path), raw, flags, now))
	})
}
