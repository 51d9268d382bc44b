package webmail

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/nhle/mailpanel/internal/model"
)

// imapSession implements MailSession on top of go-imap's client.
type imapSession struct {
	client *imapclient.Client
}

func (s *imapSession) Close() error {
	_ = s.client.Logout().Wait()
	return s.client.Close()
}

func (s *imapSession) List() ([]MailboxInfo, error) {
	var opts *imap.ListOptions
	caps := s.client.Caps()
	if caps.Has(imap.CapListExtended) && caps.Has(imap.CapSpecialUse) {
		opts = &imap.ListOptions{ReturnSpecialUse: true}
	}

	entries, err := s.client.List("", "*", opts).Collect()
	if err != nil {
		return nil, fmt.Errorf("listing mailboxes: %w", err)
	}

	boxes := make([]MailboxInfo, 0, len(entries))
	for _, e := range entries {
		info := MailboxInfo{Path: e.Mailbox, Attrs: e.Attrs}
		if e.Delim != 0 {
			info.Delimiter = string(e.Delim)
		}
		boxes = append(boxes, info)
	}
	return boxes, nil
}

func (s *imapSession) Status(path string) (model.MessageCounts, error) {
	data, err := s.client.Status(path, &imap.StatusOptions{
		NumMessages: true,
		NumUnseen:   true,
	}).Wait()
	if err != nil {
		return model.MessageCounts{}, fmt.Errorf("status %s: %w", path, err)
	}

	var counts model.MessageCounts
	if data.NumMessages != nil {
		counts.Total = *data.NumMessages
	}
	if data.NumUnseen != nil {
		counts.Unseen = *data.NumUnseen
	}
	return counts, nil
}

func (s *imapSession) Select(path string, readOnly bool) (uint32, error) {
	data, err := s.client.Select(path, &imap.SelectOptions{ReadOnly: readOnly}).Wait()
	if err != nil {
		return 0, fmt.Errorf("selecting %s: %w", path, missingMailbox(err))
	}
	return data.NumMessages, nil
}

func (s *imapSession) Search(text string) ([]imap.UID, error) {
	criteria := &imap.SearchCriteria{}
	if text != "" {
		criteria.Text = []string{text}
	}

	data, err := s.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("searching messages: %w", err)
	}
	return data.AllUIDs(), nil
}

func (s *imapSession) fetch(uids []imap.UID, opts *imap.FetchOptions) ([]*imapclient.FetchMessageBuffer, error) {
	if len(uids) == 0 {
		return nil, nil
	}
	msgs, err := s.client.Fetch(imap.UIDSetNum(uids...), opts).Collect()
	if err != nil {
		return nil, fmt.Errorf("fetching messages: %w", err)
	}
	return msgs, nil
}

func (s *imapSession) FetchDates(uids []imap.UID) ([]FetchedMessage, error) {
	bufs, err := s.fetch(uids, &imap.FetchOptions{UID: true, InternalDate: true})
	if err != nil {
		return nil, err
	}

	out := make([]FetchedMessage, 0, len(bufs))
	for _, b := range bufs {
		out = append(out, FetchedMessage{UID: b.UID, InternalDate: b.InternalDate})
	}
	return out, nil
}

func (s *imapSession) FetchSummaries(uids []imap.UID) ([]FetchedMessage, error) {
	bufs, err := s.fetch(uids, &imap.FetchOptions{
		UID:           true,
		Flags:         true,
		Envelope:      true,
		InternalDate:  true,
		BodyStructure: &imap.FetchItemBodyStructure{Extended: true},
	})
	if err != nil {
		return nil, err
	}

	out := make([]FetchedMessage, 0, len(bufs))
	for _, b := range bufs {
		out = append(out, FetchedMessage{
			UID:           b.UID,
			Flags:         b.Flags,
			InternalDate:  b.InternalDate,
			Envelope:      b.Envelope,
			BodyStructure: b.BodyStructure,
		})
	}
	return out, nil
}

func (s *imapSession) FetchRaw(uid imap.UID, markSeen bool) (*FetchedMessage, error) {
	section := &imap.FetchItemBodySection{Peek: !markSeen}
	bufs, err := s.fetch([]imap.UID{uid}, &imap.FetchOptions{
		UID:          true,
		Flags:        true,
		Envelope:     true,
		InternalDate: true,
		BodySection:  []*imap.FetchItemBodySection{section},
	})
	if err != nil {
		return nil, err
	}

	for _, b := range bufs {
		if b.UID != uid {
			continue
		}
		return &FetchedMessage{
			UID:          b.UID,
			Flags:        b.Flags,
			InternalDate: b.InternalDate,
			Envelope:     b.Envelope,
			Raw:          b.FindBodySection(section),
		}, nil
	}
	return nil, fmt.Errorf("uid %d: %w", uid, ErrMessageNotFound)
}

func (s *imapSession) StoreFlags(uid imap.UID, flags []imap.Flag, add bool) error {
	op := imap.StoreFlagsAdd
	if !add {
		op = imap.StoreFlagsDel
	}

	err := s.client.Store(imap.UIDSetNum(uid), &imap.StoreFlags{
		Op:     op,
		Silent: true,
		Flags:  flags,
	}, nil).Close()
	if err != nil {
		return fmt.Errorf("storing flags on uid %d: %w", uid, err)
	}
	return nil
}

func (s *imapSession) Move(uid imap.UID, target string) error {
	if _, err := s.client.Move(imap.UIDSetNum(uid), target).Wait(); err != nil {
		return fmt.Errorf("moving uid %d to %s: %w", uid, target, missingMailbox(err))
	}
	return nil
}

// Expunge removes only uid. A plain EXPUNGE would also drop messages other
// clients flagged \Deleted, so servers without UID EXPUNGE are refused
// before anything is flagged.
func (s *imapSession) Expunge(uid imap.UID) error {
	if !canExpungeUID(s.client.Caps()) {
		return ErrUIDExpungeUnsupported
	}
	if err := s.StoreFlags(uid, []imap.Flag{imap.FlagDeleted}, true); err != nil {
		return err
	}
	if err := s.client.UIDExpunge(imap.UIDSetNum(uid)).Close(); err != nil {
		return fmt.Errorf("expunging uid %d: %w", uid, err)
	}
	return nil
}

func (s *imapSession) Append(path string, raw []byte, flags []imap.Flag, date time.Time) error {
	cmd := s.client.Append(path, int64(len(raw)), &imap.AppendOptions{
		Flags: flags,
		Time:  date,
	})
	if _, err := bytes.NewReader(raw).WriteTo(cmd); err != nil {
		_ = cmd.Close()
		return fmt.Errorf("writing message to %s: %w", path, err)
	}
	if err := cmd.Close(); err != nil {
		return fmt.Errorf("appending to %s: %w", path, err)
	}
	if _, err := cmd.Wait(); err != nil {
		return fmt.Errorf("appending to %s: %w", path, missingMailbox(err))
	}
	return nil
}

func (s *imapSession) Create(path string) error {
	if err := s.client.Create(path, nil).Wait(); err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	return nil
}

func (s *imapSession) Delete(path string) error {
	if err := s.client.Delete(path).Wait(); err != nil {
		return fmt.Errorf("deleting %s: %w", path, missingMailbox(err))
	}
	return nil
}

// missingMailbox tags server replies that say the target mailbox does not
// exist so callers can tell them apart with errors.Is.
// canExpungeUID reports whether UID EXPUNGE is available (UIDPLUS, which
// IMAP4rev2 includes).
func canExpungeUID(caps imap.CapSet) bool {
	return caps.Has(imap.CapUIDPlus) || caps.Has(imap.CapIMAP4rev2)
}

func missingMailbox(err error) error {
	var imapErr *imap.Error
	if !errors.As(err, &imapErr) {
		return err
	}
	switch imapErr.Code {
	case imap.ResponseCodeTryCreate, imap.ResponseCodeNonExistent:
		return fmt.Errorf("%w: %w", ErrFolderMissing, err)
	}
	return err
}
