package webmail

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/emersion/go-imap/v2"

	"github.com/nhle/mailpanel/internal/model"
)

// listMessages returns one page of a folder, newest first. An empty
// folder returns before any SEARCH is issued.
func listMessages(sess MailSession, path model.FolderPath, opts model.ListOptions) (*model.MessagePage, error) {
	opts = opts.Normalize()
	empty := &model.MessagePage{Messages: []model.MessageSummary{}}

	total, err := sess.Select(string(path), true)
	if err != nil {
		return nil, err
	}
	if total == 0 {
		return empty, nil
	}

	uids, err := sess.Search(opts.Search)
	if err != nil {
		return nil, err
	}
	if len(uids) == 0 {
		return empty, nil
	}

	dated, err := sess.FetchDates(uids)
	if err != nil {
		return nil, err
	}
	arrived := make(map[imap.UID]time.Time, len(dated))
	for _, d := range dated {
		arrived[d.UID] = d.InternalDate
	}

	ordered := append([]imap.UID(nil), uids...)
	sort.SliceStable(ordered, func(i, j int) bool {
		di, dj := arrived[ordered[i]], arrived[ordered[j]]
		if !di.Equal(dj) {
			return di.After(dj)
		}
		return ordered[i] > ordered[j]
	})

	page := &model.MessagePage{Messages: []model.MessageSummary{}, Total: len(ordered)}
	if len(ordered) == 0 || opts.Page-1 > (len(ordered)-1)/opts.PageSize {
		return page, nil
	}
	start := (opts.Page - 1) * opts.PageSize
	end := min(start+opts.PageSize, len(ordered))

	fetched, err := sess.FetchSummaries(ordered[start:end])
	if err != nil {
		return nil, err
	}
	for _, fm := range fetched {
		page.Messages = append(page.Messages, summaryFromFetched(fm))
	}
	sort.SliceStable(page.Messages, func(i, j int) bool {
		mi, mj := page.Messages[i], page.Messages[j]
		if !mi.Date.Equal(mj.Date) {
			return mi.Date.After(mj.Date)
		}
		return mi.UID > mj.UID
	})
	return page, nil
}

// getMessage fetches and parses one message, marking it read.
func getMessage(sess MailSession, path model.FolderPath, uid uint32) (*model.MessageDetail, error) {
	if _, err := sess.Select(string(path), false); err != nil {
		return nil, err
	}

	fm, err := sess.FetchRaw(imap.UID(uid), true)
	if err != nil {
		return nil, err
	}

	detail, err := parseMessage(fm.UID, fm.Raw, false)
	if err != nil {
		return nil, err
	}

	detail.Flags = flagStrings(fm.Flags)
	if !detail.IsRead() {
		detail.Flags = append(detail.Flags, model.FlagSeen)
	}
	detail.Date = dateOrFallback(detail.Date, fm.InternalDate)
	if fm.Envelope != nil && detail.MessageID == "" {
		detail.MessageID = fm.Envelope.MessageID
	}
	return detail, nil
}

// getAttachment returns one attachment with its bytes. The fetch peeks so
// flags are left alone.
func getAttachment(sess MailSession, path model.FolderPath, uid uint32, filename string) (*model.Attachment, error) {
	if _, err := sess.Select(string(path), true); err != nil {
		return nil, err
	}

	fm, err := sess.FetchRaw(imap.UID(uid), false)
	if err != nil {
		return nil, err
	}

	detail, err := parseMessage(fm.UID, fm.Raw, true)
	if err != nil {
		return nil, err
	}

	att, ok := findAttachment(detail.Attachments, filename)
	if !ok {
		return nil, fmt.Errorf("%q in uid %d: %w", filename, uid, ErrAttachmentNotFound)
	}
	return att, nil
}

func setFlag(sess MailSession, path model.FolderPath, uid uint32, flag model.MessageFlag, value bool) error {
	switch flag {
	case model.MessageFlagSeen, model.MessageFlagFlagged:
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFlag, flag)
	}

	if _, err := sess.Select(string(path), false); err != nil {
		return err
	}
	return sess.StoreFlags(imap.UID(uid), []imap.Flag{imap.Flag(flag)}, value)
}

func moveMessage(sess MailSession, path model.FolderPath, uid uint32, target model.FolderPath) error {
	if _, err := sess.Select(string(path), false); err != nil {
		return err
	}
	return sess.Move(imap.UID(uid), string(target))
}

// deleteMessage expunges when permanent is set or the message already sits
// in trash; otherwise it moves the message there.
func deleteMessage(sess MailSession, path model.FolderPath, uid uint32, permanent bool, trash model.FolderPath) error {
	if _, err := sess.Select(string(path), false); err != nil {
		return err
	}
	if permanent || path == trash {
		return sess.Expunge(imap.UID(uid))
	}
	return sess.Move(imap.UID(uid), string(trash))
}

// markFolderMissing tags a failed write into a guessed folder.
func markFolderMissing(res resolvedFolder, err error) error {
	if err == nil || !res.Fabricated || errors.Is(err, ErrFolderMissing) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrFolderMissing, res.Path, err)
}
