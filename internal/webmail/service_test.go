package webmail

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailpanel/internal/model"
)

var testCreds = model.Credentials{Address: "user@example.com", Secret: "s3cret"}

func testDate(day int) time.Time {
	return time.Date(2024, time.March, day, 9, 0, 0, 0, time.UTC)
}

func newTestService(srv *fakeServer) *Service {
	logger, _ := test.NewNullLogger()
	svc := NewService(srv, model.MailConfig{CreateMissingSpecialFolders: true}, logrus.NewEntry(logger), nil)
	svc.now = func() time.Time { return testDate(20) }
	return svc
}

func TestSendPlainMessageStoresSentCopy(t *testing.T) {
	srv := newFakeServer(".", "INBOX.Sent")
	svc := newTestService(srv)

	res, err := svc.Send(t.Context(), testCreds, model.Composition{
		To:       []string{"user@example.com"},
		Subject:  "Test",
		TextBody: "Hello",
	})
	require.NoError(t, err)
	assert.Regexp(t, `^[^@]+@example\.com$`, res.MessageID)

	require.Len(t, srv.submitted, 1)
	assert.Equal(t, "user@example.com", srv.submitted[0].from)
	assert.Equal(t, []string{"user@example.com"}, srv.submitted[0].rcpts)

	page, err := svc.ListMessages(t.Context(), testCreds, "INBOX.Sent", model.ListOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	assert.Equal(t, "Test", page.Messages[0].Subject)
	assert.Equal(t, res.MessageID, page.Messages[0].MessageID)
	assert.True(t, page.Messages[0].IsRead())
}

func TestSendSucceedsWhenSentCopyFails(t *testing.T) {
	srv := newFakeServer(".", "INBOX.Sent")
	srv.failAppend = errors.New("quota exceeded")

	logger, hook := test.NewNullLogger()
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	svc := NewService(srv, model.MailConfig{}, logrus.NewEntry(logger), metrics)

	res, err := svc.Send(t.Context(), testCreds, model.Composition{
		To:       []string{"friend@example.org"},
		Subject:  "Quota",
		TextBody: "Still delivered",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.MessageID)
	assert.Len(t, srv.submitted, 1)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.sentCopies.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.operations.WithLabelValues("send", "ok")))

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.WarnLevel, entry.Level)
}

func TestSendBccIsEnvelopeOnly(t *testing.T) {
	srv := newFakeServer(".", "INBOX.Sent")
	svc := newTestService(srv)

	_, err := svc.Send(t.Context(), testCreds, model.Composition{
		To:       []string{"a@example.org"},
		Bcc:      []string{"hidden@example.org"},
		Subject:  "Bcc",
		TextBody: "x",
	})
	require.NoError(t, err)

	require.Len(t, srv.submitted, 1)
	assert.Equal(t, []string{"a@example.org", "hidden@example.org"}, srv.submitted[0].rcpts)
	assert.NotContains(t, string(srv.submitted[0].raw), "hidden@example.org")
}

func TestSendRejectsBadRecipientBeforeDialing(t *testing.T) {
	srv := newFakeServer(".")
	svc := newTestService(srv)

	_, err := svc.Send(t.Context(), testCreds, model.Composition{To: []string{"not an address"}})
	assert.ErrorIs(t, err, ErrInvalidRecipient)

	_, err = svc.Send(t.Context(), testCreds, model.Composition{Subject: "nobody"})
	assert.ErrorIs(t, err, ErrInvalidRecipient)

	assert.Empty(t, srv.submitted)
	assert.Zero(t, srv.sessions)
}

func TestSendCreatesMissingSentFolder(t *testing.T) {
	srv := newFakeServer(".")
	svc := newTestService(srv)

	_, err := svc.Send(t.Context(), testCreds, model.Composition{To: []string{"a@example.org"}, Subject: "First"})
	require.NoError(t, err)

	require.NotNil(t, srv.mailbox("INBOX.Sent"))
	assert.Len(t, srv.messages("INBOX.Sent"), 1)
}

func TestSaveDraftWithoutCreateReportsMissingFolder(t *testing.T) {
	srv := newFakeServer(".")
	logger, _ := test.NewNullLogger()
	svc := NewService(srv, model.MailConfig{CreateMissingSpecialFolders: false}, logrus.NewEntry(logger), nil)

	err := svc.SaveDraft(t.Context(), testCreds, model.Composition{Subject: "Draft"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFolderMissing)
	assert.True(t, IsProtocolError(err))
}

func TestSaveDraftRoundTrip(t *testing.T) {
	srv := newFakeServer(".", "INBOX.Drafts")
	svc := newTestService(srv)

	draft := model.Composition{
		To:       []string{"bob@example.org"},
		Bcc:      []string{"carol@example.org"},
		Subject:  "Plans für morgen",
		TextBody: "Let's meet at 10.\nBring the notes.",
	}
	require.NoError(t, svc.SaveDraft(t.Context(), testCreds, draft))
	assert.Empty(t, srv.submitted)

	msgs := srv.messages("INBOX.Drafts")
	require.Len(t, msgs, 1)
	assert.True(t, hasFlag(msgs[0].flags, imap.FlagDraft))
	assert.True(t, hasFlag(msgs[0].flags, imap.FlagSeen))

	detail, err := svc.GetMessage(t.Context(), testCreds, "INBOX.Drafts", uint32(msgs[0].uid))
	require.NoError(t, err)
	assert.Equal(t, draft.Subject, detail.Subject)
	require.Len(t, detail.To, 1)
	assert.Equal(t, "bob@example.org", detail.To[0].Address)
	assert.Equal(t, draft.TextBody, strings.ReplaceAll(detail.TextBody, "\r\n", "\n"))
	assert.Contains(t, string(msgs[0].raw), "carol@example.org")
}

func TestListMessagesEmptyFolderSkipsSearch(t *testing.T) {
	srv := newFakeServer(".", "INBOX.Archive")
	svc := newTestService(srv)

	page, err := svc.ListMessages(t.Context(), testCreds, "INBOX.Archive", model.ListOptions{Search: "anything"})
	require.NoError(t, err)
	assert.Equal(t, 0, page.Total)
	assert.NotNil(t, page.Messages)
	assert.Empty(t, page.Messages)
	assert.Zero(t, srv.count("SEARCH"))
	assert.Zero(t, srv.count("FETCH"))
}

func TestListMessagesPagesNewestFirst(t *testing.T) {
	srv := newFakeServer(".")
	// Delivered out of date order so uid order differs from arrival order.
	for _, day := range []int{3, 1, 5, 2, 4} {
		subject := fmt.Sprintf("Day %d", day)
		srv.deliver("INBOX", rawMessage(subject, "a@example.org", "user@example.com", "body", testDate(day)), testDate(day))
	}
	svc := newTestService(srv)

	var seen []string
	for page := 1; page <= 3; page++ {
		res, err := svc.ListMessages(t.Context(), testCreds, "INBOX", model.ListOptions{Page: page, PageSize: 2})
		require.NoError(t, err)
		assert.Equal(t, 5, res.Total)
		for _, m := range res.Messages {
			seen = append(seen, m.Subject)
		}
	}
	assert.Equal(t, []string{"Day 5", "Day 4", "Day 3", "Day 2", "Day 1"}, seen)

	past, err := svc.ListMessages(t.Context(), testCreds, "INBOX", model.ListOptions{Page: 9, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, past.Total)
	assert.Empty(t, past.Messages)
}

func TestListMessagesPageFarPastEndIsEmpty(t *testing.T) {
	srv := newFakeServer(".")
	srv.deliver("INBOX", rawMessage("Only", "a@example.org", "user@example.com", "body", testDate(1)), testDate(1))
	svc := newTestService(srv)

	for _, opts := range []model.ListOptions{
		{Page: math.MaxInt, PageSize: 50},
		{Page: math.MaxInt / 2, PageSize: model.MaxPageSize},
		{Page: 2, PageSize: 1},
	} {
		res, err := svc.ListMessages(t.Context(), testCreds, "INBOX", opts)
		require.NoError(t, err, "page %d", opts.Page)
		assert.Equal(t, 1, res.Total)
		assert.Empty(t, res.Messages)
	}
}

func TestListMessagesSearchFiltersTotal(t *testing.T) {
	srv := newFakeServer(".")
	srv.deliver("INBOX", rawMessage("Invoice March", "billing@example.org", "user@example.com", "due", testDate(1)), testDate(1))
	srv.deliver("INBOX", rawMessage("Lunch", "friend@example.org", "user@example.com", "noon?", testDate(2)), testDate(2))
	srv.deliver("INBOX", rawMessage("Invoice April", "billing@example.org", "user@example.com", "due", testDate(3)), testDate(3))
	svc := newTestService(srv)

	page, err := svc.ListMessages(t.Context(), testCreds, "INBOX", model.ListOptions{Search: "invoice"})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	require.Len(t, page.Messages, 2)
	assert.Equal(t, "Invoice April", page.Messages[0].Subject)
	assert.Equal(t, "billing@example.org", page.Messages[0].From[0].Address)
}

func TestListMessagesFlagsAttachments(t *testing.T) {
	srv := newFakeServer(".")
	raw, err := BuildMessage("a@example.org", model.Composition{
		To:          []string{"user@example.com"},
		Subject:     "Report",
		TextBody:    "attached",
		Attachments: []model.OutgoingAttachment{{Filename: "report.pdf", MIMEType: "application/pdf", Content: []byte("%PDF-1.4")}},
	}, BuildOptions{MessageID: "r@example.org", Date: testDate(4)})
	require.NoError(t, err)
	srv.deliver("INBOX", raw, testDate(4))
	svc := newTestService(srv)

	page, err := svc.ListMessages(t.Context(), testCreds, "INBOX", model.ListOptions{})
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.True(t, page.Messages[0].HasAttachments)
}

func TestGetMessageMarksSeen(t *testing.T) {
	srv := newFakeServer(".")
	uid := srv.deliver("INBOX", rawMessage("Hi", "a@example.org", "user@example.com", "hello there", testDate(1)), testDate(1))
	svc := newTestService(srv)

	detail, err := svc.GetMessage(t.Context(), testCreds, "INBOX", uint32(uid))
	require.NoError(t, err)
	assert.True(t, detail.IsRead())
	assert.Equal(t, "hello there", strings.TrimSpace(detail.TextBody))
	assert.True(t, hasFlag(srv.messages("INBOX")[0].flags, imap.FlagSeen))
}

func TestGetMessageUnknownUIDLeavesOthersUnread(t *testing.T) {
	srv := newFakeServer(".")
	srv.deliver("INBOX", rawMessage("A", "a@example.org", "user@example.com", "a", testDate(1)), testDate(1))
	srv.deliver("INBOX", rawMessage("B", "b@example.org", "user@example.com", "b", testDate(2)), testDate(2))
	svc := newTestService(srv)

	_, err := svc.GetMessage(t.Context(), testCreds, "INBOX", 999)
	require.Error(t, err)
	assert.True(t, IsProtocolError(err))
	assert.ErrorIs(t, err, ErrMessageNotFound)

	for _, m := range srv.messages("INBOX") {
		assert.False(t, hasFlag(m.flags, imap.FlagSeen), "uid %d", m.uid)
	}
}

func TestGetAttachmentPeeks(t *testing.T) {
	srv := newFakeServer(".")
	raw, err := BuildMessage("a@example.org", model.Composition{
		To:       []string{"user@example.com"},
		Subject:  "Photo",
		TextBody: "see attached",
		Attachments: []model.OutgoingAttachment{
			{Filename: "cat.png", MIMEType: "image/png", Content: []byte{0x89, 'P', 'N', 'G'}},
		},
	}, BuildOptions{MessageID: "p@example.org", Date: testDate(1)})
	require.NoError(t, err)
	uid := srv.deliver("INBOX", raw, testDate(1))
	svc := newTestService(srv)

	att, err := svc.GetAttachment(t.Context(), testCreds, "INBOX", uint32(uid), "CAT.png")
	require.NoError(t, err)
	assert.Equal(t, "cat.png", att.Filename)
	assert.Equal(t, "image/png", att.MIMEType)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, att.Content)
	assert.False(t, hasFlag(srv.messages("INBOX")[0].flags, imap.FlagSeen))

	_, err = svc.GetAttachment(t.Context(), testCreds, "INBOX", uint32(uid), "dog.png")
	assert.ErrorIs(t, err, ErrAttachmentNotFound)
}

func TestSetFlagIsIdempotent(t *testing.T) {
	srv := newFakeServer(".")
	uid := srv.deliver("INBOX", rawMessage("Star me", "a@example.org", "user@example.com", "x", testDate(1)), testDate(1))
	svc := newTestService(srv)

	for range 2 {
		require.NoError(t, svc.SetFlag(t.Context(), testCreds, "INBOX", uint32(uid), model.MessageFlagFlagged, true))
	}
	assert.Equal(t, []imap.Flag{imap.FlagFlagged}, srv.messages("INBOX")[0].flags)

	for range 2 {
		require.NoError(t, svc.SetFlag(t.Context(), testCreds, "INBOX", uint32(uid), model.MessageFlagFlagged, false))
	}
	assert.Empty(t, srv.messages("INBOX")[0].flags)

	err := svc.SetFlag(t.Context(), testCreds, "INBOX", uint32(uid), model.MessageFlag(`\Deleted`), true)
	assert.ErrorIs(t, err, ErrUnsupportedFlag)
}

func TestMoveMessage(t *testing.T) {
	srv := newFakeServer(".", "INBOX.Work")
	uid := srv.deliver("INBOX", rawMessage("Move me", "a@example.org", "user@example.com", "x", testDate(1)), testDate(1))
	svc := newTestService(srv)

	require.NoError(t, svc.MoveMessage(t.Context(), testCreds, "INBOX", uint32(uid), "INBOX.Work"))
	assert.Empty(t, srv.messages("INBOX"))
	assert.Len(t, srv.messages("INBOX.Work"), 1)

	err := svc.MoveMessage(t.Context(), testCreds, "INBOX.Work", 1, "INBOX.Nowhere")
	assert.ErrorIs(t, err, ErrFolderMissing)
}

func TestDeleteMessageSoftMovesToTrash(t *testing.T) {
	srv := newFakeServer(".", "INBOX.Trash")
	uid := srv.deliver("INBOX", rawMessage("Old news", "a@example.org", "user@example.com", "x", testDate(7)), testDate(7))
	svc := newTestService(srv)

	require.NoError(t, svc.DeleteMessage(t.Context(), testCreds, "INBOX", uint32(uid), false))

	inbox, err := svc.ListMessages(t.Context(), testCreds, "INBOX", model.ListOptions{})
	require.NoError(t, err)
	assert.Zero(t, inbox.Total)

	trash, err := svc.ListMessages(t.Context(), testCreds, "INBOX.Trash", model.ListOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, trash.Total)
	assert.Equal(t, "Old news", trash.Messages[0].Subject)
	assert.True(t, testDate(7).Equal(trash.Messages[0].Date))
	assert.Zero(t, srv.count("EXPUNGE"))
}

func TestDeleteMessageInTrashExpunges(t *testing.T) {
	srv := newFakeServer(".", "INBOX.Trash")
	uid := srv.deliver("INBOX.Trash", rawMessage("Gone", "a@example.org", "user@example.com", "x", testDate(1)), testDate(1))
	svc := newTestService(srv)

	require.NoError(t, svc.DeleteMessage(t.Context(), testCreds, "INBOX.Trash", uint32(uid), false))
	assert.Empty(t, srv.messages("INBOX.Trash"))
	assert.Equal(t, 1, srv.count("EXPUNGE"))
	assert.Zero(t, srv.count("MOVE"))
}

func TestDeleteMessagePermanentSkipsTrash(t *testing.T) {
	srv := newFakeServer(".", "INBOX.Trash")
	uid := srv.deliver("INBOX", rawMessage("Secret", "a@example.org", "user@example.com", "x", testDate(1)), testDate(1))
	svc := newTestService(srv)

	require.NoError(t, svc.DeleteMessage(t.Context(), testCreds, "INBOX", uint32(uid), true))
	assert.Empty(t, srv.messages("INBOX"))
	assert.Empty(t, srv.messages("INBOX.Trash"))
	assert.Zero(t, srv.count("LIST"))
}

func TestOperationsCloseSessionOnError(t *testing.T) {
	srv := newFakeServer(".")
	svc := newTestService(srv)

	_, err := svc.ListMessages(t.Context(), testCreds, "INBOX.Missing", model.ListOptions{})
	require.Error(t, err)
	assert.True(t, IsProtocolError(err))
	assert.Equal(t, srv.sessions, srv.closed)
}

func TestAuthFailureIsClassified(t *testing.T) {
	srv := newFakeServer(".")
	srv.authErr = errors.New("NO [AUTHENTICATIONFAILED] invalid credentials")
	svc := newTestService(srv)

	err := svc.TestCredentials(t.Context(), testCreds)
	assert.True(t, IsAuthError(err))

	err = svc.TestCredentials(t.Context(), model.Credentials{Address: "user@example.com"})
	assert.True(t, IsAuthError(err))
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}
