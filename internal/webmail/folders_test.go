package webmail

import (
	"testing"

	"github.com/emersion/go-imap/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailpanel/internal/model"
)

func TestResolveSpecialPrefersAttribute(t *testing.T) {
	boxes := []MailboxInfo{
		{Path: "INBOX", Delimiter: "/"},
		{Path: "Sent", Delimiter: "/"},
		{Path: "Outbox Copies", Delimiter: "/", Attrs: []imap.MailboxAttr{imap.MailboxAttrSent}},
	}

	res := resolveSpecial(boxes, model.SpecialUseSent)
	assert.Equal(t, model.FolderPath("Outbox Copies"), res.Path)
	assert.False(t, res.Fabricated)
}

func TestResolveSpecialTopLevelAlias(t *testing.T) {
	boxes := []MailboxInfo{
		{Path: "INBOX", Delimiter: "."},
		{Path: "deleted items", Delimiter: "."},
	}

	res := resolveSpecial(boxes, model.SpecialUseTrash)
	assert.Equal(t, model.FolderPath("deleted items"), res.Path)
	assert.False(t, res.Fabricated)
}

func TestResolveSpecialInboxChild(t *testing.T) {
	boxes := []MailboxInfo{
		{Path: "INBOX", Delimiter: "."},
		{Path: "INBOX.Projects", Delimiter: "."},
		{Path: "INBOX.Spam", Delimiter: "."},
	}

	res := resolveSpecial(boxes, model.SpecialUseJunk)
	assert.Equal(t, model.FolderPath("INBOX.Spam"), res.Path)
	assert.False(t, res.Fabricated)
}

func TestResolveSpecialIgnoresDeeplyNestedAlias(t *testing.T) {
	boxes := []MailboxInfo{
		{Path: "INBOX", Delimiter: "."},
		{Path: "INBOX.Projects", Delimiter: "."},
		{Path: "INBOX.Projects.Trash", Delimiter: "."},
		{Path: "Archive.Trash", Delimiter: "."},
	}

	res := resolveSpecial(boxes, model.SpecialUseTrash)
	assert.Equal(t, model.FolderPath("INBOX.Trash"), res.Path)
	assert.True(t, res.Fabricated)
}

func TestResolveSpecialSkipsUnselectable(t *testing.T) {
	boxes := []MailboxInfo{
		{Path: "INBOX", Delimiter: "/"},
		{Path: "Drafts", Delimiter: "/", Attrs: []imap.MailboxAttr{imap.MailboxAttrNoSelect}},
	}

	res := resolveSpecial(boxes, model.SpecialUseDrafts)
	assert.True(t, res.Fabricated)
	assert.Equal(t, model.FolderPath("INBOX/Drafts"), res.Path)
}

func TestResolveSpecialFabricatesWithDefaultDelimiter(t *testing.T) {
	res := resolveSpecial([]MailboxInfo{{Path: "INBOX"}}, model.SpecialUseSent)
	assert.True(t, res.Fabricated)
	assert.Equal(t, model.FolderPath("INBOX.Sent"), res.Path)
}

func TestClassifyFolders(t *testing.T) {
	boxes := []MailboxInfo{
		{Path: "INBOX", Delimiter: "."},
		{Path: "INBOX.Sent Items", Delimiter: "."},
		{Path: "INBOX.Trash", Delimiter: ".", Attrs: []imap.MailboxAttr{imap.MailboxAttrTrash}},
		{Path: "INBOX.Work", Delimiter: "."},
	}

	roles := classifyFolders(boxes)
	assert.Equal(t, model.SpecialUseSent, roles["INBOX.Sent Items"])
	assert.Equal(t, model.SpecialUseTrash, roles["INBOX.Trash"])
	assert.Equal(t, model.SpecialUseNone, roles["INBOX.Work"])
}

func TestFolderPathForCreate(t *testing.T) {
	namespaced := []MailboxInfo{
		{Path: "INBOX", Delimiter: "."},
		{Path: "INBOX.Sent", Delimiter: "."},
	}
	flat := []MailboxInfo{
		{Path: "INBOX", Delimiter: "/"},
		{Path: "Sent", Delimiter: "/"},
	}

	tests := []struct {
		name  string
		boxes []MailboxInfo
		input string
		want  model.FolderPath
	}{
		{"namespaced server gets prefix", namespaced, "Projects", "INBOX.Projects"},
		{"already prefixed", namespaced, "INBOX.Projects", "INBOX.Projects"},
		{"prefix is case-insensitive", namespaced, "inbox.Projects", "inbox.Projects"},
		{"flat server keeps name", flat, "Projects", "Projects"},
		{"whitespace trimmed", flat, "  Projects ", "Projects"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := folderPathForCreate(tt.boxes, tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFolderPathForCreateRejectsInvalid(t *testing.T) {
	boxes := []MailboxInfo{{Path: "INBOX", Delimiter: "."}}

	for _, name := range []string{"", "   ", "INBOX", "bad\r\nname"} {
		_, err := folderPathForCreate(boxes, name)
		assert.ErrorIs(t, err, model.ErrInvalidFolderPath, "name %q", name)
	}
}

func TestListFoldersProbeFailureYieldsZeroCounts(t *testing.T) {
	srv := newFakeServer(".", "INBOX.Sent", "INBOX.Archive")
	srv.deliver("INBOX", rawMessage("One", "a@example.com", "user@example.com", "hi", testDate(1)), testDate(1))
	srv.deliver("INBOX.Archive", rawMessage("Two", "a@example.com", "user@example.com", "hi", testDate(2)), testDate(2))
	srv.failStatus["INBOX.Archive"] = true

	svc := newTestService(srv)
	folders, err := svc.ListFolders(t.Context(), testCreds)
	require.NoError(t, err)
	require.Len(t, folders, 3)

	byPath := map[model.FolderPath]model.Folder{}
	for _, f := range folders {
		byPath[f.Path] = f
	}

	assert.Equal(t, model.MessageCounts{Total: 1, Unseen: 1}, byPath["INBOX"].Messages)
	assert.Equal(t, model.MessageCounts{}, byPath["INBOX.Archive"].Messages)
	assert.Equal(t, model.SpecialUseSent, byPath["INBOX.Sent"].SpecialUse)
	assert.Equal(t, "Sent", byPath["INBOX.Sent"].Name)
	assert.Equal(t, 1, srv.closed)
}

func TestResolveSpecialFolderIsStable(t *testing.T) {
	srv := newFakeServer(".", "INBOX.Sent Messages", "INBOX.Drafts")
	svc := newTestService(srv)

	first, err := svc.ResolveSpecialFolder(t.Context(), testCreds, model.SpecialUseSent)
	require.NoError(t, err)
	second, err := svc.ResolveSpecialFolder(t.Context(), testCreds, model.SpecialUseSent)
	require.NoError(t, err)

	assert.Equal(t, model.FolderPath("INBOX.Sent Messages"), first)
	assert.Equal(t, first, second)
	assert.Zero(t, srv.count("CREATE"))
}

func TestCreateAndDeleteFolder(t *testing.T) {
	srv := newFakeServer(".", "INBOX.Sent")
	svc := newTestService(srv)

	path, err := svc.CreateFolder(t.Context(), testCreds, "Receipts")
	require.NoError(t, err)
	assert.Equal(t, model.FolderPath("INBOX.Receipts"), path)
	require.NotNil(t, srv.mailbox("INBOX.Receipts"))

	require.NoError(t, svc.DeleteFolder(t.Context(), testCreds, path))
	assert.Nil(t, srv.mailbox("INBOX.Receipts"))
}

func TestDeleteFolderRejectsInbox(t *testing.T) {
	srv := newFakeServer(".")
	svc := newTestService(srv)

	err := svc.DeleteFolder(t.Context(), testCreds, "inbox")
	assert.ErrorIs(t, err, ErrReservedFolder)
	assert.Zero(t, srv.sessions)
}
