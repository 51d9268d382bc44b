package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailpanel/internal/model"
	"github.com/nhle/mailpanel/internal/session"
	"github.com/nhle/mailpanel/internal/webmail"
)

// fakeWebmail records the last call and returns canned results.
type fakeWebmail struct {
	password string
	err      error

	folders    []model.Folder
	page       *model.MessagePage
	detail     *model.MessageDetail
	attachment *model.Attachment

	lastCreds model.Credentials
	lastPath  model.FolderPath
	lastUID   uint32
	lastOpts  model.ListOptions
	lastCall  string
	lastArgs  []any
	composed  *model.Composition
}

func (f *fakeWebmail) record(creds model.Credentials, call string, args ...any) error {
	f.lastCreds, f.lastCall, f.lastArgs = creds, call, args
	return f.err
}

func (f *fakeWebmail) TestCredentials(_ context.Context, creds model.Credentials) error {
	f.lastCreds, f.lastCall = creds, "login"
	if f.err != nil {
		return f.err
	}
	if creds.Secret != f.password {
		return &webmail.AuthError{Protocol: "IMAP", Err: webmail.ErrInvalidCredentials}
	}
	return nil
}

func (f *fakeWebmail) ListFolders(_ context.Context, creds model.Credentials) ([]model.Folder, error) {
	return f.folders, f.record(creds, "list_folders")
}

func (f *fakeWebmail) CreateFolder(_ context.Context, creds model.Credentials, name string) (model.FolderPath, error) {
	return model.FolderPath("INBOX." + name), f.record(creds, "create_folder", name)
}

func (f *fakeWebmail) DeleteFolder(_ context.Context, creds model.Credentials, path model.FolderPath) error {
	f.lastPath = path
	return f.record(creds, "delete_folder")
}

func (f *fakeWebmail) ListMessages(_ context.Context, creds model.Credentials, path model.FolderPath, opts model.ListOptions) (*model.MessagePage, error) {
	f.lastPath, f.lastOpts = path, opts
	return f.page, f.record(creds, "list_messages")
}

func (f *fakeWebmail) GetMessage(_ context.Context, creds model.Credentials, path model.FolderPath, uid uint32) (*model.MessageDetail, error) {
	f.lastPath, f.lastUID = path, uid
	return f.detail, f.record(creds, "get_message")
}

func (f *fakeWebmail) GetAttachment(_ context.Context, creds model.Credentials, path model.FolderPath, uid uint32, filename string) (*model.Attachment, error) {
	f.lastPath, f.lastUID = path, uid
	return f.attachment, f.record(creds, "get_attachment", filename)
}

func (f *fakeWebmail) SetFlag(_ context.Context, creds model.Credentials, path model.FolderPath, uid uint32, flag model.MessageFlag, value bool) error {
	f.lastPath, f.lastUID = path, uid
	return f.record(creds, "set_flag", flag, value)
}

func (f *fakeWebmail) MoveMessage(_ context.Context, creds model.Credentials, path model.FolderPath, uid uint32, target model.FolderPath) error {
	f.lastPath, f.lastUID = path, uid
	return f.record(creds, "move_message", target)
}

func (f *fakeWebmail) DeleteMessage(_ context.Context, creds model.Credentials, path model.FolderPath, uid uint32, permanent bool) error {
	f.lastPath, f.lastUID = path, uid
	return f.record(creds, "delete_message", permanent)
}

func (f *fakeWebmail) Send(_ context.Context, creds model.Credentials, c model.Composition) (*webmail.SendResult, error) {
	f.composed = &c
	if err := f.record(creds, "send"); err != nil {
		return nil, err
	}
	return &webmail.SendResult{MessageID: "abc@example.com"}, nil
}

func (f *fakeWebmail) SaveDraft(_ context.Context, creds model.Credentials, c model.Composition) error {
	f.composed = &c
	return f.record(creds, "save_draft")
}

type harness struct {
	t        *testing.T
	handler  http.Handler
	mail     *fakeWebmail
	sessions *session.Manager
	registry *prometheus.Registry
	logHook  *test.Hook
}

func newHarness(t *testing.T, prov Provisioner) *harness {
	t.Helper()
	sessions, err := session.NewManager(bytes.Repeat([]byte{9}, 32), 24*time.Hour)
	require.NoError(t, err)
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	mail := &fakeWebmail{password: "hunter22"}
	registry := prometheus.NewRegistry()
	srv := NewServer(Deps{
		Config:    model.ServerConfig{AdminToken: "admin-secret"},
		Webmail:   mail,
		Sessions:  sessions,
		Provision: prov,
		Registry:  registry,
		Log:       logrus.NewEntry(logger),
	})
	return &harness{t: t, handler: srv.Handler(), mail: mail, sessions: sessions, registry: registry, logHook: hook}
}

func testLog() *logrus.Entry {
	logger, _ := test.NewNullLogger()
	return logrus.NewEntry(logger)
}

// cookie returns a valid session cookie for user@example.com.
func (h *harness) cookie() *http.Cookie {
	h.t.Helper()
	token, _, err := h.sessions.Issue(model.Credentials{Address: "user@example.com", Secret: "hunter22"})
	require.NoError(h.t, err)
	return &http.Cookie{Name: session.CookieName, Value: token}
}

func (h *harness) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

// authed sends a request carrying the session cookie.
func (h *harness) authed(method, target string, body any) *httptest.ResponseRecorder {
	req := newJSONRequest(h.t, method, target, body)
	req.AddCookie(h.cookie())
	return h.do(req)
}

// admin sends a request carrying the admin token.
func (h *harness) admin(method, target string, body any) *httptest.ResponseRecorder {
	req := newJSONRequest(h.t, method, target, body)
	req.Header.Set(AdminTokenHeader, "admin-secret")
	return h.do(req)
}

func newJSONRequest(t *testing.T, method, target string, body any) *http.Request {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

type response struct {
	Success      bool            `json:"success"`
	Message      string          `json:"message"`
	Data         json.RawMessage `json:"data"`
	NeedPassword bool            `json:"needPassword"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) response {
	t.Helper()
	var resp response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp
}

func sessionCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == session.CookieName {
			return c
		}
	}
	return nil
}
