package webmail

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-message/mail"

	"github.com/nhle/mailpanel/internal/model"
)

// fakeServer is an in-memory mail server that records the commands it
// receives.
type fakeServer struct {
	mu sync.Mutex

	boxes      []*fakeMailbox
	calls      []string
	failStatus map[string]bool
	failAppend error
	authErr    error

	submitted []fakeSubmission
	sessions  int
	closed    int
}

type fakeMailbox struct {
	info    MailboxInfo
	nextUID imap.UID
	msgs    []*fakeMessage
}

type fakeMessage struct {
	uid   imap.UID
	raw   []byte
	flags []imap.Flag
	date  time.Time
}

type fakeSubmission struct {
	from  string
	rcpts []string
	raw   []byte
}

func newFakeServer(delim string, paths ...string) *fakeServer {
	f := &fakeServer{failStatus: map[string]bool{}}
	f.addMailbox(MailboxInfo{Path: "INBOX", Delimiter: delim})
	for _, p := range paths {
		f.addMailbox(MailboxInfo{Path: p, Delimiter: delim})
	}
	return f
}

func (f *fakeServer) addMailbox(info MailboxInfo) *fakeMailbox {
	box := &fakeMailbox{info: info, nextUID: 1}
	f.boxes = append(f.boxes, box)
	return box
}

func (f *fakeServer) mailbox(path string) *fakeMailbox {
	for _, b := range f.boxes {
		if b.info.Path == path {
			return b
		}
	}
	return nil
}

// deliver stores raw in path and returns its uid.
func (f *fakeServer) deliver(path string, raw []byte, date time.Time, flags ...imap.Flag) imap.UID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mailbox(path).add(raw, date, flags)
}

func (b *fakeMailbox) add(raw []byte, date time.Time, flags []imap.Flag) imap.UID {
	uid := b.nextUID
	b.nextUID++
	b.msgs = append(b.msgs, &fakeMessage{
		uid:   uid,
		raw:   append([]byte(nil), raw...),
		flags: append([]imap.Flag(nil), flags...),
		date:  date,
	})
	return uid
}

func (b *fakeMailbox) find(uid imap.UID) *fakeMessage {
	for _, m := range b.msgs {
		if m.uid == uid {
			return m
		}
	}
	return nil
}

func (b *fakeMailbox) remove(uid imap.UID) {
	for i, m := range b.msgs {
		if m.uid == uid {
			b.msgs = append(b.msgs[:i], b.msgs[i+1:]...)
			return
		}
	}
}

func (f *fakeServer) count(cmd string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == cmd {
			n++
		}
	}
	return n
}

func (f *fakeServer) messages(path string) []*fakeMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeMessage(nil), f.mailbox(path).msgs...)
}

func (f *fakeServer) OpenMailSession(_ context.Context, creds model.Credentials) (MailSession, error) {
	if err := validateCredentials(creds); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.authErr != nil {
		return nil, &AuthError{Protocol: "IMAP", Err: f.authErr}
	}
	f.sessions++
	return &fakeSession{srv: f}, nil
}

func (f *fakeServer) OpenTransport(_ context.Context, creds model.Credentials) (Sender, error) {
	if err := validateCredentials(creds); err != nil {
		return nil, err
	}
	return &fakeSender{srv: f}, nil
}

type fakeSender struct {
	srv *fakeServer
}

func (s *fakeSender) Send(from string, rcpts []string, raw []byte) error {
	s.srv.mu.Lock()
	defer s.srv.mu.Unlock()
	s.srv.submitted = append(s.srv.submitted, fakeSubmission{from: from, rcpts: rcpts, raw: raw})
	return nil
}

func (s *fakeSender) Close() error { return nil }

type fakeSession struct {
	srv      *fakeServer
	selected *fakeMailbox
}

func (s *fakeSession) record(cmd string) {
	s.srv.calls = append(s.srv.calls, cmd)
}

func nonExistent(path string) error {
	return missingMailbox(&imap.Error{
		Type: imap.StatusResponseTypeNo,
		Code: imap.ResponseCodeTryCreate,
		Text: "mailbox does not exist: " + path,
	})
}

func (s *fakeSession) List() ([]MailboxInfo, error) {
	s.srv.mu.Lock()
	defer s.srv.mu.Unlock()
	s.record("LIST")
	out := make([]MailboxInfo, 0, len(s.srv.boxes))
	for _, b := range s.srv.boxes {
		out = append(out, b.info)
	}
	return out, nil
}

func (s *fakeSession) Status(path string) (model.MessageCounts, error) {
	s.srv.mu.Lock()
	defer s.srv.mu.Unlock()
	s.record("STATUS")
	if s.srv.failStatus[path] {
		return model.MessageCounts{}, fmt.Errorf("status %s: server busy", path)
	}
	box := s.srv.mailbox(path)
	if box == nil {
		return model.MessageCounts{}, nonExistent(path)
	}
	counts := model.MessageCounts{Total: uint32(len(box.msgs))}
	for _, m := range box.msgs {
		if !hasFlag(m.flags, imap.FlagSeen) {
			counts.Unseen++
		}
	}
	return counts, nil
}

func (s *fakeSession) Select(path string, _ bool) (uint32, error) {
	s.srv.mu.Lock()
	defer s.srv.mu.Unlock()
	s.record("SELECT")
	box := s.srv.mailbox(path)
	if box == nil {
		return 0, nonExistent(path)
	}
	s.selected = box
	return uint32(len(box.msgs)), nil
}

func (s *fakeSession) Search(text string) ([]imap.UID, error) {
	s.srv.mu.Lock()
	defer s.srv.mu.Unlock()
	s.record("SEARCH")
	var uids []imap.UID
	for _, m := range s.selected.msgs {
		if text == "" || bytes.Contains(bytes.ToLower(m.raw), bytes.ToLower([]byte(text))) {
			uids = append(uids, m.uid)
		}
	}
	return uids, nil
}

func (s *fakeSession) FetchDates(uids []imap.UID) ([]FetchedMessage, error) {
	s.srv.mu.Lock()
	defer s.srv.mu.Unlock()
	s.record("FETCH")
	var out []FetchedMessage
	for _, uid := range uids {
		if m := s.selected.find(uid); m != nil {
			out = append(out, FetchedMessage{UID: uid, InternalDate: m.date})
		}
	}
	return out, nil
}

func (s *fakeSession) FetchSummaries(uids []imap.UID) ([]FetchedMessage, error) {
	s.srv.mu.Lock()
	defer s.srv.mu.Unlock()
	s.record("FETCH")
	var out []FetchedMessage
	for _, uid := range uids {
		m := s.selected.find(uid)
		if m == nil {
			continue
		}
		env, bs := fakeEnvelope(m.raw)
		out = append(out, FetchedMessage{
			UID:           uid,
			Flags:         append([]imap.Flag(nil), m.flags...),
			InternalDate:  m.date,
			Envelope:      env,
			BodyStructure: bs,
		})
	}
	return out, nil
}

func (s *fakeSession) FetchRaw(uid imap.UID, markSeen bool) (*FetchedMessage, error) {
	s.srv.mu.Lock()
	defer s.srv.mu.Unlock()
	s.record("FETCH")
	m := s.selected.find(uid)
	if m == nil {
		return nil, fmt.Errorf("uid %d: %w", uid, ErrMessageNotFound)
	}
	flags := append([]imap.Flag(nil), m.flags...)
	if markSeen && !hasFlag(m.flags, imap.FlagSeen) {
		m.flags = append(m.flags, imap.FlagSeen)
	}
	return &FetchedMessage{UID: uid, Flags: flags, InternalDate: m.date, Raw: m.raw}, nil
}

func (s *fakeSession) StoreFlags(uid imap.UID, flags []imap.Flag, add bool) error {
	s.srv.mu.Lock()
	defer s.srv.mu.Unlock()
	s.record("STORE")
	m := s.selected.find(uid)
	if m == nil {
		return nil
	}
	for _, flag := range flags {
		has := hasFlag(m.flags, flag)
		switch {
		case add && !has:
			m.flags = append(m.flags, flag)
		case !add && has:
			kept := m.flags[:0]
			for _, f := range m.flags {
				if !strings.EqualFold(string(f), string(flag)) {
					kept = append(kept, f)
				}
			}
			m.flags = kept
		}
	}
	return nil
}

func (s *fakeSession) Move(uid imap.UID, target string) error {
	s.srv.mu.Lock()
	defer s.srv.mu.Unlock()
	s.record("MOVE")
	dst := s.srv.mailbox(target)
	if dst == nil {
		return nonExistent(target)
	}
	m := s.selected.find(uid)
	if m == nil {
		return fmt.Errorf("uid %d: %w", uid, ErrMessageNotFound)
	}
	dst.add(m.raw, m.date, m.flags)
	s.selected.remove(uid)
	return nil
}

func (s *fakeSession) Expunge(uid imap.UID) error {
	s.srv.mu.Lock()
	defer s.srv.mu.Unlock()
	s.record("EXPUNGE")
	s.selected.remove(uid)
	return nil
}

func (s *fakeSession) Append(path string, raw []byte, flags []imap.Flag, date time.Time) error {
	s.srv.mu.Lock()
	defer s.srv.mu.Unlock()
	s.record("APPEND")
	if s.srv.failAppend != nil {
		return s.srv.failAppend
	}
	box := s.srv.mailbox(path)
	if box == nil {
		return nonExistent(path)
	}
	box.add(raw, date, flags)
	return nil
}

func (s *fakeSession) Create(path string) error {
	s.srv.mu.Lock()
	defer s.srv.mu.Unlock()
	s.record("CREATE")
	if s.srv.mailbox(path) != nil {
		return fmt.Errorf("creating %s: already exists", path)
	}
	delim := s.srv.boxes[0].info.Delimiter
	s.srv.addMailbox(MailboxInfo{Path: path, Delimiter: delim})
	return nil
}

func (s *fakeSession) Delete(path string) error {
	s.srv.mu.Lock()
	defer s.srv.mu.Unlock()
	s.record("DELETE")
	for i, b := range s.srv.boxes {
		if b.info.Path == path {
			s.srv.boxes = append(s.srv.boxes[:i], s.srv.boxes[i+1:]...)
			return nil
		}
	}
	return nonExistent(path)
}

func (s *fakeSession) Close() error {
	s.srv.mu.Lock()
	defer s.srv.mu.Unlock()
	s.srv.closed++
	return nil
}

func hasFlag(flags []imap.Flag, flag imap.Flag) bool {
	for _, f := range flags {
		if strings.EqualFold(string(f), string(flag)) {
			return true
		}
	}
	return false
}

// fakeEnvelope derives the ENVELOPE and a minimal BODYSTRUCTURE a server
// would report for raw.
func fakeEnvelope(raw []byte) (*imap.Envelope, imap.BodyStructure) {
	env := &imap.Envelope{}
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return env, nil
	}
	defer mr.Close()

	env.Subject, _ = mr.Header.Subject()
	env.MessageID, _ = mr.Header.MessageID()
	env.Date, _ = mr.Header.Date()
	env.From = imapAddresses(mr.Header, "From")
	env.To = imapAddresses(mr.Header, "To")
	env.Cc = imapAddresses(mr.Header, "Cc")

	text := &imap.BodyStructureSinglePart{Type: "text", Subtype: "plain"}
	detail, err := parseMessage(0, raw, false)
	if err != nil || len(detail.Attachments) == 0 {
		return env, text
	}

	children := []imap.BodyStructure{text}
	for _, a := range detail.Attachments {
		children = append(children, &imap.BodyStructureSinglePart{
			Type:    "application",
			Subtype: "octet-stream",
			Extended: &imap.BodyStructureSinglePartExt{
				Disposition: &imap.BodyStructureDisposition{
					Value:  "attachment",
					Params: map[string]string{"filename": a.Filename},
				},
			},
		})
	}
	return env, &imap.BodyStructureMultiPart{Subtype: "mixed", Children: children}
}

func imapAddresses(h mail.Header, key string) []imap.Address {
	list, err := h.AddressList(key)
	if err != nil {
		return nil
	}
	out := make([]imap.Address, 0, len(list))
	for _, a := range list {
		mailbox, host, _ := strings.Cut(a.Address, "@")
		out = append(out, imap.Address{Name: a.Name, Mailbox: mailbox, Host: host})
	}
	return out
}

// rawMessage renders a minimal RFC 5322 message.
func rawMessage(subject, from, to, body string, date time.Time) []byte {
	return []byte("From: " + from + "\r\n" +
		"To: " + to + "\r\n" +
		"Subject: " + subject + "\r\n" +
		"Date: " + date.Format(time.RFC1123Z) + "\r\n" +
		"Message-ID: <" + strings.ReplaceAll(strings.ToLower(subject), " ", "-") + "@example.com>\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" + body + "\r\n")
}
