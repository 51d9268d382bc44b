package app

import (
	"fmt"
	"math"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nhle/mailpanel/internal/model"
	"github.com/nhle/mailpanel/internal/session"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionInfo struct {
	Email     string    `json:"email"`
	LoginAt   time.Time `json:"loginAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		writeFail(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	s.startSession(w, r, model.Credentials{Address: req.Email, Secret: req.Password}, true)
}

// startSession issues the session cookie for creds, optionally checking
// them against the mail server first.
func (s *Server) startSession(w http.ResponseWriter, r *http.Request, creds model.Credentials, verify bool) {
	if verify {
		if err := s.webmail.TestCredentials(r.Context(), creds); err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	token, expires, err := s.sessions.Issue(creds)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.setSessionCookie(w, token, expires)
	writeJSON(w, http.StatusOK, envelope{
		Success: true,
		Message: "Signed in",
		Data:    map[string]string{"email": creds.Address},
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, _ *http.Request) {
	s.clearSessionCookie(w)
	writeOK(w, "Signed out")
}

// handleSession reports the current session, or null data when signed out.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(session.CookieName)
	if err != nil {
		writeData(w, nil)
		return
	}
	sess, err := s.sessions.Open(cookie.Value)
	if err != nil {
		writeData(w, nil)
		return
	}
	writeData(w, sessionInfo{
		Email:     sess.Credentials.Address,
		LoginAt:   sess.LoginAt,
		ExpiresAt: sess.ExpiresAt,
	})
}

func (s *Server) handleListFolders(w http.ResponseWriter, r *http.Request) {
	folders, err := s.webmail.ListFolders(r.Context(), credentialsFrom(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, folders)
}

func (s *Server) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeFail(w, http.StatusBadRequest, "Folder name is required")
		return
	}

	path, err := s.webmail.CreateFolder(r.Context(), credentialsFrom(r), req.Name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, envelope{
		Success: true,
		Message: "Folder created",
		Data:    map[string]model.FolderPath{"path": path},
	})
}

func (s *Server) handleDeleteFolder(w http.ResponseWriter, r *http.Request) {
	path, err := model.ParseFolderPath(r.URL.Query().Get("name"))
	if err != nil {
		writeFail(w, http.StatusBadRequest, "Folder name is required")
		return
	}
	if err := s.webmail.DeleteFolder(r.Context(), credentialsFrom(r), path); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, "Folder deleted")
}

type messagePage struct {
	Messages   []messageSummary `json:"messages"`
	Total      int              `json:"total"`
	Page       int              `json:"page"`
	Limit      int              `json:"limit"`
	TotalPages int              `json:"totalPages"`
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	path, err := folderParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	opts := model.ListOptions{
		Page:     atoiOr(q.Get("page"), 1),
		PageSize: atoiOr(firstNonEmpty(q.Get("limit"), q.Get("pageSize")), model.DefaultPageSize),
		Search:   q.Get("search"),
	}.Normalize()

	page, err := s.webmail.ListMessages(r.Context(), credentialsFrom(r), path, opts)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	out := messagePage{
		Messages:   make([]messageSummary, 0, len(page.Messages)),
		Total:      page.Total,
		Page:       opts.Page,
		Limit:      opts.PageSize,
		TotalPages: int(math.Ceil(float64(page.Total) / float64(opts.PageSize))),
	}
	for _, m := range page.Messages {
		out.Messages = append(out.Messages, newMessageSummary(m))
	}
	writeData(w, out)
}

func (s *Server) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	path, uid, err := messageParams(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	detail, err := s.webmail.GetMessage(r.Context(), credentialsFrom(r), path, uid)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, newMessageDetail(detail))
}

type updateMessageRequest struct {
	Action       string `json:"action"`
	Value        bool   `json:"value"`
	TargetFolder string `json:"targetFolder"`
}

func (s *Server) handleUpdateMessage(w http.ResponseWriter, r *http.Request) {
	path, uid, err := messageParams(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req updateMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	ctx, creds := r.Context(), credentialsFrom(r)
	switch req.Action {
	case "read":
		err = s.webmail.SetFlag(ctx, creds, path, uid, model.MessageFlagSeen, req.Value)
	case "star":
		err = s.webmail.SetFlag(ctx, creds, path, uid, model.MessageFlagFlagged, req.Value)
	case "move":
		target, parseErr := model.ParseFolderPath(req.TargetFolder)
		if parseErr != nil {
			writeFail(w, http.StatusBadRequest, "Target folder is required")
			return
		}
		err = s.webmail.MoveMessage(ctx, creds, path, uid, target)
	default:
		writeFail(w, http.StatusBadRequest, fmt.Sprintf("Unknown action %q", req.Action))
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, "Message updated")
}

func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	path, uid, err := messageParams(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	permanent := r.URL.Query().Get("permanent") == "true"
	if err := s.webmail.DeleteMessage(r.Context(), credentialsFrom(r), path, uid, permanent); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, "Message deleted")
}

func (s *Server) handleGetAttachment(w http.ResponseWriter, r *http.Request) {
	path, uid, err := messageParams(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	filename := r.URL.Query().Get("filename")
	if filename == "" {
		writeFail(w, http.StatusBadRequest, "Filename is required")
		return
	}

	att, err := s.webmail.GetAttachment(r.Context(), credentialsFrom(r), path, uid, filename)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	contentType := att.MIMEType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": att.Filename})
	if disposition == "" {
		disposition = "attachment"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", disposition)
	w.Header().Set("Content-Length", strconv.Itoa(len(att.Content)))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(att.Content)
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	c, err := parseComposition(w, r, false)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.webmail.Send(r.Context(), credentialsFrom(r), c)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "Message sent", Data: res})
}

func (s *Server) handleSaveDraft(w http.ResponseWriter, r *http.Request) {
	c, err := parseComposition(w, r, true)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.webmail.SaveDraft(r.Context(), credentialsFrom(r), c); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, "Draft saved")
}

// folderParam reads ?folder=, defaulting to INBOX.
func folderParam(r *http.Request) (model.FolderPath, error) {
	raw := r.URL.Query().Get("folder")
	if raw == "" {
		return model.InboxPath, nil
	}
	return model.ParseFolderPath(raw)
}

func messageParams(r *http.Request) (model.FolderPath, uint32, error) {
	path, err := folderParam(r)
	if err != nil {
		return "", 0, err
	}
	uid, err := strconv.ParseUint(chi.URLParam(r, "uid"), 10, 32)
	if err != nil || uid == 0 {
		return "", 0, badRequest("Message uid must be a positive number")
	}
	return path, uint32(uid), nil
}

func atoiOr(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
