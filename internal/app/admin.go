package app

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nhle/mailpanel/internal/provision"
	"github.com/nhle/mailpanel/internal/store"
)

type passwordRequest struct {
	Password string `json:"password"`
}

func (s *Server) handleListDomains(w http.ResponseWriter, r *http.Request) {
	domains, err := s.provision.ListDomains(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, domains)
}

func (s *Server) handleListPanelMailboxes(w http.ResponseWriter, r *http.Request) {
	addresses, err := s.provision.ListPanelMailboxes(r.Context(), chi.URLParam(r, "domain"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, addresses)
}

func (s *Server) handleListMailboxes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	accounts, err := s.provision.ListAccounts(r.Context(), store.AccountFilter{
		Domain:      strings.TrimSpace(q.Get("domain")),
		EnabledOnly: q.Get("enabled") == "true",
		Limit:       atoiOr(q.Get("limit"), 0),
		Offset:      atoiOr(q.Get("offset"), 0),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]account, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, newAccount(a))
	}
	writeData(w, out)
}

func (s *Server) handleGetMailbox(w http.ResponseWriter, r *http.Request) {
	acct, err := s.provision.GetAccount(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, newAccount(*acct))
}

func (s *Server) handleMailboxInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.provision.MailboxInfo(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, map[string]any{
		"address": info.Address,
		"fields":  info.Fields,
	})
}

func (s *Server) handleCreateMailbox(w http.ResponseWriter, r *http.Request) {
	var req provision.CreateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	acct, err := s.provision.CreateMailbox(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, envelope{Success: true, Message: "Mailbox created", Data: newAccount(*acct)})
}

func (s *Server) handleRegisterMailbox(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		Description string `json:"description"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeFail(w, http.StatusBadRequest, "Email and password are required")
		return
	}
	acct, err := s.provision.RegisterMailbox(r.Context(), req.Email, req.Password, req.Description)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, envelope{Success: true, Message: "Mailbox registered", Data: newAccount(*acct)})
}

func (s *Server) handleDeleteMailbox(w http.ResponseWriter, r *http.Request) {
	if err := s.provision.DeleteMailbox(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, "Mailbox deleted")
}

func (s *Server) handleToggleMailbox(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Enabled == nil {
		writeFail(w, http.StatusBadRequest, "enabled is required")
		return
	}
	acct, err := s.provision.SetEnabled(r.Context(), chi.URLParam(r, "id"), *req.Enabled)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, newAccount(*acct))
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.provision.ChangePassword(r.Context(), chi.URLParam(r, "id"), req.Password); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, "Password changed")
}

func (s *Server) handleStorePassword(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.provision.StorePassword(r.Context(), chi.URLParam(r, "id"), req.Password); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, "Stored password updated")
}

// handleAutoLogin opens a webmail session for a registered mailbox using
// its stored password.
func (s *Server) handleAutoLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EmailID string `json:"emailId"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.EmailID == "" {
		writeFail(w, http.StatusBadRequest, "emailId is required")
		return
	}

	creds, err := s.provision.Credentials(r.Context(), req.EmailID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.startSession(w, r, creds, false)
}

func (s *Server) handleReconcileStatus(w http.ResponseWriter, _ *http.Request) {
	if s.reconciler == nil {
		writeFail(w, http.StatusServiceUnavailable, "Reconciliation is disabled")
		return
	}
	writeData(w, s.reconciler.Statuses())
}

// handleReconcileRun compares the registry with the panel now and returns
// the fresh result.
func (s *Server) handleReconcileRun(w http.ResponseWriter, r *http.Request) {
	if s.reconciler == nil {
		writeFail(w, http.StatusServiceUnavailable, "Reconciliation is disabled")
		return
	}
	s.reconciler.CheckAll(r.Context())
	writeData(w, s.reconciler.Statuses())
}
