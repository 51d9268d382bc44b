package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/nhle/mailpanel/internal/model"
	"github.com/nhle/mailpanel/internal/plesk"
	"github.com/nhle/mailpanel/internal/provision"
	"github.com/nhle/mailpanel/internal/reconcile"
	"github.com/nhle/mailpanel/internal/session"
	"github.com/nhle/mailpanel/internal/store"
	"github.com/nhle/mailpanel/internal/webmail"
)

// Webmail is the mail protocol layer behind the /api/webmail routes.
type Webmail interface {
	TestCredentials(ctx context.Context, creds model.Credentials) error
	ListFolders(ctx context.Context, creds model.Credentials) ([]model.Folder, error)
	CreateFolder(ctx context.Context, creds model.Credentials, name string) (model.FolderPath, error)
	DeleteFolder(ctx context.Context, creds model.Credentials, path model.FolderPath) error
	ListMessages(ctx context.Context, creds model.Credentials, path model.FolderPath, opts model.ListOptions) (*model.MessagePage, error)
	GetMessage(ctx context.Context, creds model.Credentials, path model.FolderPath, uid uint32) (*model.MessageDetail, error)
	GetAttachment(ctx context.Context, creds model.Credentials, path model.FolderPath, uid uint32, filename string) (*model.Attachment, error)
	SetFlag(ctx context.Context, creds model.Credentials, path model.FolderPath, uid uint32, flag model.MessageFlag, value bool) error
	MoveMessage(ctx context.Context, creds model.Credentials, path model.FolderPath, uid uint32, target model.FolderPath) error
	DeleteMessage(ctx context.Context, creds model.Credentials, path model.FolderPath, uid uint32, permanent bool) error
	Send(ctx context.Context, creds model.Credentials, c model.Composition) (*webmail.SendResult, error)
	SaveDraft(ctx context.Context, creds model.Credentials, c model.Composition) error
}

// Provisioner manages panel mailboxes and their stored passwords.
type Provisioner interface {
	ListDomains(ctx context.Context) ([]plesk.Domain, error)
	ListPanelMailboxes(ctx context.Context, domain string) ([]string, error)
	ListAccounts(ctx context.Context, filter store.AccountFilter) ([]model.MailAccount, error)
	GetAccount(ctx context.Context, id string) (*model.MailAccount, error)
	MailboxInfo(ctx context.Context, id string) (*plesk.MailboxInfo, error)
	CreateMailbox(ctx context.Context, req provision.CreateRequest) (*model.MailAccount, error)
	RegisterMailbox(ctx context.Context, address, password, description string) (*model.MailAccount, error)
	DeleteMailbox(ctx context.Context, id string) error
	SetEnabled(ctx context.Context, id string, enabled bool) (*model.MailAccount, error)
	ChangePassword(ctx context.Context, id, password string) error
	StorePassword(ctx context.Context, id, password string) error
	Credentials(ctx context.Context, id string) (model.Credentials, error)
}

// Reconciler compares the registry with the panel.
type Reconciler interface {
	CheckAll(ctx context.Context)
	Statuses() []reconcile.DomainStatus
}

// Deps are the collaborators of a Server. Provision and Reconciler may be
// nil when no control panel is configured.
type Deps struct {
	Config     model.ServerConfig
	Webmail    Webmail
	Sessions   *session.Manager
	Provision  Provisioner
	Reconciler Reconciler
	Registry   *prometheus.Registry
	Log        *logrus.Entry
}

// Server is the HTTP/JSON surface.
type Server struct {
	cfg        model.ServerConfig
	webmail    Webmail
	sessions   *session.Manager
	provision  Provisioner
	reconciler Reconciler
	registry   *prometheus.Registry
	metrics    *httpMetrics
	log        *logrus.Entry
}

// NewServer creates a Server. HTTP metrics are registered with
// deps.Registry, which is also what /metrics exposes.
func NewServer(deps Deps) *Server {
	var reg prometheus.Registerer
	if deps.Registry != nil {
		reg = deps.Registry
	}
	return &Server{
		cfg:        deps.Config,
		webmail:    deps.Webmail,
		sessions:   deps.Sessions,
		provision:  deps.Provision,
		reconciler: deps.Reconciler,
		registry:   deps.Registry,
		metrics:    newHTTPMetrics(reg),
		log:        deps.Log,
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(withRequestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeOK(w, "ok")
	})
	if s.registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/webmail", func(r chi.Router) {
		r.Post("/auth", s.handleLogin)
		r.Delete("/auth", s.handleLogout)
		r.Get("/session", s.handleSession)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAdmin, s.requireProvisioning)
			r.Post("/auto-login", s.handleAutoLogin)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.requireSession)

			r.Get("/folders", s.handleListFolders)
			r.Post("/folders", s.handleCreateFolder)
			r.Delete("/folders", s.handleDeleteFolder)

			r.Get("/messages", s.handleListMessages)
			r.Get("/messages/{uid}", s.handleGetMessage)
			r.Put("/messages/{uid}", s.handleUpdateMessage)
			r.Delete("/messages/{uid}", s.handleDeleteMessage)
			r.Get("/messages/{uid}/attachment", s.handleGetAttachment)

			r.Post("/send", s.handleSend)
			r.Post("/drafts", s.handleSaveDraft)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(s.requireAdmin, s.requireProvisioning)

		r.Get("/api/plesk/domains", s.handleListDomains)
		r.Get("/api/plesk/domains/{domain}/mailboxes", s.handleListPanelMailboxes)
		r.Get("/api/plesk/reconcile", s.handleReconcileStatus)
		r.Post("/api/plesk/reconcile", s.handleReconcileRun)

		r.Route("/api/mailboxes", func(r chi.Router) {
			r.Get("/", s.handleListMailboxes)
			r.Post("/", s.handleCreateMailbox)
			r.Post("/register", s.handleRegisterMailbox)
			r.Get("/{id}", s.handleGetMailbox)
			r.Get("/{id}/info", s.handleMailboxInfo)
			r.Delete("/{id}", s.handleDeleteMailbox)
			r.Put("/{id}/toggle", s.handleToggleMailbox)
			r.Put("/{id}/password", s.handleChangePassword)
			r.Put("/{id}/stored-password", s.handleStorePassword)
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeFail(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeFail(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	return r
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", addr).Info("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serving http: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving http: %w", err)
	}
	s.log.Info("HTTP server stopped")
	return nil
}
