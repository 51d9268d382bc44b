// Package reconcile compares the account registry with the mailboxes the
// control panel actually has.
package reconcile

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/nhle/mailpanel/internal/model"
	"github.com/nhle/mailpanel/internal/store"
)

// checkTimeout bounds one pass over all domains.
const checkTimeout = 2 * time.Minute

// Source lists both sides of the comparison.
type Source interface {
	ListAccounts(ctx context.Context, filter store.AccountFilter) ([]model.MailAccount, error)
	ListPanelMailboxes(ctx context.Context, domain string) ([]string, error)
}

// DomainStatus is the outcome of the last check of one domain.
type DomainStatus struct {
	Domain    string    `json:"domain"`
	LastCheck time.Time `json:"lastCheck"`

	// Missing are registered addresses the panel no longer lists.
	Missing []string `json:"missing"`

	// Unregistered are panel mailboxes with no registry entry.
	Unregistered []string `json:"unregistered"`

	Error string `json:"error,omitempty"`
}

// Poller runs the comparison on demand, and on an interval when Run is
// started.
type Poller struct {
	source   Source
	interval time.Duration
	log      *logrus.Entry

	missing *prometheus.GaugeVec

	checkMu  sync.Mutex // serializes CheckAll
	mu       sync.Mutex
	statuses map[string]*DomainStatus
	running  bool
}

// New creates a Poller. The missing-mailbox gauge is registered with reg
// when it is non-nil. interval only matters to Run.
func New(source Source, interval time.Duration, log *logrus.Entry, reg prometheus.Registerer) *Poller {
	p := &Poller{
		source:   source,
		interval: interval,
		log:      log,
		missing: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mailpanel",
			Subsystem: "registry",
			Name:      "missing_mailboxes",
			Help:      "Registered accounts whose mailbox the panel no longer lists.",
		}, []string{"domain"}),
		statuses: make(map[string]*DomainStatus),
	}
	if reg != nil {
		reg.MustRegister(p.missing)
	}
	return p
}

// Run checks immediately, then on every tick, until ctx is cancelled. It
// returns at once when the interval is not positive.
func (p *Poller) Run(ctx context.Context) {
	if p.interval <= 0 {
		return
	}
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.CheckAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.CheckAll(ctx)
		}
	}
}

// Statuses returns the last result for every domain, sorted by domain.
func (p *Poller) Statuses() []DomainStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]DomainStatus, 0, len(p.statuses))
	for _, s := range p.statuses {
		out = append(out, *s)
	}
	slices.SortFunc(out, func(a, b DomainStatus) int { return strings.Compare(a.Domain, b.Domain) })
	return out
}

// CheckAll compares every domain that has registered accounts.
func (p *Poller) CheckAll(ctx context.Context) {
	p.checkMu.Lock()
	defer p.checkMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	accounts, err := p.source.ListAccounts(ctx, store.AccountFilter{})
	if err != nil {
		p.log.WithError(err).Warn("Reconcile could not list registered accounts")
		return
	}

	byDomain := make(map[string][]string)
	for _, a := range accounts {
		domain := a.Domain
		if domain == "" {
			domain = model.Credentials{Address: a.Address}.Domain()
		}
		if domain == "" {
			continue
		}
		byDomain[domain] = append(byDomain[domain], strings.ToLower(a.Address))
	}

	for domain, registered := range byDomain {
		p.checkDomain(ctx, domain, registered)
	}
	p.forgetDomains(byDomain)
}

func (p *Poller) checkDomain(ctx context.Context, domain string, registered []string) {
	status := &DomainStatus{
		Domain:       domain,
		LastCheck:    time.Now(),
		Missing:      []string{},
		Unregistered: []string{},
	}

	onPanel, err := p.source.ListPanelMailboxes(ctx, domain)
	if err != nil {
		p.log.WithError(err).WithField("domain", domain).Warn("Reconcile could not list panel mailboxes")
		status.Error = "could not list panel mailboxes"
		p.setStatus(status)
		return
	}

	panelSet := make(map[string]bool, len(onPanel))
	for _, addr := range onPanel {
		panelSet[strings.ToLower(addr)] = true
	}
	registeredSet := make(map[string]bool, len(registered))
	for _, addr := range registered {
		registeredSet[addr] = true
		if !panelSet[addr] {
			status.Missing = append(status.Missing, addr)
		}
	}
	for addr := range panelSet {
		if !registeredSet[addr] {
			status.Unregistered = append(status.Unregistered, addr)
		}
	}
	slices.Sort(status.Missing)
	slices.Sort(status.Unregistered)

	if len(status.Missing) > 0 {
		p.log.WithFields(logrus.Fields{
			"domain":  domain,
			"missing": len(status.Missing),
		}).Warn("Registered mailboxes are gone from the panel")
	}
	p.missing.WithLabelValues(domain).Set(float64(len(status.Missing)))
	p.setStatus(status)
}

// forgetDomains drops domains that no longer have registered accounts.
func (p *Poller) forgetDomains(current map[string][]string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for domain := range p.statuses {
		if _, ok := current[domain]; !ok {
			delete(p.statuses, domain)
			p.missing.DeleteLabelValues(domain)
		}
	}
}

func (p *Poller) setStatus(status *DomainStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses[status.Domain] = status
}
