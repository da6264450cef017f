package goMembership

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	internalaudit "github.com/MrEthical07/goMembership/internal/audit"
	"github.com/MrEthical07/goMembership/internal/limiters"
	"github.com/MrEthical07/goMembership/password"
	"github.com/MrEthical07/goMembership/repository"
	"github.com/MrEthical07/goMembership/session"
	"github.com/MrEthical07/goMembership/ticket"
)

// Engine implements [CredentialStore] and [SessionStore] over the configured
// repositories.
//
// Engine instances are safe for concurrent use. Every coordination between
// callers happens in the repositories through conditional writes.
type Engine struct {
	config       Config
	users        repository.UserRepository
	sessions     repository.SessionRepository
	sessionStore *session.Store
	encoder      *password.Encoder
	policy       *password.Policy
	validator    PasswordValidator
	attempts     *limiters.AttemptLimiter
	audit        *internalaudit.Dispatcher
	metrics      *Metrics
	tickets      *ticket.Manager
	logger       *slog.Logger
	now          func() time.Time
}

// Close flushes and stops the audit dispatcher. Repositories are owned by
// the caller and stay open.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped returns how many audit events were discarded on a full buffer.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot copies the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) ready() error {
	if e == nil || e.users == nil || e.sessions == nil || e.encoder == nil {
		return ErrEngineNotReady
	}
	return nil
}

func (e *Engine) clock() time.Time {
	return e.now().UTC()
}

// providerError logs a backend failure and normalizes it to ErrProviderError.
func (e *Engine) providerError(ctx context.Context, op string, err error, attrs ...any) error {
	e.metricInc(MetricProviderError)
	if e.logger != nil {
		args := append([]any{
			slog.String("op", op),
			slog.String("application", e.applicationName(ctx)),
			slog.Any("error", err),
		}, attrs...)
		e.logger.WarnContext(ctx, "membership backend failure", args...)
	}
	return fmt.Errorf("%w: %v", ErrProviderError, err)
}

// Pinger is implemented by repositories that can report their health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthStatus is the result of [Engine.Ping].
type HealthStatus struct {
	SessionsAvailable bool
	SessionsLatency   time.Duration
	UsersAvailable    bool
	UsersLatency      time.Duration
}

// Ping checks the session store and, when it implements [Pinger], the user
// repository. Backends that cannot be probed report available.
func (e *Engine) Ping(ctx context.Context) (HealthStatus, error) {
	if err := e.ready(); err != nil {
		return HealthStatus{}, err
	}

	status := HealthStatus{SessionsAvailable: true, UsersAvailable: true}
	var errs []error

	if e.sessionStore != nil {
		latency, err := e.sessionStore.Ping(ctx)
		status.SessionsLatency = latency
		if err != nil {
			status.SessionsAvailable = false
			errs = append(errs, err)
		}
	}

	if p, ok := e.users.(Pinger); ok {
		start := time.Now()
		err := p.Ping(ctx)
		status.UsersLatency = time.Since(start)
		if err != nil {
			status.UsersAvailable = false
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return status, fmt.Errorf("%w: %v", ErrProviderError, errors.Join(errs...))
	}
	return status, nil
}

// EstimateActiveSessions counts stored sessions of the calling application.
// It scans the keyspace and is meant for admin views, not request paths.
func (e *Engine) EstimateActiveSessions(ctx context.Context) (int, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	if e.sessionStore == nil {
		return 0, ErrNotSupported
	}
	n, err := e.sessionStore.EstimateActiveSessions(ctx, e.applicationName(ctx))
	if err != nil {
		return 0, e.providerError(ctx, "estimate_active_sessions", err)
	}
	return n, nil
}

// IssueTicket validates the credentials and returns a signed authentication
// ticket for the user.
func (e *Engine) IssueTicket(ctx context.Context, username, password string) (string, error) {
	if e == nil || e.tickets == nil {
		return "", ErrTicketsDisabled
	}

	ok, err := e.ValidateUser(ctx, username, password)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrInvalidCredentials
	}

	app := e.applicationName(ctx)
	rec, err := e.findUser(ctx, app, username)
	if err != nil {
		return "", err
	}

	token, err := e.tickets.Issue(rec.ID, rec.Username, app)
	if err != nil {
		return "", err
	}
	e.metricInc(MetricTicketIssued)
	e.emitAudit(ctx, auditEventTicketIssued, true, rec.Username, rec.ID, "", nil, nil)
	return token, nil
}

// ParseTicket verifies a ticket issued by [Engine.IssueTicket].
func (e *Engine) ParseTicket(token string) (*ticket.Claims, error) {
	if e == nil || e.tickets == nil {
		return nil, ErrTicketsDisabled
	}
	return e.tickets.Parse(token)
}
