package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/google/uuid"

	"training-lab-control-plane/internal/gateway"
	pooldomain "training-lab-control-plane/internal/pool/domain"
	poolservice "training-lab-control-plane/internal/pool/service"
	quotadomain "training-lab-control-plane/internal/quota/domain"
	"training-lab-control-plane/internal/session/domain"
	"training-lab-control-plane/internal/session/repository"
)

var (
	ErrQuotaExceeded   = errors.New("quota exceeded")
	ErrSessionConflict = errors.New("session conflict")
	ErrPoolExhausted   = errors.New("pool exhausted")
	ErrNotFound        = errors.New("session not found")
)

// Termination reasons recorded on reclaimed sessions.
const (
	ReasonUser = "user"
	ReasonTTL  = "ttl"
	ReasonIdle = "idle"
)

// Repo is the subset of session storage the orchestrator needs.
type Repo interface {
	Create(ctx context.Context, s *domain.Session, maxActive int) (bool, error)
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	ListByUser(ctx context.Context, userID string, terminalOnly bool) ([]*domain.Session, error)
	ListAdmin(ctx context.Context, f repository.ListFilter) ([]*domain.Session, error)
	ListExpired(ctx context.Context, now time.Time) ([]*domain.Session, error)
	ListActive(ctx context.Context) ([]*domain.Session, error)
	MarkProvisioning(ctx context.Context, id, instanceID, instanceIP, connectionID string) (bool, error)
	MarkReady(ctx context.Context, id string) (bool, error)
	MarkActive(ctx context.Context, id string) (bool, error)
	BeginTermination(ctx context.Context, id, reason string) (bool, error)
	FinalizeTermination(ctx context.Context, id string, at time.Time) (bool, error)
	MarkError(ctx context.Context, id, code, message string) (bool, error)
	SetIdleWarning(ctx context.Context, id string, at time.Time) (bool, error)
}

// PoolManager is the instance pool surface the orchestrator needs.
type PoolManager interface {
	Assign(ctx context.Context, tier string) (*pooldomain.Instance, error)
	Release(ctx context.Context, tier, instanceID string, forceStop bool) error
	InstanceHealthy(ctx context.Context, tier, instanceID string) (bool, error)
}

// QuotaTracker is the usage accounting surface the orchestrator needs.
type QuotaTracker interface {
	GetUsage(ctx context.Context, userID, planName string) (*quotadomain.Usage, error)
	RecordConsumption(ctx context.Context, userID, planName, sessionID string, minutes int) error
}

// EventSink receives lifecycle events. Implementations must not block the
// orchestration path.
type EventSink interface {
	SessionTransition(ctx context.Context, s *domain.Session, event string)
}

type noopSink struct{}

func (noopSink) SessionTransition(context.Context, *domain.Session, string) {}

// Options carries session policy knobs.
type Options struct {
	MaxSessionsPerUser int
	SessionTTL         time.Duration
	IdleWarningAfter   time.Duration
	IdleLimitAfter     time.Duration
}

// Service orchestrates the session lifecycle. All cross-instance
// coordination happens through conditional store transitions, so any number
// of orchestrator replicas can run against the same database.
type Service struct {
	repo   Repo
	pool   PoolManager
	quota  QuotaTracker
	gw     gateway.Gateway
	events EventSink
	opts   Options

	nowF func() time.Time
}

func NewService(repo Repo, pool PoolManager, quota QuotaTracker, gw gateway.Gateway, events EventSink, opts Options) *Service {
	if opts.MaxSessionsPerUser <= 0 {
		opts.MaxSessionsPerUser = 1
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 4 * time.Hour
	}
	if events == nil {
		events = noopSink{}
	}
	return &Service{
		repo:   repo,
		pool:   pool,
		quota:  quota,
		gw:     gw,
		events: events,
		opts:   opts,
		nowF:   func() time.Time { return time.Now().UTC() },
	}
}

// CreateParams are the caller-supplied attributes of a new session.
type CreateParams struct {
	UserID    string
	Plan      string
	Tier      string
	Metadata  string
	FocusMode bool
}

// Create runs the full session setup: quota gate, concurrent-session cap,
// instance assignment, gateway connection, then the move to PROVISIONING.
// Failures after the record exists mark it ERROR rather than deleting it,
// so the client always sees what happened.
func (s *Service) Create(ctx context.Context, p CreateParams) (*domain.Session, error) {
	usage, err := s.quota.GetUsage(ctx, p.UserID, p.Plan)
	if err != nil {
		return nil, fmt.Errorf("check quota: %w", err)
	}
	if !usage.Unlimited && usage.RemainingMinutes <= 0 {
		return nil, fmt.Errorf("%w: plan %s has no remaining minutes", ErrQuotaExceeded, usage.Plan)
	}

	now := s.nowF()
	sess := &domain.Session{
		ID:        uuid.New().String(),
		UserID:    p.UserID,
		Plan:      p.Plan,
		Tier:      p.Tier,
		Status:    domain.StatusPending,
		Metadata:  p.Metadata,
		FocusMode: p.FocusMode,
		CreatedAt: now,
		ExpiresAt: now.Add(s.opts.SessionTTL),
		Version:   1,
	}
	created, err := s.repo.Create(ctx, sess, s.opts.MaxSessionsPerUser)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	if !created {
		return nil, fmt.Errorf("%w: user already holds the maximum number of sessions", ErrSessionConflict)
	}
	s.events.SessionTransition(ctx, sess, "created")

	inst, err := s.pool.Assign(ctx, p.Tier)
	if err != nil {
		if errors.Is(err, poolservice.ErrExhausted) {
			return s.failSession(ctx, sess, "POOL_EXHAUSTED", err.Error(), ErrPoolExhausted)
		}
		return s.failSession(ctx, sess, upstreamCode(err, "ASSIGN_FAILED"), err.Error(), err)
	}

	connID, err := s.gw.CreateConnection(ctx, sess.ID, sess.UserID, inst.PrivateIP)
	if err != nil {
		if relErr := s.pool.Release(ctx, p.Tier, inst.InstanceID, false); relErr != nil {
			log.Printf("[session] release %s after gateway failure: %v", inst.InstanceID, relErr)
		}
		return s.failSession(ctx, sess, upstreamCode(err, "GATEWAY_FAILED"), err.Error(), err)
	}

	applied, err := s.repo.MarkProvisioning(ctx, sess.ID, inst.InstanceID, inst.PrivateIP, connID)
	if err != nil {
		return nil, fmt.Errorf("mark provisioning: %w", err)
	}
	if !applied {
		// The session left PENDING underneath us, most likely reclaimed.
		// Give the resources back and report the stored state.
		if delErr := s.gw.DeleteConnection(ctx, connID); delErr != nil {
			log.Printf("[session] delete connection %s after lost transition: %v", connID, delErr)
		}
		if relErr := s.pool.Release(ctx, p.Tier, inst.InstanceID, false); relErr != nil {
			log.Printf("[session] release %s after lost transition: %v", inst.InstanceID, relErr)
		}
		return s.repo.GetByID(ctx, sess.ID)
	}

	sess.Status = domain.StatusProvisioning
	sess.InstanceID = inst.InstanceID
	sess.InstanceIP = inst.PrivateIP
	sess.ConnectionID = connID
	s.events.SessionTransition(ctx, sess, "provisioning")
	return sess, nil
}

// upstreamCode distinguishes upstream timeouts from other failures for the
// stored error code.
func upstreamCode(err error, fallback string) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "UPSTREAM_TIMEOUT"
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return "UPSTREAM_TIMEOUT"
	}
	return fallback
}

// failSession records an error state and returns the stored session along
// with sentinel. The record survives so its failure is inspectable.
func (s *Service) failSession(ctx context.Context, sess *domain.Session, code, message string, sentinel error) (*domain.Session, error) {
	if _, err := s.repo.MarkError(ctx, sess.ID, code, message); err != nil {
		log.Printf("[session] mark error on %s: %v", sess.ID, err)
	}
	stored, err := s.repo.GetByID(ctx, sess.ID)
	if err != nil || stored == nil {
		stored = sess
	}
	s.events.SessionTransition(ctx, stored, "error")
	return stored, sentinel
}

// Get returns a session visible to the caller. Owners see their own
// sessions; admins see all. Anything else reads as not found rather than
// forbidden, so session ids leak nothing.
func (s *Service) Get(ctx context.Context, id, callerID string, admin bool) (*domain.Session, error) {
	sess, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess == nil || (!admin && sess.UserID != callerID) {
		return nil, ErrNotFound
	}
	return sess, nil
}

// Refresh advances a session along its provisioning path based on what the
// instance and gateway report. It is safe to call from any number of pollers
// concurrently; lost transitions just mean someone else advanced it first.
func (s *Service) Refresh(ctx context.Context, id, callerID string, admin bool) (*domain.Session, error) {
	sess, err := s.Get(ctx, id, callerID, admin)
	if err != nil {
		return nil, err
	}

	switch sess.Status {
	case domain.StatusProvisioning:
		healthy, err := s.pool.InstanceHealthy(ctx, sess.Tier, sess.InstanceID)
		if err != nil {
			return nil, fmt.Errorf("check instance health: %w", err)
		}
		if !healthy {
			return sess, nil
		}
		state, err := s.gw.State(ctx, sess.ConnectionID)
		if err != nil {
			return nil, fmt.Errorf("check gateway state: %w", err)
		}
		if state == nil || !state.Ready {
			return sess, nil
		}
		if applied, err := s.repo.MarkReady(ctx, sess.ID); err != nil {
			return nil, err
		} else if applied {
			s.events.SessionTransition(ctx, sess, "ready")
		}
	case domain.StatusReady:
		state, err := s.gw.State(ctx, sess.ConnectionID)
		if err != nil {
			return nil, fmt.Errorf("check gateway state: %w", err)
		}
		if state == nil || !state.ClientConnected {
			return sess, nil
		}
		if applied, err := s.repo.MarkActive(ctx, sess.ID); err != nil {
			return nil, err
		} else if applied {
			s.events.SessionTransition(ctx, sess, "active")
		}
	default:
		return sess, nil
	}
	return s.repo.GetByID(ctx, sess.ID)
}

// Terminate reclaims a session. One caller wins the move into TERMINATING;
// a caller who finds the session already TERMINATING finishes the teardown
// instead of returning early, so a reclaim that died between BeginTermination
// and FinalizeTermination cannot wedge the session short of TERMINATED.
// Every teardown step is repeat-safe: gateway delete treats unknown
// connections as done, pool release is CAS-guarded, and finalization plus
// accounting run only for whoever lands the TERMINATED transition.
func (s *Service) Terminate(ctx context.Context, id, reason string, stopInstance bool) (*domain.Session, error) {
	sess, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrNotFound
	}
	if sess.Status.Terminal() {
		return sess, nil
	}

	won, err := s.repo.BeginTermination(ctx, id, reason)
	if err != nil {
		return nil, fmt.Errorf("begin termination: %w", err)
	}
	if !won {
		stored, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if stored == nil {
			return nil, ErrNotFound
		}
		if stored.Status != domain.StatusTerminating {
			return stored, nil
		}
		// A previous reclaim won TERMINATING but has not finalized.
		// Finish its work rather than leaving the session stuck.
		sess = stored
	}

	if sess.ConnectionID != "" {
		if err := s.gw.DeleteConnection(ctx, sess.ConnectionID); err != nil {
			log.Printf("[session] delete connection %s: %v", sess.ConnectionID, err)
		}
	}
	if sess.InstanceID != "" {
		if err := s.pool.Release(ctx, sess.Tier, sess.InstanceID, stopInstance); err != nil {
			log.Printf("[session] release instance %s: %v", sess.InstanceID, err)
		}
	}

	now := s.nowF()
	finalized, err := s.repo.FinalizeTermination(ctx, id, now)
	if err != nil {
		return nil, fmt.Errorf("finalize termination: %w", err)
	}

	final, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if finalized {
		minutes := sess.Minutes(now)
		if minutes > 0 {
			if err := s.quota.RecordConsumption(ctx, sess.UserID, sess.Plan, sess.ID, minutes); err != nil {
				log.Printf("[session] record consumption for %s: %v", sess.ID, err)
			}
		}
		s.events.SessionTransition(ctx, final, "terminated")
	}
	return final, nil
}

// TerminateOwned is Terminate restricted to the caller's own sessions.
func (s *Service) TerminateOwned(ctx context.Context, id, callerID string, admin bool, reason string, stopInstance bool) (*domain.Session, error) {
	if _, err := s.Get(ctx, id, callerID, admin); err != nil {
		return nil, err
	}
	if reason == "" {
		reason = ReasonUser
	}
	return s.Terminate(ctx, id, reason, stopInstance)
}

// SweepTTL reclaims every session past its expiry. Errors on one session do
// not stop the sweep.
func (s *Service) SweepTTL(ctx context.Context) error {
	expired, err := s.repo.ListExpired(ctx, s.nowF())
	if err != nil {
		return err
	}
	for _, sess := range expired {
		if _, err := s.Terminate(ctx, sess.ID, ReasonTTL, false); err != nil {
			log.Printf("[session] ttl reclaim %s: %v", sess.ID, err)
		}
	}
	return nil
}

// IdleCheck warns and then reclaims sessions whose client has been inactive.
// Focus mode suppresses the reclaim but not the warning stamp.
func (s *Service) IdleCheck(ctx context.Context) error {
	if s.opts.IdleLimitAfter <= 0 {
		return nil
	}
	active, err := s.repo.ListActive(ctx)
	if err != nil {
		return err
	}
	now := s.nowF()
	for _, sess := range active {
		if sess.ConnectionID == "" {
			continue
		}
		state, err := s.gw.State(ctx, sess.ConnectionID)
		if err != nil {
			log.Printf("[session] idle check state for %s: %v", sess.ID, err)
			continue
		}
		if state == nil {
			continue
		}
		last := state.LastActivity
		if last.IsZero() {
			last = sess.CreatedAt
		}
		idle := now.Sub(last)

		if idle >= s.opts.IdleLimitAfter && !sess.FocusMode {
			if _, err := s.Terminate(ctx, sess.ID, ReasonIdle, false); err != nil {
				log.Printf("[session] idle reclaim %s: %v", sess.ID, err)
			}
			continue
		}
		if idle >= s.opts.IdleWarningAfter && sess.IdleWarningAt == nil {
			if _, err := s.repo.SetIdleWarning(ctx, sess.ID, now); err != nil {
				log.Printf("[session] idle warning %s: %v", sess.ID, err)
			}
		}
	}
	return nil
}

// HistoryEntry is one finished session with its accounted minutes.
type HistoryEntry struct {
	Session *domain.Session `json:"session"`
	Minutes int             `json:"minutes"`
}

// History returns the caller's finished sessions, newest first, with the
// total minutes across them.
func (s *Service) History(ctx context.Context, userID string) ([]HistoryEntry, int, error) {
	sessions, err := s.repo.ListByUser(ctx, userID, true)
	if err != nil {
		return nil, 0, err
	}
	entries := make([]HistoryEntry, 0, len(sessions))
	total := 0
	for _, sess := range sessions {
		minutes := 0
		if sess.TerminatedAt != nil {
			minutes = sess.Minutes(*sess.TerminatedAt)
		}
		total += minutes
		entries = append(entries, HistoryEntry{Session: sess, Minutes: minutes})
	}
	return entries, total, nil
}

// AdminList returns sessions across all users per the filter.
func (s *Service) AdminList(ctx context.Context, f repository.ListFilter) ([]*domain.Session, error) {
	return s.repo.ListAdmin(ctx, f)
}
