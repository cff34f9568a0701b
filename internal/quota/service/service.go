// Package service implements the quota tracker: per-user usage periods with
// lazily evaluated rollover and idempotent consumption recording.
package service

import (
	"context"
	"time"

	"training-lab-control-plane/internal/quota/domain"
)

// defaultPlan is used when a token names a plan the plans table does not know.
var defaultPlan = domain.Plan{Name: "standard", QuotaMinutes: 300, PeriodDays: 30}

// Repo is the minimal repository needed by the quota service.
type Repo interface {
	Latest(ctx context.Context, userID string) (*domain.UsagePeriod, error)
	Start(ctx context.Context, p *domain.UsagePeriod) error
	AddConsumption(ctx context.Context, userID, sessionID string, periodStart time.Time, minutes int, at time.Time) (bool, error)
	GetPlan(ctx context.Context, name string) (*domain.Plan, error)
}

// Service tracks consumed vs. allotted minutes per user per billing period.
type Service struct {
	repo Repo
	nowF func() time.Time
}

// NewService returns a quota Service backed by repo.
func NewService(repo Repo) *Service {
	return &Service{repo: repo, nowF: time.Now}
}

// GetUsage returns the user's current-period usage, starting a fresh period
// first when the previous one has ended (lazy rollover). remaining_minutes
// is clamped at 0 so an overage is never reported as negative.
func (s *Service) GetUsage(ctx context.Context, userID, planName string) (*domain.Usage, error) {
	p, err := s.currentPeriod(ctx, userID, planName)
	if err != nil {
		return nil, err
	}
	u := &domain.Usage{
		Plan:            p.Plan,
		QuotaMinutes:    p.QuotaMinutes,
		ConsumedMinutes: p.ConsumedMinutes,
		Unlimited:       p.QuotaMinutes == domain.UnlimitedMinutes,
		ResetsAt:        p.PeriodEnd,
	}
	if !u.Unlimited {
		u.RemainingMinutes = p.QuotaMinutes - p.ConsumedMinutes
		if u.RemainingMinutes < 0 {
			u.RemainingMinutes = 0
		}
	}
	return u, nil
}

// RecordConsumption applies minutes for sessionID to the user's current
// period. Idempotent per sessionID: a second call for the same session has
// no effect. Overage is recorded, not truncated; the quota gate lives at
// session creation, not here.
func (s *Service) RecordConsumption(ctx context.Context, userID, planName, sessionID string, minutes int) error {
	if minutes < 0 {
		minutes = 0
	}
	p, err := s.currentPeriod(ctx, userID, planName)
	if err != nil {
		return err
	}
	_, err = s.repo.AddConsumption(ctx, userID, sessionID, p.PeriodStart, minutes, s.nowF().UTC())
	return err
}

// currentPeriod returns the user's live usage period, rolling over to a
// fresh one when the latest period has ended or none exists.
func (s *Service) currentPeriod(ctx context.Context, userID, planName string) (*domain.UsagePeriod, error) {
	now := s.nowF().UTC()
	p, err := s.repo.Latest(ctx, userID)
	if err != nil {
		return nil, err
	}
	if p != nil && now.Before(p.PeriodEnd) {
		return p, nil
	}

	plan, err := s.resolvePlan(ctx, planName)
	if err != nil {
		return nil, err
	}
	fresh := &domain.UsagePeriod{
		UserID:       userID,
		Plan:         plan.Name,
		QuotaMinutes: plan.QuotaMinutes,
		PeriodStart:  now,
		PeriodEnd:    now.AddDate(0, 0, plan.PeriodDays),
	}
	if err := s.repo.Start(ctx, fresh); err != nil {
		return nil, err
	}
	// Re-read: a concurrent rollover on another instance may have won the
	// insert with a slightly different period_start.
	p, err = s.repo.Latest(ctx, userID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return fresh, nil
	}
	return p, nil
}

func (s *Service) resolvePlan(ctx context.Context, name string) (*domain.Plan, error) {
	if name != "" {
		plan, err := s.repo.GetPlan(ctx, name)
		if err != nil {
			return nil, err
		}
		if plan != nil {
			return plan, nil
		}
	}
	d := defaultPlan
	return &d, nil
}
