package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"training-lab-control-plane/internal/quota/domain"
)

type memQuotaRepo struct {
	mu      sync.Mutex
	periods []*domain.UsagePeriod
	entries map[string]int
	plans   map[string]*domain.Plan
}

func newMemQuotaRepo() *memQuotaRepo {
	return &memQuotaRepo{
		entries: make(map[string]int),
		plans: map[string]*domain.Plan{
			"standard": {Name: "standard", QuotaMinutes: 300, PeriodDays: 30},
			"premium":  {Name: "premium", QuotaMinutes: domain.UnlimitedMinutes, PeriodDays: 30},
		},
	}
}

func (r *memQuotaRepo) Latest(ctx context.Context, userID string) (*domain.UsagePeriod, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *domain.UsagePeriod
	for _, p := range r.periods {
		if p.UserID != userID {
			continue
		}
		if latest == nil || p.PeriodStart.After(latest.PeriodStart) {
			latest = p
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (r *memQuotaRepo) Start(ctx context.Context, p *domain.UsagePeriod) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.periods {
		if existing.UserID == p.UserID && existing.PeriodStart.Equal(p.PeriodStart) {
			return nil
		}
	}
	cp := *p
	r.periods = append(r.periods, &cp)
	return nil
}

func (r *memQuotaRepo) AddConsumption(ctx context.Context, userID, sessionID string, periodStart time.Time, minutes int, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[sessionID]; ok {
		return false, nil
	}
	r.entries[sessionID] = minutes
	for _, p := range r.periods {
		if p.UserID == userID && p.PeriodStart.Equal(periodStart) {
			p.ConsumedMinutes += minutes
		}
	}
	return true, nil
}

func (r *memQuotaRepo) GetPlan(ctx context.Context, name string) (*domain.Plan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.plans[name], nil
}

func newTestService(t *testing.T) (*Service, *memQuotaRepo) {
	t.Helper()
	repo := newMemQuotaRepo()
	return NewService(repo), repo
}

func TestGetUsage_FreshUser(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	u, err := svc.GetUsage(ctx, "u1", "standard")
	if err != nil {
		t.Fatalf("GetUsage: %v", err)
	}
	if u.QuotaMinutes != 300 || u.ConsumedMinutes != 0 || u.RemainingMinutes != 300 {
		t.Errorf("usage = %+v", u)
	}
	if u.Unlimited {
		t.Error("standard plan reported unlimited")
	}
	if u.ResetsAt.IsZero() {
		t.Error("ResetsAt not set")
	}
}

func TestRecordConsumption_Idempotent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := svc.RecordConsumption(ctx, "u1", "standard", "sess-1", 42); err != nil {
			t.Fatalf("RecordConsumption #%d: %v", i, err)
		}
	}
	u, err := svc.GetUsage(ctx, "u1", "standard")
	if err != nil {
		t.Fatalf("GetUsage: %v", err)
	}
	if u.ConsumedMinutes != 42 {
		t.Errorf("ConsumedMinutes = %d, want 42 (single application)", u.ConsumedMinutes)
	}
}

func TestRecordConsumption_SumsAcrossSessions(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	for i, m := range []int{10, 25, 7} {
		sid := string(rune('a' + i))
		if err := svc.RecordConsumption(ctx, "u1", "standard", sid, m); err != nil {
			t.Fatalf("RecordConsumption: %v", err)
		}
	}
	u, _ := svc.GetUsage(ctx, "u1", "standard")
	if u.ConsumedMinutes != 42 {
		t.Errorf("ConsumedMinutes = %d, want 42", u.ConsumedMinutes)
	}
	if u.RemainingMinutes != 258 {
		t.Errorf("RemainingMinutes = %d, want 258", u.RemainingMinutes)
	}
}

func TestGetUsage_OverageClampsRemaining(t *testing.T) {
	// A user at 295/300 runs a 10-minute session: consumed becomes 305 and
	// remaining is reported as 0, never negative.
	svc, _ := newTestService(t)
	ctx := context.Background()

	if err := svc.RecordConsumption(ctx, "u1", "standard", "s-old", 295); err != nil {
		t.Fatalf("RecordConsumption: %v", err)
	}
	if err := svc.RecordConsumption(ctx, "u1", "standard", "s-over", 10); err != nil {
		t.Fatalf("RecordConsumption: %v", err)
	}
	u, _ := svc.GetUsage(ctx, "u1", "standard")
	if u.ConsumedMinutes != 305 {
		t.Errorf("ConsumedMinutes = %d, want 305 (overage recorded)", u.ConsumedMinutes)
	}
	if u.RemainingMinutes != 0 {
		t.Errorf("RemainingMinutes = %d, want 0", u.RemainingMinutes)
	}
}

func TestGetUsage_Unlimited(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	u, err := svc.GetUsage(ctx, "u1", "premium")
	if err != nil {
		t.Fatalf("GetUsage: %v", err)
	}
	if !u.Unlimited {
		t.Error("premium plan should be unlimited")
	}
	if u.QuotaMinutes != domain.UnlimitedMinutes {
		t.Errorf("QuotaMinutes = %d, want sentinel", u.QuotaMinutes)
	}
}

func TestGetUsage_UnknownPlanFallsBack(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	u, err := svc.GetUsage(ctx, "u1", "no-such-plan")
	if err != nil {
		t.Fatalf("GetUsage: %v", err)
	}
	if u.Plan != "standard" || u.QuotaMinutes != 300 {
		t.Errorf("fallback usage = %+v", u)
	}
}

func TestRollover_ResetsConsumption(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc.nowF = func() time.Time { return base }

	if err := svc.RecordConsumption(ctx, "u1", "standard", "s1", 100); err != nil {
		t.Fatalf("RecordConsumption: %v", err)
	}

	// Past the period end a fresh period starts with zero consumption.
	svc.nowF = func() time.Time { return base.AddDate(0, 0, 31) }
	u, err := svc.GetUsage(ctx, "u1", "standard")
	if err != nil {
		t.Fatalf("GetUsage: %v", err)
	}
	if u.ConsumedMinutes != 0 {
		t.Errorf("ConsumedMinutes after rollover = %d, want 0", u.ConsumedMinutes)
	}
	if len(repo.periods) != 2 {
		t.Errorf("period count = %d, want 2", len(repo.periods))
	}
}
