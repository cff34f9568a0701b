package domain

import "time"

// UnlimitedMinutes is the quota sentinel that bypasses all quota checks.
const UnlimitedMinutes = -1

// Plan names a tier of service and its quota allotment per billing period.
type Plan struct {
	Name         string
	QuotaMinutes int
	PeriodDays   int
}

// Unlimited reports whether the plan has no minute cap.
func (p *Plan) Unlimited() bool {
	return p.QuotaMinutes == UnlimitedMinutes
}

// UsagePeriod tracks consumed vs. allotted minutes for one user in one
// billing period. ConsumedMinutes is monotonically non-decreasing within a
// period; it resets only when a fresh period starts.
type UsagePeriod struct {
	UserID          string
	Plan            string
	QuotaMinutes    int
	ConsumedMinutes int
	PeriodStart     time.Time
	PeriodEnd       time.Time
}

// Usage is the externally reported view of a user's current period.
type Usage struct {
	Plan             string    `json:"plan"`
	QuotaMinutes     int       `json:"quota_minutes"`
	ConsumedMinutes  int       `json:"consumed_minutes"`
	RemainingMinutes int       `json:"remaining_minutes"`
	Unlimited        bool      `json:"unlimited"`
	ResetsAt         time.Time `json:"resets_at"`
}
