package domain

import "time"

// Status is a session lifecycle state. TERMINATED and ERROR are terminal;
// a terminal session is never resurrected.
type Status string

const (
	StatusPending      Status = "PENDING"
	StatusProvisioning Status = "PROVISIONING"
	StatusReady        Status = "READY"
	StatusActive       Status = "ACTIVE"
	StatusTerminating  Status = "TERMINATING"
	StatusTerminated   Status = "TERMINATED"
	StatusError        Status = "ERROR"
)

// validPredecessors lists, per target state, which states may move into it.
var validPredecessors = map[Status][]Status{
	StatusProvisioning: {StatusPending},
	StatusReady:        {StatusProvisioning},
	StatusActive:       {StatusReady},
	StatusTerminating:  {StatusPending, StatusProvisioning, StatusReady, StatusActive},
	StatusTerminated:   {StatusTerminating},
	StatusError:        {StatusPending, StatusProvisioning, StatusReady, StatusActive, StatusTerminating},
}

// Predecessors returns the states allowed to transition into target.
func Predecessors(target Status) []Status {
	return validPredecessors[target]
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to Status) bool {
	for _, p := range validPredecessors[to] {
		if p == from {
			return true
		}
	}
	return false
}

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusTerminated || s == StatusError
}

// Session is one time-boxed lab compute session.
type Session struct {
	ID                string     `json:"id"`
	UserID            string     `json:"user_id"`
	Plan              string     `json:"plan"`
	Tier              string     `json:"tier"`
	Status            Status     `json:"status"`
	InstanceID        string     `json:"instance_id,omitempty"`
	InstanceIP        string     `json:"instance_ip,omitempty"`
	ConnectionID      string     `json:"connection_id,omitempty"`
	Metadata          string     `json:"metadata,omitempty"`
	FocusMode         bool       `json:"focus_mode"`
	IdleWarningAt     *time.Time `json:"idle_warning_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	ExpiresAt         time.Time  `json:"expires_at"`
	TerminatedAt      *time.Time `json:"terminated_at,omitempty"`
	TerminationReason string     `json:"termination_reason,omitempty"`
	ErrorCode         string     `json:"error_code,omitempty"`
	ErrorMessage      string     `json:"error_message,omitempty"`
	Version           int64      `json:"-"`
}

// Minutes returns the whole minutes consumed between the session's creation
// and end, rounding any partial minute up.
func (s *Session) Minutes(endedAt time.Time) int {
	elapsed := endedAt.Sub(s.CreatedAt)
	if elapsed <= 0 {
		return 0
	}
	minutes := int(elapsed / time.Minute)
	if elapsed%time.Minute > 0 {
		minutes++
	}
	return minutes
}
