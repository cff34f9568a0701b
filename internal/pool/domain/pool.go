package domain

import "time"

// InstanceStatus is the pool-side state of a compute instance.
type InstanceStatus string

const (
	// InstanceWarm: pre-provisioned, unassigned, ready for fast allocation.
	InstanceWarm InstanceStatus = "warm"
	// InstanceAssigned: exclusively held by one session.
	InstanceAssigned InstanceStatus = "assigned"
	// InstanceTerminating: compute termination requested.
	InstanceTerminating InstanceStatus = "terminating"
)

// Config is one tier's pool sizing and its backing compute group.
type Config struct {
	Tier            string
	MinSize         int
	MaxSize         int
	WarmMin         int
	WarmMaxPrepared int
	ComputeGroup    string
}

// Instance is one pooled compute instance. Warm instances carry no user
// association; exclusivity starts at assignment.
type Instance struct {
	ID         string
	Tier       string
	InstanceID string
	PrivateIP  string
	Status     InstanceStatus
	UpdatedAt  time.Time
}
