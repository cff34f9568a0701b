// Package compute abstracts the elastic compute groups that back the warm
// pools. The production adapter talks to AWS Auto Scaling; tests substitute
// an in-memory fake.
package compute

import "context"

// Instance is a live member of a compute group as the provider reports it.
type Instance struct {
	ID        string
	PrivateIP string
	Running   bool
}

// Group is the elastic compute-group abstraction the pool manager depends on.
// All calls carry explicit deadlines via ctx; none blocks indefinitely.
type Group interface {
	// Expand raises the group's desired capacity by delta.
	Expand(ctx context.Context, group string, delta int) error
	// ListInstances returns the group's current members.
	ListInstances(ctx context.Context, group string) ([]Instance, error)
	// Terminate requests termination of one instance, shrinking the group.
	Terminate(ctx context.Context, instanceID string) error
}
