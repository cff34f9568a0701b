// Package gateway talks to the connection gateway that fronts lab instances.
// The control plane creates a gateway connection per session and reads its
// state to learn readiness and client activity.
package gateway

import (
	"context"
	"time"
)

// ConnectionState is the gateway's view of one session connection.
type ConnectionState struct {
	Ready           bool      `json:"ready"`
	ClientConnected bool      `json:"client_connected"`
	LastActivity    time.Time `json:"last_activity"`
}

// Gateway is the upstream connection surface the orchestrator depends on.
type Gateway interface {
	// CreateConnection registers a session route to an instance and
	// returns the gateway connection id.
	CreateConnection(ctx context.Context, sessionID, userID, instanceIP string) (string, error)
	// State reads the current connection state, nil when the connection
	// is unknown to the gateway.
	State(ctx context.Context, connectionID string) (*ConnectionState, error)
	// DeleteConnection tears the route down. Deleting an unknown
	// connection is not an error.
	DeleteConnection(ctx context.Context, connectionID string) error
}
