// Package device talks to the tablet vendor's cloud and manages the
// registration lifecycle of devices bound to delivery addresses.
package device

import (
	"context"

	"github.com/shineum/inkpost/internal/email"
)

// API is the capability the vendor cloud offers. Register and Reconnect
// perform the same one-time code exchange; they are separate so callers
// state which transition they perform.
type API interface {
	// Register exchanges a one-time code for a new device token.
	Register(ctx context.Context, code string) (string, error)

	// Reconnect exchanges a one-time code for a replacement device token.
	Reconnect(ctx context.Context, code string) (string, error)

	// Upload places doc on the device authorized by token.
	Upload(ctx context.Context, token string, doc email.Document) error
}
