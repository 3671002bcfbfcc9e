// Package ledger defines the remote revocation ledger collaborator and its
// concrete adapters. The license engine depends only on the Ledger interface;
// production deployments talk to a shared Google Sheets ledger while tests
// and air-gapped installs use the in-memory implementation.
package ledger

import (
	"context"
	"time"
)

// Entry is one revocation record as stored on the ledger.
type Entry struct {
	ID        string    `json:"id"`
	Reason    string    `json:"reason"`
	RevokedAt time.Time `json:"revoked_at"`
}

// Ledger is the remote revocation ledger. Append must be idempotent per
// license id; re-appending an already-revoked id returns the original
// transaction reference. Both operations may block on network I/O and must
// honor context cancellation.
type Ledger interface {
	// Append records a revocation and returns a transaction reference.
	Append(ctx context.Context, id, reason string) (txRef string, err error)

	// IsRevoked reports whether the ledger holds a tombstone for the id.
	IsRevoked(ctx context.Context, id string) (bool, error)
}
