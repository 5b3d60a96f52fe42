// Package replay records which transaction signatures have already been
// redeemed so that one on-chain payment cannot unlock more than one resource.
package replay

import (
	"context"
	"errors"
	"time"

	paywall "github.com/mark3labs/paywall-go"
)

// ErrExpired is returned when asked to record a usage that has already expired.
var ErrExpired = errors.New("replay: expiry is not in the future")

// Store tracks redeemed signatures. Implementations must be safe for
// concurrent use.
type Store interface {
	// HasBeenUsed reports whether signature has a live usage record.
	HasBeenUsed(ctx context.Context, signature string) (bool, error)

	// MarkAsUsed records signature as redeemed for resourceID until expiresAt,
	// overwriting any existing record.
	MarkAsUsed(ctx context.Context, signature, resourceID string, expiresAt time.Time) error

	// GetUsage returns the live usage record, or nil if there is none.
	GetUsage(ctx context.Context, signature string) (*paywall.SignatureUsage, error)

	// Claim records usage only if the signature has no live record. It
	// reports whether this call won the claim.
	Claim(ctx context.Context, usage paywall.SignatureUsage) (bool, error)
}
