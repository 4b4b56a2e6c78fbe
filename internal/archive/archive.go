package archive

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNothingToPackage is returned when none of the requested files exist
	ErrNothingToPackage = errors.New("nothing to package")
	// ErrArchiveNotFound is returned for unknown or expired tokens
	ErrArchiveNotFound = errors.New("archive not found")
)

// Archive is a packaged bundle available for download until ExpiresAt
type Archive struct {
	Token     string    `json:"token"`
	OrderID   string    `json:"order_id,omitempty"`
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	Included  []string  `json:"included"`
	Skipped   []string  `json:"skipped,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the archive is past its availability window
func (a *Archive) Expired(now time.Time) bool {
	return !now.Before(a.ExpiresAt)
}

// Registry maps download tokens to archives for a limited time
type Registry interface {
	Put(ctx context.Context, archive *Archive) error
	Get(ctx context.Context, token string) (*Archive, error)
	Delete(ctx context.Context, token string) error
}
