package artifacts

import (
	"errors"
	"time"
)

var (
	ErrNotFound           = errors.New("artifact not found")
	ErrRegistrationFailed = errors.New("artifact registration failed")
)

// Record describes one registered artifact. Callers only ever receive
// copies; the registry owns the original.
type Record struct {
	ID           string    `json:"id"`
	Location     string    `json:"-"`
	RegisteredAt time.Time `json:"registered_at"`
	ServedAt     time.Time `json:"served_at,omitzero"`
}

func (r Record) Served() bool {
	return !r.ServedAt.IsZero()
}
