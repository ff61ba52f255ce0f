package ledger

import (
	"time"
)

// Ledger persists which artifacts are registered so that a restarted
// process can delete files whose expiry timers died with the old process.
// It is never consulted to serve an artifact.
type Ledger interface {
	Put(entry Entry) error
	Get(artifactID string) (*Entry, error)
	Delete(artifactID string) error
	List() ([]Entry, error)
	Close() error
}

type Entry struct {
	ArtifactID   string    `json:"artifact_id"`
	Location     string    `json:"location"`
	RegisteredAt time.Time `json:"registered_at"`
}
