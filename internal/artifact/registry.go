package artifact

import (
	"errors"
	"sync"

	"github.com/calders/mediascope/internal/media"
	"github.com/google/uuid"
)

var ErrArtifactNotFound = errors.New("no artifact with that ID is awaiting delivery")

// Registry holds produced artifacts between export and delivery. An
// artifact is consumed by its first claim; it is never retained after
// delivery, and abandoning the registry drops everything it held.
type Registry struct {
	mu        sync.Mutex
	artifacts map[uuid.UUID]*media.Artifact
}

func NewRegistry() *Registry {
	return &Registry{artifacts: make(map[uuid.UUID]*media.Artifact)}
}

// Put stores an artifact for later delivery and returns its claim ID.
func (registry *Registry) Put(artifact *media.Artifact) uuid.UUID {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	registry.artifacts[artifact.ID] = artifact
	return artifact.ID
}

// Claim removes and returns the artifact with the given ID. A second
// claim for the same ID fails; delivery is once-only.
func (registry *Registry) Claim(id uuid.UUID) (*media.Artifact, error) {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	artifact, ok := registry.artifacts[id]
	if !ok {
		return nil, ErrArtifactNotFound
	}

	delete(registry.artifacts, id)
	return artifact, nil
}

// Pending reports how many artifacts are awaiting delivery.
func (registry *Registry) Pending() int {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	return len(registry.artifacts)
}
