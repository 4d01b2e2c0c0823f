package websocket

import (
	"context"
	"sync"

	"chatline/internal/imtypes"
)

// MemoryRegistry is the in-process SessionRegistry used when Redis is disabled.
// It only sees sessions of this process.
type MemoryRegistry struct {
	mu       sync.Mutex
	sessions map[string]string
}

var _ imtypes.SessionRegistry = (*MemoryRegistry)(nil)

// NewMemoryRegistry creates an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{sessions: make(map[string]string)}
}

func (r *MemoryRegistry) Bind(_ context.Context, userID, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[userID] = sessionID
	return nil
}

func (r *MemoryRegistry) Release(_ context.Context, userID, sessionID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[userID] != sessionID {
		return false, nil
	}
	delete(r.sessions, userID)
	return true, nil
}

// Refresh only checks ownership: in-process mappings die with the process.
func (r *MemoryRegistry) Refresh(_ context.Context, userID, sessionID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[userID] == sessionID, nil
}

func (r *MemoryRegistry) Lookup(_ context.Context, userID string) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.sessions[userID]
	return id, ok, nil
}
