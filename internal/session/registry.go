package session

import (
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"anonfeedback/pkg/types"
)

// Registry holds the live class sessions and their topic lists
// ARCHITECTURAL DISCOVERY: the registry is memory only; durability is the store's job and the
// coordinator restores the registry from it at startup
type Registry struct {
	sessions map[string]*entry // classID -> session
	mu       sync.RWMutex
}

type entry struct {
	session  *types.ClassSession
	comments int64
}

// NewRegistry creates an empty session registry
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*entry),
	}
}

// CreateOrReplace installs a new session with topic IDs 1..N in input order
// An existing session with the same class ID is discarded along with its comment count
func (r *Registry) CreateOrReplace(classID string, topicNames []string) (*types.ClassSession, error) {
	id, err := types.NormalizeClassID(classID)
	if err != nil {
		return nil, err
	}
	names, err := types.NormalizeTopicNames(topicNames)
	if err != nil {
		return nil, err
	}

	session := &types.ClassSession{
		ClassID:   id,
		CreatedAt: time.Now().UTC(),
		Topics:    make([]types.Topic, len(names)),
	}
	for i, name := range names {
		session.Topics[i] = types.Topic{ID: i + 1, Name: name}
	}

	r.mu.Lock()
	_, replaced := r.sessions[id]
	r.sessions[id] = &entry{session: session}
	r.mu.Unlock()

	if replaced {
		log.Printf("Replaced class session: class=%s topics=%d", id, len(session.Topics))
	} else {
		log.Printf("Created class session: class=%s topics=%d", id, len(session.Topics))
	}
	return cloneSession(session), nil
}

// Restore installs a session read back from storage together with its stored comment count
func (r *Registry) Restore(session *types.ClassSession, comments int64) error {
	if session == nil {
		return ErrNilSession
	}

	r.mu.Lock()
	r.sessions[session.ClassID] = &entry{session: cloneSession(session), comments: comments}
	r.mu.Unlock()
	return nil
}

// Get returns a copy of a session
func (r *Registry) Get(classID string) (*types.ClassSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.sessions[classID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, classID)
	}
	return cloneSession(e.session), nil
}

// Topics returns the topics of a session in ID order
func (r *Registry) Topics(classID string) ([]types.Topic, error) {
	session, err := r.Get(classID)
	if err != nil {
		return nil, err
	}
	return session.Topics, nil
}

// Exists reports whether a session has been set up for the class
func (r *Registry) Exists(classID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.sessions[classID]
	return exists
}

// HasTopic reports whether topicID belongs to the class session
func (r *Registry) HasTopic(classID string, topicID int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.sessions[classID]
	return exists && topicID >= 1 && topicID <= len(e.session.Topics)
}

// List returns every session ordered by class ID
func (r *Registry) List() []*types.ClassSession {
	r.mu.RLock()
	sessions := make([]*types.ClassSession, 0, len(r.sessions))
	for _, e := range r.sessions {
		sessions = append(sessions, cloneSession(e.session))
	}
	r.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].ClassID < sessions[j].ClassID
	})
	return sessions
}

// AddComments adds n stored comments to the session and returns the new total
func (r *Registry) AddComments(classID string, n int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.sessions[classID]
	if !exists {
		return 0, fmt.Errorf("%w: %s", ErrSessionNotFound, classID)
	}
	e.comments += n
	return e.comments, nil
}

// CommentCount returns the number of comments stored for the session
func (r *Registry) CommentCount(classID string) int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if e, exists := r.sessions[classID]; exists {
		return e.comments
	}
	return 0
}

// GetStats returns registry statistics
func (r *Registry) GetStats() map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return map[string]interface{}{
		"class_sessions": len(r.sessions),
	}
}

func cloneSession(session *types.ClassSession) *types.ClassSession {
	clone := *session
	clone.Topics = make([]types.Topic, len(session.Topics))
	copy(clone.Topics, session.Topics)
	return &clone
}
