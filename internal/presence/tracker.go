package presence

import (
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/google/uuid"

	"anonfeedback/pkg/types"
)

// Tracker counts connected participants per class and role
// ARCHITECTURAL DISCOVERY: one mutex covers both the token index and the counters so a join or
// leave is a single atomic step per class
type Tracker struct {
	entries map[string]entry                 // token -> entry
	counts  map[string]*types.PresenceCounts // classID -> counts
	mu      sync.Mutex
}

type entry struct {
	classID string
	role    types.Role
}

// LeaveResult describes a removed presence entry
type LeaveResult struct {
	ClassID string
	Role    types.Role
	Counts  types.PresenceCounts
}

// NewTracker creates an empty presence tracker
func NewTracker() *Tracker {
	return &Tracker{
		entries: make(map[string]entry),
		counts:  make(map[string]*types.PresenceCounts),
	}
}

// Join registers a participant and returns its connection token with the new counts
func (t *Tracker) Join(classID string, role types.Role) (string, types.PresenceCounts, error) {
	if strings.TrimSpace(classID) == "" {
		return "", types.PresenceCounts{}, ErrInvalidClassID
	}
	if _, err := types.ParseRole(string(role)); err != nil {
		return "", types.PresenceCounts{}, err
	}

	token := uuid.New().String()

	t.mu.Lock()
	defer t.mu.Unlock()

	counts, exists := t.counts[classID]
	if !exists {
		counts = &types.PresenceCounts{}
		t.counts[classID] = counts
	}

	switch role {
	case types.RoleTeacher:
		counts.TeacherCount++
	case types.RoleStudent:
		counts.StudentCount++
	}
	t.entries[token] = entry{classID: classID, role: role}

	return token, *counts, nil
}

// Leave removes a participant. Unknown or already removed tokens return (nil, nil).
func (t *Tracker) Leave(token string) (*LeaveResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, exists := t.entries[token]
	if !exists {
		return nil, nil
	}
	delete(t.entries, token)

	counts, exists := t.counts[e.classID]
	if !exists {
		log.Printf("INVARIANT VIOLATION: presence entry without counters: class=%s role=%s", e.classID, e.role)
		return nil, fmt.Errorf("%w: class=%s role=%s", ErrNegativePresence, e.classID, e.role)
	}

	var counter *int
	switch e.role {
	case types.RoleTeacher:
		counter = &counts.TeacherCount
	default:
		counter = &counts.StudentCount
	}

	// FUNCTIONAL DISCOVERY: a negative count means the tracker lost an entry somewhere; report it, never clamp
	if *counter <= 0 {
		log.Printf("INVARIANT VIOLATION: presence count would go negative: class=%s role=%s count=%d", e.classID, e.role, *counter)
		return nil, fmt.Errorf("%w: class=%s role=%s", ErrNegativePresence, e.classID, e.role)
	}
	*counter--

	result := &LeaveResult{ClassID: e.classID, Role: e.role, Counts: *counts}
	if counts.StudentCount == 0 && counts.TeacherCount == 0 {
		delete(t.counts, e.classID)
	}
	return result, nil
}

// Counts returns the presence counts of a class, zeros for unknown classes
func (t *Tracker) Counts(classID string) types.PresenceCounts {
	t.mu.Lock()
	defer t.mu.Unlock()

	if counts, exists := t.counts[classID]; exists {
		return *counts
	}
	return types.PresenceCounts{}
}

// ClassOf returns the class a token is connected to
func (t *Tracker) ClassOf(token string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, exists := t.entries[token]
	return e.classID, exists
}

// GetStats returns tracker statistics
func (t *Tracker) GetStats() map[string]interface{} {
	t.mu.Lock()
	defer t.mu.Unlock()

	students, teachers := 0, 0
	for _, counts := range t.counts {
		students += counts.StudentCount
		teachers += counts.TeacherCount
	}
	return map[string]interface{}{
		"connections":    len(t.entries),
		"active_classes": len(t.counts),
		"students":       students,
		"teachers":       teachers,
	}
}
