// Package coordinator orchestrates the class session lifecycle.
//
// A class moves from unconfigured to configured on Setup and then receives feedback. Another
// Setup destructively replaces the session. Every write is made durable through the store first;
// the in-memory aggregates and room broadcasts only follow a successful commit.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"anonfeedback/internal/aggregate"
	"anonfeedback/internal/hub"
	"anonfeedback/internal/presence"
	"anonfeedback/internal/session"
	"anonfeedback/pkg/interfaces"
	"anonfeedback/pkg/types"
)

// DefaultCommentMaxLength is used when Options leaves CommentMaxLength unset
const DefaultCommentMaxLength = 2000

// Options tunes coordinator validation
type Options struct {
	CommentMaxLength int
}

// Coordinator ties the registry, aggregator, presence tracker, dispatcher and store together
type Coordinator struct {
	store      interfaces.Store
	registry   *session.Registry
	aggregator *aggregate.Aggregator
	presence   *presence.Tracker
	dispatcher *hub.Dispatcher
	options    Options

	// ARCHITECTURAL DISCOVERY: Setup takes the class write lock and every submission a read lock,
	// so a replace never interleaves with a half-applied submission while submissions to the same
	// class still run concurrently
	classLocks map[string]*sync.RWMutex
	locksMu    sync.Mutex
}

// ConnectResult is returned to the transport when a connection joins a room
type ConnectResult struct {
	Token  string
	Counts types.PresenceCounts
}

// New creates a coordinator over the given components
func New(store interfaces.Store, registry *session.Registry, aggregator *aggregate.Aggregator,
	tracker *presence.Tracker, dispatcher *hub.Dispatcher, options Options) *Coordinator {
	if options.CommentMaxLength <= 0 {
		options.CommentMaxLength = DefaultCommentMaxLength
	}
	return &Coordinator{
		store:      store,
		registry:   registry,
		aggregator: aggregator,
		presence:   tracker,
		dispatcher: dispatcher,
		options:    options,
		classLocks: make(map[string]*sync.RWMutex),
	}
}

// existingLock returns the lock of a configured class. Locks are only allocated by Setup and
// Hydrate, so lookups for unknown class ids leave the map untouched.
func (c *Coordinator) existingLock(classID string) (*sync.RWMutex, bool) {
	c.locksMu.Lock()
	defer c.locksMu.Unlock()

	lock, exists := c.classLocks[classID]
	return lock, exists
}

func (c *Coordinator) classLock(classID string) *sync.RWMutex {
	c.locksMu.Lock()
	defer c.locksMu.Unlock()

	lock, exists := c.classLocks[classID]
	if !exists {
		lock = &sync.RWMutex{}
		c.classLocks[classID] = lock
	}
	return lock
}

// Setup creates or destructively replaces the session of a class
func (c *Coordinator) Setup(ctx context.Context, classID string, topicNames []string) (*types.ClassSession, error) {
	id, err := types.NormalizeClassID(classID)
	if err != nil {
		return nil, err
	}
	names, err := types.NormalizeTopicNames(topicNames)
	if err != nil {
		return nil, err
	}

	lock := c.classLock(id)
	lock.Lock()
	defer lock.Unlock()

	if _, err := c.store.ReplaceTopics(context.WithoutCancel(ctx), id, names); err != nil {
		return nil, fmt.Errorf("failed to store class session: %w", err)
	}

	created, err := c.registry.CreateOrReplace(id, names)
	if err != nil {
		return nil, err
	}
	if err := c.aggregator.Reset(id, created.Topics); err != nil {
		return nil, err
	}

	c.broadcast(id, types.StatsChanged{})
	return created, nil
}

// Topics returns the topics of a configured class
func (c *Coordinator) Topics(classID string) ([]types.Topic, error) {
	return c.registry.Topics(strings.TrimSpace(classID))
}

// SubmitFeedback applies a final submission: every rating and the optional comment are stored in
// one transaction, then applied to the live aggregates and broadcast to the room.
// Nothing is applied when any part fails.
func (c *Coordinator) SubmitFeedback(ctx context.Context, classID string, ratings []types.RatingInput, comment string) error {
	id := strings.TrimSpace(classID)

	lock, configured := c.existingLock(id)
	if !configured {
		return fmt.Errorf("%w: %s", session.ErrSessionNotFound, id)
	}
	lock.RLock()
	defer lock.RUnlock()

	if !c.registry.Exists(id) {
		return fmt.Errorf("%w: %s", session.ErrSessionNotFound, id)
	}

	seen := make(map[int]bool, len(ratings))
	for _, rating := range ratings {
		if !c.registry.HasTopic(id, rating.TopicID) {
			return fmt.Errorf("%w: topic %d", ErrTopicNotInClass, rating.TopicID)
		}
		if seen[rating.TopicID] {
			return fmt.Errorf("%w: topic %d", ErrDuplicateTopic, rating.TopicID)
		}
		seen[rating.TopicID] = true
		if err := types.ValidateScore(rating.Score); err != nil {
			return fmt.Errorf("topic %d: %w", rating.TopicID, err)
		}
	}

	// FUNCTIONAL DISCOVERY: an empty general comment means "no comment" on the final submission
	text := strings.TrimSpace(comment)
	hasComment := text != ""
	if hasComment {
		normalized, err := types.NormalizeComment(text, c.options.CommentMaxLength)
		if err != nil {
			return err
		}
		text = normalized
	}
	if len(ratings) == 0 && !hasComment {
		return ErrEmptySubmission
	}

	// TECHNICAL DISCOVERY: the commit must not depend on the submitter staying connected
	stored, err := c.commitFeedback(context.WithoutCancel(ctx), id, ratings, text, hasComment)
	if err != nil {
		return err
	}

	for _, rating := range ratings {
		result, err := c.aggregator.AddRating(id, rating.TopicID, rating.Score)
		if err != nil {
			log.Printf("INVARIANT VIOLATION: stored rating not applied: class=%s topic=%d err=%v", id, rating.TopicID, err)
			return fmt.Errorf("%w: %w", ErrAggregatorDrift, err)
		}
		c.broadcast(id, types.RatingRecorded{
			TopicID:  rating.TopicID,
			NewScore: rating.Score,
			Average:  result.Average,
			Count:    result.Count,
		})
	}

	if stored != nil {
		if _, err := c.registry.AddComments(id, 1); err != nil {
			return err
		}
		c.broadcast(id, types.CommentRecorded{Text: stored.Text, Timestamp: stored.Timestamp})
	}

	c.broadcastStats(id)
	log.Printf("Feedback submitted: class=%s ratings=%d comment=%t", id, len(ratings), hasComment)
	return nil
}

func (c *Coordinator) commitFeedback(ctx context.Context, classID string, ratings []types.RatingInput, text string, hasComment bool) (*types.Comment, error) {
	tx, err := c.store.BeginTx(ctx)
	if err != nil {
		return nil, asPersistence(err)
	}

	var stored *types.Comment
	for _, rating := range ratings {
		if err := tx.InsertRating(classID, rating.TopicID, rating.Score); err != nil {
			_ = tx.Rollback()
			return nil, asPersistence(err)
		}
	}
	if hasComment {
		if stored, err = tx.InsertComment(classID, text); err != nil {
			_ = tx.Rollback()
			return nil, asPersistence(err)
		}
	}

	if err := tx.Commit(); err != nil {
		_ = tx.Rollback()
		return nil, asPersistence(err)
	}
	return stored, nil
}

// SubmitLiveRating stores and applies a single rating as its own unit of work
func (c *Coordinator) SubmitLiveRating(ctx context.Context, classID string, topicID int, score int) (types.RatingResult, error) {
	id := strings.TrimSpace(classID)

	lock, configured := c.existingLock(id)
	if !configured {
		return types.RatingResult{}, fmt.Errorf("%w: %s", session.ErrSessionNotFound, id)
	}
	lock.RLock()
	defer lock.RUnlock()

	if !c.registry.Exists(id) {
		return types.RatingResult{}, fmt.Errorf("%w: %s", session.ErrSessionNotFound, id)
	}
	if !c.registry.HasTopic(id, topicID) {
		return types.RatingResult{}, fmt.Errorf("%w: topic %d", ErrTopicNotInClass, topicID)
	}
	if err := types.ValidateScore(score); err != nil {
		return types.RatingResult{}, err
	}

	if err := c.store.InsertRating(context.WithoutCancel(ctx), id, topicID, score); err != nil {
		return types.RatingResult{}, asPersistence(err)
	}

	result, err := c.aggregator.AddRating(id, topicID, score)
	if err != nil {
		log.Printf("INVARIANT VIOLATION: stored live rating not applied: class=%s topic=%d err=%v", id, topicID, err)
		return types.RatingResult{}, fmt.Errorf("%w: %w", ErrAggregatorDrift, err)
	}

	c.broadcast(id, types.RatingRecorded{
		TopicID:  topicID,
		NewScore: score,
		Average:  result.Average,
		Count:    result.Count,
	})
	c.broadcastStats(id)
	return result, nil
}

// SubmitComment stores a comment on its own, outside of a final submission
func (c *Coordinator) SubmitComment(ctx context.Context, classID string, text string) (*types.Comment, error) {
	id := strings.TrimSpace(classID)

	lock, configured := c.existingLock(id)
	if !configured {
		return nil, fmt.Errorf("%w: %s", session.ErrSessionNotFound, id)
	}
	lock.RLock()
	defer lock.RUnlock()

	if !c.registry.Exists(id) {
		return nil, fmt.Errorf("%w: %s", session.ErrSessionNotFound, id)
	}
	normalized, err := types.NormalizeComment(text, c.options.CommentMaxLength)
	if err != nil {
		return nil, err
	}

	stored, err := c.store.InsertComment(context.WithoutCancel(ctx), id, normalized)
	if err != nil {
		return nil, asPersistence(err)
	}
	if _, err := c.registry.AddComments(id, 1); err != nil {
		return nil, err
	}

	c.broadcast(id, types.CommentRecorded{Text: stored.Text, Timestamp: stored.Timestamp})
	c.broadcastStats(id)
	return stored, nil
}

// Summary returns the live topic aggregates together with the stored comments
func (c *Coordinator) Summary(ctx context.Context, classID string) (*types.Summary, error) {
	id := strings.TrimSpace(classID)

	lock, configured := c.existingLock(id)
	if !configured {
		return nil, fmt.Errorf("%w: %s", session.ErrSessionNotFound, id)
	}
	lock.RLock()
	defer lock.RUnlock()

	if !c.registry.Exists(id) {
		return nil, fmt.Errorf("%w: %s", session.ErrSessionNotFound, id)
	}

	topics, err := c.aggregator.Snapshot(id)
	if err != nil {
		return nil, err
	}
	comments, err := c.store.ReadComments(ctx, id)
	if err != nil {
		return nil, asPersistence(err)
	}

	return &types.Summary{
		ClassID:  id,
		Topics:   topics,
		Comments: comments,
	}, nil
}

// Connect registers a connection in the presence tracker and the class room.
// The other members of the room are told about the new counts; the joiner receives them in the result.
func (c *Coordinator) Connect(classID string, role types.Role, sink interfaces.Sink) (*ConnectResult, error) {
	id, err := types.NormalizeClassID(classID)
	if err != nil {
		return nil, err
	}

	token, counts, err := c.presence.Join(id, role)
	if err != nil {
		return nil, err
	}
	if err := c.dispatcher.Subscribe(id, token, sink); err != nil {
		if _, leaveErr := c.presence.Leave(token); leaveErr != nil {
			log.Printf("Failed to roll back presence for token=%s: %v", token, leaveErr)
		}
		return nil, fmt.Errorf("failed to subscribe to class room: %w", err)
	}

	if _, err := c.dispatcher.PublishExcept(id, token, types.PresenceChanged(counts)); err != nil {
		log.Printf("Failed to publish presence: class=%s err=%v", id, err)
	}

	log.Printf("Connection joined: class=%s role=%s students=%d teachers=%d", id, role, counts.StudentCount, counts.TeacherCount)
	return &ConnectResult{Token: token, Counts: counts}, nil
}

// Disconnect removes a connection from presence and from its room. Repeated calls are no-ops.
func (c *Coordinator) Disconnect(token string) error {
	classID, connected := c.presence.ClassOf(token)
	if !connected {
		return nil
	}

	c.dispatcher.Unsubscribe(classID, token)

	result, err := c.presence.Leave(token)
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}

	c.broadcast(classID, types.PresenceChanged(result.Counts))
	log.Printf("Connection left: class=%s role=%s students=%d teachers=%d",
		classID, result.Role, result.Counts.StudentCount, result.Counts.TeacherCount)
	return nil
}

// Presence returns the presence counts of a class
func (c *Coordinator) Presence(classID string) types.PresenceCounts {
	return c.presence.Counts(strings.TrimSpace(classID))
}

// Hydrate rebuilds the registry, aggregates and comment counts from the store
func (c *Coordinator) Hydrate(ctx context.Context) error {
	sessions, err := c.store.ListSessions(ctx)
	if err != nil {
		return fmt.Errorf("failed to load class sessions: %w", err)
	}

	for _, stored := range sessions {
		aggregates, err := c.store.ReadAggregates(ctx, stored.ClassID)
		if err != nil {
			return fmt.Errorf("failed to load aggregates for %s: %w", stored.ClassID, err)
		}
		comments, err := c.store.ReadComments(ctx, stored.ClassID)
		if err != nil {
			return fmt.Errorf("failed to load comments for %s: %w", stored.ClassID, err)
		}

		c.classLock(stored.ClassID)
		if err := c.registry.Restore(stored, int64(len(comments))); err != nil {
			return err
		}
		if err := c.aggregator.Restore(stored.ClassID, aggregates); err != nil {
			return fmt.Errorf("failed to restore aggregates for %s: %w", stored.ClassID, err)
		}
	}

	log.Printf("Hydrated %d class sessions from storage", len(sessions))
	return nil
}

// GetStats returns statistics of every in-memory component
func (c *Coordinator) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"registry":   c.registry.GetStats(),
		"aggregator": c.aggregator.GetStats(),
		"presence":   c.presence.GetStats(),
		"dispatcher": c.dispatcher.GetStats(),
	}
}

func (c *Coordinator) broadcastStats(classID string) {
	totals := c.aggregator.Totals(classID)
	c.broadcast(classID, types.StatsChanged{
		TotalRatings:   totals.TotalRatings,
		OverallAverage: totals.OverallAverage,
		TotalComments:  c.registry.CommentCount(classID),
	})
}

func (c *Coordinator) broadcast(classID string, event types.Event) {
	if _, err := c.dispatcher.Publish(classID, event); err != nil {
		log.Printf("Failed to publish %s: class=%s err=%v", event.EventType(), classID, err)
	}
}

func asPersistence(err error) error {
	if errors.Is(err, types.ErrPersistence) {
		return err
	}
	return fmt.Errorf("%w: %w", types.ErrPersistence, err)
}
