package interfaces

import (
	"context"

	"anonfeedback/pkg/types"
)

// Store is the durable persistence adapter consumed by the session coordinator
// ARCHITECTURAL DISCOVERY: the coordinator treats storage purely as a transactional row store,
// so schema and driver choice stay behind this interface
type Store interface {
	// BeginTx opens a unit of work. Nothing is visible until Commit succeeds.
	BeginTx(ctx context.Context) (Tx, error)

	// ReplaceTopics destructively replaces the class session and its topics in one transaction.
	// Ratings and comments of the previous session are discarded.
	ReplaceTopics(ctx context.Context, classID string, names []string) (*types.ClassSession, error)

	// InsertRating appends a single rating outside of any multi-row transaction
	InsertRating(ctx context.Context, classID string, topicID int, score int) error

	// InsertComment appends a single comment outside of any multi-row transaction
	InsertComment(ctx context.Context, classID string, text string) (*types.Comment, error)

	// ReadAggregates returns count and sum per topic, ordered by topic ID
	ReadAggregates(ctx context.Context, classID string) ([]types.TopicAggregate, error)

	// ReadComments returns the comments of a class in creation order
	ReadComments(ctx context.Context, classID string) ([]types.Comment, error)

	// ListSessions returns every stored class session with its topics
	ListSessions(ctx context.Context) ([]*types.ClassSession, error)

	HealthCheck(ctx context.Context) error
	Close() error
}

// Tx is a unit of work against the Store. Either every staged operation is applied or none.
type Tx interface {
	InsertRating(classID string, topicID int, score int) error
	InsertComment(classID string, text string) (*types.Comment, error)
	Commit() error
	Rollback() error
}
