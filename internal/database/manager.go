package database

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	dbconfig "anonfeedback/pkg/database"
	"anonfeedback/pkg/interfaces"
	"anonfeedback/pkg/types"
)

// Manager implements the interfaces.Store persistence adapter
type Manager struct {
	db           *sqlx.DB
	config       *dbconfig.Config
	writeChannel chan writeOperation // TECHNICAL: Single-writer pattern for SQLite
	shutdown     chan struct{}
	stopped      chan struct{} // closed once writeLoop has answered every queued operation
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex // TECHNICAL: Protect closed status
}

// writeOperation represents a database write operation
type writeOperation struct {
	ctx       context.Context
	operation func(ctx context.Context, tx *sqlx.Tx) error
	result    chan error
}

var _ interfaces.Store = (*Manager)(nil)

// NewManager opens the database, applies tuning and starts the writer goroutine
// Migrations are applied separately through Migrate so tests can control the schema
func NewManager(config *dbconfig.Config) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database configuration: %w", err)
	}

	if config.Driver == dbconfig.DriverSQLite {
		if err := os.MkdirAll(filepath.Dir(config.DatabasePath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sqlx.Open(config.Driver, config.DataSourceName())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if pragmas := config.Optimizations(); pragmas != "" {
		if _, err := db.Exec(pragmas); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply database optimizations: %w", err)
		}
	}

	manager := &Manager{
		db:           db,
		config:       config,
		writeChannel: make(chan writeOperation, 100), // TECHNICAL: Buffer for write operations prevents blocking
		shutdown:     make(chan struct{}),
		stopped:      make(chan struct{}),
	}

	// ARCHITECTURAL DISCOVERY: Single-writer goroutine prevents SQLite write contention
	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// Migrate applies the embedded schema for the configured driver
func (m *Manager) Migrate() error {
	source, err := dbconfig.MigrationsFor(m.config.Driver)
	if err != nil {
		return err
	}
	migrations := dbconfig.NewMigrationManager(m.db, source)
	if err := migrations.ApplyMigrations(); err != nil {
		return err
	}
	return migrations.ValidateSchema()
}

// writeLoop processes all write operations in a single goroutine
// Every operation runs inside its own transaction; failures are returned, never retried
func (m *Manager) writeLoop() {
	defer m.wg.Done()
	defer close(m.stopped)

	for {
		select {
		case op := <-m.writeChannel:
			op.result <- m.runInTx(op.ctx, op.operation)

		case <-m.shutdown:
			log.Println("Database write loop shutting down")
			m.drainPending()
			return
		}
	}
}

// drainPending fails every operation still buffered in writeChannel so no caller waits forever
func (m *Manager) drainPending() {
	for {
		select {
		case op := <-m.writeChannel:
			op.result <- ErrManagerClosed
		default:
			return
		}
	}
}

func (m *Manager) runInTx(ctx context.Context, operation func(ctx context.Context, tx *sqlx.Tx) error) error {
	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }() // TECHNICAL: Always rollback unless commit succeeds

	if err := operation(ctx, tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// executeWrite queues a write operation and waits for completion
// Every failure is wrapped in types.ErrPersistence
func (m *Manager) executeWrite(ctx context.Context, operation func(ctx context.Context, tx *sqlx.Tx) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return fmt.Errorf("%w: database manager is closed", types.ErrPersistence)
	}
	m.mu.RUnlock()

	result := make(chan error, 1)

	select {
	case m.writeChannel <- writeOperation{ctx: ctx, operation: operation, result: result}:
	case <-time.After(30 * time.Second):
		return fmt.Errorf("%w: write operation timeout", types.ErrPersistence)
	case <-m.shutdown:
		return fmt.Errorf("%w: database manager is shutting down", types.ErrPersistence)
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", types.ErrPersistence, ctx.Err())
	}

	var err error
	select {
	case err = <-result:
	case <-m.stopped:
		// TECHNICAL DISCOVERY: an operation sent after the final drain is never answered
		select {
		case err = <-result:
		default:
			err = ErrManagerClosed
		}
	}
	if err != nil {
		return fmt.Errorf("%w: %w", types.ErrPersistence, err)
	}
	return nil
}

// ReplaceTopics deletes the previous class session (cascading to topics, ratings and comments)
// and inserts the new one in a single transaction
func (m *Manager) ReplaceTopics(ctx context.Context, classID string, names []string) (*types.ClassSession, error) {
	session := &types.ClassSession{
		ClassID:   classID,
		CreatedAt: time.Now().UTC(),
		Topics:    make([]types.Topic, len(names)),
	}
	for i, name := range names {
		session.Topics[i] = types.Topic{ID: i + 1, Name: name}
	}

	err := m.executeWrite(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM classes WHERE class_id = ?`), classID); err != nil {
			return fmt.Errorf("failed to delete previous session: %w", err)
		}

		if _, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO classes (class_id, created_at) VALUES (?, ?)`),
			classID, session.CreatedAt); err != nil {
			return fmt.Errorf("failed to insert class: %w", err)
		}

		insertTopic := tx.Rebind(`INSERT INTO topics (class_id, topic_id, name) VALUES (?, ?, ?)`)
		for _, topic := range session.Topics {
			if _, err := tx.ExecContext(ctx, insertTopic, classID, topic.ID, topic.Name); err != nil {
				return fmt.Errorf("failed to insert topic %d: %w", topic.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return session, nil
}

// InsertRating appends a single rating in its own transaction
func (m *Manager) InsertRating(ctx context.Context, classID string, topicID int, score int) error {
	return m.executeWrite(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		return insertRating(ctx, tx, classID, topicID, score, time.Now().UTC())
	})
}

// InsertComment appends a single comment in its own transaction
func (m *Manager) InsertComment(ctx context.Context, classID string, text string) (*types.Comment, error) {
	comment := newComment(text)
	err := m.executeWrite(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		return insertComment(ctx, tx, classID, comment)
	})
	if err != nil {
		return nil, err
	}
	return comment, nil
}

// ReadAggregates returns count and sum per topic, ordered by topic ID
// ARCHITECTURAL DISCOVERY: Read operations can be concurrent - no need for writeChannel
func (m *Manager) ReadAggregates(ctx context.Context, classID string) ([]types.TopicAggregate, error) {
	query := m.db.Rebind(`
		SELECT t.topic_id, t.name, COUNT(r.id) AS rating_count, COALESCE(SUM(r.score), 0) AS rating_sum
		FROM topics t
		LEFT JOIN ratings r ON r.class_id = t.class_id AND r.topic_id = t.topic_id
		WHERE t.class_id = ?
		GROUP BY t.topic_id, t.name
		ORDER BY t.topic_id ASC
	`)

	var aggregates []types.TopicAggregate
	if err := m.db.SelectContext(ctx, &aggregates, query, classID); err != nil {
		return nil, fmt.Errorf("%w: failed to query aggregates: %w", types.ErrPersistence, err)
	}
	return aggregates, nil
}

// ReadComments returns the comments of a class in creation order
func (m *Manager) ReadComments(ctx context.Context, classID string) ([]types.Comment, error) {
	query := m.db.Rebind(`
		SELECT id, text, created_at
		FROM comments
		WHERE class_id = ?
		ORDER BY seq ASC
	`)

	comments := []types.Comment{}
	if err := m.db.SelectContext(ctx, &comments, query, classID); err != nil {
		return nil, fmt.Errorf("%w: failed to query comments: %w", types.ErrPersistence, err)
	}
	return comments, nil
}

// ListSessions returns every stored class session with its topics, ordered by class ID
func (m *Manager) ListSessions(ctx context.Context) ([]*types.ClassSession, error) {
	var sessions []*types.ClassSession
	if err := m.db.SelectContext(ctx, &sessions, `SELECT class_id, created_at FROM classes ORDER BY class_id ASC`); err != nil {
		return nil, fmt.Errorf("%w: failed to query classes: %w", types.ErrPersistence, err)
	}

	var rows []struct {
		ClassID string `db:"class_id"`
		types.Topic
	}
	if err := m.db.SelectContext(ctx, &rows, `SELECT class_id, topic_id, name FROM topics ORDER BY class_id ASC, topic_id ASC`); err != nil {
		return nil, fmt.Errorf("%w: failed to query topics: %w", types.ErrPersistence, err)
	}

	byID := make(map[string]*types.ClassSession, len(sessions))
	for _, session := range sessions {
		session.Topics = []types.Topic{}
		byID[session.ClassID] = session
	}
	for _, row := range rows {
		if session, exists := byID[row.ClassID]; exists {
			session.Topics = append(session.Topics, row.Topic)
		}
	}

	return sessions, nil
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var count int
	if err := m.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM classes"); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// GetDB returns the underlying database connection
func (m *Manager) GetDB() *sqlx.DB {
	return m.db
}

// Close shuts down the database manager
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// BeginTx opens a staged unit of work
func (m *Manager) BeginTx(ctx context.Context) (interfaces.Tx, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, fmt.Errorf("%w: database manager is closed", types.ErrPersistence)
	}
	return &stagedTx{manager: m, ctx: ctx}, nil
}

var (
	// ErrManagerClosed answers writes that reach the manager after Close
	ErrManagerClosed = errors.New("database manager is closed")

	errTxDone = errors.New("transaction already committed or rolled back")
)

// stagedTx collects operations and applies them in one SQL transaction on Commit
// TECHNICAL DISCOVERY: staging keeps the single-writer loop free while a caller is still
// building its unit of work
type stagedTx struct {
	manager *Manager
	ctx     context.Context
	ops     []func(ctx context.Context, tx *sqlx.Tx) error
	done    bool
	mu      sync.Mutex
}

func (t *stagedTx) InsertRating(classID string, topicID int, score int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return errTxDone
	}

	createdAt := time.Now().UTC()
	t.ops = append(t.ops, func(ctx context.Context, tx *sqlx.Tx) error {
		return insertRating(ctx, tx, classID, topicID, score, createdAt)
	})
	return nil
}

func (t *stagedTx) InsertComment(classID string, text string) (*types.Comment, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil, errTxDone
	}

	comment := newComment(text)
	t.ops = append(t.ops, func(ctx context.Context, tx *sqlx.Tx) error {
		return insertComment(ctx, tx, classID, comment)
	})
	return comment, nil
}

func (t *stagedTx) Commit() error {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return errTxDone
	}
	t.done = true
	ops := t.ops
	t.ops = nil
	t.mu.Unlock()

	return t.manager.executeWrite(t.ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		for _, op := range ops {
			if err := op(ctx, tx); err != nil {
				return err
			}
		}
		return nil
	})
}

// Rollback discards staged operations. Rolling back a finished transaction is a no-op.
func (t *stagedTx) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.done = true
	t.ops = nil
	return nil
}

func newComment(text string) *types.Comment {
	return &types.Comment{
		ID:        uuid.New().String(),
		Text:      text,
		Timestamp: time.Now().UTC(),
	}
}

func insertRating(ctx context.Context, tx *sqlx.Tx, classID string, topicID int, score int, createdAt time.Time) error {
	query := tx.Rebind(`INSERT INTO ratings (class_id, topic_id, score, created_at) VALUES (?, ?, ?, ?)`)
	if _, err := tx.ExecContext(ctx, query, classID, topicID, score, createdAt); err != nil {
		return fmt.Errorf("failed to insert rating for topic %d: %w", topicID, err)
	}
	return nil
}

func insertComment(ctx context.Context, tx *sqlx.Tx, classID string, comment *types.Comment) error {
	query := tx.Rebind(`INSERT INTO comments (id, class_id, text, created_at) VALUES (?, ?, ?, ?)`)
	if _, err := tx.ExecContext(ctx, query, comment.ID, classID, comment.Text, comment.Timestamp); err != nil {
		return fmt.Errorf("failed to insert comment: %w", err)
	}
	return nil
}
