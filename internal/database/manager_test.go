package database

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"anonfeedback/pkg/database"
	"anonfeedback/pkg/interfaces"
	"anonfeedback/pkg/types"
)

// Test database setup helpers
func setupTestDB(t *testing.T) *Manager {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	config := database.DefaultConfig()
	config.DatabasePath = dbPath

	manager, err := NewManager(config)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	if err := manager.Migrate(); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	t.Cleanup(func() {
		if err := manager.Close(); err != nil {
			t.Logf("Failed to close manager: %v", err)
		}
	})
	return manager
}

func countRows(t *testing.T, m *Manager, table string, classID string) int {
	t.Helper()
	var count int
	if err := m.GetDB().Get(&count, fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE class_id = ?", table), classID); err != nil {
		t.Fatalf("Failed to count %s: %v", table, err)
	}
	return count
}

func TestManager_InterfaceCompliance(t *testing.T) {
	var _ interfaces.Store = (*Manager)(nil)
}

func TestManager_InvalidConfig(t *testing.T) {
	config := database.DefaultConfig()
	config.DatabasePath = ""
	if _, err := NewManager(config); err == nil {
		t.Error("Expected error for empty database path")
	}
}

func TestManager_ReplaceTopics(t *testing.T) {
	manager := setupTestDB(t)
	ctx := context.Background()

	session, err := manager.ReplaceTopics(ctx, "CS101", []string{"Recursion", "Sorting"})
	if err != nil {
		t.Fatalf("ReplaceTopics failed: %v", err)
	}
	if len(session.Topics) != 2 || session.Topics[0].ID != 1 || session.Topics[1].Name != "Sorting" {
		t.Errorf("Unexpected topics: %+v", session.Topics)
	}

	if err := manager.InsertRating(ctx, "CS101", 1, 8); err != nil {
		t.Fatalf("InsertRating failed: %v", err)
	}
	if _, err := manager.InsertComment(ctx, "CS101", "Great pace"); err != nil {
		t.Fatalf("InsertComment failed: %v", err)
	}

	// Re-setup discards ratings and comments of the previous session
	session, err = manager.ReplaceTopics(ctx, "CS101", []string{"Graphs"})
	if err != nil {
		t.Fatalf("Second ReplaceTopics failed: %v", err)
	}
	if len(session.Topics) != 1 || session.Topics[0].Name != "Graphs" {
		t.Errorf("Unexpected topics after replace: %+v", session.Topics)
	}
	if n := countRows(t, manager, "ratings", "CS101"); n != 0 {
		t.Errorf("Expected ratings to be discarded, got %d", n)
	}
	if n := countRows(t, manager, "comments", "CS101"); n != 0 {
		t.Errorf("Expected comments to be discarded, got %d", n)
	}
	if n := countRows(t, manager, "topics", "CS101"); n != 1 {
		t.Errorf("Expected 1 topic, got %d", n)
	}
}

func TestManager_ReadAggregates(t *testing.T) {
	manager := setupTestDB(t)
	ctx := context.Background()

	if _, err := manager.ReplaceTopics(ctx, "CS101", []string{"Recursion", "Sorting"}); err != nil {
		t.Fatalf("ReplaceTopics failed: %v", err)
	}
	for _, score := range []int{8, 6} {
		if err := manager.InsertRating(ctx, "CS101", 1, score); err != nil {
			t.Fatalf("InsertRating failed: %v", err)
		}
	}

	aggregates, err := manager.ReadAggregates(ctx, "CS101")
	if err != nil {
		t.Fatalf("ReadAggregates failed: %v", err)
	}
	if len(aggregates) != 2 {
		t.Fatalf("Expected 2 aggregates, got %d", len(aggregates))
	}
	if aggregates[0].Count != 2 || aggregates[0].Sum != 14 || aggregates[0].Name != "Recursion" {
		t.Errorf("Unexpected first aggregate: %+v", aggregates[0])
	}
	// Topics without ratings are still reported
	if aggregates[1].TopicID != 2 || aggregates[1].Count != 0 || aggregates[1].Sum != 0 {
		t.Errorf("Unexpected second aggregate: %+v", aggregates[1])
	}

	empty, err := manager.ReadAggregates(ctx, "UNKNOWN")
	if err != nil {
		t.Fatalf("ReadAggregates for unknown class failed: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("Expected no aggregates for unknown class, got %d", len(empty))
	}
}

func TestManager_InsertRatingConstraints(t *testing.T) {
	manager := setupTestDB(t)
	ctx := context.Background()

	if _, err := manager.ReplaceTopics(ctx, "CS101", []string{"Recursion"}); err != nil {
		t.Fatalf("ReplaceTopics failed: %v", err)
	}

	err := manager.InsertRating(ctx, "CS101", 1, 11)
	if !errors.Is(err, types.ErrPersistence) {
		t.Errorf("Expected ErrPersistence for out of range score, got %v", err)
	}

	err = manager.InsertRating(ctx, "CS101", 5, 7)
	if !errors.Is(err, types.ErrPersistence) {
		t.Errorf("Expected ErrPersistence for unknown topic, got %v", err)
	}
}

func TestManager_CommentOrdering(t *testing.T) {
	manager := setupTestDB(t)
	ctx := context.Background()

	if _, err := manager.ReplaceTopics(ctx, "CS101", []string{"Recursion"}); err != nil {
		t.Fatalf("ReplaceTopics failed: %v", err)
	}

	texts := []string{"first", "second", "third"}
	for _, text := range texts {
		comment, err := manager.InsertComment(ctx, "CS101", text)
		if err != nil {
			t.Fatalf("InsertComment failed: %v", err)
		}
		if comment.ID == "" || comment.Timestamp.IsZero() {
			t.Errorf("Comment should carry an ID and timestamp: %+v", comment)
		}
	}

	comments, err := manager.ReadComments(ctx, "CS101")
	if err != nil {
		t.Fatalf("ReadComments failed: %v", err)
	}
	if len(comments) != len(texts) {
		t.Fatalf("Expected %d comments, got %d", len(texts), len(comments))
	}
	for i, comment := range comments {
		if comment.Text != texts[i] {
			t.Errorf("Comment %d: expected %q, got %q", i, texts[i], comment.Text)
		}
	}
}

func TestManager_TransactionCommit(t *testing.T) {
	manager := setupTestDB(t)
	ctx := context.Background()

	if _, err := manager.ReplaceTopics(ctx, "CS101", []string{"Recursion", "Sorting"}); err != nil {
		t.Fatalf("ReplaceTopics failed: %v", err)
	}

	tx, err := manager.BeginTx(ctx)
	if err != nil {
		t.Fatalf("BeginTx failed: %v", err)
	}
	if err := tx.InsertRating("CS101", 1, 8); err != nil {
		t.Fatalf("Tx InsertRating failed: %v", err)
	}
	if err := tx.InsertRating("CS101", 2, 6); err != nil {
		t.Fatalf("Tx InsertRating failed: %v", err)
	}
	if _, err := tx.InsertComment("CS101", "Great pace"); err != nil {
		t.Fatalf("Tx InsertComment failed: %v", err)
	}

	// Nothing is visible before commit
	if n := countRows(t, manager, "ratings", "CS101"); n != 0 {
		t.Errorf("Staged ratings should not be visible, got %d", n)
	}

	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if n := countRows(t, manager, "ratings", "CS101"); n != 2 {
		t.Errorf("Expected 2 ratings after commit, got %d", n)
	}
	if n := countRows(t, manager, "comments", "CS101"); n != 1 {
		t.Errorf("Expected 1 comment after commit, got %d", n)
	}

	if err := tx.Commit(); err == nil {
		t.Error("Second commit should fail")
	}
}

func TestManager_TransactionRollback(t *testing.T) {
	manager := setupTestDB(t)
	ctx := context.Background()

	if _, err := manager.ReplaceTopics(ctx, "CS101", []string{"Recursion"}); err != nil {
		t.Fatalf("ReplaceTopics failed: %v", err)
	}

	tx, err := manager.BeginTx(ctx)
	if err != nil {
		t.Fatalf("BeginTx failed: %v", err)
	}
	_ = tx.InsertRating("CS101", 1, 8)
	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Errorf("Repeated rollback should be a no-op: %v", err)
	}
	if err := tx.InsertRating("CS101", 1, 8); err == nil {
		t.Error("Insert after rollback should fail")
	}
	if n := countRows(t, manager, "ratings", "CS101"); n != 0 {
		t.Errorf("Rolled back ratings must not be stored, got %d", n)
	}
}

func TestManager_FailedCommitLeavesNothing(t *testing.T) {
	manager := setupTestDB(t)
	ctx := context.Background()

	if _, err := manager.ReplaceTopics(ctx, "CS101", []string{"Recursion"}); err != nil {
		t.Fatalf("ReplaceTopics failed: %v", err)
	}

	tx, err := manager.BeginTx(ctx)
	if err != nil {
		t.Fatalf("BeginTx failed: %v", err)
	}
	_ = tx.InsertRating("CS101", 1, 8)
	_, _ = tx.InsertComment("CS101", "kept?")
	_ = tx.InsertRating("CS101", 99, 5) // unknown topic violates the foreign key

	if err := tx.Commit(); !errors.Is(err, types.ErrPersistence) {
		t.Fatalf("Expected ErrPersistence, got %v", err)
	}
	if n := countRows(t, manager, "ratings", "CS101"); n != 0 {
		t.Errorf("Failed commit must not store ratings, got %d", n)
	}
	if n := countRows(t, manager, "comments", "CS101"); n != 0 {
		t.Errorf("Failed commit must not store comments, got %d", n)
	}
}

func TestManager_ListSessions(t *testing.T) {
	manager := setupTestDB(t)
	ctx := context.Background()

	if _, err := manager.ReplaceTopics(ctx, "MATH200", []string{"Limits"}); err != nil {
		t.Fatalf("ReplaceTopics failed: %v", err)
	}
	if _, err := manager.ReplaceTopics(ctx, "CS101", []string{"Recursion", "Sorting"}); err != nil {
		t.Fatalf("ReplaceTopics failed: %v", err)
	}

	sessions, err := manager.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("Expected 2 sessions, got %d", len(sessions))
	}
	if sessions[0].ClassID != "CS101" || len(sessions[0].Topics) != 2 {
		t.Errorf("Unexpected first session: %+v", sessions[0])
	}
	if sessions[1].ClassID != "MATH200" || sessions[1].Topics[0].Name != "Limits" {
		t.Errorf("Unexpected second session: %+v", sessions[1])
	}
}

func TestManager_SingleWriterPattern(t *testing.T) {
	manager := setupTestDB(t)
	ctx := context.Background()

	if _, err := manager.ReplaceTopics(ctx, "CS101", []string{"Recursion"}); err != nil {
		t.Fatalf("ReplaceTopics failed: %v", err)
	}

	// Concurrent writes are serialized through the write loop
	const writers = 50
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(score int) {
			defer wg.Done()
			errs <- manager.InsertRating(ctx, "CS101", 1, score)
		}(i%10 + 1)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("Concurrent write failed: %v", err)
		}
	}
	if n := countRows(t, manager, "ratings", "CS101"); n != writers {
		t.Errorf("Expected %d ratings, got %d", writers, n)
	}
}

func TestManager_HealthCheckBehavior(t *testing.T) {
	manager := setupTestDB(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := manager.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck failed: %v", err)
	}
}

func TestManager_CleanShutdown(t *testing.T) {
	manager := setupTestDB(t)
	ctx := context.Background()

	if err := manager.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := manager.Close(); err != nil {
		t.Errorf("Second close should be a no-op: %v", err)
	}

	if err := manager.InsertRating(ctx, "CS101", 1, 5); !errors.Is(err, types.ErrPersistence) {
		t.Errorf("Write after close should fail with ErrPersistence, got %v", err)
	}
	if _, err := manager.BeginTx(ctx); err == nil {
		t.Error("BeginTx after close should fail")
	}
}

func TestManager_DrainAnswersQueuedWrites(t *testing.T) {
	manager := setupTestDB(t)
	if err := manager.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	results := make([]chan error, 5)
	for i := range results {
		results[i] = make(chan error, 1)
		manager.writeChannel <- writeOperation{
			ctx: context.Background(),
			operation: func(ctx context.Context, tx *sqlx.Tx) error {
				t.Error("Queued operation must not run after close")
				return nil
			},
			result: results[i],
		}
	}

	manager.drainPending()

	for i, result := range results {
		select {
		case err := <-result:
			if !errors.Is(err, ErrManagerClosed) {
				t.Errorf("Operation %d: expected ErrManagerClosed, got %v", i, err)
			}
		default:
			t.Errorf("Operation %d was left without an answer", i)
		}
	}
}

// TECHNICAL VALIDATION TEST: writers racing Close always return
func TestManager_CloseWithConcurrentWriters(t *testing.T) {
	for round := 0; round < 20; round++ {
		manager := setupTestDB(t)
		ctx := context.Background()
		if _, err := manager.ReplaceTopics(ctx, "CS101", []string{"Recursion"}); err != nil {
			t.Fatalf("ReplaceTopics failed: %v", err)
		}

		const writers = 200
		var wg sync.WaitGroup
		start := make(chan struct{})
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				if err := manager.InsertRating(ctx, "CS101", 1, 5); err != nil && !errors.Is(err, types.ErrPersistence) {
					t.Errorf("Expected nil or ErrPersistence, got %v", err)
				}
			}()
		}

		close(start)
		if err := manager.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}

		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(10 * time.Second):
			t.Fatalf("Round %d: writers still blocked after Close", round)
		}
	}
}
