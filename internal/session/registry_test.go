package session

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"anonfeedback/pkg/types"
)

func TestRegistry_CreateOrReplace(t *testing.T) {
	registry := NewRegistry()

	session, err := registry.CreateOrReplace("CS101", []string{"Recursion", " Sorting ", "Graphs"})
	if err != nil {
		t.Fatalf("CreateOrReplace failed: %v", err)
	}

	if session.ClassID != "CS101" {
		t.Errorf("Expected class ID CS101, got %s", session.ClassID)
	}
	if len(session.Topics) != 3 {
		t.Fatalf("Expected 3 topics, got %d", len(session.Topics))
	}
	for i, topic := range session.Topics {
		if topic.ID != i+1 {
			t.Errorf("Topic %d: expected ID %d, got %d", i, i+1, topic.ID)
		}
	}
	if session.Topics[1].Name != "Sorting" {
		t.Errorf("Topic names should be trimmed, got %q", session.Topics[1].Name)
	}
	if session.CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}
	if !registry.Exists("CS101") {
		t.Error("Session should exist after setup")
	}
}

func TestRegistry_CreateOrReplaceValidation(t *testing.T) {
	tests := []struct {
		name    string
		classID string
		topics  []string
	}{
		{name: "empty topic list", classID: "CS101", topics: []string{}},
		{name: "nil topic list", classID: "CS101", topics: nil},
		{name: "blank topic", classID: "CS101", topics: []string{"Recursion", "   "}},
		{name: "blank class", classID: "  ", topics: []string{"Recursion"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := NewRegistry()
			_, err := registry.CreateOrReplace(tt.classID, tt.topics)
			if !errors.Is(err, types.ErrInvalidInput) {
				t.Errorf("Expected ErrInvalidInput, got %v", err)
			}
			if registry.Exists(tt.classID) {
				t.Error("Failed setup must not create a session")
			}
		})
	}
}

func TestRegistry_ReplaceIsDestructive(t *testing.T) {
	registry := NewRegistry()

	if _, err := registry.CreateOrReplace("CS101", []string{"Recursion", "Sorting"}); err != nil {
		t.Fatalf("CreateOrReplace failed: %v", err)
	}
	if _, err := registry.AddComments("CS101", 2); err != nil {
		t.Fatalf("AddComments failed: %v", err)
	}

	if _, err := registry.CreateOrReplace("CS101", []string{"Graphs"}); err != nil {
		t.Fatalf("Replace failed: %v", err)
	}

	topics, err := registry.Topics("CS101")
	if err != nil {
		t.Fatalf("Topics failed: %v", err)
	}
	if len(topics) != 1 || topics[0].ID != 1 || topics[0].Name != "Graphs" {
		t.Errorf("Unexpected topics after replace: %+v", topics)
	}
	if registry.HasTopic("CS101", 2) {
		t.Error("Topic 2 should not survive a replace")
	}
	if count := registry.CommentCount("CS101"); count != 0 {
		t.Errorf("Comment count should reset on replace, got %d", count)
	}
}

func TestRegistry_TopicsNotFound(t *testing.T) {
	registry := NewRegistry()

	_, err := registry.Topics("UNKNOWN")
	if !errors.Is(err, types.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound, got %v", err)
	}
	if _, err := registry.AddComments("UNKNOWN", 1); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("Expected ErrNotFound from AddComments, got %v", err)
	}
}

func TestRegistry_ReturnsCopies(t *testing.T) {
	registry := NewRegistry()

	session, err := registry.CreateOrReplace("CS101", []string{"Recursion"})
	if err != nil {
		t.Fatalf("CreateOrReplace failed: %v", err)
	}
	session.Topics[0].Name = "Mutated"

	topics, _ := registry.Topics("CS101")
	if topics[0].Name != "Recursion" {
		t.Errorf("Registry state should not be shared with callers, got %q", topics[0].Name)
	}
}

func TestRegistry_RestoreAndList(t *testing.T) {
	registry := NewRegistry()

	if err := registry.Restore(nil, 0); !errors.Is(err, types.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for nil session, got %v", err)
	}

	for _, id := range []string{"MATH200", "CS101"} {
		session := &types.ClassSession{ClassID: id, Topics: []types.Topic{{ID: 1, Name: "Intro"}}}
		if err := registry.Restore(session, 3); err != nil {
			t.Fatalf("Restore failed: %v", err)
		}
	}

	sessions := registry.List()
	if len(sessions) != 2 || sessions[0].ClassID != "CS101" || sessions[1].ClassID != "MATH200" {
		t.Errorf("Expected sessions ordered by class ID, got %+v", sessions)
	}
	if count := registry.CommentCount("CS101"); count != 3 {
		t.Errorf("Expected restored comment count 3, got %d", count)
	}
	if stats := registry.GetStats(); stats["class_sessions"] != 2 {
		t.Errorf("Expected 2 class sessions in stats, got %v", stats["class_sessions"])
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	registry := NewRegistry()
	if _, err := registry.CreateOrReplace("CS101", []string{"Recursion"}); err != nil {
		t.Fatalf("CreateOrReplace failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, _ = registry.CreateOrReplace(fmt.Sprintf("CLASS-%d", i), []string{"A", "B"})
		}(i)
		go func() {
			defer wg.Done()
			_, _ = registry.AddComments("CS101", 1)
			_ = registry.Exists("CS101")
		}()
	}
	wg.Wait()

	if count := registry.CommentCount("CS101"); count != 50 {
		t.Errorf("Expected 50 comments, got %d", count)
	}
	if len(registry.List()) != 51 {
		t.Errorf("Expected 51 sessions, got %d", len(registry.List()))
	}
}
