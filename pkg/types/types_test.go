package types

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNormalizeClassID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "simple", input: "CS101", want: "CS101"},
		{name: "trimmed", input: "  Math-2023 ", want: "Math-2023"},
		{name: "empty", input: "", wantErr: true},
		{name: "blank", input: "   ", wantErr: true},
		{name: "too long", input: strings.Repeat("a", 101), wantErr: true},
		{name: "max length", input: strings.Repeat("a", 100), want: strings.Repeat("a", 100)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeClassID(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidInput) {
					t.Errorf("Expected ErrInvalidInput, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestNormalizeTopicNames(t *testing.T) {
	names, err := NormalizeTopicNames([]string{" Recursion", "Pointers "})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if names[0] != "Recursion" || names[1] != "Pointers" {
		t.Errorf("Expected trimmed names, got %v", names)
	}

	if _, err := NormalizeTopicNames(nil); !errors.Is(err, ErrEmptyTopicList) {
		t.Errorf("Expected ErrEmptyTopicList, got %v", err)
	}

	_, err = NormalizeTopicNames([]string{"A", "  "})
	if !errors.Is(err, ErrInvalidInput) || !errors.Is(err, ErrBlankTopicName) {
		t.Errorf("Expected blank topic error wrapped in ErrInvalidInput, got %v", err)
	}

	many := make([]string, 101)
	for i := range many {
		many[i] = "t"
	}
	if _, err := NormalizeTopicNames(many[:100]); err != nil {
		t.Errorf("100 topics should be accepted, got %v", err)
	}
	if _, err := NormalizeTopicNames(many); !errors.Is(err, ErrInvalidInput) || !errors.Is(err, ErrTooManyTopics) {
		t.Errorf("Expected ErrTooManyTopics wrapped in ErrInvalidInput, got %v", err)
	}
}

func TestValidateScore_Boundaries(t *testing.T) {
	for _, score := range []int{1, 5, 10} {
		if err := ValidateScore(score); err != nil {
			t.Errorf("Score %d should be valid, got %v", score, err)
		}
	}
	for _, score := range []int{-1, 0, 11, 100} {
		if err := ValidateScore(score); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("Score %d should fail with ErrInvalidInput, got %v", score, err)
		}
	}
}

func TestNormalizeComment(t *testing.T) {
	got, err := NormalizeComment("  good pace  ", 2000)
	if err != nil || got != "good pace" {
		t.Errorf("Expected trimmed comment, got %q (%v)", got, err)
	}
	if _, err := NormalizeComment("   ", 2000); !errors.Is(err, ErrBlankComment) {
		t.Errorf("Expected ErrBlankComment, got %v", err)
	}
	if _, err := NormalizeComment("abcdef", 5); !errors.Is(err, ErrCommentTooLong) {
		t.Errorf("Expected ErrCommentTooLong, got %v", err)
	}
}

func TestParseRole(t *testing.T) {
	if role, err := ParseRole("Teacher"); err != nil || role != RoleTeacher {
		t.Errorf("Expected teacher role, got %q (%v)", role, err)
	}
	if role, err := ParseRole("student"); err != nil || role != RoleStudent {
		t.Errorf("Expected student role, got %q (%v)", role, err)
	}
	if _, err := ParseRole("instructor"); !errors.Is(err, ErrInvalidRole) {
		t.Errorf("Expected ErrInvalidRole, got %v", err)
	}
}

func TestEnvelope_WireFormat(t *testing.T) {
	env := NewEnvelope("CS101", RatingRecorded{TopicID: 1, NewScore: 7, Average: 7.5, Count: 2})

	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if decoded["type"] != EventRatingRecorded {
		t.Errorf("Expected type %s, got %v", EventRatingRecorded, decoded["type"])
	}
	if decoded["classId"] != "CS101" {
		t.Errorf("Expected classId CS101, got %v", decoded["classId"])
	}
	payload, ok := decoded["data"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected object payload, got %T", decoded["data"])
	}
	if payload["average"] != 7.5 || payload["count"] != float64(2) {
		t.Errorf("Unexpected payload: %v", payload)
	}
	if _, exists := payload["userId"]; exists {
		t.Error("Rating events must not carry submitter identity")
	}
}

func TestEvents_TypeNames(t *testing.T) {
	events := map[string]Event{
		EventPresenceChanged: PresenceChanged{},
		EventRatingRecorded:  RatingRecorded{},
		EventCommentRecorded: CommentRecorded{Timestamp: time.Now()},
		EventStatsChanged:    StatsChanged{},
	}
	for want, ev := range events {
		if ev.EventType() != want {
			t.Errorf("Expected %s, got %s", want, ev.EventType())
		}
	}
}
