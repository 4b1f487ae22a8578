package types

import "time"

// Event wire names. They match the event names the browser client listens for.
const (
	EventPresenceChanged = "user-count-updated"
	EventRatingRecorded  = "rating-updated"
	EventCommentRecorded = "new-comment"
	EventStatsChanged    = "stats-updated"
)

// Event is a state change published to a class room
type Event interface {
	EventType() string
}

// PresenceChanged carries the new presence counts of a class
type PresenceChanged struct {
	StudentCount int `json:"studentCount"`
	TeacherCount int `json:"teacherCount"`
}

// RatingRecorded carries a new score and the recomputed aggregate of its topic
type RatingRecorded struct {
	TopicID  int     `json:"topicId"`
	NewScore int     `json:"newScore"`
	Average  float64 `json:"average"`
	Count    int64   `json:"count"`
}

// CommentRecorded carries a newly stored comment
type CommentRecorded struct {
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// StatsChanged carries class-wide totals
type StatsChanged struct {
	TotalRatings   int64   `json:"totalRatings"`
	OverallAverage float64 `json:"overallAverage"`
	TotalComments  int64   `json:"totalComments"`
}

func (PresenceChanged) EventType() string { return EventPresenceChanged }
func (RatingRecorded) EventType() string  { return EventRatingRecorded }
func (CommentRecorded) EventType() string { return EventCommentRecorded }
func (StatsChanged) EventType() string    { return EventStatsChanged }

// Envelope is the JSON frame written to subscribers
type Envelope struct {
	Type      string      `json:"type"`
	ClassID   string      `json:"classId,omitempty"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewEnvelope wraps a room event for delivery
func NewEnvelope(classID string, event Event) *Envelope {
	return &Envelope{
		Type:      event.EventType(),
		ClassID:   classID,
		Data:      event,
		Timestamp: time.Now().UTC(),
	}
}

// NewFrame wraps a direct (non-room) reply to a single connection
func NewFrame(frameType string, data interface{}) *Envelope {
	return &Envelope{
		Type:      frameType,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}
