package types

import (
	"encoding/json"
	"time"
)

// Role identifies which side of the classroom a connection belongs to
type Role string

const (
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// Score bounds are inclusive
const (
	MinScore = 1
	MaxScore = 10
)

// ClassSession is the feedback context for one class meeting
// Topics are ordered by ID; the slice is owned by the session and replaced wholesale on re-setup
type ClassSession struct {
	ClassID   string    `json:"classId" db:"class_id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	Topics    []Topic   `json:"topics" db:"-"`
}

// Topic is one gradable discussion item. IDs are 1-based and unique within a session.
type Topic struct {
	ID   int    `json:"id" db:"topic_id"`
	Name string `json:"name" db:"name"`
}

// RatingInput is a single (topic, score) pair submitted by a student
// ARCHITECTURAL DISCOVERY: no submitter identity field exists on purpose at any layer
type RatingInput struct {
	TopicID int `json:"topicId"`
	Score   int `json:"score"`
}

// Comment is free text attached to a class session
type Comment struct {
	ID        string    `json:"-" db:"id"`
	Text      string    `json:"text" db:"text"`
	Timestamp time.Time `json:"timestamp" db:"created_at"`
}

// TopicAggregate is the durable running state of one topic as read back from storage
type TopicAggregate struct {
	TopicID int    `json:"topicId" db:"topic_id"`
	Name    string `json:"name" db:"name"`
	Count   int64  `json:"count" db:"rating_count"`
	Sum     int64  `json:"sum" db:"rating_sum"`
}

// TopicSummary is the externally reported view of a topic
type TopicSummary struct {
	ID      int     `json:"id"`
	Name    string  `json:"name"`
	Average float64 `json:"average"`
	Count   int64   `json:"count"`
}

// RatingResult is returned after a single rating has been applied
type RatingResult struct {
	TopicID int     `json:"topicId"`
	Average float64 `json:"average"`
	Count   int64   `json:"count"`
}

// Totals aggregates every topic of a class
type Totals struct {
	TotalRatings   int64   `json:"totalRatings"`
	OverallAverage float64 `json:"overallAverage"`
}

// PresenceCounts is the number of connected participants per role
type PresenceCounts struct {
	StudentCount int `json:"studentCount"`
	TeacherCount int `json:"teacherCount"`
}

// Summary is the source-of-truth view of a class session
type Summary struct {
	ClassID  string         `json:"classId"`
	Topics   []TopicSummary `json:"topics"`
	Comments []Comment      `json:"comments"`
}

// Client frame types exchanged over the WebSocket transport
const (
	FrameLiveRating    = "live-rating"
	FrameComment       = "comment"
	FrameWelcome       = "welcome"
	FrameLiveRatingAck = "live-rating-ack"
	FrameCommentAck    = "comment-ack"
	FrameError         = "error"
)

// ClientFrame is an inbound message from a connected client
// Data is decoded lazily once the type is known
type ClientFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// LiveRatingFrame is the payload of a live-rating client frame
type LiveRatingFrame struct {
	TopicID int `json:"topicId"`
	Score   int `json:"score"`
}

// CommentFrame is the payload of a comment client frame
type CommentFrame struct {
	Text string `json:"text"`
}

// WelcomeFrame is sent directly to a connection right after it joins a room
type WelcomeFrame struct {
	Token    string         `json:"token"`
	ClassID  string         `json:"classId"`
	Role     Role           `json:"role"`
	Presence PresenceCounts `json:"presence"`
	Summary  *Summary       `json:"summary,omitempty"`
}

// ErrorFrame reports a failed client frame back to its sender
type ErrorFrame struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
