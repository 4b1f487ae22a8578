package types

import "errors"

// Error taxonomy shared by every component. Components wrap these with
// fmt.Errorf("%w: ...") and callers match with errors.Is.
var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrNotFound           = errors.New("not found")
	ErrPersistence        = errors.New("persistence error")
	ErrInvariantViolation = errors.New("internal invariant violation")
)

// Validation details wrapped around ErrInvalidInput
var (
	ErrInvalidClassID  = errors.New("class ID must be 1-100 characters")
	ErrEmptyTopicList  = errors.New("an array of topics is required")
	ErrBlankTopicName  = errors.New("topic names cannot be blank")
	ErrTopicNameLength = errors.New("topic name must be at most 200 characters")
	ErrTooManyTopics   = errors.New("a session can hold at most 100 topics")
	ErrScoreOutOfRange = errors.New("score must be between 1 and 10")
	ErrBlankComment    = errors.New("comment cannot be blank")
	ErrCommentTooLong  = errors.New("comment exceeds maximum length")
	ErrInvalidRole     = errors.New("invalid role: must be 'teacher' or 'student'")
)
