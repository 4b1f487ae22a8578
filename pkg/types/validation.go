package types

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	maxClassIDLength   = 100
	maxTopicNameLength = 200
	maxTopics          = 100
)

// invalid wraps a validation detail so it matches both ErrInvalidInput and the detail
func invalid(detail error) error {
	return fmt.Errorf("%w: %w", ErrInvalidInput, detail)
}

// NormalizeClassID trims the identifier and checks its length
// FUNCTIONAL DISCOVERY: class IDs are chosen by teachers ("CS101", "Math-2023"), so any
// printable text is accepted
func NormalizeClassID(classID string) (string, error) {
	id := strings.TrimSpace(classID)
	if id == "" || utf8.RuneCountInString(id) > maxClassIDLength {
		return "", invalid(ErrInvalidClassID)
	}
	return id, nil
}

// NormalizeTopicNames trims every topic name and rejects empty lists or blank entries
func NormalizeTopicNames(names []string) ([]string, error) {
	if len(names) == 0 {
		return nil, invalid(ErrEmptyTopicList)
	}
	if len(names) > maxTopics {
		return nil, invalid(ErrTooManyTopics)
	}

	out := make([]string, len(names))
	for i, name := range names {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			return nil, fmt.Errorf("%w (topic %d)", invalid(ErrBlankTopicName), i+1)
		}
		if utf8.RuneCountInString(trimmed) > maxTopicNameLength {
			return nil, fmt.Errorf("%w (topic %d)", invalid(ErrTopicNameLength), i+1)
		}
		out[i] = trimmed
	}
	return out, nil
}

// ValidateScore checks the closed [MinScore, MaxScore] range
func ValidateScore(score int) error {
	if score < MinScore || score > MaxScore {
		return fmt.Errorf("%w: got %d", invalid(ErrScoreOutOfRange), score)
	}
	return nil
}

// NormalizeComment trims a comment and enforces the configured maximum length in runes
func NormalizeComment(text string, maxLength int) (string, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", invalid(ErrBlankComment)
	}
	if maxLength > 0 && utf8.RuneCountInString(trimmed) > maxLength {
		return "", fmt.Errorf("%w (max %d)", invalid(ErrCommentTooLong), maxLength)
	}
	return trimmed, nil
}

// ParseRole converts a transport-level role string
func ParseRole(role string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(role))) {
	case RoleTeacher:
		return RoleTeacher, nil
	case RoleStudent:
		return RoleStudent, nil
	default:
		return "", invalid(ErrInvalidRole)
	}
}
