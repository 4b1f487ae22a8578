package coordinator

import (
	"fmt"

	"anonfeedback/pkg/types"
)

// Coordinator error types
var (
	ErrEmptySubmission = fmt.Errorf("%w: feedback must contain ratings or a comment", types.ErrInvalidInput)
	ErrDuplicateTopic  = fmt.Errorf("%w: each topic may be rated once per submission", types.ErrInvalidInput)
	ErrTopicNotInClass = fmt.Errorf("%w: topic does not belong to this class session", types.ErrInvalidInput)
	ErrAggregatorDrift = fmt.Errorf("%w: stored rating could not be applied to the live aggregate", types.ErrInvariantViolation)
)
