package aggregate

import (
	"fmt"

	"anonfeedback/pkg/types"
)

// Aggregator error types
var (
	ErrBoardNotFound   = fmt.Errorf("%w: no rating board for class", types.ErrNotFound)
	ErrUnknownTopic    = fmt.Errorf("%w: topic does not belong to the class session", types.ErrInvalidInput)
	ErrTopicIDSequence = fmt.Errorf("%w: topic IDs must run 1..N in order", types.ErrInvariantViolation)
)
