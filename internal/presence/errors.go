package presence

import (
	"fmt"

	"anonfeedback/pkg/types"
)

// Presence error types
var (
	ErrInvalidClassID   = fmt.Errorf("%w: class ID is required", types.ErrInvalidInput)
	ErrNegativePresence = fmt.Errorf("%w: presence count would become negative", types.ErrInvariantViolation)
)
