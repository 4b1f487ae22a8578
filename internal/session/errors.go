package session

import (
	"fmt"

	"anonfeedback/pkg/types"
)

// Session registry error types. Both match types.ErrNotFound / types.ErrInvalidInput with errors.Is.
var (
	ErrSessionNotFound = fmt.Errorf("%w: class session", types.ErrNotFound)
	ErrNilSession      = fmt.Errorf("%w: class session is nil", types.ErrInvalidInput)
)
