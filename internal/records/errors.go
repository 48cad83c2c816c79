package records

import (
	"fmt"

	"nasferry/internal/services"
)

var (
	// ErrInvalidTransition is returned when a status change is not allowed.
	ErrInvalidTransition = fmt.Errorf("%w: invalid status transition", services.ErrValidation)
	// ErrNotFound is returned by updates that target a missing record id.
	ErrNotFound = fmt.Errorf("%w: file record", services.ErrNotFound)
	// ErrInvalidRecord is returned when a record violates its invariants.
	ErrInvalidRecord = fmt.Errorf("%w: invalid file record", services.ErrValidation)
)
