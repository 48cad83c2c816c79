package records

import (
	"fmt"
	"strings"
)

// Status represents the lifecycle of a downloaded file.
type Status string

const (
	StatusDownloaded Status = "downloaded"
	StatusProcessing Status = "processing"
	StatusRouted     Status = "routed"
	StatusError      Status = "error"
	StatusDeleted    Status = "deleted"
)

var allStatuses = []Status{
	StatusDownloaded,
	StatusProcessing,
	StatusRouted,
	StatusError,
	StatusDeleted,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// transitions lists the moves reachable through normal pipeline operation.
// Reset and manual overrides bypass this table.
var transitions = map[Status][]Status{
	StatusDownloaded: {StatusProcessing},
	StatusProcessing: {StatusRouted, StatusError},
	StatusError:      {StatusProcessing},
}

// AllStatuses returns every known status in lifecycle order.
func AllStatuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// ParseStatus converts user input into a Status.
func ParseStatus(value string) (Status, bool) {
	status := Status(strings.ToLower(strings.TrimSpace(value)))
	_, ok := statusSet[status]
	return status, ok
}

// CanTransition reports whether from -> to is a legal pipeline transition.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to Status) error {
	if CanTransition(from, to) {
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
