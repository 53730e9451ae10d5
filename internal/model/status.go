package model

import "fmt"

// Queue item lifecycle. Failed items become retry-eligible again while
// attempts remain; exhausted items stay visible as failed.
const (
	StatusPending     = "pending"
	StatusDownloading = "downloading"
	StatusCompleted   = "completed"
	StatusFailed      = "failed"
)

var allowedTransitions = map[string]map[string]bool{
	"": {
		StatusPending: true,
	},
	StatusPending: {
		StatusPending:     true,
		StatusDownloading: true,
		StatusFailed:      true,
	},
	StatusDownloading: {
		StatusDownloading: true,
		StatusCompleted:   true,
		StatusFailed:      true,
	},
	StatusFailed: {
		StatusFailed:      true,
		StatusDownloading: true,
		StatusPending:     true,
	},
	StatusCompleted: {
		StatusCompleted: true,
	},
}

func IsKnownStatus(status string) bool {
	_, ok := allowedTransitions[status]
	return ok
}

func CanTransition(from, to string) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

func TransitionStatus(current *string, to string) error {
	if !CanTransition(*current, to) {
		return fmt.Errorf("invalid queue status transition: %q -> %q", *current, to)
	}
	*current = to
	return nil
}
