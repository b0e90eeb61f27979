package processing

import "errors"

// Status represents the execution state of a single processing pipeline for a
// file. It enables fine-grained tracking of progress and error conditions.
type Status string

// ErrStatusUnknown is returned when a status is unknown.
var ErrStatusUnknown = errors.New("status unknown")

const (
	// StatusPending indicates work has been published but not picked up.
	StatusPending Status = "pending"

	// StatusProcessing indicates a worker is actively processing the file.
	StatusProcessing Status = "processing"

	// StatusCompleted indicates processing finished successfully.
	StatusCompleted Status = "completed"

	// StatusFailed indicates processing encountered an unrecoverable error.
	StatusFailed Status = "failed"
)

// String returns the string representation of the Status.
func (s Status) String() string { return string(s) }

// IsTerminal reports whether the status is a final state that cannot be
// superseded by later status messages.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// rank orders statuses along the pending -> processing -> terminal lifecycle
// so regressions can be rejected.
func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusProcessing:
		return 1
	case StatusCompleted, StatusFailed:
		return 2
	default:
		return -1
	}
}

// ParseStatus converts a string to a Status.
func ParseStatus(s string) (Status, error) {
	switch s {
	case "pending":
		return StatusPending, nil
	case "processing":
		return StatusProcessing, nil
	case "completed":
		return StatusCompleted, nil
	case "failed":
		return StatusFailed, nil
	default:
		return "", ErrStatusUnknown
	}
}
