package processing

import "time"

// ProcessingRecord is the authoritative state of one (file, process type)
// pair. Exactly one record exists per pair from the moment a work message is
// published until the file task is purged. The state store exclusively owns
// records; workers and the relay only submit proposed transitions.
type ProcessingRecord struct {
	Status      Status    `json:"status"`
	Progress    int       `json:"progress"`
	Error       string    `json:"error,omitempty"`
	LastUpdated time.Time `json:"last_updated"`
}

// NewPendingRecord returns the initial record written when work is published.
func NewPendingRecord(now time.Time) ProcessingRecord {
	return ProcessingRecord{Status: StatusPending, Progress: 0, LastUpdated: now}
}

// ApplyUpdate applies a proposed transition to the record, enforcing the
// idempotency and ordering rules: terminal records ignore further updates,
// the lifecycle never regresses, and progress is non-decreasing within the
// processing phase. It reports whether the update was applied.
func (r *ProcessingRecord) ApplyUpdate(status Status, progress int, errMsg string, now time.Time) bool {
	if r.Status.IsTerminal() {
		return false
	}
	if status.rank() < r.Status.rank() {
		return false
	}
	if status == r.Status && status == StatusProcessing && progress < r.Progress {
		return false
	}

	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}

	r.Status = status
	r.Progress = progress
	r.LastUpdated = now

	// An error string is only meaningful on a failed record.
	if status == StatusFailed {
		r.Error = errMsg
	} else {
		r.Error = ""
	}

	return true
}

// ForceFail transitions a non-terminal record to failed. It is the watchdog
// override for records whose terminal status message never arrived; records
// already terminal are left untouched.
func (r *ProcessingRecord) ForceFail(errMsg string, now time.Time) bool {
	if r.Status.IsTerminal() {
		return false
	}

	r.Status = StatusFailed
	r.Error = errMsg
	r.LastUpdated = now
	return true
}
