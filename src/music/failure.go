package music

import "time"

// ProcessingFailure is the persisted, last-write-wins failure record for a
// track_id. FailureCount increments on every re-failure rather than
// inserting a new row.
type ProcessingFailure struct {
	TrackID      string
	Stage        string
	ErrorMessage string
	FailureCount int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
