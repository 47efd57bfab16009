package models

import "time"

// DeadLetterEntry records an event a projection handler could not process
// after exhausting its retry budget. Entries are removed on successful
// retry and never auto-expired.
type DeadLetterEntry struct {
	ID         string        `json:"id"`
	Event      EventEnvelope `json:"event"`
	Handler    string        `json:"handler"`
	Error      string        `json:"error"`
	RetryCount int           `json:"retry_count"`
	FailedAt   time.Time     `json:"failed_at"`
}
