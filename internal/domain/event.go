package domain

import "time"

// Action names a report mutation published on the change feed.
type Action string

const (
	ActionCreated   Action = "created"
	ActionConfirmed Action = "confirmed"
	ActionResolved  Action = "resolved"
	ActionRemoved   Action = "removed"
)

// ReportEvent describes one applied mutation. Report is the record as stored
// locally after the mutation (before it, for removals).
type ReportEvent struct {
	Kind       Kind      `json:"kind"`
	Action     Action    `json:"action"`
	Report     Report    `json:"report"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NewReportEvent stamps an event with the package clock.
func NewReportEvent(action Action, r Report) ReportEvent {
	return ReportEvent{
		Kind:       r.Kind,
		Action:     action,
		Report:     r,
		OccurredAt: clock.Now(),
	}
}
