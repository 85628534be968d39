package domain

import "time"

const dayLayout = "2006-01-02"

// DayString returns the calendar day of t in loc as "YYYY-MM-DD".
// A nil loc means time.Local.
func DayString(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format(dayLayout)
}

// ConfirmationLedger maps a report identifier to the day it was last confirmed on
// this device.
type ConfirmationLedger map[string]string

// ConfirmedOn reports whether id was confirmed on day.
func (l ConfirmationLedger) ConfirmedOn(id, day string) bool {
	return l[id] == day
}

// Record returns a copy of the ledger with id confirmed on day.
func (l ConfirmationLedger) Record(id, day string) ConfirmationLedger {
	out := make(ConfirmationLedger, len(l)+1)
	for k, v := range l {
		out[k] = v
	}
	out[id] = day
	return out
}

// Prune returns a copy without entries older than retentionDays before today.
// Unparseable days are dropped. retentionDays <= 0 keeps every entry.
func (l ConfirmationLedger) Prune(today string, retentionDays int) ConfirmationLedger {
	out := make(ConfirmationLedger, len(l))
	if retentionDays <= 0 {
		for k, v := range l {
			out[k] = v
		}
		return out
	}
	ref, err := time.Parse(dayLayout, today)
	if err != nil {
		for k, v := range l {
			out[k] = v
		}
		return out
	}
	cutoff := ref.AddDate(0, 0, -retentionDays)
	for id, day := range l {
		d, err := time.Parse(dayLayout, day)
		if err != nil || d.Before(cutoff) {
			continue
		}
		out[id] = day
	}
	return out
}
