package core

import (
	"strings"
	"time"
)

// MaxChangeLogEntries bounds the change log; older entries are dropped.
const MaxChangeLogEntries = 200

// Who returns the identity recorded for changes made by currentUser.
func Who(currentUser string) string {
	if who := strings.TrimSpace(currentUser); who != "" {
		return who
	}
	return DefaultUser
}

// NewChange builds a change log entry attributed to currentUser. An empty
// featureID records a global change.
func NewChange(id string, when time.Time, currentUser, featureID, what string) ChangeLogEntry {
	return ChangeLogEntry{
		ID:        id,
		When:      when,
		Who:       Who(currentUser),
		FeatureID: featureID,
		What:      what,
	}
}

// AppendChange prepends entry and truncates the log to MaxChangeLogEntries.
// The input slice is not modified.
func AppendChange(log []ChangeLogEntry, entry ChangeLogEntry) []ChangeLogEntry {
	n := min(len(log)+1, MaxChangeLogEntries)
	out := make([]ChangeLogEntry, 0, n)
	out = append(out, entry)
	out = append(out, log[:n-1]...)
	return out
}

// ChangesFor returns up to limit entries that concern featureID, together with
// global entries, newest first. A limit <= 0 means no limit.
func ChangesFor(log []ChangeLogEntry, featureID string, limit int) []ChangeLogEntry {
	out := make([]ChangeLogEntry, 0)
	for _, entry := range log {
		if limit > 0 && len(out) == limit {
			break
		}
		if entry.IsGlobal() || entry.FeatureID == featureID {
			out = append(out, entry)
		}
	}
	return out
}
