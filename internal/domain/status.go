package domain

import "strings"

// Status is the lifecycle state of a run or of one of its stages.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

var statusLabels = map[Status]string{
	StatusPending:    "Pending",
	StatusProcessing: "In progress",
	StatusCompleted:  "Completed",
	StatusFailed:     "Failed",
}

// Label returns a human-readable label for a status.
func (s Status) Label() string {
	if label, ok := statusLabels[s]; ok {
		return label
	}

	return "Unknown"
}

// Terminal reports whether no further transition can happen.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ParseStatus returns the status for a given name (case-insensitive).
func ParseStatus(name string) (Status, bool) {
	s := Status(strings.ToLower(strings.TrimSpace(name)))
	_, ok := statusLabels[s]

	return s, ok
}
