package models

import (
	"time"
)

type Status string

const (
	StatusWaiting    Status = "waiting"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusSkipped    Status = "skipped"
	StatusRejected   Status = "rejected"
)

// Staff actions, named after the server's manage endpoints.
const (
	ActionCallNext = "call_next"
	ActionComplete = "complete_service"
	ActionSkip     = "skip_user"
	ActionReject   = "reject_user"

	// ActionNotify messages an entry's owner without changing its status.
	ActionNotify = "send_custom_notification"
)

type QueueEntry struct {
	ID          int64     `json:"id"`
	User        User      `json:"user"`
	Service     Service   `json:"service"`
	Counter     *Counter  `json:"counter"`
	TokenNumber int       `json:"token_number"`
	Status      Status    `json:"status"` // waiting, in_progress, completed, skipped, rejected
	CreatedAt   time.Time `json:"created_at"`
}

// Active reports whether the entry still occupies a place in its queue.
func (e QueueEntry) Active() bool {
	return e.Status.Valid() && !e.Status.Terminal()
}

func (s Status) Valid() bool {
	switch s {
	case StatusWaiting, StatusInProgress, StatusCompleted, StatusSkipped, StatusRejected:
		return true
	}
	return false
}

// Terminal statuses have no outgoing transition.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusSkipped || s == StatusRejected
}

var transitionMap = map[string][]Status{
	ActionCallNext: {StatusWaiting},
	ActionComplete: {StatusWaiting, StatusInProgress},
	ActionSkip:     {StatusWaiting, StatusInProgress},
	ActionReject:   {StatusWaiting, StatusInProgress},
}

var actionTarget = map[string]Status{
	ActionCallNext: StatusInProgress,
	ActionComplete: StatusCompleted,
	ActionSkip:     StatusSkipped,
	ActionReject:   StatusRejected,
}

// ValidTransition reports whether action may be applied to an entry
// currently in status from.
func ValidTransition(action string, from Status) bool {
	allowed, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == from {
			return true
		}
	}
	return false
}

// TargetStatus returns the status an entry ends in after action.
func TargetStatus(action string) (Status, bool) {
	s, ok := actionTarget[action]
	return s, ok
}

// EntryForService returns the active entry the list holds for serviceID,
// falling back to the most recent inactive one.
func EntryForService(entries []QueueEntry, serviceID int64) (QueueEntry, bool) {
	var (
		found  QueueEntry
		exists bool
	)
	for _, e := range entries {
		if e.Service.ID != serviceID {
			continue
		}
		if e.Active() {
			return e, true
		}
		if !exists || e.CreatedAt.After(found.CreatedAt) {
			found, exists = e, true
		}
	}
	return found, exists
}
