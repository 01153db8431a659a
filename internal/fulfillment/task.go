package fulfillment

import (
	"strings"
	"time"
)

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusAssigned   Status = "ASSIGNED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// Pending and Assigned move forward only through AssignTask and
// UpdateTaskStatus respectively; COMPLETED and FAILED are terminal.
var validNext = map[Status]map[Status]bool{
	StatusPending:    {StatusAssigned: true},
	StatusAssigned:   {StatusCompleted: true, StatusFailed: true},
	StatusInProgress: {StatusCompleted: true, StatusFailed: true},
	StatusCompleted:  {},
	StatusFailed:     {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ParseStatus accepts the canonical names plus REJECTED as an alias for FAILED.
func ParseStatus(s string) (Status, bool) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if st == "REJECTED" {
		return StatusFailed, true
	}
	_, ok := validNext[st]
	return st, ok
}

// Wire is the status reported to the order service, which knows a failed
// task as REJECTED.
func (s Status) Wire() string {
	if s == StatusFailed {
		return "REJECTED"
	}
	return string(s)
}

type Task struct {
	ID        int64     `json:"task_id"`
	OrderID   int64     `json:"order_id"`
	WorkerID  *int64    `json:"worker_id"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

type Worker struct {
	ID              int64  `json:"worker_id"`
	Name            string `json:"name"`
	ActiveTaskCount int    `json:"active_task_count"`
}
