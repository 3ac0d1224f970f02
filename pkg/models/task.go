package models

import "time"

// TaskType selects which kind of actor should act on a task.
type TaskType string

const (
	TaskTypeImpl    TaskType = "impl"
	TaskTypeControl TaskType = "control"
)

// IsValid reports whether t is a known task type.
func (t TaskType) IsValid() bool {
	return t == TaskTypeImpl || t == TaskTypeControl
}

// TaskStatus represents the current lifecycle state of a task. The status
// also names the directory the task document lives in.
type TaskStatus string

const (
	StatusBacklog    TaskStatus = "backlog"
	StatusTodo       TaskStatus = "todo"
	StatusInProgress TaskStatus = "in-progress"
	StatusInReview   TaskStatus = "in-review"
	StatusDone       TaskStatus = "done"
	StatusBlocked    TaskStatus = "blocked"
)

// AllStatuses returns every status in the fixed order used when searching
// status directories for a task.
func AllStatuses() []TaskStatus {
	return []TaskStatus{
		StatusBacklog,
		StatusTodo,
		StatusInProgress,
		StatusInReview,
		StatusDone,
		StatusBlocked,
	}
}

// IsValid reports whether s is one of the known statuses.
func (s TaskStatus) IsValid() bool {
	switch s {
	case StatusBacklog, StatusTodo, StatusInProgress, StatusInReview, StatusDone, StatusBlocked:
		return true
	default:
		return false
	}
}

// Transitions is the kanban state machine. done is terminal.
var Transitions = map[TaskStatus][]TaskStatus{
	StatusBacklog:    {StatusTodo, StatusBlocked},
	StatusTodo:       {StatusInProgress, StatusBlocked},
	StatusInProgress: {StatusInReview, StatusBlocked, StatusTodo},
	StatusInReview:   {StatusDone, StatusInProgress, StatusBlocked},
	StatusBlocked:    {StatusTodo, StatusBacklog},
	StatusDone:       {},
}

// AllowedTransitions returns a copy of the statuses reachable from s.
func AllowedTransitions(s TaskStatus) []TaskStatus {
	next := Transitions[s]
	out := make([]TaskStatus, len(next))
	copy(out, next)
	return out
}

// CanTransition reports whether from -> to is an edge of the state machine.
func CanTransition(from, to TaskStatus) bool {
	for _, s := range Transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Task is the atomic, independently-transitionable unit of work inside a chain.
type Task struct {
	ID            string     `json:"id"`
	Sequence      int        `json:"sequence"`
	Slug          string     `json:"slug"`
	ChainID       string     `json:"chainId"`
	Status        TaskStatus `json:"status"`
	Type          TaskType   `json:"type,omitempty"`
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	ExpectedFiles []string   `json:"expectedFiles"`
	FileScope     []string   `json:"fileScope,omitempty"`
	Acceptance    []string   `json:"acceptance"`
	Constraints   []string   `json:"constraints"`
	Notes         string     `json:"notes"`
	ReworkOf      string     `json:"reworkOf,omitempty"`
	ReworkReason  string     `json:"reworkReason,omitempty"`
	ReworkCount   int        `json:"reworkCount,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// EffectiveType returns the task type, defaulting to impl.
func (t *Task) EffectiveType() TaskType {
	if t.Type == "" {
		return TaskTypeImpl
	}
	return t.Type
}
