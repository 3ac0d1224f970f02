package core

import (
	"fmt"
	"strings"

	"github.com/valter-silva-au/taskchain/pkg/models"
)

// TransitionOutcome classifies the result of a transition attempt.
type TransitionOutcome string

const (
	TransitionOK       TransitionOutcome = "ok"
	TransitionNotFound TransitionOutcome = "not_found"
	TransitionInvalid  TransitionOutcome = "invalid_transition"
)

// TransitionResult describes a transition attempt. On TransitionInvalid the
// task is untouched and Task holds its current state.
type TransitionResult struct {
	Outcome TransitionOutcome
	ChainID string
	TaskID  string
	Task    *models.Task
	From    models.TaskStatus
	To      models.TaskStatus
	Allowed []models.TaskStatus
}

// OK reports whether the transition was applied.
func (r *TransitionResult) OK() bool {
	return r != nil && r.Outcome == TransitionOK
}

// Err converts a failed result into an error: ErrTaskNotFound (wrapped) or
// *InvalidTransitionError. It returns nil for a successful result.
func (r *TransitionResult) Err() error {
	if r == nil {
		return nil
	}
	switch r.Outcome {
	case TransitionNotFound:
		return fmt.Errorf("task %s in chain %s: %w", r.TaskID, r.ChainID, ErrTaskNotFound)
	case TransitionInvalid:
		return &InvalidTransitionError{
			ChainID: r.ChainID,
			TaskID:  r.TaskID,
			From:    r.From,
			To:      r.To,
			Allowed: r.Allowed,
		}
	default:
		return nil
	}
}

// InvalidTransitionError names both statuses of a rejected transition and
// the statuses that would have been allowed.
type InvalidTransitionError struct {
	ChainID string
	TaskID  string
	From    models.TaskStatus
	To      models.TaskStatus
	Allowed []models.TaskStatus
}

func (e *InvalidTransitionError) Error() string {
	allowed := "none"
	if len(e.Allowed) > 0 {
		names := make([]string, len(e.Allowed))
		for i, s := range e.Allowed {
			names[i] = string(s)
		}
		allowed = strings.Join(names, ", ")
	}
	return fmt.Sprintf("invalid transition for task %s: %s -> %s (allowed from %s: %s)",
		e.TaskID, e.From, e.To, e.From, allowed)
}
