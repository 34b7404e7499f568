package cases

import (
	"errors"
	"fmt"
	"strings"
)

// Status is a case lifecycle state.
type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusClosed     Status = "closed"
)

var transitions = map[Status][]Status{
	StatusOpen:       {StatusInProgress},
	StatusInProgress: {StatusClosed},
	StatusClosed:     {},
}

// Valid reports whether s is a recognized status.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// NextStates lists the legal targets from s. Closed and unknown states have none.
func NextStates(from Status) []Status {
	next := transitions[from]
	out := make([]Status, len(next))
	copy(out, next)
	return out
}

// CanTransition reports whether from -> to is a legal edge. Same-state moves are not.
func CanTransition(from, to Status) bool {
	if !to.Valid() {
		return false
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ErrInvalidTransition matches every *TransitionError.
var ErrInvalidTransition = errors.New("cases: invalid status transition")

// TransitionError names the rejected pair and the legal next states.
type TransitionError struct {
	From    Status
	To      Status
	Allowed []Status
}

func (e *TransitionError) Error() string {
	allowed := make([]string, len(e.Allowed))
	for i, s := range e.Allowed {
		allowed[i] = string(s)
	}
	if len(allowed) == 0 {
		return fmt.Sprintf("invalid status transition from %s to %s: %s is terminal", e.From, e.To, e.From)
	}
	return fmt.Sprintf("invalid status transition from %s to %s (allowed: %s)", e.From, e.To, strings.Join(allowed, ", "))
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// Transition validates from -> to.
func Transition(from, to Status) error {
	if CanTransition(from, to) {
		return nil
	}
	return &TransitionError{From: from, To: to, Allowed: NextStates(from)}
}
