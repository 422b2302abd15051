package testrun

import (
	"errors"
	"fmt"
)

// Status is the lifecycle state of a run.
type Status string

const (
	StatusCreated   Status = "Created"
	StatusRunning   Status = "Running"
	StatusCompleted Status = "Completed"
	StatusFailed    Status = "Failed"
)

// ErrInvalidTransition is returned for transitions outside the lifecycle.
var ErrInvalidTransition = errors.New("invalid status transition")

var allowedTransitions = map[Status]map[Status]struct{}{
	StatusCreated: {
		StatusRunning: {},
		StatusFailed:  {},
	},
	StatusRunning: {
		StatusCompleted: {},
		StatusFailed:    {},
	},
	StatusCompleted: {},
	StatusFailed:    {},
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := allowedTransitions[s]
	return ok
}

// ValidateTransition checks that from -> to is allowed.
func ValidateTransition(from, to Status) error {
	if !from.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, from)
	}
	if !to.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, to)
	}
	if _, ok := allowedTransitions[from][to]; !ok {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// AllowedFrom returns the statuses that may transition to to.
func AllowedFrom(to Status) []Status {
	var from []Status
	for _, s := range []Status{StatusCreated, StatusRunning, StatusCompleted, StatusFailed} {
		if _, ok := allowedTransitions[s][to]; ok {
			from = append(from, s)
		}
	}
	return from
}
