package analysis

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("analysis not found")
	ErrDuplicateID       = errors.New("analysis id already exists")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNoDocuments       = errors.New("no documents to analyze")
	ErrAlreadyStarted    = errors.New("analysis already started")
	ErrNotCompleted      = errors.New("analysis not completed")
	ErrInvalidInput      = errors.New("invalid input")
)

var allowedTransitions = map[Status]map[Status]struct{}{
	StatusPending: {
		StatusProcessing: {},
	},
	StatusProcessing: {
		StatusCompleted: {},
		StatusFailed:    {},
	},
	StatusCompleted: {},
	StatusFailed:    {},
}

// TransitionError reports a rejected status edge.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid status transition: %s -> %s", e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// ValidateStatus rejects values outside the enum.
func ValidateStatus(s Status) error {
	if _, ok := allowedTransitions[s]; !ok {
		return fmt.Errorf("invalid analysis status: %q", s)
	}
	return nil
}

// ValidateTransition checks from -> to against the transition table.
func ValidateTransition(from, to Status) error {
	if err := ValidateStatus(from); err != nil {
		return err
	}
	if err := ValidateStatus(to); err != nil {
		return err
	}
	if _, ok := allowedTransitions[from][to]; !ok {
		return &TransitionError{From: from, To: to}
	}
	return nil
}
