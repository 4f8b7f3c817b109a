package stepflow

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAborted is returned by Run.Wait when a task panicked.
	ErrAborted = errors.New("stepflow: run aborted")

	// ErrInvalidConfig wraps every Config validation failure.
	ErrInvalidConfig = errors.New("stepflow: invalid config")
)

// Errors is the positional error collection handed to tasks in tolerant
// mode. Entry i holds the error recorded in slot i, nil entries included.
type Errors []error

// Error joins the non-nil entries with their slot index.
func (e Errors) Error() string {
	var parts []string
	for i, err := range e {
		if err != nil {
			parts = append(parts, fmt.Sprintf("[%d] %v", i, err))
		}
	}
	return strings.Join(parts, "; ")
}

// Unwrap returns the non-nil entries so errors.Is and errors.As see them.
func (e Errors) Unwrap() []error {
	var ret []error
	for _, err := range e {
		if err != nil {
			ret = append(ret, err)
		}
	}
	return ret
}

// At returns the error recorded in slot i, or nil.
func (e Errors) At(i int) error {
	if i < 0 || i >= len(e) {
		return nil
	}
	return e[i]
}

// First returns the first non-nil entry.
func (e Errors) First() error {
	for _, err := range e {
		if err != nil {
			return err
		}
	}
	return nil
}

// PanicError describes a task that panicked while being dispatched.
type PanicError struct {
	RunID string
	Index int
	Value interface{}
}

func (p *PanicError) Error() string {
	return fmt.Sprintf("task %d of run %v panicked: %v", p.Index, p.RunID, p.Value)
}

// Unwrap exposes the panic value when it is an error.
func (p *PanicError) Unwrap() error {
	if err, ok := p.Value.(error); ok {
		return err
	}
	return nil
}

// aggregate applies the delivery policy to the pending error slots: nil when
// every slot is empty, the first non-nil error when intolerant, the whole
// positional collection when tolerant.
func aggregate(errs []error, tolerant bool) error {
	first := Errors(errs).First()
	if first == nil {
		return nil
	}
	if !tolerant {
		return first
	}
	return append(Errors(nil), errs...)
}

// spread turns a delivered error back into slots, so a nested run is seeded
// with the same shape its parent task received.
func spread(err error) []error {
	if err == nil {
		return nil
	}
	var errs Errors
	if errors.As(err, &errs) {
		return append([]error(nil), errs...)
	}
	return []error{err}
}
