// Package notifyerr classifies processor errors into the kinds the design
// distinguishes: transient I/O that should be redelivered, fatal
// startup failures, and programming-invariant violations that must crash
// only the handler, never the process.
package notifyerr

import "fmt"

// Transient wraps a datastore, publisher, or cache-refresh error that the
// caller should surface for upstream redelivery.
type Transient struct {
	Op  string
	Err error
}

func (e *Transient) Error() string { return fmt.Sprintf("%s: transient: %v", e.Op, e.Err) }
func (e *Transient) Unwrap() error { return e.Err }

// NewTransient wraps err as a Transient error for op.
func NewTransient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Transient{Op: op, Err: err}
}

// Fatal marks a startup failure that should terminate the process
// ("If either cache's initial start fails, the process terminates
// with a fatal error").
type Fatal struct {
	Op  string
	Err error
}

func (e *Fatal) Error() string { return fmt.Sprintf("%s: fatal startup: %v", e.Op, e.Err) }
func (e *Fatal) Unwrap() error { return e.Err }

func NewFatal(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Fatal{Op: op, Err: err}
}

// Invariant marks an unhandled-event-kind reaching the dispatch default
// branch: a codec/dispatch desynchronization bug. It crashes the handler,
// surfacing via redelivery and alerting, but never the process (see the
// open question).
type Invariant struct {
	Kind string
}

func (e *Invariant) Error() string {
	return fmt.Sprintf("notifyerr: unhandled notification kind %q reached dispatch default branch", e.Kind)
}

func NewInvariantViolation(kind string) error {
	return &Invariant{Kind: kind}
}
