package errs

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Transport stages reported by TransportError
const (
	StageText             = "text"
	StageRender           = "render"
	StageRemoveBackground = "remove_background"
)

// TransportError is a network or HTTP failure talking to an oracle.
type TransportError struct {
	Stage      string // which oracle call failed (text, render, remove_background)
	StatusCode int    // HTTP status when the service answered, 0 otherwise
	Timeout    bool
	Err        error
}

func (e *TransportError) Error() string {
	var sb strings.Builder
	sb.WriteString("transport error")
	if e.Stage != "" {
		sb.WriteString(" during " + e.Stage)
	}
	if e.Timeout {
		sb.WriteString(" (timeout)")
	}
	if e.StatusCode != 0 {
		sb.WriteString(fmt.Sprintf(": status %d", e.StatusCode))
	}
	if e.Err != nil {
		sb.WriteString(": " + e.Err.Error())
	}
	return sb.String()
}

func (e *TransportError) Unwrap() error { return e.Err }

// NewTransportError wraps err for the given stage, flagging deadline
// expiry as a timeout.
func NewTransportError(stage string, err error) *TransportError {
	te := &TransportError{Stage: stage, Err: err}
	var netErr interface{ Timeout() bool }
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		te.Timeout = true
	}
	return te
}

// SchemaViolation means an oracle reply was not JSON, or was JSON that
// did not match the schema for its kind.
type SchemaViolation struct {
	Kind     string
	Problems []string
	Err      error
}

func (e *SchemaViolation) Error() string {
	msg := "schema violation"
	if e.Kind != "" {
		msg += " for " + e.Kind
	}
	if len(e.Problems) > 0 {
		msg += ": " + strings.Join(e.Problems, "; ")
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SchemaViolation) Unwrap() error { return e.Err }

// StoreError is a rejection from the external document store.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store error during %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// SubEntityFailure records one sub-entity that could not be created.
type SubEntityFailure struct {
	Role string `json:"role"` // weapon, equipment, ability, npc, page, asset
	Name string `json:"name"`
	Err  error  `json:"-"`
}

func (f SubEntityFailure) Error() string {
	return fmt.Sprintf("%s %q: %v", f.Role, f.Name, f.Err)
}

// PartialAssemblyFailure collects sub-entity failures that happened after
// the primary entity was created.
type PartialAssemblyFailure struct {
	Failures []SubEntityFailure
}

func (e *PartialAssemblyFailure) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, f.Error())
	}
	return fmt.Sprintf("partial assembly: %d sub-entities failed: %s", len(e.Failures), strings.Join(parts, "; "))
}

func (e *PartialAssemblyFailure) Unwrap() []error {
	out := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		out = append(out, f.Err)
	}
	return out
}

// Error categories reported to API and job callers
const (
	CategoryPartial   = "partial"
	CategorySchema    = "schema"
	CategoryTransport = "transport"
	CategoryStore     = "store"
	CategoryInternal  = "internal"
)

// Category names the taxonomy member err belongs to. A partial assembly
// wins over the errors it wraps.
func Category(err error) string {
	var (
		partial *PartialAssemblyFailure
		schema  *SchemaViolation
		te      *TransportError
		se      *StoreError
	)
	switch {
	case errors.As(err, &partial):
		return CategoryPartial
	case errors.As(err, &schema):
		return CategorySchema
	case errors.As(err, &te):
		return CategoryTransport
	case errors.As(err, &se):
		return CategoryStore
	}
	return CategoryInternal
}
