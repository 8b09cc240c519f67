package rewrite

import (
	"errors"
	"fmt"

	"github.com/roach88/parlower/internal/ir"
)

// StepsExceededError is returned when a pattern set keeps rewriting past
// the configured quota.
type StepsExceededError struct {
	Pattern string // the pattern that tipped over the limit
	Steps   int
	Limit   int
}

func (e *StepsExceededError) Error() string {
	return fmt.Sprintf("rewrite exceeded max steps quota at pattern %s: %d steps > %d limit",
		e.Pattern, e.Steps, e.Limit)
}

// IsStepsExceededError reports whether err wraps a StepsExceededError.
func IsStepsExceededError(err error) bool {
	var se *StepsExceededError
	return errors.As(err, &se)
}

// CycleError is returned when a sweep leaves the module in a state that an
// earlier sweep already produced, so the pattern set would never converge.
type CycleError struct {
	Sweep      int
	FirstSweep int
	Hash       string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("rewrite cycle: sweep %d reproduced the module state of sweep %d (%s)",
		e.Sweep, e.FirstSweep, shortHash(e.Hash))
}

// IsCycleError reports whether err wraps a CycleError.
func IsCycleError(err error) bool {
	var ce *CycleError
	return errors.As(err, &ce)
}

// PatternError wraps a hard structural error raised by a pattern.
type PatternError struct {
	Pattern string
	Op      string
	Err     error
}

func (e *PatternError) Error() string {
	return fmt.Sprintf("pattern %s on '%s': %v", e.Pattern, e.Op, e.Err)
}

func (e *PatternError) Unwrap() error { return e.Err }

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

// PassError is a hard structural error: the IR is malformed or uses
// something a pass cannot lower. It stops the pipeline run it occurs in.
type PassError struct {
	// Code identifies the error category.
	Code PassErrorCode

	// Message is a human-readable description.
	Message string

	// Pass names the pass that failed; filled in by the pipeline when empty.
	Pass string

	// Op is the kind of the offending op.
	Op string

	// Func is the enclosing function, when there is one.
	Func string
}

// PassErrorCode categorizes pass errors.
type PassErrorCode string

const (
	// ErrCodeUnsupportedType indicates a value whose type has no lowering.
	ErrCodeUnsupportedType PassErrorCode = "UNSUPPORTED_TYPE"

	// ErrCodeMalformedIR indicates an op that violates its structural
	// contract.
	ErrCodeMalformedIR PassErrorCode = "MALFORMED_IR"

	// ErrCodeVerifyFailed indicates the module failed verification after
	// a pass.
	ErrCodeVerifyFailed PassErrorCode = "VERIFY_FAILED"
)

func (e *PassError) Error() string {
	var where string
	switch {
	case e.Op != "" && e.Func != "":
		where = fmt.Sprintf(" (op='%s', func=@%s)", e.Op, e.Func)
	case e.Op != "":
		where = fmt.Sprintf(" (op='%s')", e.Op)
	}
	if e.Pass != "" {
		return fmt.Sprintf("%s: %s: %s%s", e.Pass, e.Code, e.Message, where)
	}
	return fmt.Sprintf("%s: %s%s", e.Code, e.Message, where)
}

// NewPassError builds a PassError located at op.
func NewPassError(m *ir.Module, op ir.OpID, code PassErrorCode, format string, args ...any) *PassError {
	e := &PassError{Code: code, Message: fmt.Sprintf(format, args...), Op: m.Kind(op).String()}
	if fn := m.ParentFunc(op); fn.IsValid() {
		e.Func = ir.AsFunc(m, fn).Name()
	}
	return e
}

// IsPassError reports whether err wraps a PassError.
func IsPassError(err error) bool {
	var pe *PassError
	return errors.As(err, &pe)
}

// IsUnsupportedTypeError reports whether err wraps a PassError with
// ErrCodeUnsupportedType.
func IsUnsupportedTypeError(err error) bool {
	var pe *PassError
	if errors.As(err, &pe) {
		return pe.Code == ErrCodeUnsupportedType
	}
	return false
}
