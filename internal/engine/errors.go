package engine

import (
	"errors"
	"fmt"
)

// EngineError is a recoverable failure of loading, looking up or calling
// compiled code.
//
// Engine errors include:
//   - Unresolved symbol: a declaration no runtime or user symbol provides
//   - Data layout mismatch: the module expects another index width
//   - Unknown handle or symbol on lookup
//   - Execution failures inside compiled code
//
// The engine and its other modules stay usable after any EngineError.
type EngineError struct {
	// Code identifies the error category.
	Code EngineErrorCode

	// Message is a human-readable description.
	Message string

	// Handle identifies the loaded module, when known.
	Handle string

	// Symbol names the function involved, when known.
	Symbol string
}

// EngineErrorCode categorizes engine errors.
type EngineErrorCode string

const (
	// ErrCodeUnresolvedSymbol indicates a declaration with no definition.
	ErrCodeUnresolvedSymbol EngineErrorCode = "UNRESOLVED_SYMBOL"

	// ErrCodeDataLayout indicates the module's data layout is unsupported.
	ErrCodeDataLayout EngineErrorCode = "DATA_LAYOUT"

	// ErrCodeInvalidModule indicates the module failed verification or
	// target optimization.
	ErrCodeInvalidModule EngineErrorCode = "INVALID_MODULE"

	// ErrCodeUnknownHandle indicates a handle that was never loaded or
	// was released.
	ErrCodeUnknownHandle EngineErrorCode = "UNKNOWN_HANDLE"

	// ErrCodeSymbolNotFound indicates a lookup of a missing symbol.
	ErrCodeSymbolNotFound EngineErrorCode = "SYMBOL_NOT_FOUND"

	// ErrCodeNullFunction indicates a lookup of a bodiless function.
	ErrCodeNullFunction EngineErrorCode = "NULL_FUNCTION"

	// ErrCodeBadArguments indicates a call whose arguments do not match
	// the function signature.
	ErrCodeBadArguments EngineErrorCode = "BAD_ARGUMENTS"

	// ErrCodeExecution indicates a failure inside compiled code.
	ErrCodeExecution EngineErrorCode = "EXECUTION"

	// ErrCodeCallStatus indicates a packed call returned a non-zero status.
	ErrCodeCallStatus EngineErrorCode = "CALL_STATUS"
)

// Error implements the error interface.
func (e *EngineError) Error() string {
	switch {
	case e.Handle != "" && e.Symbol != "":
		return fmt.Sprintf("%s: %s (handle=%s, symbol=@%s)", e.Code, e.Message, e.Handle, e.Symbol)
	case e.Symbol != "":
		return fmt.Sprintf("%s: %s (symbol=@%s)", e.Code, e.Message, e.Symbol)
	case e.Handle != "":
		return fmt.Sprintf("%s: %s (handle=%s)", e.Code, e.Message, e.Handle)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newError(code EngineErrorCode, format string, args ...any) *EngineError {
	return &EngineError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// IsEngineError reports whether err wraps an EngineError.
func IsEngineError(err error) bool {
	var ee *EngineError
	return errors.As(err, &ee)
}

// HasCode reports whether err wraps an EngineError with code.
// Uses errors.As to handle wrapped errors.
func HasCode(err error, code EngineErrorCode) bool {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Code == code
	}
	return false
}

// IsUnresolvedSymbolError reports whether err is an unresolved symbol.
func IsUnresolvedSymbolError(err error) bool { return HasCode(err, ErrCodeUnresolvedSymbol) }

// IsExecutionError reports whether err is a failure inside compiled code.
func IsExecutionError(err error) bool { return HasCode(err, ErrCodeExecution) }
