package flail

import (
	"errors"
	"fmt"
)

// Fatal compile errors. Every error returned by the compiler wraps one of
// them and can be tested with errors.Is.
var (
	ErrTokenization   = errors.New("statements must be separated by ';'")
	ErrUnknownCommand = errors.New("unknown command")
	ErrConflict       = errors.New("conflicting instruction is still active")
	ErrParameterRange = errors.New("parameter out of range")
	ErrNestedLoop     = errors.New("nested 'Repeat' blocks are not supported")
	ErrUnclosedLoop   = errors.New("'Repeat' block not closed with '}'")
	ErrRepeatSyntax   = errors.New("'Repeat' must follow 'Repeat [times] [{] [commands] [}]'")
	ErrProgramSize    = errors.New("program too large")

	// ErrCompilerFailed is returned when a compiler is used after a fatal error.
	ErrCompilerFailed = errors.New("compilation already failed")
	// ErrCompilerFinished is returned when a compiler is used after Finish.
	ErrCompilerFinished = errors.New("compilation already finished")
)

// Error categories
const (
	CategoryTokenization = "TOKENIZATION ERROR"
	CategoryCommand      = "UNKNOWN COMMAND"
	CategoryConflict     = "CONFLICT ERROR"
	CategoryParameter    = "PARAMETER ERROR"
	CategoryLoop         = "LOOP ERROR"
	CategorySyntax       = "SYNTAX ERROR"
	CategorySize         = "SIZE ERROR"
)

var categories = map[error]string{
	ErrTokenization:   CategoryTokenization,
	ErrUnknownCommand: CategoryCommand,
	ErrConflict:       CategoryConflict,
	ErrParameterRange: CategoryParameter,
	ErrNestedLoop:     CategoryLoop,
	ErrUnclosedLoop:   CategoryLoop,
	ErrRepeatSyntax:   CategorySyntax,
	ErrProgramSize:    CategorySize,
}

// CompileError describes a fatal error and where it happened.
type CompileError struct {
	Category  string // e.g. "CONFLICT ERROR"
	Line      int    // 1-based source line, 0 when unknown
	Statement string // statement text as written
	Command   string // offending command or token
	Detail    string
	Err       error // one of the sentinel errors above
}

func newError(err error, command, detail string) *CompileError {
	return &CompileError{
		Category: categories[err],
		Command:  command,
		Detail:   detail,
		Err:      err,
	}
}

// Error implements the error interface.
func (e *CompileError) Error() string {
	msg := e.Category
	if e.Line > 0 {
		msg += fmt.Sprintf(" IN LINE %d", e.Line)
	}
	msg += ": " + e.Err.Error()
	if e.Command != "" {
		msg += fmt.Sprintf(" [%s]", e.Command)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Statement != "" {
		msg += fmt.Sprintf(" (near %q)", e.Statement)
	}
	return msg
}

// Unwrap returns the sentinel error.
func (e *CompileError) Unwrap() error {
	return e.Err
}

// Warning is a non-fatal diagnostic. Compilation continues after it.
type Warning struct {
	Line    int
	Command string
	Message string
}

func (w Warning) String() string {
	if w.Line > 0 {
		return fmt.Sprintf("WARNING IN LINE %d: %s [%s]", w.Line, w.Message, w.Command)
	}
	return fmt.Sprintf("WARNING: %s [%s]", w.Message, w.Command)
}
