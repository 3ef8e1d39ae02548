package content

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Code is a stable machine-readable error classification.
type Code string

const (
	CodeSchema             Code = "SCHEMA_ERROR"
	CodeTargetNotFound     Code = "TARGET_NOT_FOUND"
	CodeRegexCompile       Code = "REGEX_COMPILE_ERROR"
	CodeRegexTimeout       Code = "REGEX_TIMEOUT"
	CodeInvalidOperation   Code = "INVALID_OPERATION"
	CodePreconditionFailed Code = "PRECONDITION_FAILED"
	CodeNoteNotFound       Code = "NOTE_NOT_FOUND"
	CodeInternal           Code = "INTERNAL_ERROR"
)

// HTTPStatus maps a code onto the status the REST layer reports.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeSchema:
		return http.StatusUnprocessableEntity
	case CodeRegexCompile, CodeRegexTimeout, CodeInvalidOperation:
		return http.StatusBadRequest
	case CodeTargetNotFound, CodeNoteNotFound:
		return http.StatusNotFound
	case CodePreconditionFailed:
		return http.StatusPreconditionFailed
	default:
		return http.StatusInternalServerError
	}
}

// Operational reports whether the code is a per-operation failure that the
// transaction mode decides how to escalate.
func (c Code) Operational() bool {
	switch c {
	case CodeTargetNotFound, CodeRegexCompile, CodeRegexTimeout, CodeInvalidOperation:
		return true
	}
	return false
}

// Error is the engine's typed error. Two errors are equal under errors.Is
// when their codes match, so the code sentinels below can be used directly.
// NoMatch marks a TARGET_NOT_FOUND whose target matched nothing at all, as
// opposed to an ambiguous or out-of-range one.
type Error struct {
	Code    Code
	Message string
	OpID    string
	Field   string
	NoMatch bool
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	if e.OpID != "" {
		fmt.Fprintf(&b, " [op %s]", e.OpID)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, " %s", e.Field)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// OpError converts the error into its per-operation wire form.
func (e *Error) OpError() *OpError {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return &OpError{Code: e.Code, Message: msg}
}

var (
	ErrSchema             = &Error{Code: CodeSchema}
	ErrTargetNotFound     = &Error{Code: CodeTargetNotFound}
	ErrRegexCompile       = &Error{Code: CodeRegexCompile}
	ErrRegexTimeout       = &Error{Code: CodeRegexTimeout}
	ErrInvalidOperation   = &Error{Code: CodeInvalidOperation}
	ErrPreconditionFailed = &Error{Code: CodePreconditionFailed}
	ErrNoteNotFound       = &Error{Code: CodeNoteNotFound}
	ErrInternal           = &Error{Code: CodeInternal}
)

func newError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Errorf builds a typed error with a formatted message.
func Errorf(code Code, format string, args ...any) *Error {
	return newError(code, format, args...)
}

// noMatch builds a TARGET_NOT_FOUND for a target with zero matches.
func noMatch(format string, args ...any) *Error {
	e := newError(CodeTargetNotFound, format, args...)
	e.NoMatch = true
	return e
}

// IsNoMatch reports whether err is a target that matched nothing. Only these
// are downgraded to skipped under conflict_strategy=skip.
func IsNoMatch(err error) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.NoMatch
}

// Wrap attaches a code to an underlying error.
func Wrap(code Code, err error, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf extracts the code carried by err, or CodeInternal when err is not
// an engine error.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return CodeSchema
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return CodeInternal
}

// AsError returns err as a typed engine error, wrapping unknown errors as
// internal.
func AsError(err error) *Error {
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}
	return &Error{Code: CodeInternal, Message: "internal error", Err: err}
}

// ValidationError collects every schema issue found in a batch.
type ValidationError struct {
	Issues []*Error
}

func (v *ValidationError) Error() string {
	if len(v.Issues) == 0 {
		return string(CodeSchema)
	}
	parts := make([]string, 0, len(v.Issues))
	for _, issue := range v.Issues {
		parts = append(parts, issue.Error())
	}
	return fmt.Sprintf("%d validation issue(s): %s", len(v.Issues), strings.Join(parts, "; "))
}

func (v *ValidationError) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == CodeSchema
}

func (v *ValidationError) add(opID, field, format string, args ...any) {
	v.Issues = append(v.Issues, &Error{
		Code:    CodeSchema,
		OpID:    opID,
		Field:   field,
		Message: fmt.Sprintf(format, args...),
	})
}

func (v *ValidationError) orNil() error {
	if len(v.Issues) == 0 {
		return nil
	}
	return v
}
