// Package errors provides the error type shared by the API, the worker and the
// assembly pipeline: a categorization code, the failing operation, structured
// fields and the stack captured at creation.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"
)

// Code categorizes an error. It is stored with failed jobs and sent to API
// clients, so values must stay stable.
type Code string

const (
	CodeInternal    Code = "INTERNAL_ERROR"
	CodeValidation  Code = "VALIDATION_ERROR"
	CodeNotFound    Code = "NOT_FOUND"
	CodeConflict    Code = "CONFLICT"
	CodeTimeout     Code = "TIMEOUT"
	CodeUnavailable Code = "UNAVAILABLE"
	CodeTooLarge    Code = "PAYLOAD_TOO_LARGE"
	CodeTranscode   Code = "TRANSCODE_ERROR"
	CodeStorage     Code = "STORAGE_ERROR"
)

var httpStatus = map[Code]int{
	CodeValidation:  http.StatusBadRequest,
	CodeNotFound:    http.StatusNotFound,
	CodeConflict:    http.StatusConflict,
	CodeTooLarge:    http.StatusRequestEntityTooLarge,
	CodeUnavailable: http.StatusServiceUnavailable,
	CodeTimeout:     http.StatusGatewayTimeout,
}

// Error carries a Code, the operation that failed ("pipeline.Run"), a
// client-safe Message and the wrapped cause.
type Error struct {
	Code    Code
	Message string
	Op      string
	Err     error
	Fields  map[string]any
	Stack   []Frame
}

// Frame is one captured stack frame.
type Frame struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Function string `json:"function"`
}

// Error renders "op: [CODE] message: cause", leaving out empty parts.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Code != "" {
		fmt.Fprintf(&b, "[%s] ", e.Code)
	}
	b.WriteString(e.Message)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e.Code == t.Code
}

// WithField sets key and returns e for chaining.
func (e *Error) WithField(key string, value any) *Error {
	if e.Fields == nil {
		e.Fields = make(map[string]any)
	}
	e.Fields[key] = value
	return e
}

// HTTPStatus maps the code to a response status. Unknown codes are 500.
func (e *Error) HTTPStatus() int {
	if s, ok := httpStatus[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// StackTrace formats Stack one frame per line.
func (e *Error) StackTrace() string {
	var b strings.Builder
	for _, f := range e.Stack {
		fmt.Fprintf(&b, "  %s:%d %s\n", f.File, f.Line, f.Function)
	}
	return b.String()
}

// build is the single constructor; every exported helper calls it directly
// so the captured stack starts at the helper's caller.
func build(code Code, message, op string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Op:      op,
		Err:     cause,
		Stack:   captureStack(3),
	}
}

func New(code Code, message string) *Error {
	return build(code, message, "", nil)
}

func Newf(code Code, format string, args ...any) *Error {
	return build(code, fmt.Sprintf(format, args...), "", nil)
}

// Wrap adds op and message to err. A coded err keeps its code and fields;
// anything else becomes CodeInternal. Wrap(nil) is nil.
func Wrap(err error, op string, message string) *Error {
	if err == nil {
		return nil
	}
	var inner *Error
	if errors.As(err, &inner) {
		e := build(inner.Code, message, op, err)
		e.Fields = inner.Fields
		return e
	}
	return build(CodeInternal, message, op, err)
}

// WrapWithCode is Wrap with an explicit code.
func WrapWithCode(err error, code Code, op string, message string) *Error {
	if err == nil {
		return nil
	}
	return build(code, message, op, err)
}

func Internal(message string) *Error {
	return build(CodeInternal, message, "", nil)
}

// NotFound reports a missing resource, e.g. NotFound("job", id).
func NotFound(resource string, id string) *Error {
	return build(CodeNotFound, fmt.Sprintf("%s not found: %s", resource, id), "", nil).
		WithField("resource", resource).
		WithField("id", id)
}

func Validationf(format string, args ...any) *Error {
	return build(CodeValidation, fmt.Sprintf(format, args...), "", nil)
}

// ValidationField reports a problem with one named input field.
func ValidationField(field string, message string) *Error {
	return build(CodeValidation, message, "", nil).WithField("field", field)
}

func Conflict(message string) *Error {
	return build(CodeConflict, message, "", nil)
}

// Transcode wraps the failure of an external media operation. stage names
// the pipeline step ("trim", "compose", ...).
func Transcode(err error, op string, stage string) *Error {
	if err == nil {
		return nil
	}
	return build(CodeTranscode, stage+" stage failed", op, err).WithField("stage", stage)
}

// Unavailable reports a dependency that could not be reached.
func Unavailable(service string) *Error {
	return build(CodeUnavailable, "service unavailable: "+service, "", nil).
		WithField("service", service)
}

// GetCode returns the code of the outermost *Error in err's chain, or
// CodeInternal.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

func GetHTTPStatus(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.HTTPStatus()
	}
	return http.StatusInternalServerError
}

func GetFields(err error) map[string]any {
	var e *Error
	if errors.As(err, &e) {
		return e.Fields
	}
	return nil
}

func IsCode(err error, code Code) bool { return GetCode(err) == code }
func IsNotFound(err error) bool { return IsCode(err, CodeNotFound) }
func IsValidation(err error) bool { return IsCode(err, CodeValidation) }
func IsConflict(err error) bool { return IsCode(err, CodeConflict) }
func IsTranscode(err error) bool { return IsCode(err, CodeTranscode) }
func As(err error, target any) bool { return errors.As(err, target) }
func Is(err, target error) bool { return errors.Is(err, target) }

const (
	maxStackDepth  = 32
	maxStackFrames = 10
)

func captureStack(skip int) []Frame {
	var pcs [maxStackDepth]uintptr
	n := runtime.Callers(skip+1, pcs[:])
	if n == 0 {
		return nil
	}
	iter := runtime.CallersFrames(pcs[:n])

	frames := make([]Frame, 0, maxStackFrames)
	for len(frames) < maxStackFrames {
		f, more := iter.Next()
		if !strings.Contains(f.File, "runtime/") {
			frames = append(frames, Frame{File: f.File, Line: f.Line, Function: f.Function})
		}
		if !more {
			break
		}
	}
	return frames
}
