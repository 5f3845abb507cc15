package executor

import (
	"errors"
	"fmt"
)

// ErrorKind tells operators why an invocation failed
type ErrorKind string

const (
	KindCompile   ErrorKind = "compile"
	KindRuntime   ErrorKind = "runtime"
	KindTimeout   ErrorKind = "timeout"
	KindCancelled ErrorKind = "cancelled"
)

var ErrUnknownEngine = errors.New("unknown engine")

// InvocationError is the failure variant of an InvocationResult
type InvocationError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
}

// CompileError is returned when a script cannot be turned into a program. It is
// fatal for the script: no invocation of it can succeed.
type CompileError struct {
	Script string
	Engine string
	Err    error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("failed to compile %s script %s: %v", e.Engine, e.Script, e.Err)
}

func (e *CompileError) Unwrap() error {
	return e.Err
}

// IsCompileError reports whether err is, or wraps, a CompileError
func IsCompileError(err error) bool {
	var ce *CompileError
	return errors.As(err, &ce)
}
