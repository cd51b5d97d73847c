// Copyright 2025 The Flowgate Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package serrors provides enhanced errors. Errors created with serrors can
// have additional log context in form of key-value pairs. The package
// provides wrapping methods. The returned errors support the standard
// errors.Is and errors.As functionality: for any error err returned by this
// package, errors.Is(err, err) is true, and for any err wrapping cause,
// errors.Is(err, cause) is true.
package serrors

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ctxPair is one item of context information.
type ctxPair struct {
	Key   string
	Value interface{}
}

// basicError is an error with an optional cause and attached context.
type basicError struct {
	msg   string
	cause error
	ctx   []ctxPair
	stack *stack
}

func (e *basicError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.msg)
	e.appendContext(&sb)
	return sb.String()
}

func (e *basicError) appendContext(sb *strings.Builder) {
	if len(e.ctx) > 0 {
		sb.WriteString(" {")
		for i, p := range e.ctx {
			if i > 0 {
				sb.WriteString("; ")
			}
			fmt.Fprintf(sb, "%s=%v", p.Key, p.Value)
		}
		sb.WriteString("}")
	}
	if e.cause != nil {
		fmt.Fprintf(sb, ": %s", e.cause)
	}
}

func (e *basicError) Unwrap() error {
	return e.cause
}

// MarshalLogObject implements zapcore.ObjectMarshaler for a structured log
// representation.
func (e *basicError) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("msg", e.msg)
	return e.marshalContext(enc)
}

func (e *basicError) marshalContext(enc zapcore.ObjectEncoder) error {
	if e.cause != nil {
		if m, ok := e.cause.(zapcore.ObjectMarshaler); ok {
			if err := enc.AddObject("cause", m); err != nil {
				return err
			}
		} else {
			enc.AddString("cause", e.cause.Error())
		}
	}
	if e.stack != nil {
		if err := enc.AddArray("stacktrace", e.stack); err != nil {
			return err
		}
	}
	for _, pair := range e.ctx {
		zap.Any(pair.Key, pair.Value).AddTo(enc)
	}
	return nil
}

// StackTrace returns the attached stack trace if there is any.
func (e *basicError) StackTrace() StackTrace {
	if e.stack == nil {
		return nil
	}
	return e.stack.StackTrace()
}

func mkContext(errCtx []interface{}) []ctxPair {
	np := len(errCtx) / 2
	ctx := make([]ctxPair, np)
	for i := 0; i < np; i++ {
		ctx[i] = ctxPair{Key: fmt.Sprint(errCtx[2*i]), Value: errCtx[2*i+1]}
	}
	sort.Slice(ctx, func(a, b int) bool { return ctx[a].Key < ctx[b].Key })
	return ctx
}

func attachStack(cause error) *stack {
	// A stack is attached only if the cause chain does not already carry
	// one; the innermost dump is the interesting one.
	var be *basicError
	if cause != nil && errors.As(cause, &be) && be.stack != nil {
		return nil
	}
	return callers()
}

// New creates a new error with the given message and context, plus a stack
// dump. Avoid using this in performance-critical code; for sentinel errors,
// errors.New should be preferred.
func New(msg string, errCtx ...interface{}) error {
	return &basicError{
		msg:   msg,
		ctx:   mkContext(errCtx),
		stack: callers(),
	}
}

// Wrap returns an error that associates the given message with the given
// cause (an underlying error), and the given context. The returned error
// supports Is: Is(cause) returns true.
func Wrap(msg string, cause error, errCtx ...interface{}) error {
	return &basicError{
		msg:   msg,
		cause: cause,
		ctx:   mkContext(errCtx),
		stack: attachStack(cause),
	}
}

// Join returns an error that associates the given base error with the given
// cause and context. The base error is typically a sentinel; the returned
// error supports Is both for the base error and the cause. Returns nil if
// both err and cause are nil.
func Join(err, cause error, errCtx ...interface{}) error {
	if err == nil && cause == nil {
		return nil
	}
	return &joinedError{
		basicError: basicError{
			cause: cause,
			ctx:   mkContext(errCtx),
			stack: attachStack(cause),
		},
		base: err,
	}
}

// joinedError wraps a base error, typically a sentinel created with
// errors.New, together with an optional cause and context.
type joinedError struct {
	basicError
	base error
}

func (e *joinedError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.base.Error())
	e.appendContext(&sb)
	return sb.String()
}

func (e *joinedError) Unwrap() []error {
	return []error{e.base, e.cause}
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (e *joinedError) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("msg", e.base.Error())
	return e.marshalContext(enc)
}

// List is a slice of errors.
type List []error

// Error implements the error interface.
func (e List) Error() string {
	s := make([]string, 0, len(e))
	for _, err := range e {
		s = append(s, err.Error())
	}
	return fmt.Sprintf("[ %s ]", strings.Join(s, "; "))
}

// ToError returns the list as an error interface value, or nil if the list
// is empty.
func (e List) ToError() error {
	if len(e) == 0 {
		return nil
	}
	return e
}

// MarshalLogArray implements zapcore.ArrayMarshaler.
func (e List) MarshalLogArray(ae zapcore.ArrayEncoder) error {
	for _, err := range e {
		if m, ok := err.(zapcore.ObjectMarshaler); ok {
			if err := ae.AppendObject(m); err != nil {
				return err
			}
		} else {
			ae.AppendString(err.Error())
		}
	}
	return nil
}
