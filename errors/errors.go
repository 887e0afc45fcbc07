// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package errors implements the error type used throughout digitalrf. It
// defines a small, fixed set of interpretable error kinds so that callers
// can branch on the failure mode (e.g. retry vs. give up) without string
// matching. Errors can be chained: one error can wrap another, attributing
// a higher level failure to its cause. The design is deliberately the same
// shape as the errors package this module was ported from; the portions
// that interop with a distributed RPC framework have been removed, since a
// channel writer has no RPC surface to translate errors from or to.
package errors

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/digitalrf/digitalrf/log"
)

// Separator defines the separation string inserted between
// chained errors in error messages.
var Separator = ":\n\t"

// Kind defines the type of error produced by digitalrf. The kinds below
// are exactly the error kinds named by the writer's error handling design:
// eager validation failures at Create time, directory problems, the
// monotonicity violation, malformed gap-index input, an unsupported sample
// type, and an underlying I/O failure.
type Kind int

const (
	// Other indicates an unknown error.
	Other Kind = iota
	// ConfigInvalid indicates an invalid Create argument (bad compression
	// level, zero capacity, unsupported width, etc). Raised eagerly at
	// Create.
	ConfigInvalid
	// DirectoryUnusable indicates the channel root is missing or not a
	// directory, or that a target subdirectory already exists.
	DirectoryUnusable
	// WriteBeforeCursor indicates the caller presented a global sample that
	// precedes next_expected_global.
	WriteBeforeCursor
	// IndexMalformed indicates the caller's (global, in_buf) index pairing
	// violates the ordering or advance-rate contract.
	IndexMalformed
	// TypeUnsupported indicates the type resolver could not map the
	// requested element description to an on-disk datatype.
	TypeUnsupported
	// IoFailure indicates an underlying HDF5 or filesystem call failed.
	IoFailure
	// AllocationFailure indicates a memory allocation failed. Treated as
	// unrecoverable; present mainly so callers that inherited it from the
	// C implementation have a home to map it to.
	AllocationFailure

	maxKind
)

var kinds = map[Kind]string{
	Other:             "unknown error",
	ConfigInvalid:     "invalid configuration",
	DirectoryUnusable: "directory unusable",
	WriteBeforeCursor: "write before cursor",
	IndexMalformed:    "malformed index",
	TypeUnsupported:   "unsupported sample type",
	IoFailure:         "i/o failure",
	AllocationFailure: "allocation failure",
}

// kindStdErrs maps some Kinds to the standard library's equivalent, so that
// errors.Is interop works against os sentinel errors.
var kindStdErrs = map[Kind]error{
	DirectoryUnusable: os.ErrNotExist,
}

// String returns a human-readable explanation of the error kind k.
func (k Kind) String() string {
	return kinds[k]
}

// Severity defines an Error's severity. An Error's severity determines
// whether an error-producing operation may be retried or not. digitalrf's
// writer never retries internally, but the severity is still useful to a
// caller deciding whether to recreate the Channel.
type Severity int

const (
	// Temporary indicates the underlying error condition is likely
	// transient, e.g. a momentary out-of-space condition.
	Temporary Severity = -1
	// Unknown indicates the error's severity is unknown. This is the
	// default severity level.
	Unknown Severity = 0
	// Fatal indicates the underlying error condition is unrecoverable;
	// the Channel must be closed and recreated.
	Fatal Severity = 1
)

var severities = map[Severity]string{
	Temporary: "temporary",
	Unknown:   "unknown",
	Fatal:     "fatal",
}

// String returns a human-readable explanation of the error severity s.
func (s Severity) String() string {
	return severities[s]
}

// Error is the standard error type used by digitalrf, carrying a kind
// (error code), message, optional severity, and an optional underlying
// error. Errors should be constructed with E, which interprets its
// arguments according to a set of rules; see E's doc comment.
type Error struct {
	// Kind is the error's type.
	Kind Kind
	// Severity is an optional severity.
	Severity Severity
	// Message is an optional error message associated with this error.
	Message string
	// Err is the error that caused this error, if any. Errors can form
	// chains through Err: the full chain is printed by Error().
	Err error
}

// E constructs a new error from the provided arguments. It is meant as a
// convenient way to construct, annotate, and wrap errors.
//
// Arguments are interpreted according to their types:
//
//   - Kind: sets the Error's kind
//   - Severity: sets the Error's severity
//   - string: sets the Error's message; multiple strings are separated by
//     a single space
//   - *Error: copies the error and sets the error's cause
//   - error: sets the Error's cause
//
// If an unrecognized argument type is encountered, an error with kind
// ConfigInvalid is returned.
//
// If the underlying error is not an *Error and implements Temporary() bool
// reporting true, the severity (if not provided) is set to Temporary. If,
// in addition, a kind is not provided, E interprets the underlying error:
// if os.IsNotExist(err) is true, the kind is set to DirectoryUnusable;
// otherwise, if err is (or wraps) context.Canceled, the severity is set to
// Fatal. If the underlying error is another *Error and a kind was not
// provided, the returned error inherits that error's kind.
func E(args ...interface{}) error {
	if len(args) == 0 {
		panic("no args")
	}
	e := new(Error)
	var msg strings.Builder
	for _, arg := range args {
		switch arg := arg.(type) {
		case Kind:
			e.Kind = arg
		case Severity:
			e.Severity = arg
		case string:
			if msg.Len() > 0 {
				msg.WriteString(" ")
			}
			msg.WriteString(arg)
		case *Error:
			cp := *arg
			if len(args) == 1 {
				return &cp
			}
			e.Err = &cp
		case error:
			e.Err = arg
		default:
			_, file, line, _ := runtime.Caller(1)
			log.Error.Printf("errors.E: bad call (type %T) from %s:%d: %v", arg, file, line, arg)
			return &Error{
				Kind:    ConfigInvalid,
				Message: fmt.Sprintf("unknown type %T, value %v in error call", arg, arg),
			}
		}
	}
	e.Message = msg.String()
	if e.Err == nil {
		return e
	}
	switch prev := e.Err.(type) {
	case *Error:
		if prev.Kind == e.Kind || e.Kind == Other {
			e.Kind = prev.Kind
			prev.Kind = Other
		}
		if prev.Severity == e.Severity || e.Severity == Unknown {
			e.Severity = prev.Severity
			prev.Severity = Unknown
		}
	default:
		if err, ok := e.Err.(interface{ Temporary() bool }); ok && err.Temporary() && e.Severity == Unknown {
			e.Severity = Temporary
		}
		if e.Kind == Other {
			if os.IsNotExist(e.Err) {
				e.Kind = DirectoryUnusable
			} else if errors.Is(e.Err, context.Canceled) {
				e.Severity = Fatal
			}
		}
	}
	return e
}

// Recover recovers any error into an *Error. If the passed-in error is
// already an *Error, it is simply returned; otherwise it is wrapped.
func Recover(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Error); ok {
		return e
	}
	return E(err).(*Error)
}

// Error returns a human readable string describing this error. It uses the
// separator defined by Separator.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b bytes.Buffer
	e.writeError(&b)
	return b.String()
}

func (e *Error) writeError(b *bytes.Buffer) {
	if e.Message != "" {
		pad(b, ": ")
		b.WriteString(e.Message)
	}
	if e.Kind != Other {
		pad(b, ": ")
		b.WriteString(e.Kind.String())
	}
	if e.Severity != Unknown {
		pad(b, " ")
		b.WriteByte('(')
		b.WriteString(e.Severity.String())
		b.WriteByte(')')
	}
	if e.Err == nil {
		return
	}
	if err, ok := e.Err.(*Error); ok {
		pad(b, Separator)
		b.WriteString(err.Error())
	} else {
		pad(b, ": ")
		b.WriteString(e.Err.Error())
	}
}

// Temporary tells whether this error is temporary.
func (e *Error) Temporary() bool {
	return e.Severity <= Temporary
}

// Unwrap returns e's cause, if any, or nil. It lets the standard library's
// errors.Unwrap (and errors.Is/As) work with *Error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is tells whether e.Kind corresponds to err, so that
// errors.Is(e, os.ErrNotExist) works for, e.g., a DirectoryUnusable error.
//
// Note: this match does not recurse into err's cause; see the standard
// library's errors.Is for how this is used.
func (e *Error) Is(err error) bool {
	if err == nil {
		return false
	}
	return err == kindStdErrs[e.Kind]
}

// Is tells whether the provided error has the given kind, traversing Other
// links in the chain until a non-Other kind is found.
func Is(kind Kind, err error) bool {
	if err == nil {
		return false
	}
	return is(kind, Recover(err))
}

func is(kind Kind, e *Error) bool {
	if e.Kind != Other {
		return e.Kind == kind
	}
	if e.Err != nil {
		if e2, ok := e.Err.(*Error); ok {
			return is(kind, e2)
		}
	}
	return false
}

// KindOf returns the Kind of err, or Other if err is not (or does not wrap)
// an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Other
}

// New is synonymous with errors.New, provided here so callers need import
// only one errors package.
func New(msg string) error {
	return errors.New(msg)
}

func pad(b *bytes.Buffer, s string) {
	if b.Len() == 0 {
		return
	}
	b.WriteString(s)
}
