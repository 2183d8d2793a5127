// Package vgerr defines the error taxonomy shared across vgem's core
// packages.
//
// Every error that crosses a component boundary should be, or wrap, an
// *Error at some point in its chain so that callers can recover the Kind
// with [errors.As] instead of string-matching messages.
package vgerr

import (
	"errors"
	"strings"
)

// Kind classifies an *Error for programmatic handling.
type Kind string

// Defined error kinds, one per spec.md §7 taxonomy entry.
const (
	KindParse     Kind = "parse"     // manifest/lockfile/version/requirement parse error
	KindNotFound  Kind = "not_found" // registry NotFound
	KindHTTP      Kind = "http"      // registry HttpError
	KindNetwork   Kind = "network"   // transport-level network error
	KindArchive   Kind = "archive"   // malformed tar/gzip/traversal
	KindSignature Kind = "signature" // unsigned/no trusted cert/verify failed
	KindResolver  Kind = "resolver"  // unsatisfiable constraints
	KindBuild     Kind = "build"     // extension build failure
	KindIO        Kind = "io"        // filesystem error, annotated with path
	KindInternal  Kind = "internal"  // unclassified
)

// Error implements error (string), func Is(error) bool (kind comparison via
// [errors.Is]) and func Unwrap() error.
//
// Implementations create an Error at the system boundary (a failed HTTP
// call, a malformed archive entry, a rejected version string) and
// intermediate layers wrap it with fmt.Errorf's %w rather than creating a
// second Error, so the original Kind and Op survive to the top.
type Error struct {
	Inner   error
	Kind    Kind
	Message string
	Op      string
}

var (
	_ error                       = (*Error)(nil)
	_ interface{ Is(error) bool } = (*Error)(nil)
	_ interface{ Unwrap() error } = (*Error)(nil)
)

// Error implements error.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString("[")
	b.WriteString(string(e.Kind))
	b.WriteString("] ")
	if e.Message != "" {
		b.WriteString(e.Message)
		if e.Inner != nil {
			b.WriteString(": ")
		}
	}
	if e.Inner != nil {
		b.WriteString(e.Inner.Error())
	}
	return b.String()
}

// Is enables [errors.Is] by comparing Kind against a sentinel Kind value
// wrapped in an otherwise empty *Error (see [Sentinel], e.g.
// errors.Is(err, vgerr.Sentinel(vgerr.KindNotFound))).
func (e *Error) Is(target error) bool {
	var k *Error
	if errors.As(target, &k) && k.Message == "" && k.Inner == nil && k.Op == "" {
		return e.Kind == k.Kind
	}
	return false
}

// Unwrap enables [errors.Unwrap].
func (e *Error) Unwrap() error { return e.Inner }

// New constructs an *Error. inner may be nil.
func New(kind Kind, op, message string, inner error) *Error {
	return &Error{Inner: inner, Kind: kind, Message: message, Op: op}
}

// Sentinel returns a bare *Error carrying only a Kind, suitable as the
// target of an [errors.Is] comparison (e.g. errors.Is(err, vgerr.Sentinel(vgerr.KindNotFound))).
func Sentinel(kind Kind) *Error { return &Error{Kind: kind} }

// Is reports whether err's chain contains an *Error of the given Kind.
func Is(err error, kind Kind) bool {
	return errors.Is(err, Sentinel(kind))
}
