package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// Kind classifies an error for callers of the data source core.
type Kind string

const (
	KindConfiguration Kind = "configuration"
	KindConnection    Kind = "connection"
	KindSchema        Kind = "schema"
	KindExecution     Kind = "execution"
	KindInvalidQuery  Kind = "invalid_query"
)

// Subkind refines a Kind.
type Subkind string

const (
	SubkindUnreachable  Subkind = "unreachable"
	SubkindAuthRejected Subkind = "auth_rejected"
	SubkindTLS          Subkind = "tls"

	SubkindTimeout   Subkind = "timeout"
	SubkindSyntax    Subkind = "syntax"
	SubkindTransient Subkind = "transient"
)

// Error is the typed error returned across component boundaries.
// Query holds the sanitized statement text for execution errors.
type Error struct {
	Kind    Kind
	Subkind Subkind
	Op      string
	Query   string
	Msg     string
	Err     error
}

func (e *Error) Error() string {
	msg := string(e.Kind) + " error"
	if e.Subkind != "" {
		msg += " (" + string(e.Subkind) + ")"
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Query != "" {
		msg += " [query: " + e.Query + "]"
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Configuration reports missing or malformed connection settings.
func Configuration(format string, args ...any) *Error {
	return &Error{Kind: KindConfiguration, Msg: fmt.Sprintf(format, args...)}
}

// Connection wraps a failure to reach or authenticate against a remote database.
func Connection(sub Subkind, err error) *Error {
	return &Error{Kind: KindConnection, Subkind: sub, Err: err}
}

// Schema reports a table or column missing from the catalog.
func Schema(format string, args ...any) *Error {
	return &Error{Kind: KindSchema, Msg: fmt.Sprintf(format, args...)}
}

// Execution wraps a remote failure while running query.
func Execution(sub Subkind, query string, err error) *Error {
	return &Error{Kind: KindExecution, Subkind: sub, Query: query, Err: err}
}

// InvalidQuery reports a malformed query request.
func InvalidQuery(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidQuery, Msg: fmt.Sprintf(format, args...)}
}

// WithOp returns a copy of e annotated with the operation name.
func (e *Error) WithOp(op string) *Error {
	cp := *e
	cp.Op = op
	return &cp
}

// IsKind reports whether err carries an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// IsSubkind reports whether err carries an *Error with the given subkind.
func IsSubkind(err error, sub Subkind) bool {
	var e *Error
	return errors.As(err, &e) && e.Subkind == sub
}

// KindOf returns the kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
