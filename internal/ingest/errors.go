package ingest

import (
	"errors"
	"fmt"
)

// Kind classifies an ingestion failure. Handlers map kinds to HTTP statuses.
type Kind int

const (
	KindIOFailure Kind = iota
	KindMalformedRequest
	KindSizeLimitExceeded
	KindMissingField
	KindValidationFailed
	KindUnsafeArchiveEntry
	KindInvalidIdentifier
	KindPathTraversal
	KindNotFound
	KindNotAFile
	KindConflict
)

var kindNames = map[Kind]string{
	KindIOFailure:          "IOFailure",
	KindMalformedRequest:   "MalformedRequest",
	KindSizeLimitExceeded:  "SizeLimitExceeded",
	KindMissingField:       "MissingField",
	KindValidationFailed:   "ValidationFailed",
	KindUnsafeArchiveEntry: "UnsafeArchiveEntry",
	KindInvalidIdentifier:  "InvalidIdentifier",
	KindPathTraversal:      "PathTraversal",
	KindNotFound:           "NotFound",
	KindNotAFile:           "NotAFile",
	KindConflict:           "Conflict",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error is the tagged failure every pipeline stage returns.
type Error struct {
	Kind Kind
	Op   string // stage that failed, e.g. "extract"
	Msg  string // client-safe description
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match on kind alone: errors.Is(err, &Error{Kind: KindNotFound}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Msg == "" && t.Err == nil
}

func newError(kind Kind, op, msg string, err error) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}

// ioError wraps an unexpected filesystem failure.
func ioError(op string, err error) *Error {
	return &Error{Kind: KindIOFailure, Op: op, Msg: "I/O failure", Err: err}
}

// KindOf returns the Kind carried by err, or KindIOFailure for untagged errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindIOFailure
}

// Message returns the client-facing message for err. Untagged errors are
// reported generically so filesystem paths do not leak.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Msg != "" {
		return e.Msg
	}
	return "Internal server error"
}
