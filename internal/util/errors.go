// Package util holds error kinds shared by every IronBase subsystem.
//
// Grounded on the teacher's internal/util/errors.go: a flat var block of
// sentinel errors that every layer wraps with fmt.Errorf("%w: ...", ...).
// IronBase adds a Kind so callers across package boundaries (storage, wal,
// btree, the public API) can classify an error without string matching,
// per the error taxonomy in the spec.
package util

import (
	"errors"
	"fmt"
)

// Kind classifies an error per the engine's error taxonomy.
type Kind int

const (
	KindUnknown Kind = iota
	KindCorruptHeader
	KindCorruptRecord
	KindCorruptWAL
	KindCorruptIndex
	KindDuplicateKey
	KindTransactionNotFound
	KindTransactionClosed
	KindSchemaViolation
	KindInvalidArgument
	KindIoError
	KindAlreadyOpen
)

func (k Kind) String() string {
	switch k {
	case KindCorruptHeader:
		return "CorruptHeader"
	case KindCorruptRecord:
		return "CorruptRecord"
	case KindCorruptWAL:
		return "CorruptWAL"
	case KindCorruptIndex:
		return "CorruptIndex"
	case KindDuplicateKey:
		return "DuplicateKey"
	case KindTransactionNotFound:
		return "TransactionNotFound"
	case KindTransactionClosed:
		return "TransactionClosed"
	case KindSchemaViolation:
		return "SchemaViolation"
	case KindInvalidArgument:
		return "InvalidArgument"
	case KindIoError:
		return "IoError"
	case KindAlreadyOpen:
		return "AlreadyOpen"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type returned from every public operation.
// It always carries a Kind so callers can use errors.Is / errors.As without
// depending on message text.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error of the given kind.
func New(k Kind, msg string) *Error {
	return &Error{Kind: k, Msg: msg}
}

// Wrap builds an *Error of the given kind around an existing cause.
func Wrap(k Kind, msg string, err error) *Error {
	return &Error{Kind: k, Msg: msg, Err: err}
}

// Is implements errors.Is matching by Kind alone, so a sentinel comparison
// succeeds regardless of the message or wrapped cause attached at the call
// site, e.g. util.Wrap(KindIoError, "...", err) still matches ErrIoError.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinels usable with errors.Is for each taxonomy member, one per Kind.
var (
	ErrCorruptHeader       = &Error{Kind: KindCorruptHeader, Msg: "corrupt header"}
	ErrCorruptRecord       = &Error{Kind: KindCorruptRecord, Msg: "corrupt record"}
	ErrCorruptWAL          = &Error{Kind: KindCorruptWAL, Msg: "corrupt wal"}
	ErrCorruptIndex        = &Error{Kind: KindCorruptIndex, Msg: "corrupt index"}
	ErrDuplicateKey        = &Error{Kind: KindDuplicateKey, Msg: "duplicate key"}
	ErrTransactionNotFound = &Error{Kind: KindTransactionNotFound, Msg: "transaction not found"}
	ErrTransactionClosed   = &Error{Kind: KindTransactionClosed, Msg: "transaction closed"}
	ErrSchemaViolation     = &Error{Kind: KindSchemaViolation, Msg: "schema violation"}
	ErrInvalidArgument     = &Error{Kind: KindInvalidArgument, Msg: "invalid argument"}
	ErrIoError             = &Error{Kind: KindIoError, Msg: "io error"}
	ErrAlreadyOpen         = &Error{Kind: KindAlreadyOpen, Msg: "database already open"}

	// ErrDocumentNotFound, ErrCollectionNotFound and ErrIndexNotFound are not part of the
	// crash-integrity taxonomy but are common enough lookup failures to
	// warrant their own sentinels, kept (as the teacher does) alongside the
	// rest of the flat var block rather than invented ad hoc at call sites.
	ErrDocumentNotFound   = New(KindInvalidArgument, "document not found")
	ErrCollectionNotFound = New(KindInvalidArgument, "collection not found")
	ErrIndexNotFound      = New(KindInvalidArgument, "index not found")
)

// Of reports the Kind of any error produced by this package, or KindUnknown.
func Of(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
