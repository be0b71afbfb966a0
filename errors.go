// Package ironbase is an embedded, single-process document database: a
// document-oriented query/update surface backed by a single-file primary
// store and a companion write-ahead log.
//
// Open a database with Open, obtain a collection handle with
// Database.Collection, and call the Collection methods (InsertOne, Find,
// UpdateOne, ...) to read and write documents. Transactions spanning
// multiple collections go through Database.BeginTransaction and the
// *Tx-suffixed collection methods.
package ironbase

import "github.com/ironbase/ironbase/internal/util"

// Kind classifies an error per the engine's error taxonomy (spec §7).
type Kind = util.Kind

const (
	KindCorruptHeader       = util.KindCorruptHeader
	KindCorruptRecord       = util.KindCorruptRecord
	KindCorruptWAL          = util.KindCorruptWAL
	KindCorruptIndex        = util.KindCorruptIndex
	KindDuplicateKey        = util.KindDuplicateKey
	KindTransactionNotFound = util.KindTransactionNotFound
	KindTransactionClosed   = util.KindTransactionClosed
	KindSchemaViolation     = util.KindSchemaViolation
	KindInvalidArgument     = util.KindInvalidArgument
	KindIoError             = util.KindIoError
	KindAlreadyOpen         = util.KindAlreadyOpen
)

// Error is the concrete error type every exported operation returns on
// failure. Use errors.As to recover it and read Kind, or errors.Is against
// one of the Err* sentinels below.
type Error = util.Error

// Sentinels usable with errors.Is, one per taxonomy member plus the three
// common lookup failures (document/collection/index not found) the core
// layers also surface.
var (
	ErrCorruptHeader       = util.ErrCorruptHeader
	ErrCorruptRecord       = util.ErrCorruptRecord
	ErrCorruptWAL          = util.ErrCorruptWAL
	ErrCorruptIndex        = util.ErrCorruptIndex
	ErrDuplicateKey        = util.ErrDuplicateKey
	ErrTransactionNotFound = util.ErrTransactionNotFound
	ErrTransactionClosed   = util.ErrTransactionClosed
	ErrSchemaViolation     = util.ErrSchemaViolation
	ErrInvalidArgument     = util.ErrInvalidArgument
	ErrIoError             = util.ErrIoError
	ErrAlreadyOpen         = util.ErrAlreadyOpen
	ErrDocumentNotFound    = util.ErrDocumentNotFound
	ErrCollectionNotFound  = util.ErrCollectionNotFound
	ErrIndexNotFound       = util.ErrIndexNotFound
)
