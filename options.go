package ironbase

import "github.com/ironbase/ironbase/internal/txn"

// Durability selects the auto-commit policy applied to every
// non-transactional write and to transaction commits (spec §4.9).
type Durability int

const (
	// Safe fsyncs the WAL after every commit. No operation that has
	// returned success can be lost.
	Safe Durability = Durability(txn.Safe)
	// Batch fsyncs the WAL every BatchSize commits and on checkpoint/close.
	// Up to BatchSize-1 operations can be lost on crash.
	Batch Durability = Durability(txn.Batch)
	// Unsafe never fsyncs the WAL on commit; durability is only guaranteed
	// by an explicit Checkpoint or Close.
	Unsafe Durability = Durability(txn.Unsafe)
)

// Options configures a database at Open.
type Options struct {
	// Durability selects the auto-commit policy (default Safe).
	Durability Durability

	// BatchSize is the fsync period for Durability == Batch. Ignored
	// otherwise. Must be >= 1; values <= 0 are treated as 1.
	BatchSize int

	// RecordCacheSize bounds the number of decoded document records kept in
	// an in-memory read cache, generalizing the teacher's BufferPool page
	// cache to this engine's append-only record file: instead of caching
	// fixed-size pages, it caches decoded records by file offset, since
	// records (not pages) are the unit of both storage and reuse here.
	// Zero disables the cache.
	RecordCacheSize int

	// QueryCacheSize bounds the number of cached find() result sets (spec
	// §4.11). Zero disables the query cache entirely.
	QueryCacheSize int

	// CompactionChunkDocs bounds how many decoded documents compact() holds
	// in memory at once (spec §4.10's "bounded-memory chunks"). Zero uses
	// the compactor's built-in default.
	CompactionChunkDocs int
}

// DefaultOptions returns the engine's default configuration: Safe
// durability, a modest record cache, and a small query cache.
func DefaultOptions() Options {
	return Options{
		Durability:      Safe,
		BatchSize:       1,
		RecordCacheSize: 256,
		QueryCacheSize:  64,
	}
}
