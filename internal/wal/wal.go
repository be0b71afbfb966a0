// Package wal implements Write-Ahead Logging for durability.
//
// The spec calls for a single companion file "<db>.wal", not the teacher's
// rotating multi-segment design (wal-%016x.log files capped at 64MB each):
// IronBase's WAL is truncated to zero length after every successful replay
// and again at every checkpoint, so segment rotation has no role to play.
// This file keeps the teacher's WAL type name and Append/Sync/Close shape
// but drops segment.go's rotation machinery in favor of one *os.File.
package wal

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/ironbase/ironbase/internal/util"
)

// WAL is the write-ahead log: one file, append-only, framed records.
type WAL struct {
	mu   sync.Mutex
	file *os.File
	path string
	seq  atomic.Uint64
}

// Open opens or creates the WAL file at path.
func Open(path string) (*WAL, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, util.Wrap(util.KindIoError, "open wal file", err)
	}
	return &WAL{file: f, path: path}, nil
}

// Append writes one frame, assigning it the next monotonic sequence number.
func (w *WAL) Append(recType RecordType, txID uint64, payload []byte) (uint64, error) {
	seq := w.seq.Add(1)
	frame := Encode(Record{Seq: seq, TxID: txID, Type: recType, Payload: payload})

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.file.Write(frame); err != nil {
		return 0, util.Wrap(util.KindIoError, "append wal frame", err)
	}
	return seq, nil
}

// Sync fsyncs the WAL file, the fsync point for Safe mode and every Nth
// commit in Batch(N) mode.
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.file.Sync(); err != nil {
		return util.Wrap(util.KindIoError, "fsync wal", err)
	}
	return nil
}

// ReadAll reads every frame currently in the file for replay, stopping
// (without error) at the first truncated or CRC-mismatched frame: that is
// the torn tail left by a crash mid-write.
func (w *WAL) ReadAll() ([]Record, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	info, err := w.file.Stat()
	if err != nil {
		return nil, util.Wrap(util.KindIoError, "stat wal", err)
	}
	buf := make([]byte, info.Size())
	if _, err := w.file.ReadAt(buf, 0); err != nil && info.Size() > 0 {
		return nil, util.Wrap(util.KindIoError, "read wal", err)
	}

	var records []Record
	off := 0
	for off < len(buf) {
		rec, next, err := Decode(buf, off)
		if err != nil {
			break // torn tail: discard anything from here on
		}
		records = append(records, rec)
		off = next
	}
	if len(records) > 0 {
		w.seq.Store(records[len(records)-1].Seq)
	}
	return records, nil
}

// Truncate resets the WAL to zero length, performed after a successful
// replay and at every checkpoint.
func (w *WAL) Truncate() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.file.Truncate(0); err != nil {
		return util.Wrap(util.KindIoError, "truncate wal", err)
	}
	if _, err := w.file.Seek(0, 0); err != nil {
		return util.Wrap(util.KindIoError, "seek wal after truncate", err)
	}
	if err := w.file.Sync(); err != nil {
		return util.Wrap(util.KindIoError, "fsync wal after truncate", err)
	}
	w.seq.Store(0)
	return nil
}

// Size reports the current WAL file size, surfaced via stats().
func (w *WAL) Size() (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	info, err := w.file.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat wal: %w", err)
	}
	return info.Size(), nil
}

// Close closes the WAL file handle without truncating it, so an unclosed
// handle's pending frames remain for the next open's replay.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

// Path returns the WAL's file path on disk.
func (w *WAL) Path() string { return w.path }
