// Package txn implements the transaction coordinator (spec §4.8):
// begin_transaction/insert_one_tx/update_one_tx/delete_one_tx/
// commit_transaction/rollback_transaction, ACD (atomicity, consistency,
// durability; no isolation) over the write-ahead log.
//
// Grounded on docdb's internal/docdb/transaction.go TransactionManager
// (map[id]*Tx under a mutex, Begin/AddOp/Commit/Rollback, a closed state
// machine) generalized from that MVCC design to IronBase's buffered,
// apply-at-commit model, and on transaction_buffer.go's two-phase
// commit-marker reasoning ("index only considers WAL records with a commit
// marker") which is why AddInsert/AddUpdate/AddDelete log their WAL frame
// immediately but defer the in-memory apply to Commit.
package txn

import (
	"sync"
	"sync/atomic"

	"github.com/ironbase/ironbase/internal/storage"
	"github.com/ironbase/ironbase/internal/util"
	"github.com/ironbase/ironbase/internal/wal"
)

// Mode selects the auto-commit durability policy (spec §4.9).
type Mode int

const (
	// Safe fsyncs the WAL on every commit.
	Safe Mode = iota
	// Batch fsyncs every Nth commit (see BatchSize).
	Batch
	// Unsafe writes no WAL frames at all; only checkpoint and close make
	// writes durable, so a crash loses every operation since the last
	// checkpoint, committed or not.
	Unsafe
)

type state int

const (
	stateOpen state = iota
	stateCommitted
	stateRolledBack
)

// Kind tags one buffered operation.
type Kind int

const (
	KindInsert Kind = iota
	KindUpdate
	KindDelete
)

// Op is one buffered mutation, applied to the live catalog/indexes/primary
// file only once its owning transaction commits.
type Op struct {
	Kind       Kind
	Collection string
	Doc        storage.Document       // KindInsert
	DocID      int64                  // KindUpdate, KindDelete
	Update     map[string]interface{} // KindUpdate
}

// Tx is one in-flight or finished transaction.
type Tx struct {
	ID    uint64
	state state
	ops   []Op
}

// Applier applies a committed transaction's buffered operations to the live
// engine. Implemented by the top-level Database.
type Applier interface {
	ApplyInsert(collection string, doc storage.Document) error
	ApplyUpdate(collection string, id int64, ops map[string]interface{}) (bool, error)
	ApplyDelete(collection string, id int64) (bool, error)
}

// Manager is the transaction coordinator for one open database handle.
type Manager struct {
	mu        sync.Mutex
	txs       map[uint64]*Tx
	nextID    atomic.Uint64
	wal       *wal.WAL
	committer *wal.BatchCommitter
	mode      Mode
}

// NewManager builds a coordinator writing through w under the given
// durability mode. committer is only consulted in Batch mode and may be nil
// otherwise.
func NewManager(w *wal.WAL, mode Mode, committer *wal.BatchCommitter) *Manager {
	return &Manager{
		txs:       make(map[uint64]*Tx),
		wal:       w,
		mode:      mode,
		committer: committer,
	}
}

// Begin starts a new transaction, appending BeginTxn to the WAL unless
// running in Unsafe mode.
func (m *Manager) Begin() (*Tx, error) {
	id := m.nextID.Add(1)
	if m.mode != Unsafe {
		if _, err := m.wal.Append(wal.RecBeginTxn, id, nil); err != nil {
			return nil, err
		}
	}
	tx := &Tx{ID: id, state: stateOpen}

	m.mu.Lock()
	m.txs[id] = tx
	m.mu.Unlock()
	return tx, nil
}

// Get looks up an active transaction by id.
func (m *Manager) Get(id uint64) (*Tx, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.txs[id]
	if !ok {
		return nil, util.ErrTransactionNotFound
	}
	return tx, nil
}

// AddInsert buffers an insert within tx, logging its WAL frame immediately.
func (m *Manager) AddInsert(tx *Tx, collection string, doc storage.Document) error {
	if tx.state != stateOpen {
		return util.ErrTransactionClosed
	}
	if m.mode != Unsafe {
		payload := encodeInsert(collection, doc)
		if _, err := m.wal.Append(wal.RecInsert, tx.ID, payload); err != nil {
			return err
		}
	}
	tx.ops = append(tx.ops, Op{Kind: KindInsert, Collection: collection, Doc: doc})
	return nil
}

// AddUpdate buffers an update-by-id operator set within tx.
func (m *Manager) AddUpdate(tx *Tx, collection string, id int64, ops map[string]interface{}) error {
	if tx.state != stateOpen {
		return util.ErrTransactionClosed
	}
	if m.mode != Unsafe {
		payload, err := encodeUpdate(collection, id, ops)
		if err != nil {
			return err
		}
		if _, err := m.wal.Append(wal.RecUpdate, tx.ID, payload); err != nil {
			return err
		}
	}
	tx.ops = append(tx.ops, Op{Kind: KindUpdate, Collection: collection, DocID: id, Update: ops})
	return nil
}

// AddDelete buffers a delete-by-id operation within tx.
func (m *Manager) AddDelete(tx *Tx, collection string, id int64) error {
	if tx.state != stateOpen {
		return util.ErrTransactionClosed
	}
	if m.mode != Unsafe {
		payload := encodeDelete(collection, id)
		if _, err := m.wal.Append(wal.RecDelete, tx.ID, payload); err != nil {
			return err
		}
	}
	tx.ops = append(tx.ops, Op{Kind: KindDelete, Collection: collection, DocID: id})
	return nil
}

// Commit appends CommitTxn, fsyncs per the durability mode, then applies
// every buffered operation in order. Per spec §4.8, once CommitTxn has been
// logged the transaction is considered durable: an error from apply is
// surfaced to the caller but the WAL record stands, so a crash before apply
// finishes replays the same committed group on the next open.
func (m *Manager) Commit(tx *Tx, applier Applier) error {
	if tx.state != stateOpen {
		return util.ErrTransactionClosed
	}
	if m.mode != Unsafe {
		if _, err := m.wal.Append(wal.RecCommitTxn, tx.ID, nil); err != nil {
			return err
		}
		switch m.mode {
		case Safe:
			if err := m.wal.Sync(); err != nil {
				return err
			}
		case Batch:
			if m.committer != nil {
				if err := m.committer.OnCommit(); err != nil {
					return err
				}
			}
		}
	}

	tx.state = stateCommitted
	m.mu.Lock()
	delete(m.txs, tx.ID)
	m.mu.Unlock()

	for _, op := range tx.ops {
		switch op.Kind {
		case KindInsert:
			if err := applier.ApplyInsert(op.Collection, op.Doc); err != nil {
				return err
			}
		case KindUpdate:
			if _, err := applier.ApplyUpdate(op.Collection, op.DocID, op.Update); err != nil {
				return err
			}
		case KindDelete:
			if _, err := applier.ApplyDelete(op.Collection, op.DocID); err != nil {
				return err
			}
		}
	}
	return nil
}

// Rollback discards tx's buffered operations. No WAL entry is required: the
// absence of a CommitTxn frame is what makes replay discard the group.
func (m *Manager) Rollback(tx *Tx) error {
	if tx.state != stateOpen {
		return util.ErrTransactionClosed
	}
	tx.state = stateRolledBack
	m.mu.Lock()
	delete(m.txs, tx.ID)
	m.mu.Unlock()
	return nil
}
