package wal

// Apply is called once per data-bearing frame (Insert/Update/Delete) that
// belongs to a committed transaction, in original append order. It mutates
// in-memory catalog/indexes and the primary file.
type Apply func(rec Record) error

// Replay implements §4.2's recovery protocol:
//  1. Frames after the first torn/CRC-mismatched one are already excluded by
//     WAL.ReadAll.
//  2. Group data frames by tx_id; a group lacking a matching CommitTxn frame
//     is discarded.
//  3. Apply committed frames in original sequence order.
//  4. On success, truncate and fsync the WAL. On failure, the WAL is left
//     untouched so the next open retries the same replay.
func Replay(w *WAL, apply Apply) (appliedCount int, err error) {
	records, err := w.ReadAll()
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}

	committed := make(map[uint64]bool)
	for _, rec := range records {
		if rec.Type == RecCommitTxn {
			committed[rec.TxID] = true
		}
	}

	for _, rec := range records {
		switch rec.Type {
		case RecInsert, RecUpdate, RecDelete:
			if !committed[rec.TxID] {
				continue
			}
			if err := apply(rec); err != nil {
				return appliedCount, err
			}
			appliedCount++
		default:
			// BeginTxn/CommitTxn/Checkpoint carry no direct state change.
		}
	}

	if err := w.Truncate(); err != nil {
		return appliedCount, err
	}
	return appliedCount, nil
}
