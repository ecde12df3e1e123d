package store

import (
	"fmt"
	"time"

	"github.com/dagscan/dag-indexer/internal/model"
)

// ObserveMempoolTx inserts an unconfirmed transaction or refreshes its
// last_seen. Mempool writes are independent of block applies; eviction and
// observation never touch Transaction or UTXO rows.
func (s *Store) ObserveMempoolTx(tx *model.MempoolTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := &model.MempoolTx{}
	err := s.get(mempoolKeyPrefix+tx.Hash, existing)
	switch err {
	case nil:
		existing.LastSeen = tx.LastSeen
		return s.putMempoolRow(existing, 0)
	case ErrNotFound:
		return s.putMempoolRow(tx, 1)
	default:
		return err
	}
}

func (s *Store) putMempoolRow(tx *model.MempoolTx, added int) error {
	counters, err := s.Counters()
	if err != nil {
		return err
	}
	if added > 0 {
		counters.MempoolSize++
		counters.MempoolBytes += uint64(tx.Size)
	}

	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batchSet(batch, mempoolKeyPrefix+tx.Hash, tx); err != nil {
		return err
	}
	if err := batchSet(batch, countersKey, counters); err != nil {
		return err
	}
	return batch.WriteSync()
}

// RemoveMempoolTxs deletes rows by hash, returning the removed rows. Used
// for feed-reported removals and TTL eviction; confirmation removals ride
// the block commit batch instead.
func (s *Store) RemoveMempoolTxs(hashes []string) ([]model.MempoolTx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counters, err := s.Counters()
	if err != nil {
		return nil, err
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	var removed []model.MempoolTx
	for _, hash := range hashes {
		row := &model.MempoolTx{}
		err := s.get(mempoolKeyPrefix+hash, row)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		if err := batch.Delete([]byte(mempoolKeyPrefix + hash)); err != nil {
			return nil, err
		}
		counters.MempoolSize--
		counters.MempoolBytes -= uint64(row.Size)
		removed = append(removed, *row)
	}
	if len(removed) == 0 {
		return nil, nil
	}
	if err := batchSet(batch, countersKey, counters); err != nil {
		return nil, err
	}
	if err := batch.WriteSync(); err != nil {
		return nil, fmt.Errorf("remove mempool txs: %w", err)
	}
	return removed, nil
}

// MempoolTxs returns every unconfirmed transaction.
func (s *Store) MempoolTxs() ([]model.MempoolTx, error) {
	it, err := s.prefixIterator(mempoolKeyPrefix)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var rows []model.MempoolTx
	for ; it.Valid(); it.Next() {
		var row model.MempoolTx
		if err := unmarshalRow(it.Value(), &row); err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, it.Error()
}

// StaleMempoolHashes returns hashes last seen before the cutoff. Eviction
// candidates only; the caller decides whether to remove them.
func (s *Store) StaleMempoolHashes(cutoff time.Time) ([]string, error) {
	rows, err := s.MempoolTxs()
	if err != nil {
		return nil, err
	}
	var stale []string
	for _, row := range rows {
		if row.LastSeen.Before(cutoff) {
			stale = append(stale, row.Hash)
		}
	}
	return stale, nil
}

// GetMempoolTx returns one unconfirmed transaction row.
func (s *Store) GetMempoolTx(hash string) (*model.MempoolTx, error) {
	row := &model.MempoolTx{}
	if err := s.get(mempoolKeyPrefix+hash, row); err != nil {
		return nil, err
	}
	return row, nil
}

// HasMempoolTx reports whether a hash is currently tracked as unconfirmed.
func (s *Store) HasMempoolTx(hash string) (bool, error) {
	val, err := s.db.Get([]byte(mempoolKeyPrefix + hash))
	if err != nil {
		return false, err
	}
	return len(val) > 0, nil
}
