package store

import (
	"fmt"

	"github.com/dagscan/dag-indexer/internal/model"
	"github.com/dagscan/dag-indexer/pkg"
)

// AppendStats persists one network stats snapshot. The table is
// append-only; one row per sampling timestamp.
func (s *Store) AppendStats(snap *model.NetworkStatsSnapshot) error {
	key := statsKeyPrefix + string(pkg.Int64ToBytes(snap.Timestamp.UnixNano()))
	val, err := s.db.Get([]byte(key))
	if err != nil {
		return err
	}
	if len(val) > 0 {
		return fmt.Errorf("stats snapshot for %s already recorded", snap.Timestamp)
	}

	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batchSet(batch, key, snap); err != nil {
		return err
	}
	return batch.WriteSync()
}

// LatestStats returns the most recent snapshot.
func (s *Store) LatestStats() (*model.NetworkStatsSnapshot, error) {
	it, err := s.reversePrefixIterator(statsKeyPrefix)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	if !it.Valid() {
		return nil, ErrNotFound
	}
	snap := &model.NetworkStatsSnapshot{}
	if err := unmarshalRow(it.Value(), snap); err != nil {
		return nil, err
	}
	return snap, it.Error()
}

// StatsHistory returns up to limit snapshots, newest first.
func (s *Store) StatsHistory(limit int) ([]model.NetworkStatsSnapshot, error) {
	it, err := s.reversePrefixIterator(statsKeyPrefix)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var snaps []model.NetworkStatsSnapshot
	for ; it.Valid() && len(snaps) < limit; it.Next() {
		var snap model.NetworkStatsSnapshot
		if err := unmarshalRow(it.Value(), &snap); err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, it.Error()
}
