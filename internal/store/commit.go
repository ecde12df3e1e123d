package store

import (
	"fmt"
	"sort"
	"time"

	tmdb "github.com/cosmos/cosmos-db"
	"github.com/dagscan/dag-indexer/internal/model"
	"github.com/scylladb/go-set/strset"
	"go.uber.org/zap"
)

// CommitBlock applies one block's full mutation set in a single write
// batch: block and parent rows, transaction rows, UTXO creations and
// spends, address deltas, mempool confirmations, counters and the journal
// row recording the delta for later reversal. Either every row lands or
// none do.
func (s *Store) CommitBlock(delta *BlockDelta) error {
	start := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := delta.validate(); err != nil {
		return err
	}

	applied, err := s.HasBlock(delta.Block.Hash)
	if err != nil {
		return err
	}
	if applied {
		return nil
	}

	// Consistency assertions before any write. The feed is trusted to be
	// consensus-valid, so a violation here means the index itself is about
	// to corrupt and ingestion must halt.
	for i := range delta.Created {
		out := &delta.Created[i]
		val, err := s.db.Get([]byte(OutpointKey(out.TxHash, out.Index)))
		if err != nil {
			return err
		}
		if len(val) > 0 {
			return fmt.Errorf("create %s:%d: %w", out.TxHash, out.Index, ErrDuplicateOutput)
		}
	}
	for i := range delta.Spent {
		sp := &delta.Spent[i]
		row, err := s.GetOutput(sp.TxHash, sp.Index)
		if err != nil {
			return fmt.Errorf("spend %s:%d: %w", sp.TxHash, sp.Index, err)
		}
		if row.IsSpent {
			return fmt.Errorf("spend %s:%d by %s: %w", sp.TxHash, sp.Index, sp.SpentByTxHash, ErrAlreadySpent)
		}
		sp.Address = row.Address
		sp.Value = row.Value
	}

	counters, err := s.Counters()
	if err != nil {
		return err
	}
	syncState, err := s.SyncState()
	if err != nil {
		return err
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	if err := s.writeBlockRows(batch, delta); err != nil {
		return err
	}
	if err := s.writeTxRows(batch, delta); err != nil {
		return err
	}
	if err := s.writeUTXORows(batch, delta); err != nil {
		return err
	}
	newAddresses, err := s.writeAddressRows(batch, delta)
	if err != nil {
		return err
	}

	// The delta's mempool snapshot was taken outside the lock; a TTL
	// sweep may have evicted rows since. Only rows still present adjust
	// the counters.
	for i := range delta.MempoolRemoved {
		row := &delta.MempoolRemoved[i]
		val, err := s.db.Get([]byte(mempoolKeyPrefix + row.Hash))
		if err != nil {
			return err
		}
		if len(val) == 0 {
			continue
		}
		if err := batch.Delete([]byte(mempoolKeyPrefix + row.Hash)); err != nil {
			return err
		}
		counters.MempoolSize--
		counters.MempoolBytes -= uint64(row.Size)
	}

	counters.BlockCount++
	counters.TxCount += uint64(len(delta.Txs))
	counters.AddressCount += uint64(newAddresses)
	counters.TotalSupply += delta.Block.CoinbaseValue
	if err := batchSet(batch, countersKey, counters); err != nil {
		return err
	}

	if delta.Block.BlueScore >= syncState.LastBlueScore {
		syncState.LastHash = delta.Block.Hash
		syncState.LastBlueScore = delta.Block.BlueScore
		syncState.LastHeight = delta.Block.Height
		syncState.UpdatedAt = time.Now().Unix()
		if err := batchSet(batch, syncStateKey, syncState); err != nil {
			return err
		}
	}

	if err := batchSet(batch, journalKeyPrefix+delta.Block.Hash, delta); err != nil {
		return err
	}
	if err := batch.Set([]byte(journalScoreKey(delta.Block.BlueScore, delta.Block.Hash)), []byte(delta.Block.Hash)); err != nil {
		return err
	}

	if err := batch.WriteSync(); err != nil {
		return fmt.Errorf("commit block %s: %w", delta.Block.Hash, err)
	}

	s.logger.Info("block committed",
		zap.String("hash", delta.Block.Hash),
		zap.Uint64("height", delta.Block.Height),
		zap.Uint64("blue_score", delta.Block.BlueScore),
		zap.Int("txs", len(delta.Txs)),
		zap.Int("created", len(delta.Created)),
		zap.Int("spent", len(delta.Spent)),
		zap.Duration("ttl", time.Since(start)))
	return nil
}

// RevertBlock undoes a previously committed block from its journal: the
// exact inverse of CommitBlock, in one batch. The journal row is consumed.
func (s *Store) RevertBlock(hash string) error {
	start := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	delta, err := s.GetJournal(hash)
	if err != nil {
		return fmt.Errorf("revert %s: %w", hash, err)
	}

	counters, err := s.Counters()
	if err != nil {
		return err
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	// Block rows.
	if err := batch.Delete([]byte(blockKeyPrefix + hash)); err != nil {
		return err
	}
	if err := batch.Delete([]byte(blockHeightKey(delta.Block.Height, hash))); err != nil {
		return err
	}
	if err := batch.Delete([]byte(blockTxsKey(hash))); err != nil {
		return err
	}
	for _, p := range delta.Parents {
		if err := batch.Delete([]byte(parentKey(p.BlockHash, p.ParentHash))); err != nil {
			return err
		}
		if err := batch.Delete([]byte(childKey(p.ParentHash, p.BlockHash))); err != nil {
			return err
		}
	}

	// Transaction rows. Confirmation never flips back: the rows are
	// removed outright and will be recreated if the block re-applies.
	for _, tx := range delta.Txs {
		if err := batch.Delete([]byte(txKeyPrefix + tx.Hash)); err != nil {
			return err
		}
		if err := batch.Delete([]byte(txInputKeyPrefix + tx.Hash)); err != nil {
			return err
		}
	}

	addSets := make(map[string]*strset.Set)
	delSets := make(map[string]*strset.Set)

	// Outputs created by the block disappear.
	for i := range delta.Created {
		out := &delta.Created[i]
		if err := batch.Delete([]byte(OutpointKey(out.TxHash, out.Index))); err != nil {
			return err
		}
		if out.Address != "" && !out.IsSpent {
			addToSet(delSets, out.Address, OutpointKey(out.TxHash, out.Index))
		}
	}

	// Outputs spent by the block become unspent again.
	for i := range delta.Spent {
		sp := &delta.Spent[i]
		row, err := s.GetOutput(sp.TxHash, sp.Index)
		if err != nil {
			return fmt.Errorf("unspend %s:%d: %w", sp.TxHash, sp.Index, err)
		}
		row.IsSpent = false
		row.SpentByTxHash = ""
		row.SpentByInputIndex = 0
		if err := batchSet(batch, OutpointKey(sp.TxHash, sp.Index), row); err != nil {
			return err
		}
		if row.Address != "" {
			addToSet(addSets, row.Address, OutpointKey(sp.TxHash, sp.Index))
		}
	}

	// Address aggregates.
	deletedAddresses := 0
	for addr, ad := range delta.AddrDeltas {
		row, err := s.GetAddress(addr)
		if err != nil {
			return fmt.Errorf("revert address %s: %w", addr, err)
		}
		if err := revertAddressDelta(row, ad); err != nil {
			return err
		}
		if addressEmpty(row) {
			if err := batch.Delete([]byte(addressKeyPrefix + addr)); err != nil {
				return err
			}
			deletedAddresses++
		} else if err := batchSet(batch, addressKeyPrefix+addr, row); err != nil {
			return err
		}
	}
	for _, link := range delta.AddrTxs {
		if err := batch.Delete([]byte(addressTxKey(link))); err != nil {
			return err
		}
	}
	if err := s.writeUtxoSets(batch, addSets, delSets); err != nil {
		return err
	}

	// Transactions the block confirmed return to the mempool.
	for i := range delta.MempoolRemoved {
		row := &delta.MempoolRemoved[i]
		if err := batchSet(batch, mempoolKeyPrefix+row.Hash, row); err != nil {
			return err
		}
		counters.MempoolSize++
		counters.MempoolBytes += uint64(row.Size)
	}

	counters.BlockCount--
	counters.TxCount -= uint64(len(delta.Txs))
	counters.AddressCount -= uint64(deletedAddresses)
	counters.TotalSupply -= delta.Block.CoinbaseValue
	if err := batchSet(batch, countersKey, counters); err != nil {
		return err
	}

	if err := s.rewindSyncState(batch, delta); err != nil {
		return err
	}

	if err := batch.Delete([]byte(journalKeyPrefix + hash)); err != nil {
		return err
	}
	if err := batch.Delete([]byte(journalScoreKey(delta.Block.BlueScore, hash))); err != nil {
		return err
	}

	if err := batch.WriteSync(); err != nil {
		return fmt.Errorf("revert block %s: %w", hash, err)
	}

	s.logger.Info("block reverted",
		zap.String("hash", hash),
		zap.Uint64("blue_score", delta.Block.BlueScore),
		zap.Int("txs", len(delta.Txs)),
		zap.Duration("ttl", time.Since(start)))
	return nil
}

func (s *Store) writeBlockRows(batch tmdb.Batch, delta *BlockDelta) error {
	if err := batchSet(batch, blockKeyPrefix+delta.Block.Hash, delta.Block); err != nil {
		return err
	}
	if err := batch.Set([]byte(blockHeightKey(delta.Block.Height, delta.Block.Hash)), []byte(delta.Block.Hash)); err != nil {
		return err
	}
	for _, p := range delta.Parents {
		if err := batchSet(batch, parentKey(p.BlockHash, p.ParentHash), p); err != nil {
			return err
		}
		if err := batch.Set([]byte(childKey(p.ParentHash, p.BlockHash)), []byte{}); err != nil {
			return err
		}
	}
	hashes := make([]string, 0, len(delta.Txs))
	for _, tx := range delta.Txs {
		hashes = append(hashes, tx.Hash)
	}
	return batchSet(batch, blockTxsKey(delta.Block.Hash), hashes)
}

func (s *Store) writeTxRows(batch tmdb.Batch, delta *BlockDelta) error {
	for _, tx := range delta.Txs {
		if err := batchSet(batch, txKeyPrefix+tx.Hash, tx); err != nil {
			return err
		}
		if inputs := delta.Inputs[tx.Hash]; len(inputs) > 0 {
			if err := batchSet(batch, txInputKeyPrefix+tx.Hash, inputs); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Store) writeUTXORows(batch tmdb.Batch, delta *BlockDelta) error {
	addSets := make(map[string]*strset.Set)
	delSets := make(map[string]*strset.Set)

	for i := range delta.Created {
		out := &delta.Created[i]
		if err := batchSet(batch, OutpointKey(out.TxHash, out.Index), out); err != nil {
			return err
		}
		if out.Address != "" && !out.IsSpent {
			addToSet(addSets, out.Address, OutpointKey(out.TxHash, out.Index))
		}
	}
	for i := range delta.Spent {
		sp := &delta.Spent[i]
		row, err := s.GetOutput(sp.TxHash, sp.Index)
		if err != nil {
			return err
		}
		row.IsSpent = true
		row.SpentByTxHash = sp.SpentByTxHash
		row.SpentByInputIndex = sp.SpentByInputIndex
		if err := batchSet(batch, OutpointKey(sp.TxHash, sp.Index), row); err != nil {
			return err
		}
		if row.Address != "" {
			addToSet(delSets, row.Address, OutpointKey(sp.TxHash, sp.Index))
		}
	}
	return s.writeUtxoSets(batch, addSets, delSets)
}

func (s *Store) writeAddressRows(batch tmdb.Batch, delta *BlockDelta) (int, error) {
	newAddresses := 0
	for addr, ad := range delta.AddrDeltas {
		row, err := s.GetAddress(addr)
		if err == ErrNotFound {
			row = &model.Address{Address: addr}
			newAddresses++
		} else if err != nil {
			return 0, err
		}
		if err := applyAddressDelta(row, ad); err != nil {
			return 0, err
		}
		if err := batchSet(batch, addressKeyPrefix+addr, row); err != nil {
			return 0, err
		}
	}
	for _, link := range delta.AddrTxs {
		if err := batchSet(batch, addressTxKey(link), link); err != nil {
			return 0, err
		}
	}
	return newAddresses, nil
}

// writeUtxoSets folds add/remove sets into the per-address unspent sets.
func (s *Store) writeUtxoSets(batch tmdb.Batch, addSets, delSets map[string]*strset.Set) error {
	addrs := strset.New()
	for addr := range addSets {
		addrs.Add(addr)
	}
	for addr := range delSets {
		addrs.Add(addr)
	}

	var outerErr error
	addrs.Each(func(addr string) bool {
		base, err := s.addressUtxoSet(addr)
		if err != nil {
			outerErr = err
			return false
		}
		merged := mergeUtxoSet(base, addSets[addr], delSets[addr])
		key := addressUtxoKeyPrefix + addr
		if merged.Size() == 0 {
			outerErr = batch.Delete([]byte(key))
		} else {
			members := merged.List()
			sort.Strings(members)
			outerErr = batchSet(batch, key, members)
		}
		return outerErr == nil
	})
	return outerErr
}

// rewindSyncState points the sync watermark back at the reverted block's
// selected parent when the reverted block was the tip.
func (s *Store) rewindSyncState(batch tmdb.Batch, delta *BlockDelta) error {
	syncState, err := s.SyncState()
	if err != nil {
		return err
	}
	if syncState.LastHash != delta.Block.Hash {
		return nil
	}
	syncState.LastHash = ""
	syncState.LastBlueScore = 0
	syncState.LastHeight = 0
	if len(delta.Parents) > 0 {
		if parent, err := s.GetBlock(delta.Parents[0].ParentHash); err == nil {
			syncState.LastHash = parent.Hash
			syncState.LastBlueScore = parent.BlueScore
			syncState.LastHeight = parent.Height
		}
	}
	syncState.UpdatedAt = time.Now().Unix()
	return batchSet(batch, syncStateKey, syncState)
}

func addToSet(sets map[string]*strset.Set, addr, key string) {
	if set, ok := sets[addr]; ok {
		set.Add(key)
		return
	}
	sets[addr] = strset.New(key)
}
