package store

import (
	"errors"
	"fmt"

	"github.com/dagscan/dag-indexer/internal/model"
	"github.com/dagscan/dag-indexer/pkg"
)

// SpentOutput records a previously unspent output consumed by a block,
// with enough context to undo the spend without re-reading stale state.
type SpentOutput struct {
	TxHash            string `json:"tx_hash"`
	Index             uint32 `json:"index"`
	SpentByTxHash     string `json:"spent_by_tx_hash"`
	SpentByInputIndex uint32 `json:"spent_by_input_index"`
	Address           string `json:"address,omitempty"`
	Value             uint64 `json:"value"`
}

// AddressDelta is the per-address effect of one block. Deltas for
// different addresses are independent; each is applied exactly once, as
// part of the same batch that mutates the underlying UTXO rows.
type AddressDelta struct {
	Received      uint64 `json:"received"`
	Sent          uint64 `json:"sent"`
	ReceivedCount uint64 `json:"received_count"`
	SentCount     uint64 `json:"sent_count"`
	TxCount       uint64 `json:"tx_count"`
	UTXOAdded     uint64 `json:"utxo_added"`
	UTXORemoved   uint64 `json:"utxo_removed"`
	SeenHeight    uint64 `json:"seen_height"`
	SeenTimestamp int64  `json:"seen_timestamp"`
}

// BlockDelta is the complete mutation set of one block apply. The commit
// writes it as the block's journal row, so every apply has a recorded
// inverse until the journal is pruned.
type BlockDelta struct {
	Block          *model.Block               `json:"block"`
	Parents        []model.BlockParent        `json:"parents"`
	Txs            []*model.Transaction       `json:"txs"`
	Inputs         map[string][]model.TxInput `json:"inputs"`
	Created        []model.TxOutput           `json:"created"`
	Spent          []SpentOutput              `json:"spent"`
	AddrDeltas     map[string]*AddressDelta   `json:"addr_deltas"`
	AddrTxs        []model.AddressTransaction `json:"addr_txs"`
	MempoolRemoved []model.MempoolTx          `json:"mempool_removed"`
}

// Delta returns the AddressDelta for addr, creating it on first use.
func (d *BlockDelta) Delta(addr string) *AddressDelta {
	if d.AddrDeltas == nil {
		d.AddrDeltas = make(map[string]*AddressDelta)
	}
	ad, ok := d.AddrDeltas[addr]
	if !ok {
		ad = &AddressDelta{
			SeenHeight:    d.Block.Height,
			SeenTimestamp: d.Block.Timestamp,
		}
		d.AddrDeltas[addr] = ad
	}
	return ad
}

// GetJournal loads the recorded delta for a block hash.
func (s *Store) GetJournal(hash string) (*BlockDelta, error) {
	delta := &BlockDelta{}
	if err := s.get(journalKeyPrefix+hash, delta); err != nil {
		return nil, err
	}
	return delta, nil
}

// HasJournal reports whether a block still has a recorded delta, i.e. can
// still be reorganized out.
func (s *Store) HasJournal(hash string) (bool, error) {
	val, err := s.db.Get([]byte(journalKeyPrefix + hash))
	if err != nil {
		return false, err
	}
	return len(val) > 0, nil
}

// PruneJournals deletes journals for blocks with blue score strictly below
// the pruning point. Those blocks can no longer be reorganized out, so
// their recorded inverses are dead weight. Ledger rows are retained.
func (s *Store) PruneJournals(belowBlueScore uint64) (int, error) {
	it, err := s.prefixIterator(journalScoreKeyPrefix)
	if err != nil {
		return 0, err
	}
	defer it.Close()

	batch := s.db.NewBatch()
	defer batch.Close()

	pruned := 0
	for ; it.Valid(); it.Next() {
		key := it.Key()
		score := pkg.BytesToUint64(key[len(journalScoreKeyPrefix) : len(journalScoreKeyPrefix)+8])
		if score >= belowBlueScore {
			break
		}
		hash := string(it.Value())
		if err := batch.Delete([]byte(journalKeyPrefix + hash)); err != nil {
			return 0, err
		}
		if err := batch.Delete(append([]byte{}, key...)); err != nil {
			return 0, err
		}
		pruned++
	}
	if err := it.Error(); err != nil {
		return 0, err
	}
	if pruned == 0 {
		return 0, nil
	}
	if err := batch.WriteSync(); err != nil {
		return 0, fmt.Errorf("prune journals: %w", err)
	}
	return pruned, nil
}

func journalScoreKey(blueScore uint64, hash string) string {
	return journalScoreKeyPrefix + string(pkg.Uint64ToBytes(blueScore)) + hash
}

// validate asserts the delta's internal invariants before it is committed.
func (d *BlockDelta) validate() error {
	if d.Block == nil || d.Block.Hash == "" {
		return errors.New("store: delta without block")
	}
	for addr, ad := range d.AddrDeltas {
		if addr == "" {
			return errors.New("store: delta for empty address")
		}
		if ad.Received == 0 && ad.Sent == 0 && ad.UTXOAdded == 0 && ad.UTXORemoved == 0 {
			return fmt.Errorf("store: empty delta for address %s", addr)
		}
	}
	return nil
}
