package store

import (
	"fmt"

	"github.com/dagscan/dag-indexer/internal/model"
	"github.com/dagscan/dag-indexer/pkg"
)

// HasBlock reports whether a block hash is already indexed. The block
// primary key is the pipeline's idempotency check: re-applying an indexed
// hash is a no-op.
func (s *Store) HasBlock(hash string) (bool, error) {
	val, err := s.db.Get([]byte(blockKeyPrefix + hash))
	if err != nil {
		return false, err
	}
	return len(val) > 0, nil
}

// GetBlock returns one block row.
func (s *Store) GetBlock(hash string) (*model.Block, error) {
	block := &model.Block{}
	if err := s.get(blockKeyPrefix+hash, block); err != nil {
		return nil, err
	}
	return block, nil
}

// GetBlockParents returns the parent edges of a block.
func (s *Store) GetBlockParents(hash string) ([]model.BlockParent, error) {
	it, err := s.prefixIterator(parentKeyPrefix + hash + ":")
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var parents []model.BlockParent
	for ; it.Valid(); it.Next() {
		var p model.BlockParent
		if err := unmarshalRow(it.Value(), &p); err != nil {
			return nil, err
		}
		parents = append(parents, p)
	}
	return parents, it.Error()
}

// GetBlockChildren returns hashes of indexed blocks referencing hash as a parent.
func (s *Store) GetBlockChildren(hash string) ([]string, error) {
	prefix := childKeyPrefix + hash + ":"
	it, err := s.prefixIterator(prefix)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var children []string
	for ; it.Valid(); it.Next() {
		children = append(children, string(it.Key()[len(prefix):]))
	}
	return children, it.Error()
}

// BlocksByHeight returns one page of blocks, newest first.
func (s *Store) BlocksByHeight(page, pageSize int) ([]*model.Block, error) {
	it, err := s.reversePrefixIterator(blockHeightKeyPrefix)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	skip := page * pageSize
	blocks := make([]*model.Block, 0, pageSize)
	for i := 0; it.Valid() && len(blocks) < pageSize; it.Next() {
		if i < skip {
			i++
			continue
		}
		i++
		block, err := s.GetBlock(string(it.Value()))
		if err != nil {
			return nil, fmt.Errorf("block index points at missing row %q: %w", it.Value(), err)
		}
		blocks = append(blocks, block)
	}
	return blocks, it.Error()
}

// GetTransaction returns one transaction row.
func (s *Store) GetTransaction(hash string) (*model.Transaction, error) {
	tx := &model.Transaction{}
	if err := s.get(txKeyPrefix+hash, tx); err != nil {
		return nil, err
	}
	return tx, nil
}

// GetTxInputs returns the spend references of a transaction.
func (s *Store) GetTxInputs(hash string) ([]model.TxInput, error) {
	var inputs []model.TxInput
	if err := s.get(txInputKeyPrefix+hash, &inputs); err != nil {
		return nil, err
	}
	return inputs, nil
}

// BlockTransactions returns the confirmed transactions of a block in
// block order.
func (s *Store) BlockTransactions(blockHash string) ([]*model.Transaction, error) {
	delta, err := s.GetJournal(blockHash)
	if err == nil {
		return delta.Txs, nil
	}
	if err != ErrNotFound {
		return nil, err
	}

	// Journal pruned: fall back to the block's recorded tx hashes.
	var hashes []string
	if err := s.get(blockTxsKey(blockHash), &hashes); err != nil {
		return nil, err
	}
	txs := make([]*model.Transaction, 0, len(hashes))
	for _, h := range hashes {
		tx, err := s.GetTransaction(h)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

func blockHeightKey(height uint64, hash string) string {
	return blockHeightKeyPrefix + string(pkg.Uint64ToBytes(height)) + hash
}

func blockTxsKey(blockHash string) string {
	return blockTxsKeyPrefix + blockHash
}

func parentKey(blockHash, parentHash string) string {
	return parentKeyPrefix + blockHash + ":" + parentHash
}

func childKey(parentHash, blockHash string) string {
	return childKeyPrefix + parentHash + ":" + blockHash
}
