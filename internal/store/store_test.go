package store

import (
	"testing"

	tmdb "github.com/cosmos/cosmos-db"
	"github.com/dagscan/dag-indexer/internal/model"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewWithDB(tmdb.NewMemDB(), zap.NewNop())
}

// coinbaseDelta builds the delta of a block whose only transaction mints
// value outputs to addr.
func coinbaseDelta(hash string, height, blueScore uint64, parents []string, addr string, value uint64) *BlockDelta {
	block := &model.Block{
		Hash:          hash,
		Height:        height,
		Timestamp:     int64(1700000000 + height),
		BlueScore:     blueScore,
		TxCount:       1,
		CoinbaseValue: value,
	}
	txHash := "cb-" + hash
	delta := &BlockDelta{
		Block: block,
		Txs: []*model.Transaction{{
			Hash:         txHash,
			BlockHash:    hash,
			BlockHeight:  height,
			OutputCount:  1,
			Value:        value,
			Timestamp:    block.Timestamp,
			IsCoinbase:   true,
			IsConfirmed:  true,
			IndexInBlock: 0,
		}},
		Inputs: map[string][]model.TxInput{},
		Created: []model.TxOutput{{
			TxHash:  txHash,
			Index:   0,
			Value:   value,
			Address: addr,
		}},
		AddrTxs: []model.AddressTransaction{{
			Address: addr, TxHash: txHash, IsInput: false, Value: value,
		}},
	}
	for _, p := range parents {
		delta.Parents = append(delta.Parents, model.BlockParent{BlockHash: hash, ParentHash: p})
	}
	ad := delta.Delta(addr)
	ad.Received = value
	ad.ReceivedCount = 1
	ad.TxCount = 1
	ad.UTXOAdded = 1
	return delta
}

// spendDelta builds the delta of a block whose single non-coinbase
// transaction moves the full value of one outpoint from addrFrom to addrTo.
func spendDelta(hash string, height, blueScore uint64, parents []string, prevTx string, prevIdx uint32, addrFrom, addrTo string, value uint64) *BlockDelta {
	block := &model.Block{
		Hash:      hash,
		Height:    height,
		Timestamp: int64(1700000000 + height),
		BlueScore: blueScore,
		TxCount:   1,
	}
	txHash := "tx-" + hash
	delta := &BlockDelta{
		Block: block,
		Txs: []*model.Transaction{{
			Hash:         txHash,
			BlockHash:    hash,
			BlockHeight:  height,
			InputCount:   1,
			OutputCount:  1,
			Value:        value,
			Timestamp:    block.Timestamp,
			IsConfirmed:  true,
			IndexInBlock: 0,
		}},
		Inputs: map[string][]model.TxInput{
			txHash: {{TxHash: txHash, Index: 0, PreviousOutpointHash: prevTx, PreviousOutpointIndex: prevIdx}},
		},
		Created: []model.TxOutput{{
			TxHash:  txHash,
			Index:   0,
			Value:   value,
			Address: addrTo,
		}},
		Spent: []SpentOutput{{
			TxHash: prevTx, Index: prevIdx, SpentByTxHash: txHash, SpentByInputIndex: 0,
		}},
		AddrTxs: []model.AddressTransaction{
			{Address: addrTo, TxHash: txHash, IsInput: false, Value: value},
			{Address: addrFrom, TxHash: txHash, IsInput: true, Value: value},
		},
	}
	for _, p := range parents {
		delta.Parents = append(delta.Parents, model.BlockParent{BlockHash: hash, ParentHash: p})
	}
	to := delta.Delta(addrTo)
	to.Received = value
	to.ReceivedCount = 1
	to.TxCount = 1
	to.UTXOAdded = 1
	from := delta.Delta(addrFrom)
	from.Sent = value
	from.SentCount = 1
	from.TxCount = 1
	from.UTXORemoved = 1
	return delta
}

func TestCommitBlockPersistsEverything(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.CommitBlock(coinbaseDelta("g", 0, 1, nil, "alice", 5000)))

	block, err := s.GetBlock("g")
	require.NoError(t, err)
	require.Equal(t, uint64(1), block.BlueScore)

	tx, err := s.GetTransaction("cb-g")
	require.NoError(t, err)
	require.True(t, tx.IsCoinbase)
	require.True(t, tx.IsConfirmed)

	out, err := s.GetOutput("cb-g", 0)
	require.NoError(t, err)
	require.False(t, out.IsSpent)
	require.Equal(t, uint64(5000), out.Value)

	addr, err := s.GetAddress("alice")
	require.NoError(t, err)
	require.Equal(t, uint64(5000), addr.Balance)
	require.Equal(t, uint64(1), addr.UTXOCount)
	require.Equal(t, addr.TotalReceived-addr.TotalSent, addr.Balance)

	counters, err := s.Counters()
	require.NoError(t, err)
	require.Equal(t, uint64(1), counters.BlockCount)
	require.Equal(t, uint64(1), counters.TxCount)
	require.Equal(t, uint64(1), counters.AddressCount)
	require.Equal(t, uint64(5000), counters.TotalSupply)

	syncState, err := s.SyncState()
	require.NoError(t, err)
	require.Equal(t, "g", syncState.LastHash)
}

func TestCommitBlockIsIdempotent(t *testing.T) {
	s := newTestStore(t)

	delta := coinbaseDelta("g", 0, 1, nil, "alice", 5000)
	require.NoError(t, s.CommitBlock(delta))
	require.NoError(t, s.CommitBlock(coinbaseDelta("g", 0, 1, nil, "alice", 5000)))

	counters, err := s.Counters()
	require.NoError(t, err)
	require.Equal(t, uint64(1), counters.BlockCount)

	addr, err := s.GetAddress("alice")
	require.NoError(t, err)
	require.Equal(t, uint64(5000), addr.Balance)
}

func TestCommitBlockRejectsDuplicateOutput(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.CommitBlock(coinbaseDelta("g", 0, 1, nil, "alice", 5000)))

	dup := coinbaseDelta("b1", 1, 2, []string{"g"}, "alice", 5000)
	dup.Txs[0].Hash = "cb-g"
	dup.Created[0].TxHash = "cb-g"
	err := s.CommitBlock(dup)
	require.ErrorIs(t, err, ErrDuplicateOutput)

	// Nothing from the failed commit landed.
	has, err := s.HasBlock("b1")
	require.NoError(t, err)
	require.False(t, has)
}

func TestCommitBlockRejectsDoubleSpend(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.CommitBlock(coinbaseDelta("g", 0, 1, nil, "alice", 5000)))
	require.NoError(t, s.CommitBlock(spendDelta("b1", 1, 2, []string{"g"}, "cb-g", 0, "alice", "bob", 5000)))

	err := s.CommitBlock(spendDelta("b2", 1, 3, []string{"g"}, "cb-g", 0, "alice", "carol", 5000))
	require.ErrorIs(t, err, ErrAlreadySpent)
}

func TestSpendUpdatesBothSides(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.CommitBlock(coinbaseDelta("g", 0, 1, nil, "alice", 5000)))
	require.NoError(t, s.CommitBlock(spendDelta("b1", 1, 2, []string{"g"}, "cb-g", 0, "alice", "bob", 5000)))

	spent, err := s.GetOutput("cb-g", 0)
	require.NoError(t, err)
	require.True(t, spent.IsSpent)
	require.Equal(t, "tx-b1", spent.SpentByTxHash)

	alice, err := s.GetAddress("alice")
	require.NoError(t, err)
	require.Equal(t, uint64(0), alice.Balance)
	require.Equal(t, uint64(0), alice.UTXOCount)

	bob, err := s.GetAddress("bob")
	require.NoError(t, err)
	require.Equal(t, uint64(5000), bob.Balance)

	utxos, total, err := s.AddressUTXOs("alice", 0, 10)
	require.NoError(t, err)
	require.Zero(t, total)
	require.Empty(t, utxos)

	utxos, total, err = s.AddressUTXOs("bob", 0, 10)
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Equal(t, "tx-b1", utxos[0].TxHash)
}

func TestRevertRestoresPriorState(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.CommitBlock(coinbaseDelta("g", 0, 1, nil, "alice", 5000)))
	before, err := s.Counters()
	require.NoError(t, err)

	require.NoError(t, s.CommitBlock(spendDelta("b1", 1, 2, []string{"g"}, "cb-g", 0, "alice", "bob", 5000)))
	require.NoError(t, s.RevertBlock("b1"))

	// Block, tx and created output rows are gone.
	_, err = s.GetBlock("b1")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetTransaction("tx-b1")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetOutput("tx-b1", 0)
	require.ErrorIs(t, err, ErrNotFound)

	// The spent output is unspent again.
	out, err := s.GetOutput("cb-g", 0)
	require.NoError(t, err)
	require.False(t, out.IsSpent)
	require.Empty(t, out.SpentByTxHash)

	alice, err := s.GetAddress("alice")
	require.NoError(t, err)
	require.Equal(t, uint64(5000), alice.Balance)
	require.Equal(t, uint64(1), alice.UTXOCount)

	// Bob's row emptied out and was deleted.
	_, err = s.GetAddress("bob")
	require.ErrorIs(t, err, ErrNotFound)

	after, err := s.Counters()
	require.NoError(t, err)
	require.Equal(t, before, after)

	// Re-applying the reverted block converges to the same state.
	require.NoError(t, s.CommitBlock(spendDelta("b1", 1, 2, []string{"g"}, "cb-g", 0, "alice", "bob", 5000)))
	bob, err := s.GetAddress("bob")
	require.NoError(t, err)
	require.Equal(t, uint64(5000), bob.Balance)
}

func TestRevertUnknownBlock(t *testing.T) {
	s := newTestStore(t)
	require.ErrorIs(t, s.RevertBlock("missing"), ErrNotFound)
}

func TestBlocksByHeightPagination(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.CommitBlock(coinbaseDelta("g", 0, 1, nil, "alice", 100)))
	require.NoError(t, s.CommitBlock(coinbaseDelta("b1", 1, 2, []string{"g"}, "alice", 100)))
	require.NoError(t, s.CommitBlock(coinbaseDelta("b2", 2, 3, []string{"b1"}, "alice", 100)))

	page, err := s.BlocksByHeight(0, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, "b2", page[0].Hash)
	require.Equal(t, "b1", page[1].Hash)

	page, err = s.BlocksByHeight(1, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, "g", page[0].Hash)
}

func TestBlockChildren(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.CommitBlock(coinbaseDelta("g", 0, 1, nil, "alice", 100)))
	require.NoError(t, s.CommitBlock(coinbaseDelta("b1", 1, 2, []string{"g"}, "bob", 100)))
	require.NoError(t, s.CommitBlock(coinbaseDelta("b2", 1, 2, []string{"g"}, "carol", 100)))

	children, err := s.GetBlockChildren("g")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"b1", "b2"}, children)
}

func TestPruneJournals(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.CommitBlock(coinbaseDelta("g", 0, 1, nil, "alice", 100)))
	require.NoError(t, s.CommitBlock(coinbaseDelta("b1", 1, 2, []string{"g"}, "alice", 100)))
	require.NoError(t, s.CommitBlock(coinbaseDelta("b2", 2, 3, []string{"b1"}, "alice", 100)))

	pruned, err := s.PruneJournals(3)
	require.NoError(t, err)
	require.Equal(t, 2, pruned)

	has, err := s.HasJournal("g")
	require.NoError(t, err)
	require.False(t, has)
	has, err = s.HasJournal("b2")
	require.NoError(t, err)
	require.True(t, has)

	// Pruned blocks can no longer be reverted, but their rows remain.
	require.ErrorIs(t, s.RevertBlock("g"), ErrNotFound)
	_, err = s.GetBlock("g")
	require.NoError(t, err)

	// BlockTransactions falls back to the recorded hash list.
	txs, err := s.BlockTransactions("g")
	require.NoError(t, err)
	require.Len(t, txs, 1)
	require.Equal(t, "cb-g", txs[0].Hash)
}

func TestSyncStateOnlyAdvances(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.CommitBlock(coinbaseDelta("b5", 5, 10, nil, "alice", 100)))
	require.NoError(t, s.CommitBlock(coinbaseDelta("b3", 3, 4, nil, "bob", 100)))

	syncState, err := s.SyncState()
	require.NoError(t, err)
	require.Equal(t, "b5", syncState.LastHash)
	require.Equal(t, uint64(10), syncState.LastBlueScore)
}
