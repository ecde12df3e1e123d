package indexer

import (
	"context"
	"fmt"
	"testing"
	"time"

	tmdb "github.com/cosmos/cosmos-db"
	"github.com/dagscan/dag-indexer/internal/config"
	"github.com/dagscan/dag-indexer/internal/events"
	"github.com/dagscan/dag-indexer/internal/feed"
	"github.com/dagscan/dag-indexer/internal/model"
	"github.com/dagscan/dag-indexer/internal/store"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeFeed serves canned blocks; FetchBlock answers from the map so the
// pipeline's ancestor recovery works without a node.
type fakeFeed struct {
	blocks    map[string]*feed.BlockEvent
	blockCh   chan *feed.BlockEvent
	mempoolCh chan *feed.MempoolEvent
	chainCh   chan *feed.ChainEvent
	info      feed.NodeInfo
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{
		blocks:    make(map[string]*feed.BlockEvent),
		blockCh:   make(chan *feed.BlockEvent, 16),
		mempoolCh: make(chan *feed.MempoolEvent, 16),
		chainCh:   make(chan *feed.ChainEvent, 16),
	}
}

func (f *fakeFeed) Run(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeFeed) BlockEvents() <-chan *feed.BlockEvent     { return f.blockCh }
func (f *fakeFeed) MempoolEvents() <-chan *feed.MempoolEvent { return f.mempoolCh }
func (f *fakeFeed) ChainEvents() <-chan *feed.ChainEvent     { return f.chainCh }

func (f *fakeFeed) FetchBlock(_ context.Context, hash string) (*feed.BlockEvent, error) {
	ev, ok := f.blocks[hash]
	if !ok {
		return nil, fmt.Errorf("%w: block %s", feed.ErrUnavailable, hash)
	}
	return ev, nil
}

func (f *fakeFeed) Info(context.Context) (*feed.NodeInfo, error) {
	info := f.info
	return &info, nil
}

func (f *fakeFeed) add(ev *feed.BlockEvent) *feed.BlockEvent {
	f.blocks[ev.Block.Hash] = ev
	return ev
}

func testConfig() *config.Config {
	return &config.Config{
		Indexer: &config.IndexerConfig{
			EventBuf:       16,
			RetryBudget:    3,
			DependencyWait: time.Minute,
		},
		Mempool: &config.MempoolConfig{TTL: time.Hour, SweepInterval: time.Minute},
		Stats:   &config.StatsConfig{SampleInterval: time.Minute},
	}
}

func newTestPipeline(t *testing.T) (*Pipeline, *store.Store, *fakeFeed) {
	t.Helper()
	s := store.NewWithDB(tmdb.NewMemDB(), zap.NewNop())
	f := newFakeFeed()
	p := NewPipeline(testConfig(), zap.NewNop(), s, f, events.NewPublisher(zap.NewNop()))
	return p, s, f
}

// coinbaseEvent builds a block whose only transaction mints value to addr.
func coinbaseEvent(hash string, height, blueScore uint64, parents []string, addr string, value uint64) *feed.BlockEvent {
	ev := &feed.BlockEvent{
		Block: &model.Block{
			Hash:      hash,
			Height:    height,
			Timestamp: int64(1700000000 + height),
			BlueScore: blueScore,
		},
		Transactions: []*feed.TransactionData{{
			Tx: &model.Transaction{Hash: "cb-" + hash},
			Outputs: []model.TxOutput{
				{Value: value, Address: addr},
			},
		}},
	}
	for _, p := range parents {
		ev.Parents = append(ev.Parents, model.BlockParent{ParentHash: p})
	}
	return ev
}

// withSpend appends a transaction moving the full value of an outpoint.
func withSpend(ev *feed.BlockEvent, txHash, prevTx string, prevIdx uint32, addrTo string, value uint64) *feed.BlockEvent {
	ev.Transactions = append(ev.Transactions, &feed.TransactionData{
		Tx: &model.Transaction{Hash: txHash},
		Inputs: []model.TxInput{
			{PreviousOutpointHash: prevTx, PreviousOutpointIndex: prevIdx},
		},
		Outputs: []model.TxOutput{
			{Value: value, Address: addrTo},
		},
	})
	return ev
}

func TestApplyGenesisAndChild(t *testing.T) {
	p, s, f := newTestPipeline(t)
	ctx := context.Background()

	g := f.add(coinbaseEvent("g", 0, 1, nil, "alice", 5000))
	b1 := f.add(withSpend(coinbaseEvent("b1", 1, 2, []string{"g"}, "miner", 1000),
		"tx-b1", "cb-g", 0, "bob", 5000))

	require.NoError(t, p.handleBlock(ctx, g))
	require.NoError(t, p.handleBlock(ctx, b1))

	alice, err := s.GetAddress("alice")
	require.NoError(t, err)
	require.Zero(t, alice.Balance)

	bob, err := s.GetAddress("bob")
	require.NoError(t, err)
	require.Equal(t, uint64(5000), bob.Balance)

	tx, err := s.GetTransaction("tx-b1")
	require.NoError(t, err)
	require.False(t, tx.IsCoinbase)
	require.Zero(t, tx.Fee)

	cb, err := s.GetTransaction("cb-b1")
	require.NoError(t, err)
	require.True(t, cb.IsCoinbase)

	block, err := s.GetBlock("b1")
	require.NoError(t, err)
	require.Equal(t, uint32(2), block.TxCount)
	require.Equal(t, uint64(1000), block.CoinbaseValue)
}

func TestReapplyIsNoOp(t *testing.T) {
	p, s, f := newTestPipeline(t)
	ctx := context.Background()

	g := f.add(coinbaseEvent("g", 0, 1, nil, "alice", 5000))
	require.NoError(t, p.handleBlock(ctx, g))
	require.NoError(t, p.handleBlock(ctx, g))

	counters, err := s.Counters()
	require.NoError(t, err)
	require.Equal(t, uint64(1), counters.BlockCount)

	alice, err := s.GetAddress("alice")
	require.NoError(t, err)
	require.Equal(t, uint64(5000), alice.Balance)
}

func TestOutOfOrderDelivery(t *testing.T) {
	p, s, f := newTestPipeline(t)
	ctx := context.Background()

	f.add(coinbaseEvent("g", 0, 1, nil, "alice", 5000))
	b1 := f.add(coinbaseEvent("b1", 1, 2, []string{"g"}, "bob", 1000))

	// b1 arrives first; the pipeline recovers g via FetchBlock and then
	// applies both in dependency order.
	require.NoError(t, p.handleBlock(ctx, b1))

	for _, hash := range []string{"g", "b1"} {
		has, err := s.HasBlock(hash)
		require.NoError(t, err)
		require.True(t, has, hash)
	}
	require.Zero(t, p.pending.len())
}

func TestOutOfOrderSiblings(t *testing.T) {
	p, s, f := newTestPipeline(t)
	ctx := context.Background()

	f.add(coinbaseEvent("g", 0, 1, nil, "alice", 5000))
	b1 := f.add(coinbaseEvent("b1", 1, 2, []string{"g"}, "bob", 1000))
	b2 := f.add(coinbaseEvent("b2", 1, 2, []string{"g"}, "carol", 1000))

	// Two siblings of the same missing parent arrive first. Each must be
	// buffered and applied exactly once.
	delete(f.blocks, "g")
	require.NoError(t, p.handleBlock(ctx, b1))
	require.NoError(t, p.handleBlock(ctx, b2))
	require.Equal(t, 2, p.pending.len())

	f.add(coinbaseEvent("g", 0, 1, nil, "alice", 5000))
	require.NoError(t, p.checkDependencies(ctx))

	for _, hash := range []string{"g", "b1", "b2"} {
		has, err := s.HasBlock(hash)
		require.NoError(t, err)
		require.True(t, has, hash)
	}
	require.Zero(t, p.pending.len())

	counters, err := s.Counters()
	require.NoError(t, err)
	require.Equal(t, uint64(3), counters.BlockCount)
}

func TestDanglingReferenceRecovers(t *testing.T) {
	p, s, f := newTestPipeline(t)
	ctx := context.Background()

	g := f.add(coinbaseEvent("g", 0, 1, nil, "alice", 5000))
	require.NoError(t, p.handleBlock(ctx, g))

	// b1's parent is indexed but its tx spends an output from b0, which
	// has not arrived. The block must wait, not fail.
	b1 := f.add(withSpend(coinbaseEvent("b1", 2, 3, []string{"g"}, "miner", 1000),
		"tx-b1", "cb-b0", 0, "bob", 7000))
	require.NoError(t, p.handleBlock(ctx, b1))

	has, err := s.HasBlock("b1")
	require.NoError(t, err)
	require.False(t, has)
	require.True(t, p.pending.has("b1"))

	b0 := f.add(coinbaseEvent("b0", 1, 2, []string{"g"}, "carol", 7000))
	require.NoError(t, p.handleBlock(ctx, b0))
	require.NoError(t, p.checkDependencies(ctx))

	has, err = s.HasBlock("b1")
	require.NoError(t, err)
	require.True(t, has)
	require.Zero(t, p.pending.len())

	bob, err := s.GetAddress("bob")
	require.NoError(t, err)
	require.Equal(t, uint64(7000), bob.Balance)
}

func TestDanglingReferenceExhaustsBudget(t *testing.T) {
	p, _, f := newTestPipeline(t)
	ctx := context.Background()

	g := f.add(coinbaseEvent("g", 0, 1, nil, "alice", 5000))
	require.NoError(t, p.handleBlock(ctx, g))

	b1 := f.add(withSpend(coinbaseEvent("b1", 2, 3, []string{"g"}, "miner", 1000),
		"tx-b1", "never-indexed", 0, "bob", 7000))
	require.NoError(t, p.handleBlock(ctx, b1))

	var err error
	for i := 0; i < p.conf.Indexer.RetryBudget+1; i++ {
		err = p.checkDependencies(ctx)
		if err != nil {
			break
		}
	}
	require.ErrorContains(t, err, "retry budget")
}

func TestRecoveredParentConsistencyFailureIsFatal(t *testing.T) {
	p, _, f := newTestPipeline(t)
	ctx := context.Background()

	g := f.add(coinbaseEvent("g", 0, 1, nil, "alice", 5000))
	b1 := f.add(withSpend(coinbaseEvent("b1", 1, 2, []string{"g"}, "miner", 1000),
		"tx-b1", "cb-g", 0, "bob", 5000))
	require.NoError(t, p.handleBlock(ctx, g))
	require.NoError(t, p.handleBlock(ctx, b1))

	// b3 arrives before its parent b2; the recovery fetch finds b2, whose
	// transaction double-spends the coinbase already consumed by b1. That
	// must stop ingestion with the true cause, not be logged away.
	f.add(withSpend(coinbaseEvent("b2", 2, 3, []string{"b1"}, "miner", 1000),
		"tx-b2", "cb-g", 0, "carol", 5000))
	b3 := f.add(coinbaseEvent("b3", 3, 4, []string{"b2"}, "miner", 1000))

	err := p.handleBlock(ctx, b3)
	require.ErrorIs(t, err, store.ErrAlreadySpent)
}

func TestVirtualChainReorg(t *testing.T) {
	p, s, f := newTestPipeline(t)
	ctx := context.Background()

	g := f.add(coinbaseEvent("g", 0, 1, nil, "alice", 5000))
	b1 := f.add(withSpend(coinbaseEvent("b1", 1, 2, []string{"g"}, "miner", 1000),
		"tx-b1", "cb-g", 0, "bob", 5000))
	require.NoError(t, p.handleBlock(ctx, g))
	require.NoError(t, p.handleBlock(ctx, b1))

	// The chain switches to b2, which pays carol instead of bob.
	f.add(withSpend(coinbaseEvent("b2", 1, 3, []string{"g"}, "miner", 1000),
		"tx-b2", "cb-g", 0, "carol", 5000))
	require.NoError(t, p.handleChain(ctx, &feed.ChainEvent{
		RemovedHashes: []string{"b1"},
		AddedHashes:   []string{"b2"},
	}))

	_, err := s.GetAddress("bob")
	require.ErrorIs(t, err, store.ErrNotFound)

	carol, err := s.GetAddress("carol")
	require.NoError(t, err)
	require.Equal(t, uint64(5000), carol.Balance)

	out, err := s.GetOutput("cb-g", 0)
	require.NoError(t, err)
	require.True(t, out.IsSpent)
	require.Equal(t, "tx-b2", out.SpentByTxHash)

	// Reverting a never-indexed hash is tolerated.
	require.NoError(t, p.handleChain(ctx, &feed.ChainEvent{RemovedHashes: []string{"unknown"}}))
}

func TestInBlockChainedSpend(t *testing.T) {
	p, s, f := newTestPipeline(t)
	ctx := context.Background()

	g := f.add(coinbaseEvent("g", 0, 1, nil, "alice", 5000))
	require.NoError(t, p.handleBlock(ctx, g))

	// tx-a spends the coinbase to bob, tx-b spends tx-a's output to carol,
	// both inside b1.
	b1 := coinbaseEvent("b1", 1, 2, []string{"g"}, "miner", 1000)
	withSpend(b1, "tx-a", "cb-g", 0, "bob", 5000)
	withSpend(b1, "tx-b", "tx-a", 0, "carol", 4000)
	f.add(b1)
	require.NoError(t, p.handleBlock(ctx, b1))

	aOut, err := s.GetOutput("tx-a", 0)
	require.NoError(t, err)
	require.True(t, aOut.IsSpent)
	require.Equal(t, "tx-b", aOut.SpentByTxHash)

	txb, err := s.GetTransaction("tx-b")
	require.NoError(t, err)
	require.Equal(t, uint64(1000), txb.Fee)

	carol, err := s.GetAddress("carol")
	require.NoError(t, err)
	require.Equal(t, uint64(4000), carol.Balance)

	// bob received and spent within the same block.
	bob, err := s.GetAddress("bob")
	require.NoError(t, err)
	require.Zero(t, bob.Balance)
	require.Equal(t, uint64(2), bob.TxCount)
}

func TestFeeZeroedWhenInputsBelowOutputs(t *testing.T) {
	p, s, f := newTestPipeline(t)
	ctx := context.Background()

	require.NoError(t, p.handleBlock(ctx, f.add(coinbaseEvent("g", 0, 1, nil, "alice", 1000))))

	// The transaction claims a fee but creates more value than its inputs
	// resolve to. The stored fee derives from the sums, never the claim.
	b1 := withSpend(coinbaseEvent("b1", 1, 2, []string{"g"}, "miner", 500),
		"tx-b1", "cb-g", 0, "bob", 5000)
	b1.Transactions[1].Tx.Fee = 42
	f.add(b1)
	require.NoError(t, p.handleBlock(ctx, b1))

	tx, err := s.GetTransaction("tx-b1")
	require.NoError(t, err)
	require.Zero(t, tx.Fee)
}

func TestBalanceMatchesUTXOSet(t *testing.T) {
	p, s, f := newTestPipeline(t)
	ctx := context.Background()

	require.NoError(t, p.handleBlock(ctx, f.add(coinbaseEvent("g", 0, 1, nil, "alice", 5000))))
	require.NoError(t, p.handleBlock(ctx, f.add(coinbaseEvent("b1", 1, 2, []string{"g"}, "alice", 3000))))
	require.NoError(t, p.handleBlock(ctx, f.add(withSpend(coinbaseEvent("b2", 2, 3, []string{"b1"}, "miner", 1000),
		"tx-b2", "cb-g", 0, "bob", 5000))))

	for _, addr := range []string{"alice", "bob", "miner"} {
		row, err := s.GetAddress(addr)
		require.NoError(t, err)
		require.Equal(t, row.TotalReceived-row.TotalSent, row.Balance, addr)

		utxos, total, err := s.AddressUTXOs(addr, 0, 100)
		require.NoError(t, err)
		var sum uint64
		for _, out := range utxos {
			require.False(t, out.IsSpent)
			sum += out.Value
		}
		require.Equal(t, row.Balance, sum, addr)
		require.Equal(t, int(row.UTXOCount), total, addr)
	}
}

func TestBlueScoreFallback(t *testing.T) {
	p, s, f := newTestPipeline(t)
	ctx := context.Background()

	require.NoError(t, p.handleBlock(ctx, f.add(coinbaseEvent("g", 0, 7, nil, "alice", 5000))))

	// The feed omitted the blue score; it derives from the parent.
	b1 := f.add(coinbaseEvent("b1", 1, 0, []string{"g"}, "bob", 1000))
	require.NoError(t, p.handleBlock(ctx, b1))

	block, err := s.GetBlock("b1")
	require.NoError(t, err)
	require.Equal(t, uint64(8), block.BlueScore)
}

func TestHandleMempool(t *testing.T) {
	p, s, f := newTestPipeline(t)
	ctx := context.Background()
	now := time.Unix(1700000000, 0).UTC()

	require.NoError(t, p.handleMempool(&feed.MempoolEvent{
		Added: []*model.MempoolTx{
			{Hash: "m1", Size: 200, FirstSeen: now, LastSeen: now},
			{Hash: "m2", Size: 300, FirstSeen: now, LastSeen: now},
		},
	}))

	counters, err := s.Counters()
	require.NoError(t, err)
	require.Equal(t, uint64(2), counters.MempoolSize)

	// Confirming m1 in a block removes it without a feed removal.
	g := f.add(coinbaseEvent("g", 0, 1, nil, "alice", 5000))
	g.Transactions[0].Tx.Hash = "m1"
	require.NoError(t, p.handleBlock(ctx, g))

	_, err = s.GetMempoolTx("m1")
	require.ErrorIs(t, err, store.ErrNotFound)

	// A feed removal drops m2.
	require.NoError(t, p.handleMempool(&feed.MempoolEvent{Removed: []string{"m2"}}))
	counters, err = s.Counters()
	require.NoError(t, err)
	require.Zero(t, counters.MempoolSize)

	// A mempool add for an already confirmed hash is ignored.
	require.NoError(t, p.handleMempool(&feed.MempoolEvent{
		Added: []*model.MempoolTx{{Hash: "m1", Size: 200, FirstSeen: now, LastSeen: now}},
	}))
	_, err = s.GetMempoolTx("m1")
	require.ErrorIs(t, err, store.ErrNotFound)
}
