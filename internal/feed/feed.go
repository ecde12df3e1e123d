// Package feed defines the node-facing contract of the indexer: a stream
// of consensus-valid blocks with their transactions, mempool deltas and
// virtual-chain (reorg) notifications. The feed is trusted; it is the
// pipeline's only source of truth.
package feed

import (
	"context"
	"errors"

	"github.com/dagscan/dag-indexer/internal/model"
)

// ErrUnavailable reports a transient node failure. Ingestion pauses and
// retries with backoff; read paths keep serving committed data.
var ErrUnavailable = errors.New("feed: node unavailable")

// TransactionData bundles a transaction with its spend references and
// outputs as delivered by the node.
type TransactionData struct {
	Tx      *model.Transaction `json:"tx"`
	Inputs  []model.TxInput    `json:"inputs"`
	Outputs []model.TxOutput   `json:"outputs"`
}

// BlockEvent is one block plus its full transaction set. Delivery order
// is not guaranteed to be topological; the pipeline buffers blocks whose
// parents have not arrived yet.
type BlockEvent struct {
	Block        *model.Block        `json:"block"`
	Parents      []model.BlockParent `json:"parents"`
	Transactions []*TransactionData  `json:"transactions"`
}

// MempoolEvent carries unconfirmed transaction additions and removals.
type MempoolEvent struct {
	Added   []*model.MempoolTx `json:"added"`
	Removed []string           `json:"removed"`
}

// ChainEvent reports a virtual-chain change: blocks that left the
// selected chain (to be reverted, newest first) and blocks that joined it.
type ChainEvent struct {
	RemovedHashes []string `json:"removed"`
	AddedHashes   []string `json:"added"`
}

// NodeInfo is the node-side state the stats sampler folds into snapshots.
type NodeInfo struct {
	PeerCount             uint32  `json:"peer_count"`
	Difficulty            float64 `json:"difficulty"`
	Hashrate              uint64  `json:"hashrate"`
	VirtualBlueScore      uint64  `json:"virtual_blue_score"`
	PruningPoint          string  `json:"pruning_point"`
	PruningPointBlueScore uint64  `json:"pruning_point_blue_score"`
}

// Feed is the abstract block/mempool source consumed by the pipeline.
type Feed interface {
	// Run drives the feed until the context ends. Event channels close
	// when Run returns.
	Run(ctx context.Context) error
	BlockEvents() <-chan *BlockEvent
	MempoolEvents() <-chan *MempoolEvent
	ChainEvents() <-chan *ChainEvent
	// FetchBlock re-fetches one block by hash, used to recover a missing
	// ancestor that was delivered out of order or dropped.
	FetchBlock(ctx context.Context, hash string) (*BlockEvent, error)
	Info(ctx context.Context) (*NodeInfo, error)
}
