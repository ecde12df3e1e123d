// Package indexer drives ingestion: it consumes feed events, orders
// out-of-order blocks, builds per-block deltas and commits them through
// the store, publishing events after every durable change.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dagscan/dag-indexer/internal/config"
	"github.com/dagscan/dag-indexer/internal/events"
	"github.com/dagscan/dag-indexer/internal/feed"
	"github.com/dagscan/dag-indexer/internal/model"
	"github.com/dagscan/dag-indexer/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const dependencyCheckInterval = 10 * time.Second

// Pipeline is the single writer of the index. All block, chain and
// mempool events are handled on one goroutine so every commit sees the
// state left by the previous one.
type Pipeline struct {
	conf    *config.Config
	logger  *zap.Logger
	store   *store.Store
	feed    feed.Feed
	pub     *events.Publisher
	pending *pendingSet
}

func NewPipeline(conf *config.Config, logger *zap.Logger, s *store.Store, f feed.Feed, pub *events.Publisher) *Pipeline {
	return &Pipeline{
		conf:    conf,
		logger:  logger,
		store:   s,
		feed:    f,
		pub:     pub,
		pending: newPendingSet(),
	}
}

// Run starts the feed and processes its events until the context ends or
// ingestion hits a fatal inconsistency.
func (p *Pipeline) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := p.feed.Run(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return p.loop(ctx)
	})
	g.Go(func() error {
		return p.sweepMempool(ctx)
	})
	g.Go(func() error {
		return p.sampleStats(ctx)
	})
	if p.conf.Indexer.PruneInterval > 0 {
		g.Go(func() error {
			return p.pruneJournals(ctx)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (p *Pipeline) loop(ctx context.Context) error {
	depTicker := time.NewTicker(dependencyCheckInterval)
	defer depTicker.Stop()

	blockCh := p.feed.BlockEvents()
	chainCh := p.feed.ChainEvents()
	mempoolCh := p.feed.MempoolEvents()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-blockCh:
			if !ok {
				blockCh = nil
				continue
			}
			if err := p.handleBlock(ctx, ev); err != nil {
				return err
			}

		case ev, ok := <-chainCh:
			if !ok {
				chainCh = nil
				continue
			}
			if err := p.handleChain(ctx, ev); err != nil {
				return err
			}

		case ev, ok := <-mempoolCh:
			if !ok {
				mempoolCh = nil
				continue
			}
			if err := p.handleMempool(ev); err != nil {
				return err
			}

		case <-depTicker.C:
			if err := p.checkDependencies(ctx); err != nil {
				return err
			}
		}
	}
}

// handleBlock applies one block, buffering it when parents are missing.
func (p *Pipeline) handleBlock(ctx context.Context, ev *feed.BlockEvent) error {
	hash := ev.Block.Hash

	applied, err := p.store.HasBlock(hash)
	if err != nil {
		return err
	}
	if applied {
		// Re-delivery of an already indexed block. Still resolve waiters
		// so children buffered against it can proceed.
		return p.applyResolved(ctx, hash)
	}

	missing, err := p.missingParents(ev)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		p.logger.Debug("buffering block with missing parents",
			zap.String("hash", hash), zap.Strings("missing", missing))
		p.pending.add(ev, missing, time.Now())
		return p.recoverParents(ctx, missing)
	}

	return p.applyBlock(ctx, ev)
}

// applyBlock builds the delta, commits it and publishes events, then
// cascades into any buffered children the commit unblocked.
func (p *Pipeline) applyBlock(ctx context.Context, ev *feed.BlockEvent) error {
	hash := ev.Block.Hash

	delta, err := p.buildDelta(ev)
	if err != nil {
		if errors.Is(err, ErrDanglingReference) {
			return p.requeue(ctx, ev, err)
		}
		return fmt.Errorf("build delta for %s: %w", hash, err)
	}

	if err := p.store.CommitBlock(delta); err != nil {
		return fmt.Errorf("commit %s: %w", hash, err)
	}
	p.pending.remove(hash)

	p.pub.Publish(events.Event{
		Type:    events.TypeBlockNew,
		Payload: delta.Block.Summary(len(delta.Parents)),
	})
	for _, tx := range delta.Txs {
		p.pub.Publish(events.Event{
			Type:    events.TypeTransactionNew,
			Payload: tx.Summary(),
		})
	}
	if len(delta.MempoolRemoved) > 0 {
		if err := p.publishMempoolUpdate(nil, mempoolHashes(delta.MempoolRemoved)); err != nil {
			return err
		}
	}

	return p.applyResolved(ctx, hash)
}

// applyResolved applies every buffered block that became applicable once
// the given block landed.
func (p *Pipeline) applyResolved(ctx context.Context, hash string) error {
	for _, child := range p.pending.resolve(hash) {
		if err := p.applyBlock(ctx, child); err != nil {
			return err
		}
	}
	return nil
}

// requeue puts a block back on the pending set after a recoverable
// dependency failure. Exhausting the retry budget is fatal: the feed
// keeps referencing state the index cannot see.
func (p *Pipeline) requeue(ctx context.Context, ev *feed.BlockEvent, cause error) error {
	hash := ev.Block.Hash

	missing, err := p.missingParents(ev)
	if err != nil {
		return err
	}
	p.pending.add(ev, missing, time.Now())

	pb := p.pending.blocks[hash]
	pb.attempts++
	if pb.attempts > p.conf.Indexer.RetryBudget {
		return fmt.Errorf("block %s exceeded retry budget (%d): %w",
			hash, p.conf.Indexer.RetryBudget, cause)
	}

	p.logger.Warn("re-queueing block on dangling reference",
		zap.String("hash", hash),
		zap.Int("attempts", pb.attempts),
		zap.Error(cause))
	return p.recoverParents(ctx, missing)
}

// handleChain processes a virtual-chain change: removed blocks are
// reverted newest first, added blocks are fetched and applied if the
// index does not hold them yet.
func (p *Pipeline) handleChain(ctx context.Context, ev *feed.ChainEvent) error {
	for _, hash := range ev.RemovedHashes {
		err := p.store.RevertBlock(hash)
		if errors.Is(err, store.ErrNotFound) {
			continue // never indexed, nothing to undo
		}
		if err != nil {
			return fmt.Errorf("revert %s: %w", hash, err)
		}
	}

	for _, hash := range ev.AddedHashes {
		applied, err := p.store.HasBlock(hash)
		if err != nil {
			return err
		}
		if applied || p.pending.has(hash) {
			continue
		}
		bev, err := p.feed.FetchBlock(ctx, hash)
		if err != nil {
			if errors.Is(err, feed.ErrUnavailable) {
				p.logger.Warn("chain-added block fetch failed", zap.String("hash", hash), zap.Error(err))
				continue
			}
			return err
		}
		if err := p.handleBlock(ctx, bev); err != nil {
			return err
		}
	}
	return nil
}

// handleMempool folds feed mempool deltas into the tracker and notifies
// subscribers.
func (p *Pipeline) handleMempool(ev *feed.MempoolEvent) error {
	var added []*model.MempoolTx
	for _, tx := range ev.Added {
		confirmed, err := p.store.GetTransaction(tx.Hash)
		if err != nil && err != store.ErrNotFound {
			return err
		}
		if confirmed != nil {
			continue // already confirmed, the feed's view is behind
		}
		if err := p.store.ObserveMempoolTx(tx); err != nil {
			return err
		}
		added = append(added, tx)
	}

	removed, err := p.store.RemoveMempoolTxs(ev.Removed)
	if err != nil {
		return err
	}

	if len(added) == 0 && len(removed) == 0 {
		return nil
	}
	return p.publishMempoolUpdate(added, mempoolHashes(removed))
}

func (p *Pipeline) publishMempoolUpdate(added []*model.MempoolTx, removed []string) error {
	counters, err := p.store.Counters()
	if err != nil {
		return err
	}
	p.pub.Publish(events.Event{
		Type: events.TypeMempoolUpdate,
		Payload: events.MempoolUpdate{
			Size:          counters.MempoolSize,
			Bytes:         counters.MempoolBytes,
			Transactions:  added,
			RemovedHashes: removed,
		},
	})
	return nil
}

// missingParents returns the direct parents of a block that are neither
// indexed nor buffered. A buffered parent will resolve its children when
// it eventually applies.
func (p *Pipeline) missingParents(ev *feed.BlockEvent) ([]string, error) {
	var missing []string
	for _, parent := range ev.Parents {
		if p.pending.has(parent.ParentHash) {
			missing = append(missing, parent.ParentHash)
			continue
		}
		applied, err := p.store.HasBlock(parent.ParentHash)
		if err != nil {
			return nil, err
		}
		if !applied {
			missing = append(missing, parent.ParentHash)
		}
	}
	return missing, nil
}

// checkDependencies enforces the dependency wait bound, re-requests
// parents that still have not arrived and retries blocks held back only
// by a dangling reference.
func (p *Pipeline) checkDependencies(ctx context.Context) error {
	if pb, ok := p.pending.oldest(); ok {
		waited := time.Since(pb.enqueued)
		if waited > p.conf.Indexer.DependencyWait {
			return fmt.Errorf("block %s waited %s for dependencies %v, dependency bound exceeded",
				pb.ev.Block.Hash, waited.Round(time.Second), pb.missing.List())
		}
	}
	if err := p.recoverParents(ctx, p.pending.missingParents()); err != nil {
		return err
	}

	var retry []*feed.BlockEvent
	for _, pb := range p.pending.blocks {
		if pb.missing.Size() == 0 {
			retry = append(retry, pb.ev)
		}
	}
	for _, ev := range retry {
		if err := p.applyBlock(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

// recoverParents re-fetches missing ancestors directly instead of waiting
// for the poll loop to deliver them. Fetch failures are tolerated (the
// poll loop may still deliver the block); apply failures are not, they
// carry the same weight as a failure on the main path.
func (p *Pipeline) recoverParents(ctx context.Context, missing []string) error {
	for _, parent := range missing {
		applied, err := p.store.HasBlock(parent)
		if err != nil {
			return err
		}
		if applied {
			continue
		}
		ev, err := p.feed.FetchBlock(ctx, parent)
		if err != nil {
			p.logger.Debug("parent fetch failed", zap.String("hash", parent), zap.Error(err))
			continue
		}
		if err := p.handleBlock(ctx, ev); err != nil {
			return fmt.Errorf("apply recovered parent %s: %w", parent, err)
		}
	}
	return nil
}

func mempoolHashes(rows []model.MempoolTx) []string {
	hashes := make([]string, 0, len(rows))
	for i := range rows {
		hashes = append(hashes, rows[i].Hash)
	}
	return hashes
}
