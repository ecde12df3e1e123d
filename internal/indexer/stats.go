package indexer

import (
	"context"
	"time"

	"github.com/dagscan/dag-indexer/internal/events"
	"github.com/dagscan/dag-indexer/internal/model"
	"go.uber.org/zap"
)

// sampleStats periodically folds index counters and the node's network
// view into an append-only snapshot.
func (p *Pipeline) sampleStats(ctx context.Context) error {
	ticker := time.NewTicker(p.conf.Stats.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			counters, err := p.store.Counters()
			if err != nil {
				return err
			}
			snap := &model.NetworkStatsSnapshot{
				Timestamp:    time.Now(),
				BlockCount:   counters.BlockCount,
				TxCount:      counters.TxCount,
				AddressCount: counters.AddressCount,
				TotalSupply:  counters.TotalSupply,
				MempoolSize:  counters.MempoolSize,
				MempoolBytes: counters.MempoolBytes,
			}
			if prev, err := p.store.LatestStats(); err == nil && snap.BlockCount > prev.BlockCount {
				blocks := snap.BlockCount - prev.BlockCount
				if elapsed := snap.Timestamp.Sub(prev.Timestamp).Seconds(); elapsed > 0 {
					snap.AvgBlockTime = elapsed / float64(blocks)
				}
			}
			if info, err := p.feed.Info(ctx); err == nil {
				snap.Hashrate = info.Hashrate
				snap.Difficulty = info.Difficulty
				snap.PeerCount = info.PeerCount
			} else {
				p.logger.Debug("node info unavailable for stats sample", zap.Error(err))
			}
			if err := p.store.AppendStats(snap); err != nil {
				p.logger.Warn("append stats snapshot", zap.Error(err))
				continue
			}
			p.pub.Publish(events.Event{Type: events.TypeNetworkStats, Payload: snap})
		}
	}
}

// pruneJournals drops journal rows for blocks at or below the node's
// pruning point. Blocks that deep can no longer leave the selected chain,
// so their deltas will never be reverted.
func (p *Pipeline) pruneJournals(ctx context.Context) error {
	ticker := time.NewTicker(p.conf.Indexer.PruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			info, err := p.feed.Info(ctx)
			if err != nil {
				p.logger.Debug("node info unavailable for journal pruning", zap.Error(err))
				continue
			}
			if info.PruningPointBlueScore == 0 {
				continue
			}
			pruned, err := p.store.PruneJournals(info.PruningPointBlueScore)
			if err != nil {
				return err
			}
			if pruned > 0 {
				p.logger.Info("pruned block journals",
					zap.Int("count", pruned),
					zap.Uint64("below_blue_score", info.PruningPointBlueScore))
			}
		}
	}
}
