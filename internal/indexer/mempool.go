package indexer

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// sweepMempool evicts unconfirmed transactions the node stopped
// advertising long enough ago. Eviction only deletes tracker rows; it
// never confirms anything.
func (p *Pipeline) sweepMempool(ctx context.Context) error {
	ticker := time.NewTicker(p.conf.Mempool.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cutoff := time.Now().Add(-p.conf.Mempool.TTL)
			stale, err := p.store.StaleMempoolHashes(cutoff)
			if err != nil {
				return err
			}
			if len(stale) == 0 {
				continue
			}
			removed, err := p.store.RemoveMempoolTxs(stale)
			if err != nil {
				return err
			}
			if len(removed) == 0 {
				continue
			}
			p.logger.Info("evicted stale mempool transactions",
				zap.Int("count", len(removed)),
				zap.Duration("ttl", p.conf.Mempool.TTL))
			if err := p.publishMempoolUpdate(nil, mempoolHashes(removed)); err != nil {
				return err
			}
		}
	}
}
