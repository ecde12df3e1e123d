package feed

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/avast/retry-go"
	"github.com/dagscan/dag-indexer/internal/config"
	"github.com/dagscan/dag-indexer/internal/model"
	"github.com/guonaihong/gout"
	"go.uber.org/ratelimit"
	"go.uber.org/zap"
)

const defaultPollInterval = 2 * time.Second

// Client polls a node's REST interface and turns the responses into feed
// events. One instance serves one node.
type Client struct {
	conf   *config.FeedConfig
	logger *zap.Logger
	rl     ratelimit.Limiter

	blockCh   chan *BlockEvent
	mempoolCh chan *MempoolEvent
	chainCh   chan *ChainEvent

	cursor      uint64 // blue-score watermark of the last delivered block
	lastMempool map[string]struct{}
}

// NewClient builds a feed client resuming from the given blue score.
// eventBuf sizes the delivery channels; a full channel backpressures
// polling, never drops.
func NewClient(conf *config.FeedConfig, logger *zap.Logger, fromBlueScore uint64, eventBuf int) *Client {
	rps := conf.RequestsPS
	if rps <= 0 {
		rps = 10
	}
	if eventBuf <= 0 {
		eventBuf = 64
	}
	return &Client{
		conf:        conf,
		logger:      logger,
		rl:          ratelimit.New(rps),
		blockCh:     make(chan *BlockEvent, eventBuf),
		mempoolCh:   make(chan *MempoolEvent, eventBuf),
		chainCh:     make(chan *ChainEvent, 16),
		cursor:      fromBlueScore,
		lastMempool: make(map[string]struct{}),
	}
}

func (c *Client) BlockEvents() <-chan *BlockEvent     { return c.blockCh }
func (c *Client) MempoolEvents() <-chan *MempoolEvent { return c.mempoolCh }
func (c *Client) ChainEvents() <-chan *ChainEvent     { return c.chainCh }

// Run polls the node until the context ends.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.blockCh)
	defer close(c.mempoolCh)
	defer close(c.chainCh)

	interval := c.conf.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := c.pollChainChanges(ctx); err != nil {
				c.logger.Warn("poll chain changes", zap.Error(err))
				continue
			}
			if err := c.pollBlocks(ctx); err != nil {
				c.logger.Warn("poll blocks", zap.Error(err))
				continue
			}
			if err := c.pollMempool(ctx); err != nil {
				c.logger.Warn("poll mempool", zap.Error(err))
			}
		}
	}
}

// FetchBlock re-fetches one block with its transactions by hash.
func (c *Client) FetchBlock(ctx context.Context, hash string) (*BlockEvent, error) {
	var resp BlockEvent
	err := c.getJSON(ctx, "/api/v1/blocks/"+hash, nil, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Block == nil {
		return nil, fmt.Errorf("block %s not known to node", hash)
	}
	return &resp, nil
}

// Info returns the node's current network view.
func (c *Client) Info(ctx context.Context) (*NodeInfo, error) {
	info := &NodeInfo{}
	if err := c.getJSON(ctx, "/api/v1/info", nil, info); err != nil {
		return nil, err
	}
	return info, nil
}

func (c *Client) pollBlocks(ctx context.Context) error {
	var resp struct {
		Blocks []*BlockEvent `json:"blocks"`
	}
	query := gout.H{
		"from_blue_score":      c.cursor,
		"include_transactions": true,
	}
	if err := c.getJSON(ctx, "/api/v1/blocks", query, &resp); err != nil {
		return err
	}

	for _, ev := range resp.Blocks {
		if ev.Block == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c.blockCh <- ev:
		}
		if ev.Block.BlueScore > c.cursor {
			c.cursor = ev.Block.BlueScore
		}
	}
	return nil
}

func (c *Client) pollChainChanges(ctx context.Context) error {
	var resp ChainEvent
	query := gout.H{"since_blue_score": c.cursor}
	if err := c.getJSON(ctx, "/api/v1/virtual-chain", query, &resp); err != nil {
		return err
	}
	if len(resp.RemovedHashes) == 0 && len(resp.AddedHashes) == 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case c.chainCh <- &resp:
	}
	return nil
}

// pollMempool snapshots the node mempool and diffs it against the last
// poll to produce add/remove deltas.
func (c *Client) pollMempool(ctx context.Context) error {
	var resp struct {
		Transactions []*mempoolEntry `json:"transactions"`
	}
	if err := c.getJSON(ctx, "/api/v1/mempool", nil, &resp); err != nil {
		return err
	}

	ev := &MempoolEvent{}
	seen := make(map[string]struct{}, len(resp.Transactions))
	now := time.Now()
	for _, tx := range resp.Transactions {
		seen[tx.Hash] = struct{}{}
		if _, ok := c.lastMempool[tx.Hash]; !ok {
			ev.Added = append(ev.Added, tx.toModel(now))
		}
	}
	for hash := range c.lastMempool {
		if _, ok := seen[hash]; !ok {
			ev.Removed = append(ev.Removed, hash)
		}
	}
	c.lastMempool = seen

	if len(ev.Added) == 0 && len(ev.Removed) == 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case c.mempoolCh <- ev:
	}
	return nil
}

// mempoolEntry is the node's mempool wire shape.
type mempoolEntry struct {
	Hash     string `json:"hash"`
	Version  uint32 `json:"version"`
	LockTime uint64 `json:"lock_time"`
	Fee      uint64 `json:"fee"`
	Size     uint32 `json:"size"`
}

func (t *mempoolEntry) toModel(now time.Time) *model.MempoolTx {
	return &model.MempoolTx{
		Hash:      t.Hash,
		Version:   t.Version,
		LockTime:  t.LockTime,
		Fee:       t.Fee,
		Size:      t.Size,
		FirstSeen: now,
		LastSeen:  now,
	}
}

// getJSON performs one rate-limited GET with bounded retries. Transient
// failures come back wrapped in ErrUnavailable.
func (c *Client) getJSON(ctx context.Context, path string, query gout.H, out any) error {
	url := c.conf.URL + path

	f := func() error {
		c.rl.Take()
		var code int
		req := gout.GET(url).WithContext(ctx)
		if query != nil {
			req = req.SetQuery(query)
		}
		if err := req.Code(&code).BindJSON(out).Do(); err != nil {
			return err
		}
		if code != http.StatusOK {
			return fmt.Errorf("GET %s: status %d", path, code)
		}
		return nil
	}

	err := f()
	if err != nil {
		err = retry.Do(f, retry.Attempts(3), retry.Context(ctx))
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
