package indexer

import (
	"time"

	"github.com/dagscan/dag-indexer/internal/feed"
	"github.com/scylladb/go-set/strset"
)

// pendingBlock is a block delivered before its parents (or a block whose
// apply hit a recoverable dependency error) waiting to become applicable.
type pendingBlock struct {
	ev       *feed.BlockEvent
	missing  *strset.Set // parent hashes not yet indexed
	enqueued time.Time
	attempts int
}

// pendingSet buffers out-of-order blocks. Independent branches waiting on
// different parents sit here side by side; nothing below depends on
// arrival order.
type pendingSet struct {
	blocks  map[string]*pendingBlock
	waiters map[string]*strset.Set // parent hash -> child hashes waiting on it
}

func newPendingSet() *pendingSet {
	return &pendingSet{
		blocks:  make(map[string]*pendingBlock),
		waiters: make(map[string]*strset.Set),
	}
}

func (p *pendingSet) len() int { return len(p.blocks) }

func (p *pendingSet) has(hash string) bool {
	_, ok := p.blocks[hash]
	return ok
}

// add buffers a block waiting on the given parents. Re-adding refreshes
// the missing set but keeps the original enqueue time and attempt count.
func (p *pendingSet) add(ev *feed.BlockEvent, missing []string, now time.Time) {
	hash := ev.Block.Hash
	pb, ok := p.blocks[hash]
	if !ok {
		pb = &pendingBlock{ev: ev, enqueued: now}
		p.blocks[hash] = pb
	}
	pb.missing = strset.New(missing...)
	for _, parent := range missing {
		set, ok := p.waiters[parent]
		if !ok {
			set = strset.New()
			p.waiters[parent] = set
		}
		set.Add(hash)
	}
}

// resolve marks a parent as indexed and returns the blocks that became
// applicable because of it.
func (p *pendingSet) resolve(parentHash string) []*feed.BlockEvent {
	children, ok := p.waiters[parentHash]
	if !ok {
		return nil
	}
	delete(p.waiters, parentHash)

	var ready []*feed.BlockEvent
	children.Each(func(child string) bool {
		pb, ok := p.blocks[child]
		if !ok {
			return true
		}
		pb.missing.Remove(parentHash)
		if pb.missing.Size() == 0 {
			delete(p.blocks, child)
			ready = append(ready, pb.ev)
		}
		return true
	})
	return ready
}

// remove drops a buffered block and its waiter entries.
func (p *pendingSet) remove(hash string) {
	pb, ok := p.blocks[hash]
	if !ok {
		return
	}
	delete(p.blocks, hash)
	pb.missing.Each(func(parent string) bool {
		if set, ok := p.waiters[parent]; ok {
			set.Remove(hash)
			if set.Size() == 0 {
				delete(p.waiters, parent)
			}
		}
		return true
	})
}

// oldest returns the longest-waiting block, if any.
func (p *pendingSet) oldest() (*pendingBlock, bool) {
	var oldest *pendingBlock
	for _, pb := range p.blocks {
		if oldest == nil || pb.enqueued.Before(oldest.enqueued) {
			oldest = pb
		}
	}
	return oldest, oldest != nil
}

// missingParents returns every parent hash currently waited on.
func (p *pendingSet) missingParents() []string {
	parents := make([]string, 0, len(p.waiters))
	for parent := range p.waiters {
		if !p.has(parent) { // a pending parent will resolve by itself
			parents = append(parents, parent)
		}
	}
	return parents
}
