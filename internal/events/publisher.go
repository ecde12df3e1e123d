// Package events fans committed state changes out to subscribers. The
// publisher is best-effort: a slow or gone subscriber never blocks the
// ingestion path, it just loses events.
package events

import (
	"sync"

	"github.com/dagscan/dag-indexer/internal/model"
	"go.uber.org/zap"
)

// Event types, one per externally observable state change.
const (
	TypeBlockNew       = "block:new"
	TypeTransactionNew = "transaction:new"
	TypeMempoolUpdate  = "mempool:update"
	TypeNetworkStats   = "network:stats"
)

// Event is one notification. Payload is the matching summary/snapshot
// model, already safe to serialize.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// MempoolUpdate is the payload of TypeMempoolUpdate. Transactions holds
// newly observed rows; RemovedHashes covers confirmations and evictions.
type MempoolUpdate struct {
	Size          uint64             `json:"size"`
	Bytes         uint64             `json:"bytes"`
	Transactions  []*model.MempoolTx `json:"transactions,omitempty"`
	RemovedHashes []string           `json:"removed,omitempty"`
}

type subscriber struct {
	ch      chan Event
	dropped uint64
}

// Publisher delivers events to any number of subscribers in publish
// order. Publish is called serially by the pipeline after each commit, so
// per-subscriber channel order matches commit order.
type Publisher struct {
	mu     sync.Mutex
	subs   map[int]*subscriber
	nextID int
	logger *zap.Logger
}

func NewPublisher(logger *zap.Logger) *Publisher {
	return &Publisher{
		subs:   make(map[int]*subscriber),
		logger: logger,
	}
}

// Subscribe registers a subscriber with the given buffer. The returned
// cancel func unregisters and closes the channel; it is safe to call more
// than once.
func (p *Publisher) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}

	p.mu.Lock()
	id := p.nextID
	p.nextID++
	sub := &subscriber{ch: make(chan Event, buffer)}
	p.subs[id] = sub
	p.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.subs, id)
			p.mu.Unlock()
			close(sub.ch)
		})
	}
	return sub.ch, cancel
}

// Publish delivers the event to every subscriber without blocking. A full
// buffer drops the event for that subscriber only.
func (p *Publisher) Publish(ev Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id, sub := range p.subs {
		select {
		case sub.ch <- ev:
		default:
			sub.dropped++
			if sub.dropped%100 == 1 {
				p.logger.Warn("subscriber lagging, dropping events",
					zap.Int("subscriber", id),
					zap.String("type", ev.Type),
					zap.Uint64("dropped", sub.dropped))
			}
		}
	}
}

// SubscriberCount returns the number of live subscribers.
func (p *Publisher) SubscriberCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}
