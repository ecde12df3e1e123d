// Package store persists the explorer's denormalized ledger state: blocks
// and their parent edges, transactions, the UTXO ledger, per-address
// aggregates, the mempool and network stats snapshots.
//
// Everything lives in a single key-value database; logical tables are key
// prefixes. All mutations for one block are committed through a single
// write batch, which is the transaction boundary of the whole system.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	tmdb "github.com/cosmos/cosmos-db"
	"github.com/dagscan/dag-indexer/internal/config"
	"go.uber.org/zap"
)

// Logical table prefixes.
const (
	blockKeyPrefix        = "b:"  // b:<hash> -> Block
	blockHeightKeyPrefix  = "bh:" // bh:<height BE><hash> -> hash
	parentKeyPrefix       = "bp:" // bp:<hash>:<parent> -> BlockParent
	childKeyPrefix        = "pc:" // pc:<parent>:<hash> -> nil
	blockTxsKeyPrefix     = "bt:" // bt:<hash> -> tx hashes in block order
	txKeyPrefix           = "t:"  // t:<hash> -> Transaction
	txInputKeyPrefix      = "ti:" // ti:<hash> -> []TxInput
	utxoKeyPrefix         = "u:"  // u:<tx>:<index> -> TxOutput
	addressKeyPrefix      = "a:"  // a:<address> -> Address
	addressTxKeyPrefix    = "at:" // at:<address>:<tx>:<0|1> -> AddressTransaction
	addressUtxoKeyPrefix  = "au:" // au:<address> -> unspent outpoint keys
	mempoolKeyPrefix      = "m:"  // m:<hash> -> MempoolTx
	statsKeyPrefix        = "ns:" // ns:<unix BE> -> NetworkStatsSnapshot
	journalKeyPrefix      = "j:"  // j:<hash> -> BlockJournal
	journalScoreKeyPrefix = "js:" // js:<blue score BE><hash> -> hash
	countersKey           = "s:c"
	syncStateKey          = "s:s"
)

var (
	// ErrNotFound reports a missing row.
	ErrNotFound = errors.New("store: not found")
	// ErrAlreadySpent reports a second spend attempt on the same output.
	// The feed is trusted not to deliver double-spends, so hitting this is
	// an internal consistency violation and fatal to ingestion.
	ErrAlreadySpent = errors.New("store: output already spent")
	// ErrDuplicateOutput reports an insert for an outpoint that already
	// exists. Same severity as ErrAlreadySpent.
	ErrDuplicateOutput = errors.New("store: duplicate output")
)

// Counters are O(1) aggregates maintained inside every commit batch so the
// stats sampler never scans tables.
type Counters struct {
	BlockCount   uint64 `json:"block_count"`
	TxCount      uint64 `json:"tx_count"`
	AddressCount uint64 `json:"address_count"`
	TotalSupply  uint64 `json:"total_supply"`
	MempoolSize  uint64 `json:"mempool_size"`
	MempoolBytes uint64 `json:"mempool_bytes"`
}

// SyncState records the last durably applied point; ingestion resumes from
// here after a restart.
type SyncState struct {
	LastHash      string `json:"last_hash"`
	LastBlueScore uint64 `json:"last_blue_score"`
	LastHeight    uint64 `json:"last_height"`
	UpdatedAt     int64  `json:"updated_at"`
}

// Store is the durable index database. Writers serialize on mu: block
// commits, mempool changes and eviction sweeps all read counters before
// rewriting them in their batch.
type Store struct {
	mu     sync.Mutex
	db     tmdb.DB
	logger *zap.Logger
}

// New opens (or creates) the index database.
func New(conf *config.StoreConfig, logger *zap.Logger) (*Store, error) {
	name := conf.Name
	if name == "" {
		name = "index"
	}
	db, err := tmdb.NewDB(name, tmdb.BackendType(conf.DBType), conf.Dir)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// NewWithDB wraps an existing database, used by tests with the memory backend.
func NewWithDB(db tmdb.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Counters returns the current aggregate counters.
func (s *Store) Counters() (Counters, error) {
	var c Counters
	val, err := s.db.Get([]byte(countersKey))
	if err != nil {
		return c, err
	}
	if len(val) == 0 {
		return c, nil
	}
	err = json.Unmarshal(val, &c)
	return c, err
}

// SyncState returns the last durably applied point.
func (s *Store) SyncState() (SyncState, error) {
	var st SyncState
	val, err := s.db.Get([]byte(syncStateKey))
	if err != nil {
		return st, err
	}
	if len(val) == 0 {
		return st, nil
	}
	err = json.Unmarshal(val, &st)
	return st, err
}

func (s *Store) get(key string, out any) error {
	val, err := s.db.Get([]byte(key))
	if err != nil {
		return err
	}
	if len(val) == 0 {
		return ErrNotFound
	}
	return json.Unmarshal(val, out)
}

func unmarshalRow(val []byte, out any) error {
	return json.Unmarshal(val, out)
}

func batchSet(b tmdb.Batch, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Set([]byte(key), data)
}

// prefixEnd returns the smallest key greater than every key with the prefix.
func prefixEnd(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

func (s *Store) prefixIterator(prefix string) (tmdb.Iterator, error) {
	p := []byte(prefix)
	return s.db.Iterator(p, prefixEnd(p))
}

func (s *Store) reversePrefixIterator(prefix string) (tmdb.Iterator, error) {
	p := []byte(prefix)
	return s.db.ReverseIterator(p, prefixEnd(p))
}
