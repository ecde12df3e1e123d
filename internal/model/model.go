// Package model defines the row shapes persisted by the index store and
// the projections served to clients.
package model

import "time"

// Block is one DAG block. A block may reference several parents; the
// parent edges live in BlockParent rows.
type Block struct {
	Hash                 string `json:"hash"`
	Height               uint64 `json:"height"`
	Version              uint32 `json:"version"`
	Timestamp            int64  `json:"timestamp"`
	Bits                 uint32 `json:"bits"`
	Nonce                uint64 `json:"nonce"`
	MerkleRoot           string `json:"merkle_root"`
	AcceptedIDMerkleRoot string `json:"accepted_id_merkle_root,omitempty"`
	UTXOCommitment       string `json:"utxo_commitment,omitempty"`
	DAAScore             uint64 `json:"daa_score"`
	BlueScore            uint64 `json:"blue_score"`
	BlueWork             string `json:"blue_work,omitempty"`
	PruningPoint         string `json:"pruning_point,omitempty"`
	Size                 uint32 `json:"size"`
	TxCount              uint32 `json:"tx_count"`
	CoinbaseValue        uint64 `json:"coinbase_value"`
}

// BlockParent is one parent edge of the DAG.
type BlockParent struct {
	BlockHash  string `json:"block_hash"`
	ParentHash string `json:"parent_hash"`
	Level      uint32 `json:"level"`
}

// Transaction is one transaction, confirmed or pending. BlockHash is empty
// while the transaction is only known from the mempool.
type Transaction struct {
	Hash              string `json:"hash"`
	BlockHash         string `json:"block_hash,omitempty"`
	BlockHeight       uint64 `json:"block_height,omitempty"`
	IndexInBlock      uint32 `json:"index_in_block"`
	Version           uint32 `json:"version"`
	LockTime          uint64 `json:"lock_time,omitempty"`
	InputCount        uint32 `json:"input_count"`
	OutputCount       uint32 `json:"output_count"`
	Size              uint32 `json:"size"`
	Fee               uint64 `json:"fee"`
	Value             uint64 `json:"value"`
	Timestamp         int64  `json:"timestamp"`
	IsCoinbase        bool   `json:"is_coinbase"`
	IsConfirmed       bool   `json:"is_confirmed"`
	ConfirmationCount uint32 `json:"confirmation_count"`
}

// TxInput is one spend reference.
type TxInput struct {
	TxHash                string `json:"tx_hash"`
	Index                 uint32 `json:"index"`
	PreviousOutpointHash  string `json:"previous_outpoint_hash,omitempty"`
	PreviousOutpointIndex uint32 `json:"previous_outpoint_index"`
	Sequence              uint64 `json:"sequence,omitempty"`
	ScriptSig             []byte `json:"script_sig,omitempty"`
}

// TxOutput is one output, spent or unspent. At most one spender may ever
// be recorded.
type TxOutput struct {
	TxHash                 string `json:"tx_hash"`
	Index                  uint32 `json:"index"`
	Value                  uint64 `json:"value"`
	ScriptPublicKeyVersion uint32 `json:"script_public_key_version,omitempty"`
	ScriptPublicKeyScript  []byte `json:"script_public_key_script,omitempty"`
	Address                string `json:"address,omitempty"`
	IsSpent                bool   `json:"is_spent"`
	SpentByTxHash          string `json:"spent_by_tx_hash,omitempty"`
	SpentByInputIndex      uint32 `json:"spent_by_input_index"`
}

// Address is the aggregate view of one address. Balance always equals
// TotalReceived - TotalSent; the row is maintained purely by delta
// application, never by rescans.
type Address struct {
	Address            string `json:"address"`
	FirstSeenHeight    uint64 `json:"first_seen_height"`
	FirstSeenTimestamp int64  `json:"first_seen_timestamp"`
	LastSeenHeight     uint64 `json:"last_seen_height"`
	LastSeenTimestamp  int64  `json:"last_seen_timestamp"`
	TxCount            uint64 `json:"tx_count"`
	ReceivedCount      uint64 `json:"received_count"`
	SentCount          uint64 `json:"sent_count"`
	TotalReceived      uint64 `json:"total_received"`
	TotalSent          uint64 `json:"total_sent"`
	Balance            uint64 `json:"balance"`
	UTXOCount          uint64 `json:"utxo_count"`
}

// AddressTransaction links an address to a transaction that touched it.
type AddressTransaction struct {
	Address string `json:"address"`
	TxHash  string `json:"tx_hash"`
	IsInput bool   `json:"is_input"`
	Value   uint64 `json:"value"`
}

// MempoolTx is one unconfirmed transaction.
type MempoolTx struct {
	Hash      string    `json:"hash"`
	Version   uint32    `json:"version"`
	LockTime  uint64    `json:"lock_time,omitempty"`
	Fee       uint64    `json:"fee"`
	Size      uint32    `json:"size"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// NetworkStatsSnapshot is one point-in-time network summary, append-only.
type NetworkStatsSnapshot struct {
	Timestamp    time.Time `json:"timestamp"`
	BlockCount   uint64    `json:"block_count"`
	TxCount      uint64    `json:"tx_count"`
	AddressCount uint64    `json:"address_count"`
	TotalSupply  uint64    `json:"total_supply"`
	Hashrate     uint64    `json:"hashrate,omitempty"`
	Difficulty   float64   `json:"difficulty,omitempty"`
	AvgBlockTime float64   `json:"avg_block_time,omitempty"`
	MempoolSize  uint64    `json:"mempool_size"`
	MempoolBytes uint64    `json:"mempool_bytes"`
	PeerCount    uint32    `json:"peer_count,omitempty"`
}
