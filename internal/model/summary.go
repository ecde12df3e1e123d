package model

// BlockSummary is the list/event projection of a block.
type BlockSummary struct {
	Hash          string `json:"hash"`
	Height        uint64 `json:"height"`
	Timestamp     int64  `json:"timestamp"`
	TxCount       uint32 `json:"tx_count"`
	Size          uint32 `json:"size"`
	CoinbaseValue uint64 `json:"coinbase_value"`
	ParentCount   int    `json:"parent_count"`
	BlueScore     uint64 `json:"blue_score"`
}

// TransactionSummary is the list/event projection of a transaction.
type TransactionSummary struct {
	Hash        string `json:"hash"`
	BlockHash   string `json:"block_hash,omitempty"`
	BlockHeight uint64 `json:"block_height,omitempty"`
	Timestamp   int64  `json:"timestamp"`
	InputCount  uint32 `json:"input_count"`
	OutputCount uint32 `json:"output_count"`
	Value       uint64 `json:"value"`
	Fee         uint64 `json:"fee"`
	Size        uint32 `json:"size"`
	IsCoinbase  bool   `json:"is_coinbase"`
	IsConfirmed bool   `json:"is_confirmed"`
}

// Summary builds the event/list projection of a block.
func (b *Block) Summary(parentCount int) BlockSummary {
	return BlockSummary{
		Hash:          b.Hash,
		Height:        b.Height,
		Timestamp:     b.Timestamp,
		TxCount:       b.TxCount,
		Size:          b.Size,
		CoinbaseValue: b.CoinbaseValue,
		ParentCount:   parentCount,
		BlueScore:     b.BlueScore,
	}
}

// Summary builds the event/list projection of a transaction.
func (t *Transaction) Summary() TransactionSummary {
	return TransactionSummary{
		Hash:        t.Hash,
		BlockHash:   t.BlockHash,
		BlockHeight: t.BlockHeight,
		Timestamp:   t.Timestamp,
		InputCount:  t.InputCount,
		OutputCount: t.OutputCount,
		Value:       t.Value,
		Fee:         t.Fee,
		Size:        t.Size,
		IsCoinbase:  t.IsCoinbase,
		IsConfirmed: t.IsConfirmed,
	}
}

// AddressSummary is the REST projection of an address aggregate, with
// amounts additionally rendered in coin units.
type AddressSummary struct {
	Address                *Address `json:"address"`
	BalanceFormatted       string   `json:"balance_formatted"`
	TotalReceivedFormatted string   `json:"total_received_formatted"`
	TotalSentFormatted     string   `json:"total_sent_formatted"`
}

// SearchResults groups everything a free-form query matched: at most
// one block and one transaction by exact hash, plus one address.
type SearchResults struct {
	Blocks       []BlockSummary       `json:"blocks"`
	Transactions []TransactionSummary `json:"transactions"`
	Addresses    []AddressSummary     `json:"addresses"`
	Total        int                  `json:"total"`
}

// PaginatedResponse wraps a page of rows.
type PaginatedResponse[T any] struct {
	Data      []T `json:"data"`
	Total     int `json:"total"`
	Page      int `json:"page"`
	PageSize  int `json:"page_size"`
	TotalPage int `json:"total_pages"`
}
