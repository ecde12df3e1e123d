package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/dagscan/dag-indexer/internal/model"
	"github.com/dagscan/dag-indexer/internal/store"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

const (
	defaultPageSize = 25
	maxPageSize     = 100
	coinDecimals    = 8
)

func ok(ctx *gin.Context, data any) {
	ctx.JSON(http.StatusOK, gin.H{
		"code": http.StatusOK,
		"data": data,
	})
}

func fail(ctx *gin.Context, status int, err error) {
	ctx.JSON(status, gin.H{
		"code": status,
		"msg":  err.Error(),
	})
}

func failStore(ctx *gin.Context, err error) {
	if err == store.ErrNotFound {
		fail(ctx, http.StatusNotFound, err)
		return
	}
	fail(ctx, http.StatusInternalServerError, err)
}

func pageParams(ctx *gin.Context) (int, int) {
	page, _ := strconv.Atoi(ctx.DefaultQuery("page", "0"))
	if page < 0 {
		page = 0
	}
	pageSize, _ := strconv.Atoi(ctx.DefaultQuery("page_size", strconv.Itoa(defaultPageSize)))
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return page, pageSize
}

// formatAmount renders a base-unit amount as a decimal coin string.
func formatAmount(v uint64) string {
	return decimal.New(int64(v), -coinDecimals).String()
}

func (s *Server) blocksHandle() func(ctx *gin.Context) {
	return func(ctx *gin.Context) {
		page, pageSize := pageParams(ctx)

		blocks, err := s.store.BlocksByHeight(page, pageSize)
		if err != nil {
			failStore(ctx, err)
			return
		}
		counters, err := s.store.Counters()
		if err != nil {
			failStore(ctx, err)
			return
		}

		summaries := make([]model.BlockSummary, 0, len(blocks))
		for _, b := range blocks {
			parents, err := s.store.GetBlockParents(b.Hash)
			if err != nil {
				failStore(ctx, err)
				return
			}
			summaries = append(summaries, b.Summary(len(parents)))
		}
		ok(ctx, model.PaginatedResponse[model.BlockSummary]{
			Data:      summaries,
			Total:     int(counters.BlockCount),
			Page:      page,
			PageSize:  pageSize,
			TotalPage: totalPages(int(counters.BlockCount), pageSize),
		})
	}
}

func (s *Server) blockHandle() func(ctx *gin.Context) {
	return func(ctx *gin.Context) {
		hash := ctx.Param("hash")

		block, err := s.store.GetBlock(hash)
		if err != nil {
			failStore(ctx, err)
			return
		}
		parents, err := s.store.GetBlockParents(hash)
		if err != nil {
			failStore(ctx, err)
			return
		}
		children, err := s.store.GetBlockChildren(hash)
		if err != nil {
			failStore(ctx, err)
			return
		}
		txs, err := s.store.BlockTransactions(hash)
		if err != nil {
			failStore(ctx, err)
			return
		}

		summaries := make([]model.TransactionSummary, 0, len(txs))
		for _, tx := range txs {
			summaries = append(summaries, tx.Summary())
		}
		ok(ctx, gin.H{
			"block":        block,
			"parents":      parents,
			"children":     children,
			"transactions": summaries,
		})
	}
}

func (s *Server) transactionHandle() func(ctx *gin.Context) {
	return func(ctx *gin.Context) {
		hash := ctx.Param("hash")

		tx, err := s.store.GetTransaction(hash)
		if err != nil {
			failStore(ctx, err)
			return
		}
		// Confirmation depth is derived at read time from the sync
		// watermark, not stored per row.
		if tx.IsConfirmed {
			if syncState, err := s.store.SyncState(); err == nil {
				if block, err := s.store.GetBlock(tx.BlockHash); err == nil && syncState.LastBlueScore >= block.BlueScore {
					tx.ConfirmationCount = uint32(syncState.LastBlueScore - block.BlueScore + 1)
				}
			}
		}
		inputs, err := s.store.GetTxInputs(hash)
		if err != nil && err != store.ErrNotFound {
			failStore(ctx, err)
			return
		}
		outputs, err := s.store.GetTxOutputs(hash)
		if err != nil {
			failStore(ctx, err)
			return
		}
		ok(ctx, gin.H{
			"transaction": tx,
			"inputs":      inputs,
			"outputs":     outputs,
		})
	}
}

func (s *Server) addressHandle() func(ctx *gin.Context) {
	return func(ctx *gin.Context) {
		address := ctx.Param("address")

		row, err := s.store.GetAddress(address)
		if err != nil {
			failStore(ctx, err)
			return
		}
		ok(ctx, model.AddressSummary{
			Address:                row,
			BalanceFormatted:       formatAmount(row.Balance),
			TotalReceivedFormatted: formatAmount(row.TotalReceived),
			TotalSentFormatted:     formatAmount(row.TotalSent),
		})
	}
}

func (s *Server) addressUTXOsHandle() func(ctx *gin.Context) {
	return func(ctx *gin.Context) {
		address := ctx.Param("address")
		page, pageSize := pageParams(ctx)

		utxos, total, err := s.store.AddressUTXOs(address, page, pageSize)
		if err != nil {
			failStore(ctx, err)
			return
		}
		ok(ctx, model.PaginatedResponse[model.TxOutput]{
			Data:      utxos,
			Total:     total,
			Page:      page,
			PageSize:  pageSize,
			TotalPage: totalPages(total, pageSize),
		})
	}
}

func (s *Server) addressTxsHandle() func(ctx *gin.Context) {
	return func(ctx *gin.Context) {
		address := ctx.Param("address")
		page, pageSize := pageParams(ctx)

		rows, total, err := s.store.AddressTransactions(address, page, pageSize)
		if err != nil {
			failStore(ctx, err)
			return
		}
		ok(ctx, model.PaginatedResponse[model.AddressTransaction]{
			Data:      rows,
			Total:     total,
			Page:      page,
			PageSize:  pageSize,
			TotalPage: totalPages(total, pageSize),
		})
	}
}

// Hash lookups only run for queries long enough to be hash prefixes;
// anything shorter can only be an address.
const minSearchHashLen = 10

func (s *Server) searchHandle() func(ctx *gin.Context) {
	return func(ctx *gin.Context) {
		query := strings.TrimSpace(ctx.Query("q"))

		results := model.SearchResults{
			Blocks:       []model.BlockSummary{},
			Transactions: []model.TransactionSummary{},
			Addresses:    []model.AddressSummary{},
		}
		if query == "" {
			ok(ctx, results)
			return
		}

		if len(query) >= minSearchHashLen {
			block, err := s.store.GetBlock(query)
			if err != nil && err != store.ErrNotFound {
				failStore(ctx, err)
				return
			}
			if block != nil {
				parents, err := s.store.GetBlockParents(query)
				if err != nil {
					failStore(ctx, err)
					return
				}
				results.Blocks = append(results.Blocks, block.Summary(len(parents)))
			}

			tx, err := s.store.GetTransaction(query)
			if err != nil && err != store.ErrNotFound {
				failStore(ctx, err)
				return
			}
			if tx != nil {
				results.Transactions = append(results.Transactions, tx.Summary())
			}
		}

		row, err := s.store.GetAddress(query)
		if err != nil && err != store.ErrNotFound {
			failStore(ctx, err)
			return
		}
		if row != nil {
			results.Addresses = append(results.Addresses, model.AddressSummary{
				Address:                row,
				BalanceFormatted:       formatAmount(row.Balance),
				TotalReceivedFormatted: formatAmount(row.TotalReceived),
				TotalSentFormatted:     formatAmount(row.TotalSent),
			})
		}

		results.Total = len(results.Blocks) + len(results.Transactions) + len(results.Addresses)
		ok(ctx, results)
	}
}

func (s *Server) mempoolHandle() func(ctx *gin.Context) {
	return func(ctx *gin.Context) {
		rows, err := s.store.MempoolTxs()
		if err != nil {
			failStore(ctx, err)
			return
		}
		counters, err := s.store.Counters()
		if err != nil {
			failStore(ctx, err)
			return
		}
		ok(ctx, gin.H{
			"size":         counters.MempoolSize,
			"bytes":        counters.MempoolBytes,
			"transactions": rows,
		})
	}
}

func (s *Server) statsHandle() func(ctx *gin.Context) {
	return func(ctx *gin.Context) {
		snap, err := s.store.LatestStats()
		if err != nil {
			failStore(ctx, err)
			return
		}
		ok(ctx, snap)
	}
}

func (s *Server) statsHistoryHandle() func(ctx *gin.Context) {
	return func(ctx *gin.Context) {
		limit, _ := strconv.Atoi(ctx.DefaultQuery("limit", "60"))
		if limit <= 0 || limit > 1440 {
			limit = 60
		}
		snaps, err := s.store.StatsHistory(limit)
		if err != nil {
			failStore(ctx, err)
			return
		}
		ok(ctx, snaps)
	}
}

func (s *Server) statusHandle() func(ctx *gin.Context) {
	return func(ctx *gin.Context) {
		syncState, err := s.store.SyncState()
		if err != nil {
			failStore(ctx, err)
			return
		}
		counters, err := s.store.Counters()
		if err != nil {
			failStore(ctx, err)
			return
		}

		resp := gin.H{
			"sync":     syncState,
			"counters": counters,
		}
		if info, err := s.feed.Info(ctx.Request.Context()); err == nil {
			resp["node"] = info
		}
		ok(ctx, resp)
	}
}

func totalPages(total, pageSize int) int {
	if pageSize <= 0 {
		return 0
	}
	return (total + pageSize - 1) / pageSize
}
