package indexer

import (
	"errors"
	"fmt"

	"github.com/dagscan/dag-indexer/internal/feed"
	"github.com/dagscan/dag-indexer/internal/model"
	"github.com/dagscan/dag-indexer/internal/store"
	"go.uber.org/zap"
)

// ErrDanglingReference reports an input spending an output the index has
// not seen yet. Recoverable: the block is re-queued until the ancestor
// transaction lands, bounded by the retry budget.
var ErrDanglingReference = errors.New("indexer: referenced output not yet indexed")

// buildDelta turns one feed block into the complete mutation set the store
// commits atomically: block and parent rows, confirmed transactions, UTXO
// creations and spends, per-address deltas and mempool confirmations.
// It reads but never writes.
func (p *Pipeline) buildDelta(ev *feed.BlockEvent) (*store.BlockDelta, error) {
	block := *ev.Block

	delta := &store.BlockDelta{
		Block:  &block,
		Inputs: make(map[string][]model.TxInput),
	}
	delta.Parents = make([]model.BlockParent, 0, len(ev.Parents))
	for _, parent := range ev.Parents {
		parent.BlockHash = block.Hash
		delta.Parents = append(delta.Parents, parent)
	}

	if err := p.fillBlueScore(&block, delta.Parents); err != nil {
		return nil, err
	}

	// Outputs created earlier in this block may be spent later in it;
	// track them by outpoint so chained spends resolve locally.
	inflight := make(map[string]int) // outpoint key -> index into delta.Created

	var coinbaseValue uint64
	for i, td := range ev.Transactions {
		tx := *td.Tx
		tx.BlockHash = block.Hash
		tx.BlockHeight = block.Height
		tx.IndexInBlock = uint32(i)
		tx.IsConfirmed = true
		tx.InputCount = uint32(len(td.Inputs))
		tx.OutputCount = uint32(len(td.Outputs))
		if tx.Timestamp == 0 {
			tx.Timestamp = block.Timestamp
		}
		tx.IsCoinbase = i == 0 && !hasRealInputs(td.Inputs)

		received := make(map[string]uint64)
		var outputSum uint64
		for j := range td.Outputs {
			out := td.Outputs[j]
			out.TxHash = tx.Hash
			out.Index = uint32(j)
			out.IsSpent = false
			out.SpentByTxHash = ""
			out.SpentByInputIndex = 0
			outputSum += out.Value

			delta.Created = append(delta.Created, out)
			inflight[store.OutpointKey(out.TxHash, out.Index)] = len(delta.Created) - 1

			if out.Address != "" {
				received[out.Address] += out.Value
				ad := delta.Delta(out.Address)
				ad.Received += out.Value
				ad.UTXOAdded++
			}
		}

		sent := make(map[string]uint64)
		var inputSum uint64
		for j := range td.Inputs {
			in := td.Inputs[j]
			in.TxHash = tx.Hash
			in.Index = uint32(j)
			delta.Inputs[tx.Hash] = append(delta.Inputs[tx.Hash], in)

			if in.PreviousOutpointHash == "" {
				continue // coinbase-style input, nothing to resolve
			}

			addr, value, err := p.resolveSpend(delta, inflight, &in)
			if err != nil {
				return nil, fmt.Errorf("tx %s input %d: %w", tx.Hash, j, err)
			}
			inputSum += value
			if addr != "" {
				sent[addr] += value
				ad := delta.Delta(addr)
				ad.Sent += value
				ad.UTXORemoved++
			}
		}

		tx.Value = outputSum
		if tx.IsCoinbase {
			coinbaseValue += outputSum
			tx.Fee = 0
		} else if inputSum >= outputSum {
			tx.Fee = inputSum - outputSum
		} else {
			// Resolved inputs do not cover the outputs, so whatever fee
			// the feed claimed cannot be trusted.
			p.logger.Warn("input sum below output sum, zeroing fee",
				zap.String("tx", tx.Hash),
				zap.Uint64("inputs", inputSum),
				zap.Uint64("outputs", outputSum))
			tx.Fee = 0
		}

		txp := tx
		delta.Txs = append(delta.Txs, &txp)

		p.recordAddressActivity(delta, &txp, received, sent)

		if row, err := p.store.GetMempoolTx(tx.Hash); err == nil {
			delta.MempoolRemoved = append(delta.MempoolRemoved, *row)
		} else if err != store.ErrNotFound {
			return nil, err
		}
	}

	block.TxCount = uint32(len(delta.Txs))
	block.CoinbaseValue = coinbaseValue
	return delta, nil
}

// resolveSpend resolves an input against in-flight outputs first, then the
// UTXO ledger. It marks the spend in the delta and returns the spent
// output's address and value.
func (p *Pipeline) resolveSpend(delta *store.BlockDelta, inflight map[string]int, in *model.TxInput) (string, uint64, error) {
	key := store.OutpointKey(in.PreviousOutpointHash, in.PreviousOutpointIndex)

	if idx, ok := inflight[key]; ok {
		out := &delta.Created[idx]
		if out.IsSpent {
			return "", 0, fmt.Errorf("in-flight outpoint %s:%d: %w",
				in.PreviousOutpointHash, in.PreviousOutpointIndex, store.ErrAlreadySpent)
		}
		out.IsSpent = true
		out.SpentByTxHash = in.TxHash
		out.SpentByInputIndex = in.Index
		return out.Address, out.Value, nil
	}

	row, err := p.store.GetOutput(in.PreviousOutpointHash, in.PreviousOutpointIndex)
	if err == store.ErrNotFound {
		return "", 0, fmt.Errorf("outpoint %s:%d: %w",
			in.PreviousOutpointHash, in.PreviousOutpointIndex, ErrDanglingReference)
	}
	if err != nil {
		return "", 0, err
	}
	if row.IsSpent {
		return "", 0, fmt.Errorf("outpoint %s:%d spent by %s: %w",
			in.PreviousOutpointHash, in.PreviousOutpointIndex, row.SpentByTxHash, store.ErrAlreadySpent)
	}

	delta.Spent = append(delta.Spent, store.SpentOutput{
		TxHash:            in.PreviousOutpointHash,
		Index:             in.PreviousOutpointIndex,
		SpentByTxHash:     in.TxHash,
		SpentByInputIndex: in.Index,
		Address:           row.Address,
		Value:             row.Value,
	})
	return row.Address, row.Value, nil
}

// recordAddressActivity bumps per-address tx counters once per
// transaction per side and emits the address-transaction link rows.
func (p *Pipeline) recordAddressActivity(delta *store.BlockDelta, tx *model.Transaction, received, sent map[string]uint64) {
	touched := make(map[string]struct{}, len(received)+len(sent))
	for addr, value := range received {
		touched[addr] = struct{}{}
		delta.Delta(addr).ReceivedCount++
		delta.AddrTxs = append(delta.AddrTxs, model.AddressTransaction{
			Address: addr, TxHash: tx.Hash, IsInput: false, Value: value,
		})
	}
	for addr, value := range sent {
		touched[addr] = struct{}{}
		delta.Delta(addr).SentCount++
		delta.AddrTxs = append(delta.AddrTxs, model.AddressTransaction{
			Address: addr, TxHash: tx.Hash, IsInput: true, Value: value,
		})
	}
	for addr := range touched {
		delta.Delta(addr).TxCount++
	}
}

// fillBlueScore takes the feed's blue score when present and otherwise
// derives the fallback max(parent)+1. Either way the result must not
// regress below any parent.
func (p *Pipeline) fillBlueScore(block *model.Block, parents []model.BlockParent) error {
	var maxParent uint64
	for _, parent := range parents {
		pb, err := p.store.GetBlock(parent.ParentHash)
		if err == store.ErrNotFound {
			continue // tolerated for pruned parents; ordering checked them already
		}
		if err != nil {
			return err
		}
		if pb.BlueScore > maxParent {
			maxParent = pb.BlueScore
		}
	}
	if block.BlueScore == 0 && len(parents) > 0 {
		block.BlueScore = maxParent + 1
	}
	if len(parents) > 0 && block.BlueScore < maxParent {
		return fmt.Errorf("block %s blue score %d below parent max %d",
			block.Hash, block.BlueScore, maxParent)
	}
	return nil
}

func hasRealInputs(inputs []model.TxInput) bool {
	for i := range inputs {
		if inputs[i].PreviousOutpointHash != "" {
			return true
		}
	}
	return false
}
