package store

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/dagscan/dag-indexer/internal/model"
	"github.com/dagscan/dag-indexer/pkg"
	"github.com/scylladb/go-set/strset"
)

// OutpointKey identifies an output as stored: u:<tx>:<index>.
func OutpointKey(txHash string, index uint32) string {
	return fmt.Sprintf("%s%s:%d", utxoKeyPrefix, txHash, index)
}

// GetOutput returns one output row.
func (s *Store) GetOutput(txHash string, index uint32) (*model.TxOutput, error) {
	out := &model.TxOutput{}
	if err := s.get(OutpointKey(txHash, index), out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetTxOutputs returns all outputs of a transaction in index order.
func (s *Store) GetTxOutputs(txHash string) ([]model.TxOutput, error) {
	it, err := s.prefixIterator(utxoKeyPrefix + txHash + ":")
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var outs []model.TxOutput
	for ; it.Valid(); it.Next() {
		var out model.TxOutput
		if err := unmarshalRow(it.Value(), &out); err != nil {
			return nil, err
		}
		outs = append(outs, out)
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	// Keys sort lexicographically, so decimal indexes come back out of
	// numeric order past index 9.
	sort.Slice(outs, func(i, j int) bool { return outs[i].Index < outs[j].Index })
	return outs, nil
}

// AddressUTXOs returns one page of an address's unspent outputs plus the
// total unspent count.
func (s *Store) AddressUTXOs(address string, page, pageSize int) ([]model.TxOutput, int, error) {
	keys, err := s.addressUtxoSet(address)
	if err != nil {
		return nil, 0, err
	}
	members := keys.List()
	sort.Strings(members)

	total := len(members)
	pageKeys := pkg.Paginate(members, page, pageSize)

	outs := make([]model.TxOutput, 0, len(pageKeys))
	for _, key := range pageKeys {
		var out model.TxOutput
		if err := s.get(key, &out); err != nil {
			return nil, 0, fmt.Errorf("utxo set points at missing row %q: %w", key, err)
		}
		if out.Address != address {
			return nil, 0, fmt.Errorf("utxo set anomaly: row %q belongs to %q", key, out.Address)
		}
		outs = append(outs, out)
	}
	return outs, total, nil
}

// addressUtxoSet loads the unspent outpoint-key set of an address.
func (s *Store) addressUtxoSet(address string) (*strset.Set, error) {
	val, err := s.db.Get([]byte(addressUtxoKeyPrefix + address))
	if err != nil {
		return nil, err
	}
	if len(val) == 0 {
		return strset.New(), nil
	}
	var members []string
	if err := json.Unmarshal(val, &members); err != nil {
		return nil, err
	}
	return strset.New(members...), nil
}

func mergeUtxoSet(base, add, del *strset.Set) *strset.Set {
	if add != nil {
		base.Add(add.List()...)
	}
	if del != nil {
		base.Remove(del.List()...)
	}
	return base
}
