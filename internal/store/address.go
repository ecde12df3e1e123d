package store

import (
	"fmt"

	"github.com/dagscan/dag-indexer/internal/model"
	"github.com/dagscan/dag-indexer/pkg"
)

// GetAddress returns the aggregate row for one address.
func (s *Store) GetAddress(address string) (*model.Address, error) {
	row := &model.Address{}
	if err := s.get(addressKeyPrefix+address, row); err != nil {
		return nil, err
	}
	return row, nil
}

// AddressTransactions returns the link rows of an address, most recent
// write order not guaranteed.
func (s *Store) AddressTransactions(address string, page, pageSize int) ([]model.AddressTransaction, int, error) {
	it, err := s.prefixIterator(addressTxKeyPrefix + address + ":")
	if err != nil {
		return nil, 0, err
	}
	defer it.Close()

	var rows []model.AddressTransaction
	for ; it.Valid(); it.Next() {
		var row model.AddressTransaction
		if err := unmarshalRow(it.Value(), &row); err != nil {
			return nil, 0, err
		}
		rows = append(rows, row)
	}
	if err := it.Error(); err != nil {
		return nil, 0, err
	}
	total := len(rows)
	return pkg.Paginate(rows, page, pageSize), total, nil
}

// applyAddressDelta folds one block's effect into an aggregate row.
// first_seen is set only if unset; last_seen only ever advances.
func applyAddressDelta(row *model.Address, d *AddressDelta) error {
	if d.Sent > row.Balance+d.Received {
		return fmt.Errorf("address %s: delta overdraws balance %d (received %d, sent %d)",
			row.Address, row.Balance, d.Received, d.Sent)
	}
	row.TotalReceived += d.Received
	row.TotalSent += d.Sent
	row.Balance = row.TotalReceived - row.TotalSent
	row.ReceivedCount += d.ReceivedCount
	row.SentCount += d.SentCount
	row.TxCount += d.TxCount
	row.UTXOCount = row.UTXOCount + d.UTXOAdded - d.UTXORemoved

	if row.FirstSeenTimestamp == 0 {
		row.FirstSeenHeight = d.SeenHeight
		row.FirstSeenTimestamp = d.SeenTimestamp
	}
	if d.SeenHeight > row.LastSeenHeight {
		row.LastSeenHeight = d.SeenHeight
	}
	if d.SeenTimestamp > row.LastSeenTimestamp {
		row.LastSeenTimestamp = d.SeenTimestamp
	}
	return nil
}

// revertAddressDelta is the exact inverse of applyAddressDelta, except for
// the seen watermarks, which only matter for display and are left as-is
// unless the row empties out entirely.
func revertAddressDelta(row *model.Address, d *AddressDelta) error {
	if d.Received > row.TotalReceived || d.Sent > row.TotalSent {
		return fmt.Errorf("address %s: revert exceeds recorded totals", row.Address)
	}
	row.TotalReceived -= d.Received
	row.TotalSent -= d.Sent
	row.Balance = row.TotalReceived - row.TotalSent
	row.ReceivedCount -= d.ReceivedCount
	row.SentCount -= d.SentCount
	row.TxCount -= d.TxCount
	row.UTXOCount = row.UTXOCount - d.UTXOAdded + d.UTXORemoved
	return nil
}

// addressEmpty reports whether an aggregate row carries no history at all
// and can be deleted after a revert.
func addressEmpty(row *model.Address) bool {
	return row.TxCount == 0 && row.TotalReceived == 0 && row.TotalSent == 0 && row.UTXOCount == 0
}

func addressTxKey(row model.AddressTransaction) string {
	side := "0"
	if row.IsInput {
		side = "1"
	}
	return addressTxKeyPrefix + row.Address + ":" + row.TxHash + ":" + side
}
