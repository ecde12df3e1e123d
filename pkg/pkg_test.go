package pkg

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUint64BytesOrder(t *testing.T) {
	require.Equal(t, uint64(42), BytesToUint64(Uint64ToBytes(42)))
	require.Equal(t, int64(-7), BytesToInt64(Int64ToBytes(-7)))

	// Big-endian keys must sort like the numbers they encode.
	require.True(t, bytes.Compare(Uint64ToBytes(9), Uint64ToBytes(10)) < 0)
	require.True(t, bytes.Compare(Uint64ToBytes(255), Uint64ToBytes(256)) < 0)
}

func TestPaginate(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}

	require.Equal(t, []int{1, 2}, Paginate(items, 0, 2))
	require.Equal(t, []int{3, 4}, Paginate(items, 1, 2))
	require.Equal(t, []int{5}, Paginate(items, 2, 2))
	require.Empty(t, Paginate(items, 3, 2))
	require.Empty(t, Paginate(items, -1, 2))
	require.Empty(t, Paginate([]int{}, 0, 2))
}
