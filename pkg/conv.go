package pkg

import "encoding/binary"

// Uint64ToBytes encodes big-endian so lexicographic key order matches numeric order.
func Uint64ToBytes(num uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, num)
	return b
}

func BytesToUint64(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

func Int64ToBytes(num int64) []byte {
	return Uint64ToBytes(uint64(num))
}

func BytesToInt64(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b))
}
