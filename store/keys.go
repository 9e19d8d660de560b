package store

import (
	"github.com/google/orderedcode"
)

const (
	prefixMeta     = int64(1)
	prefixBlock    = int64(2)
	prefixHash     = int64(3)
	prefixSnapshot = int64(4)
)

func metaKey() []byte {
	key, err := orderedcode.Append(nil, prefixMeta)
	if err != nil {
		panic(err)
	}
	return key
}

// blockKey (2, height) -> block
func blockKey(height uint64) []byte {
	key, err := orderedcode.Append(nil, prefixBlock, height)
	if err != nil {
		panic(err)
	}
	return key
}

// hashKey (3, hash) -> height
func hashKey(hash []byte) []byte {
	key, err := orderedcode.Append(nil, prefixHash, string(hash))
	if err != nil {
		panic(err)
	}
	return key
}

// snapshotKey (4, height) -> 执行完该高度区块后的共识状态
func snapshotKey(height uint64) []byte {
	key, err := orderedcode.Append(nil, prefixSnapshot, height)
	if err != nil {
		panic(err)
	}
	return key
}

func parseHeight(key []byte) (uint64, error) {
	var (
		prefix int64
		height uint64
	)
	if _, err := orderedcode.Parse(string(key), &prefix, &height); err != nil {
		return 0, err
	}
	return height, nil
}
