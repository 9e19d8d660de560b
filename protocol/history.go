package protocol

import (
	lru "github.com/hashicorp/golang-lru"
)

// recentHashes 最近收到的区块或交易hash，容量固定，先进先出
// 只用Contains/ContainsOrAdd，不会刷新已有元素的顺序
type recentHashes struct {
	cache *lru.Cache
}

func newRecentHashes(size int) *recentHashes {
	cache, err := lru.New(size)
	if err != nil {
		panic(err)
	}
	return &recentHashes{cache: cache}
}

// Seen 已经见过返回true，否则记录下来返回false
func (h *recentHashes) Seen(hash []byte) bool {
	ok, _ := h.cache.ContainsOrAdd(string(hash), struct{}{})
	return ok
}

func (h *recentHashes) Add(hash []byte) {
	h.cache.ContainsOrAdd(string(hash), struct{}{})
}

func (h *recentHashes) Contains(hash []byte) bool {
	return h.cache.Contains(string(hash))
}

func (h *recentHashes) Len() int {
	return h.cache.Len()
}
