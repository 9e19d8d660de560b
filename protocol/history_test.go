package protocol

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecentHashes_FIFOEviction(t *testing.T) {
	h := newRecentHashes(15)

	for i := 0; i < 15; i++ {
		assert.False(t, h.Seen([]byte(fmt.Sprintf("hash-%d", i))))
	}
	// 再次看到不会刷新顺序
	assert.True(t, h.Seen([]byte("hash-0")))
	assert.Equal(t, 15, h.Len())

	assert.False(t, h.Seen([]byte("hash-15")))
	assert.False(t, h.Contains([]byte("hash-0")), "oldest hash is evicted first")
	assert.True(t, h.Contains([]byte("hash-1")))
	assert.Equal(t, 15, h.Len())

	h.Add([]byte("hash-1"))
	h.Add([]byte("hash-16"))
	assert.False(t, h.Contains([]byte("hash-1")))
}
