package types

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type mapChain map[uint64][]byte

func (c mapChain) BlockHashAt(height uint64) ([]byte, bool) {
	h, ok := c[height]
	return h, ok
}

var testGenesisTime = time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)

// extendChain 在parent之后生成n个区块，tag用来区分不同分支
func extendChain(parent *Block, n int, tag string) []*Block {
	blocks := make([]*Block, 0, n)
	prev := parent
	for i := 0; i < n; i++ {
		b := NewBlock(Header{
			ChainID:           "test-chain",
			Height:            prev.Height + 1,
			PreviousBlockHash: prev.Hash(),
			Time:              testGenesisTime.Add(time.Duration(prev.Height+1) * time.Second),
			ProducerAddress:   Address(fmt.Sprintf("producer-%s-%020d", tag, prev.Height+1))[:20],
		}, Txs{})
		blocks = append(blocks, b)
		prev = b
	}
	return blocks
}

func TestBlockSet_AddBlockAndLookup(t *testing.T) {
	genesis := MakeGenesisBlock("test-chain", testGenesisTime)
	main := extendChain(genesis, 3, "a")
	fork := extendChain(main[0], 2, "b")

	bs := NewBlockSet()
	for _, b := range append(main, fork...) {
		bs.AddBlock(b)
	}
	bs.AddBlock(main[1])

	assert.Equal(t, 5, bs.Size(), "duplicate block should be ignored")
	assert.Len(t, bs.GetBlockByHeight(2), 2)
	assert.True(t, bs.MultipleBlocksInOneIndex(2))
	assert.False(t, bs.MultipleBlocksInOneIndex(1))
	assert.Equal(t, fork[1], bs.GetBlockByHash(fork[1].Hash()))
	assert.Nil(t, bs.GetBlockByHash([]byte("unknown")))
	assert.Equal(t, []uint64{1, 2, 3}, bs.Heights())
}

func TestBlockSet_KeepHeightEviction(t *testing.T) {
	genesis := MakeGenesisBlock("test-chain", testGenesisTime)
	chain := extendChain(genesis, 10, "a")

	bs := NewBlockSet()
	for _, b := range chain {
		bs.Tell(b)
	}
	assert.Equal(t, 10, bs.Size(), "unbounded retention keeps everything")

	bs.SetKeepHeight(3)
	more := extendChain(chain[9], 1, "a")
	bs.Tell(more[0])

	// height 11 - 3 = 8, heights below 8 are evicted
	assert.Equal(t, []uint64{8, 9, 10, 11}, bs.Heights())
	assert.False(t, bs.IsExecuted(chain[0].Hash()))
	assert.True(t, bs.IsExecuted(more[0].Hash()))
}

func TestBlockSet_InformRollbackRemovesExecutedOnly(t *testing.T) {
	genesis := MakeGenesisBlock("test-chain", testGenesisTime)
	main := extendChain(genesis, 3, "a")
	fork := extendChain(main[0], 3, "b")

	bs := NewBlockSet()
	for _, b := range main {
		bs.Tell(b)
	}
	for _, b := range fork {
		bs.AddBlock(b)
	}

	removed := bs.InformRollback(2, 3)
	assert.Equal(t, 2, removed)
	assert.Nil(t, bs.GetBlockByHash(main[1].Hash()))
	assert.Nil(t, bs.GetBlockByHash(main[2].Hash()))
	assert.NotNil(t, bs.GetBlockByHash(fork[0].Hash()))
	assert.NotNil(t, bs.GetBlockByHash(main[0].Hash()))
}

func TestBlockSet_AnyLongerValidChain(t *testing.T) {
	genesis := MakeGenesisBlock("test-chain", testGenesisTime)
	main := extendChain(genesis, 5, "a")

	chain := mapChain{0: genesis.Hash()}
	for _, b := range main {
		chain[b.Height] = b.Hash()
	}
	bs := NewBlockSet(WithChainReader(chain))
	for _, b := range main {
		bs.Tell(b)
	}

	// 同样长度的分支不触发切换
	equal := extendChain(main[1], 3, "b")
	for _, b := range equal {
		bs.AddBlock(b)
	}
	assert.Equal(t, uint64(0), bs.AnyLongerValidChain(5))

	// 更长的分支，分叉点为3
	longer := extendChain(main[1], 5, "c")
	for _, b := range longer {
		bs.AddBlock(b)
	}
	assert.Equal(t, uint64(3), bs.AnyLongerValidChain(5))

	// 缺少中间区块的分支无法连接
	broken := extendChain(main[0], 7, "d")
	for _, b := range broken[1:] {
		bs.AddBlock(b)
	}
	assert.Equal(t, uint64(3), bs.AnyLongerValidChain(5))
	assert.False(t, bs.IsLinkable(broken[6]))
	assert.True(t, bs.IsLinkable(longer[4]))
}

func TestBlockSet_AnyLongerValidChainIgnoresExtension(t *testing.T) {
	genesis := MakeGenesisBlock("test-chain", testGenesisTime)
	main := extendChain(genesis, 3, "a")

	bs := NewBlockSet(WithChainReader(mapChain{0: genesis.Hash()}))
	for _, b := range main[:2] {
		bs.Tell(b)
	}
	bs.AddBlock(main[2])

	// 直接接在当前最高区块之后的区块不是分叉
	assert.Equal(t, uint64(0), bs.AnyLongerValidChain(2))
}

func TestBlockSet_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		genesis := MakeGenesisBlock("test-chain", testGenesisTime)
		mainLen := rapid.IntRange(1, 12).Draw(t, "mainLen").(int)
		forkAt := rapid.IntRange(0, mainLen-1).Draw(t, "forkAt").(int)
		forkLen := rapid.IntRange(1, 15).Draw(t, "forkLen").(int)

		main := extendChain(genesis, mainLen, "main")
		parent := genesis
		if forkAt > 0 {
			parent = main[forkAt-1]
		}
		fork := extendChain(parent, forkLen, "fork")

		chain := mapChain{0: genesis.Hash()}
		for _, b := range main {
			chain[b.Height] = b.Hash()
		}
		bs := NewBlockSet(WithChainReader(chain))
		for _, b := range main {
			bs.Tell(b)
		}
		for _, b := range fork {
			bs.AddBlock(b)
		}

		current := uint64(mainLen)
		got := bs.AnyLongerValidChain(current)
		forkTip := uint64(forkAt + forkLen)
		if forkTip > current {
			require.Equal(t, uint64(forkAt+1), got)
		} else {
			require.Equal(t, uint64(0), got)
		}

		for h := uint64(1); h <= current; h++ {
			multiple := h > uint64(forkAt) && h <= forkTip
			require.Equal(t, multiple, bs.MultipleBlocksInOneIndex(h))
		}
	})
}
