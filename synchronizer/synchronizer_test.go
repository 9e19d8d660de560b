package synchronizer

import (
	"fmt"
	"testing"
	"time"

	"dposchain/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestReceiveBlock_InOrder(t *testing.T) {
	ts := newTestSync(t, 2)
	blocks := makeChain(t, ts.pvs[0], ts.genesis, 3)

	for _, b := range blocks {
		vr, er := ts.ReceiveBlock(b)
		assert.Equal(t, types.ValidationSuccess, vr)
		assert.Equal(t, types.ExecutionSuccess, er)
	}
	assert.Equal(t, uint64(3), ts.kv.CurrentHeight())
	assert.Equal(t, []uint64{1, 2, 3}, ts.recorder.executedHeights())

	// 重复的区块不会再执行
	vr, er := ts.ReceiveBlock(blocks[1])
	assert.Equal(t, types.AlreadyExecuted, vr)
	assert.Equal(t, types.NotExecuted, er)
}

func TestReceiveBlock_FillGap(t *testing.T) {
	ts := newTestSync(t, 2)
	blocks := makeChain(t, ts.pvs[0], ts.genesis, 12)
	ts.receiveAll(t, blocks[:10])
	require.Equal(t, uint64(10), ts.kv.CurrentHeight())

	// 12先到，11后到
	_, er := ts.ReceiveBlock(blocks[11])
	assert.Equal(t, types.CannotExecute, er)
	assert.Equal(t, []uint64{11}, ts.recorder.missingHeights())
	assert.Equal(t, uint64(10), ts.kv.CurrentHeight())

	_, er = ts.ReceiveBlock(blocks[10])
	assert.Equal(t, types.ExecutionSuccess, er)
	assert.Equal(t, uint64(12), ts.kv.CurrentHeight())
	assert.Equal(t, []byte(blocks[11].Hash()), ts.hashAt(t, 12))

	heights := ts.recorder.executedHeights()
	assert.Equal(t, []uint64{11, 12}, heights[len(heights)-2:])
}

func TestReceiveBlock_HeightOrdering(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ts := newTestSync(t, 1)
		n := rapid.IntRange(1, 12).Draw(t, "n").(int)
		blocks := makeChain(t, ts.pvs[0], ts.genesis, n)

		perm := append([]*types.Block(nil), blocks...)
		for i := len(perm) - 1; i > 0; i-- {
			j := rapid.IntRange(0, i).Draw(t, fmt.Sprintf("swap%d", i)).(int)
			perm[i], perm[j] = perm[j], perm[i]
		}
		ts.receiveAll(t, perm)

		require.Equal(t, uint64(n), ts.kv.CurrentHeight())
		heights := ts.recorder.executedHeights()
		require.Len(t, heights, n)
		for i, h := range heights {
			require.Equal(t, uint64(i+1), h)
		}
	})
}

func TestReceiveBlock_RollbackToLongerBranch(t *testing.T) {
	ts := newTestSync(t, 2)
	main := makeChain(t, ts.pvs[0], ts.genesis, 5)
	ts.receiveAll(t, main)
	require.Equal(t, uint64(5), ts.kv.CurrentHeight())

	// 分支从高度3开始，比主链长一个区块
	branch := makeChain(t, ts.pvs[1], main[1], 4)
	ts.receiveAll(t, branch)

	assert.Equal(t, uint64(6), ts.kv.CurrentHeight())
	for _, b := range branch {
		assert.Equal(t, []byte(b.Hash()), ts.hashAt(t, b.Height))
	}
	assert.Equal(t, []byte(main[1].Hash()), ts.hashAt(t, 2))
	assert.NotZero(t, ts.recorder.count(types.EventRollback))
	assert.Nil(t, ts.BlockSet().GetBlockByHash(main[4].Hash()))
}

func TestReceiveBlock_SwitchToLongerBranch(t *testing.T) {
	ts := newTestSync(t, 2)
	main := makeChain(t, ts.pvs[0], ts.genesis, 5)
	ts.receiveAll(t, main)

	branch := makeChain(t, ts.pvs[1], main[1], 4)
	// 分支的最高区块先到，无法连接
	vr, _ := ts.ReceiveBlock(branch[3])
	assert.Equal(t, types.Unlinkable, vr)
	unlinkable := ts.recorder.unlinkableBlocks()
	require.Len(t, unlinkable, 1)
	assert.Equal(t, branch[3].Hash(), unlinkable[0].Hash())

	ts.receiveAll(t, branch[:3])

	assert.Equal(t, uint64(6), ts.kv.CurrentHeight())
	for _, b := range branch {
		assert.Equal(t, []byte(b.Hash()), ts.hashAt(t, b.Height))
	}
	assert.Equal(t, 1, ts.recorder.count(types.EventRollback))
	assert.False(t, ts.branched)
}

func TestReceiveBlock_EqualBranchNotResolved(t *testing.T) {
	ts := newTestSync(t, 2)
	main := makeChain(t, ts.pvs[0], ts.genesis, 5)
	ts.receiveAll(t, main)

	branch := makeChain(t, ts.pvs[1], main[1], 3)
	for _, b := range branch {
		vr, er := ts.ReceiveBlock(b)
		assert.Equal(t, types.BranchedBlock, vr)
		assert.Equal(t, types.NotExecuted, er)
	}

	assert.Equal(t, uint64(5), ts.kv.CurrentHeight())
	assert.Equal(t, []byte(main[4].Hash()), ts.hashAt(t, 5))
	assert.True(t, ts.BlockSet().MultipleBlocksInOneIndex(5))
	assert.Zero(t, ts.recorder.count(types.EventRollback))
}

func TestReceiveBlock_DropUnlinkableBranch(t *testing.T) {
	ts := newTestSync(t, 2)
	main := makeChain(t, ts.pvs[0], ts.genesis, 5)
	ts.receiveAll(t, main)

	branch := makeChain(t, ts.pvs[1], main[1], 3)
	vr, _ := ts.ReceiveBlock(branch[1])
	assert.Equal(t, types.Unlinkable, vr)

	// 父区块未知的分支区块直接丢弃
	orphan := makeChain(t, ts.pvs[1], branch[1], 1)[0]
	vr, _ = ts.ReceiveBlock(orphan)
	assert.Equal(t, types.BranchedBlock, vr)
	assert.Nil(t, ts.BlockSet().GetBlockByHash(orphan.Hash()))
}

func TestReceiveBlock_PauseAndResume(t *testing.T) {
	ts := newTestSync(t, 1)
	blocks := makeChain(t, ts.pvs[0], ts.genesis, 2)

	// 本地时间落后，区块时间超出允许的偏差
	ts.clock.Set(-time.Minute)
	vr, _ := ts.ReceiveBlock(blocks[0])
	assert.Equal(t, types.Pending, vr)
	vr, _ = ts.ReceiveBlock(blocks[1])
	assert.Equal(t, types.Pending, vr)
	assert.Equal(t, 1, ts.recorder.count(types.EventConsensusPause))
	assert.NotNil(t, ts.BlockSet().GetBlockByHash(blocks[0].Hash()))

	ts.clock.Set(0)
	_, er := ts.ReceiveBlock(blocks[0])
	assert.Equal(t, types.ExecutionSuccess, er)
	assert.Equal(t, 1, ts.recorder.count(types.EventConsensusResume))
	// 缓存的第二个区块也被执行
	assert.Equal(t, uint64(2), ts.kv.CurrentHeight())
}

// Pending的区块缓存后不会被重新发送，之后的区块到达时一起执行
func TestReceiveBlock_PendingThenLaterBlock(t *testing.T) {
	ts := newTestSync(t, 1)
	blocks := makeChain(t, ts.pvs[0], ts.genesis, 3)

	ts.clock.Set(-time.Minute)
	vr, _ := ts.ReceiveBlock(blocks[0])
	require.Equal(t, types.Pending, vr)
	require.Equal(t, 1, ts.recorder.count(types.EventConsensusPause))

	ts.clock.Set(0)
	vr, er := ts.ReceiveBlock(blocks[1])
	assert.Equal(t, types.ValidationSuccess, vr)
	assert.Equal(t, types.ExecutionSuccess, er)
	assert.Equal(t, uint64(2), ts.kv.CurrentHeight())
	assert.Equal(t, 1, ts.recorder.count(types.EventConsensusResume))

	_, er = ts.ReceiveBlock(blocks[2])
	assert.Equal(t, types.ExecutionSuccess, er)
	assert.Equal(t, uint64(3), ts.kv.CurrentHeight())
}

func TestSyncUnfinished(t *testing.T) {
	ts := newTestSync(t, 1)
	blocks := makeChain(t, ts.pvs[0], ts.genesis, 2)

	ts.clock.Set(-time.Minute)
	ts.receiveAll(t, blocks)
	require.Equal(t, uint64(0), ts.kv.CurrentHeight())
	assert.Equal(t, uint64(0), ts.SyncUnfinished(), "still pending")

	ts.clock.Set(0)
	assert.Equal(t, uint64(2), ts.SyncUnfinished())
	assert.Equal(t, []byte(blocks[1].Hash()), ts.hashAt(t, 2))
	assert.Equal(t, 1, ts.recorder.count(types.EventConsensusResume))

	// 没有缓存的区块时不变
	assert.Equal(t, uint64(2), ts.SyncUnfinished())
}

func TestReceiveBlock_ReExecuteBounded(t *testing.T) {
	ts := newTestSync(t, 1)
	blocks := makeChain(t, ts.pvs[0], ts.genesis, 2)

	// 临时错误，重试后成功
	ts.db.SetFailures(2)
	_, er := ts.ReceiveBlock(blocks[0])
	assert.Equal(t, types.ExecutionSuccess, er)
	assert.Equal(t, 3, ts.executor.Calls())

	// 一直失败时最多重试MaxReExecution次
	before := ts.executor.Calls()
	ts.db.SetFailures(100)
	_, er = ts.ReceiveBlock(blocks[1])
	assert.Equal(t, types.CanExecuteAgain, er)
	assert.Equal(t, before+1+int(ts.config.MaxReExecution), ts.executor.Calls())
	assert.Equal(t, uint64(1), ts.kv.CurrentHeight())

	ts.db.SetFailures(0)
	_, er = ts.ReceiveBlock(blocks[1])
	assert.Equal(t, types.ExecutionSuccess, er)
}

func TestAddMinedBlock(t *testing.T) {
	ts := newTestSync(t, 1)
	assert.Equal(t, types.DefaultKeepHeight, ts.BlockSet().KeepHeight())

	blocks := makeChain(t, ts.pvs[0], ts.genesis, 2)
	assert.Equal(t, types.ExecutionSuccess, ts.AddMinedBlock(blocks[0]))
	assert.Equal(t, ts.config.MinedKeepHeight, ts.BlockSet().KeepHeight())
	assert.True(t, ts.BlockSet().IsExecuted(blocks[0].Hash()))
	assert.Equal(t, 1, ts.recorder.count(types.EventBlockMined))
	assert.Equal(t, 1, ts.recorder.count(types.EventBlockExecuted))

	// 不连接当前最高区块的区块无法提交
	stale := makeChain(t, ts.pvs[0], ts.genesis, 1)[0]
	assert.Equal(t, types.NotExecuted, ts.AddMinedBlock(stale))
	assert.Equal(t, 1, ts.recorder.count(types.EventBlockMined))
}

func TestGetBlocks(t *testing.T) {
	ts := newTestSync(t, 1)
	blocks := makeChain(t, ts.pvs[0], ts.genesis, 4)
	ts.receiveAll(t, blocks[:3])

	headers, err := ts.GetBlockHeaderList(3, 2)
	require.NoError(t, err)
	require.Len(t, headers, 2)
	assert.Equal(t, uint64(3), headers[0].Height)
	assert.Equal(t, uint64(2), headers[1].Height)

	headers, err = ts.GetBlockHeaderList(10, 10)
	require.NoError(t, err)
	assert.Len(t, headers, 4, "walks down to the genesis block")

	b, err := ts.GetBlockByHash(blocks[1].Hash())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), b.Height)

	// 只在BlockSet中的区块
	future := makeChain(t, ts.pvs[0], blocks[3], 1)[0]
	_, er := ts.ReceiveBlock(future)
	require.Equal(t, types.CannotExecute, er)
	b, err = ts.GetBlockByHash(future.Hash())
	require.NoError(t, err)
	assert.Equal(t, uint64(5), b.Height)

	_, err = ts.GetBlockByHash([]byte("unknown"))
	assert.Error(t, err)
}
