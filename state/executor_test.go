package state

import (
	"testing"
	"time"

	mempl "dposchain/mempool"
	"dposchain/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteBlock(t *testing.T) {
	tc := newTestChain(t, 3)
	genesis := tc.kv.CurrentHash()

	initTx := initializeTx(t, tc, time.Now())
	b1 := tc.makeBlock(t, tc.pvs[0], 1, genesis, types.Txs{initTx})
	require.Equal(t, types.ExecutionSuccess, tc.exec.ExecuteBlock(b1))
	assert.Equal(t, uint64(1), tc.kv.CurrentHeight())
	assert.True(t, tc.state(t).IsInitialized())

	// 缺少高度2
	b3 := tc.makeBlock(t, tc.pvs[1], 3, []byte("unknown parent hash"), nil)
	assert.Equal(t, types.CannotExecute, tc.exec.ExecuteBlock(b3))

	// 不连接当前最高区块
	sibling := tc.makeBlock(t, tc.pvs[1], 1, genesis, nil)
	onSibling := tc.makeBlock(t, tc.pvs[2], 2, sibling.Hash(), nil)
	assert.Equal(t, types.NeedToRollback, tc.exec.ExecuteBlock(onSibling))

	assert.Equal(t, types.NotExecuted, tc.exec.ExecuteBlock(sibling))
}

func TestExecuteBlockSkipsInvalidConsensusTx(t *testing.T) {
	tc := newTestChain(t, 2)

	bogus := consensusTx(t, tc.pvs[0], MethodUpdateRound, UpdateRoundInput{})
	b1 := tc.makeBlock(t, tc.pvs[0], 1, tc.kv.CurrentHash(), types.Txs{bogus})
	require.Equal(t, types.ExecutionSuccess, tc.exec.ExecuteBlock(b1))
	assert.Equal(t, uint64(1), tc.kv.CurrentHeight())
	assert.False(t, tc.state(t).IsInitialized())
}

func TestExecuteBlockTransientFailure(t *testing.T) {
	tc := newTestChain(t, 2)
	b1 := tc.makeBlock(t, tc.pvs[0], 1, tc.kv.CurrentHash(), nil)

	tc.db.SetFailures(1)
	assert.Equal(t, types.CanExecuteAgain, tc.exec.ExecuteBlock(b1))
	assert.Equal(t, uint64(0), tc.kv.CurrentHeight())
	assert.Equal(t, types.ExecutionSuccess, tc.exec.ExecuteBlock(b1))
}

func TestExecuteBlockUpdatesMempool(t *testing.T) {
	tc := newTestChain(t, 2)
	tx := &types.Transaction{
		From:       tc.pvs[1].Address(),
		To:         tc.pvs[0].Address(),
		MethodName: "Transfer",
		Type:       types.ContractTransaction,
		Time:       testGenesisTime,
	}
	require.Equal(t, types.TxSuccess, tc.mempool.Submit(tx, mempl.TxInfo{}))

	b1 := tc.makeBlock(t, tc.pvs[0], 1, tc.kv.CurrentHash(), types.Txs{tx})
	require.Equal(t, types.ExecutionSuccess, tc.exec.ExecuteBlock(b1))
	assert.False(t, tc.mempool.HasTx(tx.Hash()))
	assert.Equal(t, uint64(1), tc.mempool.Height())
}

func TestRollbackRestoresConsensusState(t *testing.T) {
	tc := newTestChain(t, 2)

	b1 := tc.makeBlock(t, tc.pvs[0], 1, tc.kv.CurrentHash(), types.Txs{initializeTx(t, tc, time.Now())})
	require.Equal(t, types.ExecutionSuccess, tc.exec.ExecuteBlock(b1))
	require.True(t, tc.state(t).IsInitialized())

	_, err := tc.kv.RollbackOneBlock()
	require.NoError(t, err)
	assert.False(t, tc.state(t).IsInitialized())
}
