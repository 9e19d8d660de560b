package consensus

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"dposchain/config"
	mempl "dposchain/mempool"
	"dposchain/state"
	"dposchain/store"
	"dposchain/types"

	"github.com/stretchr/testify/require"
	"github.com/tendermint/tendermint/libs/events"
	"github.com/tendermint/tendermint/libs/log"
	"github.com/tendermint/tm-db/memdb"
)

const testChainID = "consensus_test"

type testNode struct {
	genDoc  *types.GenesisDoc
	pvs     []types.MockPV
	kv      *store.KVStore
	mempool *mempl.ListMempool
	exec    *state.BlockExecutor
	evsw    events.EventSwitch
}

func newTestNode(t *testing.T, n int, interval time.Duration) *testNode {
	logger := log.TestingLogger()
	pvs := make([]types.MockPV, n)
	producers := make([]types.GenesisProducer, n)
	for i := 0; i < n; i++ {
		pvs[i] = types.NewMockPVWithSeed(fmt.Sprintf("dpos-producer-%d", i))
		pub, err := pvs[i].GetPubKey()
		require.NoError(t, err)
		producers[i] = types.GenesisProducer{PubKey: pub, Name: fmt.Sprintf("p%d", i)}
	}
	genDoc := &types.GenesisDoc{
		ChainID:        testChainID,
		GenesisTime:    time.Now().UTC(),
		MiningInterval: interval,
		Producers:      producers,
	}
	require.NoError(t, genDoc.ValidateAndComplete())

	kv, err := store.NewKVStoreWithDB(memdb.NewDB(), logger)
	require.NoError(t, err)
	_, err = state.InitChain(kv, genDoc)
	require.NoError(t, err)

	mem := mempl.NewListMempool(config.DefaultMempoolConfig(), 0)
	mem.SetLogger(logger)

	evsw := events.NewEventSwitch()
	require.NoError(t, evsw.Start())
	t.Cleanup(func() { _ = evsw.Stop() })

	return &testNode{
		genDoc:  genDoc,
		pvs:     pvs,
		kv:      kv,
		mempool: mem,
		exec:    state.NewBlockExecutor(kv, mem, logger),
		evsw:    evsw,
	}
}

func (tn *testNode) SyncUnfinished() uint64 {
	return tn.kv.CurrentHeight()
}

// AddMinedBlock 执行区块并发布EventBlockExecuted，代替同步器
func (tn *testNode) AddMinedBlock(block *types.Block) types.BlockExecutionResult {
	res := tn.exec.ExecuteBlock(block)
	if res.IsSuccess() {
		tn.evsw.FireEvent(types.EventBlockExecuted, types.EventDataBlock{Block: block})
	}
	return res
}

func (tn *testNode) newDPoS(t *testing.T, cfg *config.DPoSConfig, idx int, miner BlockMiner, options ...DPoSOption) *DPoS {
	if miner == nil {
		m, err := state.NewMiner(testChainID, tn.kv, tn.mempool, tn.pvs[idx], 100, tn, log.TestingLogger())
		require.NoError(t, err)
		miner = m
	}
	dpos, err := NewDPoS(cfg, tn.kv, tn.mempool, miner, tn.pvs[idx], tn.evsw, options...)
	require.NoError(t, err)
	dpos.SetLogger(log.NewFilter(log.TestingLogger(), log.AllowDebug()))
	return dpos
}

// commit 由pv产出包含txs的区块并执行
func (tn *testNode) commit(t *testing.T, pv types.MockPV, round uint64, txs types.Txs) *types.Block {
	block := types.MakeBlock(testChainID, tn.kv.CurrentHeight()+1, tn.kv.CurrentHash(), round, pv.Address(), txs)
	require.NoError(t, pv.SignBlock(testChainID, block))
	require.Equal(t, types.ExecutionSuccess, tn.exec.ExecuteBlock(block))
	return block
}

func (tn *testNode) state(t *testing.T) *state.ConsensusState {
	cs, err := state.LoadConsensusState(tn.kv)
	require.NoError(t, err)
	return cs
}

// blockingMiner 阻塞到release被关闭，记录同时在出块的任务数
type blockingMiner struct {
	mtx       sync.Mutex
	active    int
	maxActive int
	mined     int

	entered chan struct{}
	release chan struct{}
}

func newBlockingMiner() *blockingMiner {
	return &blockingMiner{
		entered: make(chan struct{}, 16),
		release: make(chan struct{}),
	}
}

func (m *blockingMiner) Mine(roundNumber uint64) (*types.Block, error) {
	m.mtx.Lock()
	m.active++
	if m.active > m.maxActive {
		m.maxActive = m.active
	}
	m.mtx.Unlock()

	m.entered <- struct{}{}
	<-m.release

	m.mtx.Lock()
	m.active--
	m.mined++
	m.mtx.Unlock()
	return types.MakeBlock(testChainID, 1, nil, roundNumber, nil, nil), nil
}
