package synchronizer

import (
	"fmt"
	"sync"
	"time"

	"dposchain/config"
	"dposchain/mempool/mock"
	"dposchain/state"
	"dposchain/store"
	"dposchain/types"

	"github.com/stretchr/testify/require"
	"github.com/tendermint/tendermint/libs/events"
	"github.com/tendermint/tendermint/libs/log"
	"github.com/tendermint/tm-db/memdb"
)

const testChainID = "sync_test"

type testClock struct {
	mtx    sync.Mutex
	offset time.Duration
}

func (c *testClock) Now() time.Time {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return time.Now().Add(c.offset)
}

func (c *testClock) Set(offset time.Duration) {
	c.mtx.Lock()
	c.offset = offset
	c.mtx.Unlock()
}

// eventRecorder 记录同步器发布的事件
type eventRecorder struct {
	mtx    sync.Mutex
	events []string
	data   []events.EventData
}

func (r *eventRecorder) listen(t require.TestingT, evsw events.EventSwitch, names ...string) {
	for _, name := range names {
		name := name
		require.NoError(t, evsw.AddListenerForEvent("recorder", name, func(data events.EventData) {
			r.mtx.Lock()
			r.events = append(r.events, name)
			r.data = append(r.data, data)
			r.mtx.Unlock()
		}))
	}
}

func (r *eventRecorder) count(name string) int {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	n := 0
	for _, e := range r.events {
		if e == name {
			n++
		}
	}
	return n
}

// executedHeights BlockExecuted事件中的区块高度，按发布顺序
func (r *eventRecorder) executedHeights() []uint64 {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	heights := []uint64{}
	for i, e := range r.events {
		if e == types.EventBlockExecuted {
			heights = append(heights, r.data[i].(types.EventDataBlock).Block.Height)
		}
	}
	return heights
}

func (r *eventRecorder) missingHeights() []uint64 {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	heights := []uint64{}
	for i, e := range r.events {
		if e == types.EventMissingBlock {
			heights = append(heights, r.data[i].(types.EventDataMissingBlock).Height)
		}
	}
	return heights
}

func (r *eventRecorder) unlinkableBlocks() []*types.Block {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	var blocks []*types.Block
	for i, e := range r.events {
		if e == types.EventUnlinkableBlock {
			blocks = append(blocks, r.data[i].(types.EventDataBlock).Block)
		}
	}
	return blocks
}

// countingExecutor 记录执行次数
type countingExecutor struct {
	Executor
	mtx   sync.Mutex
	calls int
}

func (e *countingExecutor) ExecuteBlock(block *types.Block) types.BlockExecutionResult {
	e.mtx.Lock()
	e.calls++
	e.mtx.Unlock()
	return e.Executor.ExecuteBlock(block)
}

func (e *countingExecutor) Calls() int {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	return e.calls
}

type testSync struct {
	*Synchronizer
	pvs      []types.MockPV
	kv       *store.KVStore
	db       *store.FaultyDB
	executor *countingExecutor
	clock    *testClock
	recorder *eventRecorder
	genesis  *types.Block
}

func newTestSync(t require.TestingT, n int) *testSync {
	logger := log.TestingLogger()
	pvs := make([]types.MockPV, n)
	producers := make([]types.GenesisProducer, n)
	for i := 0; i < n; i++ {
		pvs[i] = types.NewMockPVWithSeed(fmt.Sprintf("sync-producer-%d", i))
		pub, err := pvs[i].GetPubKey()
		require.NoError(t, err)
		producers[i] = types.GenesisProducer{PubKey: pub, Name: fmt.Sprintf("p%d", i)}
	}
	genDoc := &types.GenesisDoc{
		ChainID:        testChainID,
		GenesisTime:    time.Date(2021, 6, 1, 0, 0, 0, 0, time.UTC),
		MiningInterval: time.Second,
		Producers:      producers,
	}
	require.NoError(t, genDoc.ValidateAndComplete())

	db := store.NewFaultyDB(memdb.NewDB(), 0)
	kv, err := store.NewKVStoreWithDB(db, logger)
	require.NoError(t, err)
	genesis, err := state.InitChain(kv, genDoc)
	require.NoError(t, err)

	clock := &testClock{}
	blockSet := types.NewBlockSet(types.WithChainReader(kv))
	validator := state.NewBlockValidator(kv, blockSet, genDoc.ProducerSet(), time.Second, logger,
		state.WithClock(clock.Now))
	executor := &countingExecutor{Executor: state.NewBlockExecutor(kv, mock.Mempool{}, logger)}

	evsw := events.NewEventSwitch()
	recorder := &eventRecorder{}
	recorder.listen(t, evsw,
		types.EventBlockExecuted, types.EventBlockMined, types.EventConsensusPause,
		types.EventConsensusResume, types.EventMissingBlock, types.EventRollback, types.EventUnlinkableBlock)

	s := NewSynchronizer(config.TestSyncConfig(), testChainID, kv, blockSet, validator, executor, evsw)
	s.SetLogger(logger)

	return &testSync{
		Synchronizer: s,
		pvs:          pvs,
		kv:           kv,
		db:           db,
		executor:     executor,
		clock:        clock,
		recorder:     recorder,
		genesis:      genesis,
	}
}

// makeChain 在parent之后由pv产出n个已签名的区块
func makeChain(t require.TestingT, pv types.MockPV, parent *types.Block, n int) []*types.Block {
	blocks := make([]*types.Block, 0, n)
	prev := parent
	for i := 0; i < n; i++ {
		b := types.MakeBlock(testChainID, prev.Height+1, prev.Hash(), 1, pv.Address(), nil)
		require.NoError(t, pv.SignBlock(testChainID, b))
		blocks = append(blocks, b)
		prev = b
	}
	return blocks
}

func (ts *testSync) receiveAll(t require.TestingT, blocks []*types.Block) {
	for _, b := range blocks {
		ts.ReceiveBlock(b)
	}
}

func (ts *testSync) hashAt(t require.TestingT, height uint64) []byte {
	hash, ok := ts.kv.BlockHashAt(height)
	require.True(t, ok, "no block at %d", height)
	return hash
}
