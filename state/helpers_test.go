package state

import (
	"fmt"
	"testing"
	"time"

	"dposchain/config"
	mempl "dposchain/mempool"
	"dposchain/store"
	"dposchain/types"

	"github.com/stretchr/testify/require"
	"github.com/tendermint/tendermint/libs/log"
	"github.com/tendermint/tm-db/memdb"
)

const testChainID = "state_test"

var testGenesisTime = time.Date(2021, 6, 1, 0, 0, 0, 0, time.UTC)

type testChain struct {
	genDoc   *types.GenesisDoc
	pvs      []types.MockPV
	kv       *store.KVStore
	db       *store.FaultyDB
	mempool  *mempl.ListMempool
	blockSet *types.BlockSet
	exec     *BlockExecutor
}

func newTestChain(t *testing.T, n int) *testChain {
	pvs := make([]types.MockPV, n)
	producers := make([]types.GenesisProducer, n)
	for i := 0; i < n; i++ {
		pvs[i] = types.NewMockPVWithSeed(fmt.Sprintf("producer-%d", i))
		pub, err := pvs[i].GetPubKey()
		require.NoError(t, err)
		producers[i] = types.GenesisProducer{PubKey: pub, Name: fmt.Sprintf("p%d", i)}
	}
	genDoc := &types.GenesisDoc{
		ChainID:        testChainID,
		GenesisTime:    testGenesisTime,
		MiningInterval: time.Second,
		Producers:      producers,
	}
	require.NoError(t, genDoc.ValidateAndComplete())

	db := store.NewFaultyDB(memdb.NewDB(), 0)
	kv, err := store.NewKVStoreWithDB(db, log.TestingLogger())
	require.NoError(t, err)
	_, err = InitChain(kv, genDoc)
	require.NoError(t, err)

	mem := mempl.NewListMempool(config.DefaultMempoolConfig(), 0)
	mem.SetLogger(log.TestingLogger())

	return &testChain{
		genDoc:   genDoc,
		pvs:      pvs,
		kv:       kv,
		db:       db,
		mempool:  mem,
		blockSet: types.NewBlockSet(types.WithChainReader(kv)),
		exec:     NewBlockExecutor(kv, mem, log.TestingLogger()),
	}
}

func (tc *testChain) pv(addr types.Address) types.MockPV {
	for _, pv := range tc.pvs {
		if pv.Address().Equal(addr) {
			return pv
		}
	}
	panic(fmt.Sprintf("unknown producer %v", addr))
}

// makeBlock 在prev之上由pv产出一个已签名的区块
func (tc *testChain) makeBlock(t *testing.T, pv types.MockPV, height uint64, prev []byte, txs types.Txs) *types.Block {
	b := types.MakeBlock(testChainID, height, prev, 1, pv.Address(), txs)
	require.NoError(t, pv.SignBlock(testChainID, b))
	return b
}

func (tc *testChain) context() types.ChainContext {
	return types.ChainContext{
		ChainID:            testChainID,
		CurrentBlockHash:   tc.kv.CurrentHash(),
		CurrentBlockHeight: tc.kv.CurrentHeight(),
	}
}

func (tc *testChain) state(t *testing.T) *ConsensusState {
	cs, err := LoadConsensusState(tc.kv)
	require.NoError(t, err)
	return cs
}

type paramsEncoder interface {
	Params() ([][]byte, error)
}

func consensusTx(t *testing.T, pv types.MockPV, method string, input paramsEncoder) *types.Transaction {
	params, err := input.Params()
	require.NoError(t, err)
	tx := &types.Transaction{
		From:       pv.Address(),
		To:         types.ConsensusContractAddress,
		MethodName: method,
		Params:     params,
		Type:       types.DPoSTransaction,
		Time:       time.Now().UTC(),
	}
	require.NoError(t, pv.SignTransaction(tx))
	return tx
}

func initializeTx(t *testing.T, tc *testChain, start time.Time) *types.Transaction {
	ps := tc.genDoc.ProducerSet()
	return consensusTx(t, tc.pvs[0], MethodInitializeConsensus, InitializeConsensusInput{
		Producers:      ps,
		FirstRounds:    types.GenerateFirstRounds(ps.Addresses(), start, time.Second),
		MiningInterval: time.Second,
	})
}
