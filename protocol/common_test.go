package protocol

import (
	"fmt"
	"sync"
	"testing"

	"dposchain/config"
	"dposchain/mempool"
	"dposchain/types"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/tendermint/tendermint/libs/events"
	"github.com/tendermint/tendermint/libs/log"
	"github.com/tendermint/tendermint/p2p"
)

const testChainID = "protocol_test"

type sentMsg struct {
	chID byte
	msg  *Message
}

// fakePeer 记录发给它的消息
type fakePeer struct {
	id p2p.ID

	mtx  sync.Mutex
	sent []sentMsg
}

func newFakePeers(n int) []*fakePeer {
	peers := make([]*fakePeer, n)
	for i := range peers {
		peers[i] = &fakePeer{id: p2p.ID(fmt.Sprintf("peer%02d", i))}
	}
	return peers
}

func (p *fakePeer) ID() p2p.ID { return p.id }

func (p *fakePeer) Send(chID byte, msgBytes []byte) bool {
	msg, err := decodeMsg(msgBytes)
	if err != nil {
		panic(err)
	}
	p.mtx.Lock()
	p.sent = append(p.sent, sentMsg{chID: chID, msg: msg})
	p.mtx.Unlock()
	return true
}

func (p *fakePeer) messages(msgType MsgType) []*Message {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	var out []*Message
	for _, s := range p.sent {
		if s.msg.Type == msgType {
			out = append(out, s.msg)
		}
	}
	return out
}

// fakeSync 按区块hash返回预设的校验结果，默认Success
type fakeSync struct {
	mtx      sync.Mutex
	results  map[string]types.BlockValidationResult
	received []*types.Block
}

func newFakeSync() *fakeSync {
	return &fakeSync{results: make(map[string]types.BlockValidationResult)}
}

func (s *fakeSync) ReceiveBlock(block *types.Block) (types.BlockValidationResult, types.BlockExecutionResult) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.received = append(s.received, block)
	vr, ok := s.results[string(block.Hash())]
	if !ok {
		vr = types.ValidationSuccess
	}
	if !vr.IsSuccess() {
		return vr, types.NotExecuted
	}
	return vr, types.ExecutionSuccess
}

func (s *fakeSync) setResult(block *types.Block, vr types.BlockValidationResult) {
	s.mtx.Lock()
	s.results[string(block.Hash())] = vr
	s.mtx.Unlock()
}

func (s *fakeSync) count() int {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return len(s.received)
}

type fakeStore map[uint64]*types.Block

func (s fakeStore) GetBlockAt(height uint64) (*types.Block, error) {
	if b, ok := s[height]; ok {
		return b, nil
	}
	return nil, errors.Errorf("no block at %d", height)
}

func (s fakeStore) CurrentHeight() uint64 {
	var max uint64
	for h := range s {
		if h > max {
			max = h
		}
	}
	return max
}

// fakePool Submit默认返回Success并保存交易
type fakePool struct {
	mtx     sync.Mutex
	outcome types.TxOutcome
	txs     map[string]*types.Transaction
	infos   []mempool.TxInfo
}

func newFakePool() *fakePool {
	return &fakePool{txs: make(map[string]*types.Transaction)}
}

func (p *fakePool) Submit(tx *types.Transaction, info mempool.TxInfo) types.TxOutcome {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	p.infos = append(p.infos, info)
	if p.outcome == types.TxSuccess {
		p.txs[string(tx.Hash())] = tx
	}
	return p.outcome
}

func (p *fakePool) GetTx(hash []byte) *types.Transaction {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return p.txs[string(hash)]
}

func (p *fakePool) submitted() int {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return len(p.infos)
}

type testReactor struct {
	*Reactor
	sync  *fakeSync
	pool  *fakePool
	store fakeStore
	evsw  events.EventSwitch
	peers []*fakePeer
}

func newTestReactor(t *testing.T, nPeers int) *testReactor {
	evsw := events.NewEventSwitch()
	require.NoError(t, evsw.Start())

	tr := &testReactor{
		sync:  newFakeSync(),
		pool:  newFakePool(),
		store: fakeStore{},
		evsw:  evsw,
		peers: newFakePeers(nPeers),
	}
	tr.Reactor = NewReactor(config.TestNetworkConfig(), tr.sync, tr.store, tr.pool, evsw)
	tr.SetLogger(log.TestingLogger())
	for _, p := range tr.peers {
		tr.addPeer(p)
	}
	require.NoError(t, tr.Start())
	t.Cleanup(func() {
		_ = tr.Stop()
		_ = evsw.Stop()
	})
	return tr
}

func makeSignedBlock(t *testing.T, pv types.MockPV, height uint64, prev []byte) *types.Block {
	block := types.MakeBlock(testChainID, height, prev, height, pv.Address(), nil)
	require.NoError(t, pv.SignBlock(testChainID, block))
	return block
}

func makeTx(t *testing.T, pv types.MockPV, method string) *types.Transaction {
	tx := &types.Transaction{
		From:       pv.Address(),
		To:         types.Address([]byte("contract-address-0000")),
		MethodName: method,
		Type:       types.ContractTransaction,
	}
	require.NoError(t, pv.SignTransaction(tx))
	return tx
}

func encode(t *testing.T, msgType MsgType, id string, payload interface{}) []byte {
	bz, err := encodeMsg(msgType, id, payload)
	require.NoError(t, err)
	return bz
}
