package rpc

import (
	cstypes "dposchain/consensus/types"
	"dposchain/libs/metric"
	"dposchain/mempool"
	"dposchain/protocol"
	"dposchain/state"
	"dposchain/types"

	"github.com/tendermint/tendermint/libs/log"
	"github.com/tendermint/tendermint/p2p"
)

var env *Environment

func SetEnvironment(e *Environment) {
	env = e
}

// Consensus 调度器对外暴露的只读视图
type Consensus interface {
	GetRoundState() cstypes.RoundState
	IsAlive() bool
	Address() types.Address
}

type Synchronizer interface {
	GetBlockByHash(hash []byte) (*types.Block, error)
	GetBlockHeaderList(height uint64, count int) ([]*types.Header, error)
	BlockSet() *types.BlockSet
}

type PeerSource interface {
	Peers() []protocol.Peer
}

// Environment rpc接口用到的节点组件，由node在启动时设置
type Environment struct {
	Chain        state.ChainStore
	Mempool      mempool.Mempool
	Consensus    Consensus
	Synchronizer Synchronizer
	P2PPeers     PeerSource

	GenDoc *types.GenesisDoc
	NodeID p2p.ID

	MetricSet *metric.MetricSet
	Logger    log.Logger
}
