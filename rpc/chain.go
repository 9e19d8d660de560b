package rpc

import (
	"bytes"

	cstypes "dposchain/consensus/types"
	"dposchain/libs/utils"
	"dposchain/state"
	"dposchain/types"

	"github.com/pkg/errors"
	tmbytes "github.com/tendermint/tendermint/libs/bytes"
	"github.com/tendermint/tendermint/p2p"
	rpctypes "github.com/tendermint/tendermint/rpc/jsonrpc/types"
)

const maxHeaderCount = 100

type ResultStatus struct {
	NodeID      p2p.ID           `json:"node_id"`
	ChainID     string           `json:"chain_id"`
	Height      uint64           `json:"height"`
	Hash        tmbytes.HexBytes `json:"hash"`
	Peers       []p2p.ID         `json:"peers"`
	MempoolSize int              `json:"mempool_size"`
	Producer    types.Address    `json:"producer"`
	IsAlive     bool             `json:"is_alive"`
	Step        string           `json:"step"`
}

type ResultConsensusRound struct {
	RoundState cstypes.RoundState `json:"round_state"`
	Round      *types.Round       `json:"round"`
	Producers  types.Addresses    `json:"producers"`
}

type ResultBlock struct {
	Block    *types.Block `json:"block"`
	Executed bool         `json:"executed"`
	ResultLatency
}

// ResultLatency 交易从创建到被打包的耗时，单位秒
type ResultLatency struct {
	TxNum         int     `json:"tx_num"`
	MaxLatency    float64 `json:"max_tx_latency"`
	MinLatency    float64 `json:"min_tx_latency"`
	MedianLatency float64 `json:"median_tx_latency"`
	AvgLatency    float64 `json:"avg_tx_latency"`
}

type ResultHeaders struct {
	Headers []*types.Header `json:"headers"`
}

type ResultBlockSetEntry struct {
	Height   uint64           `json:"height"`
	Hash     tmbytes.HexBytes `json:"hash"`
	Executed bool             `json:"executed"`
}

type ResultBlockSet struct {
	Size       int                   `json:"size"`
	KeepHeight uint64                `json:"keep_height"`
	Blocks     []ResultBlockSetEntry `json:"blocks"`
}

func Status(ctx *rpctypes.Context) (*ResultStatus, error) {
	peers := env.P2PPeers.Peers()
	ids := make([]p2p.ID, len(peers))
	for i, p := range peers {
		ids[i] = p.ID()
	}

	rs := env.Consensus.GetRoundState()
	return &ResultStatus{
		NodeID:      env.NodeID,
		ChainID:     env.GenDoc.ChainID,
		Height:      env.Chain.CurrentHeight(),
		Hash:        env.Chain.CurrentHash(),
		Peers:       ids,
		MempoolSize: env.Mempool.Size(),
		Producer:    env.Consensus.Address(),
		IsAlive:     env.Consensus.IsAlive(),
		Step:        rs.Step.String(),
	}, nil
}

// ConsensusRound 调度器状态以及链上记录的当前轮次
func ConsensusRound(ctx *rpctypes.Context) (*ResultConsensusRound, error) {
	cs, err := state.LoadConsensusState(env.Chain)
	if err != nil {
		return nil, errors.Wrap(err, "load consensus state")
	}
	return &ResultConsensusRound{
		RoundState: env.Consensus.GetRoundState(),
		Round:      cs.CurrentRound(),
		Producers:  cs.Producers.Addresses(),
	}, nil
}

// Block 不指定height时返回最新区块
func Block(ctx *rpctypes.Context, height *uint64) (*ResultBlock, error) {
	h := env.Chain.CurrentHeight()
	if height != nil {
		h = *height
	}
	block, err := env.Chain.GetBlockAt(h)
	if err != nil {
		return nil, err
	}
	return makeResultBlock(block, true), nil
}

// BlockByHash 也会查找BlockSet中还没执行的区块
func BlockByHash(ctx *rpctypes.Context, hash []byte) (*ResultBlock, error) {
	block, err := env.Synchronizer.GetBlockByHash(hash)
	if err != nil {
		return nil, err
	}
	executed := false
	if onChain, ok := env.Chain.BlockHashAt(block.Height); ok {
		executed = bytes.Equal(onChain, block.Hash())
	}
	return makeResultBlock(block, executed), nil
}

func Headers(ctx *rpctypes.Context, height uint64, count int) (*ResultHeaders, error) {
	if count <= 0 || count > maxHeaderCount {
		return nil, errors.Errorf("count must be in (0, %d]", maxHeaderCount)
	}
	headers, err := env.Synchronizer.GetBlockHeaderList(height, count)
	if err != nil {
		return nil, err
	}
	return &ResultHeaders{Headers: headers}, nil
}

func BlockSet(ctx *rpctypes.Context) (*ResultBlockSet, error) {
	bs := env.Synchronizer.BlockSet()

	result := &ResultBlockSet{
		Size:       bs.Size(),
		KeepHeight: bs.KeepHeight(),
		Blocks:     []ResultBlockSetEntry{},
	}
	for _, h := range bs.Heights() {
		for _, b := range bs.GetBlockByHeight(h) {
			result.Blocks = append(result.Blocks, ResultBlockSetEntry{
				Height:   h,
				Hash:     b.Hash(),
				Executed: bs.IsExecuted(b.Hash()),
			})
		}
	}
	return result, nil
}

func makeResultBlock(block *types.Block, executed bool) *ResultBlock {
	return &ResultBlock{
		Block:         block,
		Executed:      executed,
		ResultLatency: txLatency(block),
	}
}

func txLatency(block *types.Block) ResultLatency {
	latencies := make([]float64, 0, len(block.Txs))
	for _, tx := range block.Txs {
		if tx.Time.IsZero() {
			continue
		}
		if d := block.Time.Sub(tx.Time); d > 0 {
			latencies = append(latencies, d.Seconds())
		}
	}
	return ResultLatency{
		TxNum:         len(latencies),
		MaxLatency:    utils.Max(latencies...),
		MinLatency:    utils.Min(latencies...),
		MedianLatency: utils.Median(latencies...),
		AvgLatency:    utils.Avg(latencies...),
	}
}
