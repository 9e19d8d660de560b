package state

import (
	mempl "dposchain/mempool"
	"dposchain/types"

	"github.com/pkg/errors"
	"github.com/tendermint/tendermint/libs/log"
)

// MinedBlockHandler 接收本节点产出的区块，由同步器实现
// SyncUnfinished在出块前执行已缓存且可以执行的区块
type MinedBlockHandler interface {
	SyncUnfinished() uint64
	AddMinedBlock(block *types.Block) types.BlockExecutionResult
}

// Miner 从交易池打包交易，在主链最高区块之上产出并签名区块
type Miner struct {
	chainID string
	chain   ChainStore
	mempool mempl.Mempool
	privVal types.PrivValidator
	address types.Address
	maxTxs  int

	handler MinedBlockHandler
	logger  log.Logger
}

func NewMiner(
	chainID string,
	chain ChainStore,
	mempool mempl.Mempool,
	privVal types.PrivValidator,
	maxTxs int,
	handler MinedBlockHandler,
	logger log.Logger,
) (*Miner, error) {
	pubKey, err := privVal.GetPubKey()
	if err != nil {
		return nil, errors.Wrap(err, "can't get pubkey")
	}
	return &Miner{
		chainID: chainID,
		chain:   chain,
		mempool: mempool,
		privVal: privVal,
		address: types.Address(pubKey.Address()),
		maxTxs:  maxTxs,
		handler: handler,
		logger:  logger,
	}, nil
}

func (m *Miner) Address() types.Address {
	return m.address
}

// Mine 产出roundNumber轮的区块并交给同步器执行
func (m *Miner) Mine(roundNumber uint64) (*types.Block, error) {
	// 先执行缓存中已经可以执行的区块，避免在旧的高度上出块
	height := m.handler.SyncUnfinished()
	prev := m.chain.CurrentHash()

	txs := m.mempool.ReapMaxTxs(m.maxTxs)
	block := types.MakeBlock(m.chainID, height+1, prev, roundNumber, m.address, txs)
	if err := m.privVal.SignBlock(m.chainID, block); err != nil {
		return nil, errors.Wrap(err, "sign block")
	}

	res := m.handler.AddMinedBlock(block)
	if !res.IsSuccess() {
		return nil, errors.Errorf("mined block %v not executed: %v", block, res)
	}
	m.logger.Info("mined block", "height", block.Height, "hash", block.Hash(), "round", roundNumber, "txs", len(txs))
	return block, nil
}
