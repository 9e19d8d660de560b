package state

import (
	"bytes"

	mempl "dposchain/mempool"
	"dposchain/store"
	"dposchain/types"

	"github.com/pkg/errors"
	"github.com/tendermint/tendermint/libs/log"
)

// BlockExecutor 在主链最高区块之上执行区块
type BlockExecutor struct {
	chain    ChainStore
	mempool  mempl.Mempool
	contract *ConsensusContract

	logger log.Logger
}

func NewBlockExecutor(chain ChainStore, mempool mempl.Mempool, logger log.Logger) *BlockExecutor {
	return &BlockExecutor{
		chain:    chain,
		mempool:  mempool,
		contract: NewConsensusContract(logger.With("module", "contract")),
		logger:   logger,
	}
}

func (exec *BlockExecutor) SetLogger(logger log.Logger) {
	exec.logger = logger
	exec.contract.logger = logger.With("module", "contract")
}

// ExecuteBlock 执行区块并提交到主链
//  - height > current+1: CannotExecute，缺少前置区块
//  - height == current+1 但不连接当前最高区块: NeedToRollback
//  - 写入失败: CanExecuteAgain
func (exec *BlockExecutor) ExecuteBlock(block *types.Block) types.BlockExecutionResult {
	current := exec.chain.CurrentHeight()
	switch {
	case block.Height > current+1:
		return types.CannotExecute
	case block.Height <= current:
		exec.logger.Info("block below the chain tip", "block", block, "current", current)
		return types.NotExecuted
	case !bytes.Equal(block.PreviousBlockHash, exec.chain.CurrentHash()):
		return types.NeedToRollback
	}

	cs, err := LoadConsensusState(exec.chain)
	if err != nil {
		exec.logger.Error("failed to load consensus state", "height", current, "err", err)
		return types.CanExecuteAgain
	}

	// 非法的共识交易只记录日志，区块依然提交
	for _, tx := range block.Txs {
		if !tx.IsConsensusTx() {
			continue
		}
		if err := exec.contract.Apply(cs, tx); err != nil {
			exec.logger.Error("consensus tx skipped", "block", block.Height, "tx", tx.Hash(), "err", err)
		}
	}

	if err := exec.chain.AppendBlock(block, cs.Bytes()); err != nil {
		if errors.Is(err, store.ErrNotLinked) {
			return types.NeedToRollback
		}
		exec.logger.Error("failed to append block", "block", block, "err", err)
		return types.CanExecuteAgain
	}

	exec.mempool.Lock()
	err = exec.mempool.Update(block.Height, block.Txs)
	exec.mempool.Unlock()
	if err != nil {
		exec.logger.Error("failed to update mempool", "height", block.Height, "err", err)
	}

	exec.logger.Debug("executed block", "block", block, "round", cs.CurrentRoundNumber)
	return types.ExecutionSuccess
}
