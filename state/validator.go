package state

import (
	"bytes"
	"time"

	"dposchain/types"

	"github.com/tendermint/tendermint/libs/log"
	tmtime "github.com/tendermint/tendermint/types/time"
)

// BlockValidator 校验收到的区块，决定区块能否执行以及是否需要缓存
type BlockValidator struct {
	chain     ChainStore
	blockSet  *types.BlockSet
	producers *types.ProducerSet
	timeDrift time.Duration

	now    func() time.Time
	logger log.Logger
}

type BlockValidatorOption func(*BlockValidator)

// WithClock 测试中替换当前时间
func WithClock(now func() time.Time) BlockValidatorOption {
	return func(v *BlockValidator) {
		v.now = now
	}
}

func NewBlockValidator(
	chain ChainStore,
	blockSet *types.BlockSet,
	producers *types.ProducerSet,
	timeDrift time.Duration,
	logger log.Logger,
	options ...BlockValidatorOption,
) *BlockValidator {
	v := &BlockValidator{
		chain:     chain,
		blockSet:  blockSet,
		producers: producers,
		timeDrift: timeDrift,
		now:       tmtime.Now,
		logger:    logger,
	}
	for _, option := range options {
		option(v)
	}
	return v
}

// Validate 先做与链状态无关的检查，再根据ctx判断区块与主链的连接关系
func (v *BlockValidator) Validate(block *types.Block, ctx types.ChainContext) types.BlockValidationResult {
	if res := v.validateBasic(block, ctx.ChainID); res != types.ValidationSuccess {
		v.logger.Debug("invalid block", "block", block, "result", res)
		return res
	}

	if block.Time.After(v.now().Add(v.timeDrift)) {
		return types.Pending
	}

	current := ctx.CurrentBlockHeight
	switch {
	case block.Height > current+1:
		// 由执行器判断缺少的区块
		return types.ValidationSuccess
	case block.Height == current+1:
		if bytes.Equal(block.PreviousBlockHash, ctx.CurrentBlockHash) {
			return types.ValidationSuccess
		}
		// 接在当前最高区块的兄弟区块之后，执行器会要求回滚
		// 兄弟区块本身必须能连接到已知历史，否则回滚之后无法继续执行
		if prev := v.blockSet.GetBlockByHash(block.PreviousBlockHash); prev != nil && v.blockSet.IsLinkable(prev) {
			return types.ValidationSuccess
		}
		return types.Unlinkable
	default:
		if v.isKnown(block.PreviousBlockHash) {
			return types.BranchedBlock
		}
		return types.Unlinkable
	}
}

func (v *BlockValidator) validateBasic(block *types.Block, chainID string) types.BlockValidationResult {
	if err := block.ValidateBasic(); err != nil {
		return types.InvalidBlock
	}
	if block.ChainID != chainID {
		return types.WrongChainID
	}
	if block.Height == 0 {
		return types.InvalidBlock
	}
	_, producer := v.producers.GetByAddress(block.ProducerAddress)
	if producer == nil {
		return types.NotProducer
	}
	if !types.VerifyBlockSignature(producer.PubKey, block) {
		return types.IncorrectSignature
	}
	if v.blockSet.IsExecuted(block.Hash()) {
		return types.AlreadyExecuted
	}
	if h, ok := v.chain.BlockHashAt(block.Height); ok && bytes.Equal(h, block.Hash()) {
		return types.AlreadyExecuted
	}
	return types.ValidationSuccess
}

func (v *BlockValidator) isKnown(hash []byte) bool {
	if v.blockSet.GetBlockByHash(hash) != nil {
		return true
	}
	_, err := v.chain.GetBlockByHash(hash)
	return err == nil
}
