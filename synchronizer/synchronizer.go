package synchronizer

import (
	"context"
	"sync"

	"dposchain/config"
	"dposchain/state"
	"dposchain/types"

	"github.com/pkg/errors"
	"github.com/sethvargo/go-retry"
	"github.com/tendermint/tendermint/libs/events"
	"github.com/tendermint/tendermint/libs/log"
)

var errExecuteAgain = errors.New("block can be executed again")

// Validator 校验区块，由state.BlockValidator实现
type Validator interface {
	Validate(block *types.Block, ctx types.ChainContext) types.BlockValidationResult
}

// Executor 执行区块并提交，由state.BlockExecutor实现
type Executor interface {
	ExecuteBlock(block *types.Block) types.BlockExecutionResult
}

// Synchronizer 决定哪条链是主链：校验、执行远端和本节点产出的区块
// 处理回滚和分叉切换，补齐缺失区块后依次执行缓存的区块
// 所有区块的执行都在mtx下串行进行
type Synchronizer struct {
	mtx sync.Mutex

	config    *config.SyncConfig
	chainID   string
	chain     state.ChainStore
	blockSet  *types.BlockSet
	validator Validator
	executor  Executor
	evsw      events.Fireable

	// 收到过分支区块之后才检查是否有更长的链
	branched bool
	// 收到Pending区块后暂停了共识
	paused bool
	// 本节点已经出过块
	mined bool

	metrics *Metrics
	logger  log.Logger
}

type SynchronizerOption func(*Synchronizer)

func WithMetrics(metrics *Metrics) SynchronizerOption {
	return func(s *Synchronizer) {
		s.metrics = metrics
	}
}

func NewSynchronizer(
	cfg *config.SyncConfig,
	chainID string,
	chain state.ChainStore,
	blockSet *types.BlockSet,
	validator Validator,
	executor Executor,
	evsw events.Fireable,
	options ...SynchronizerOption,
) *Synchronizer {
	s := &Synchronizer{
		config:    cfg,
		chainID:   chainID,
		chain:     chain,
		blockSet:  blockSet,
		validator: validator,
		executor:  executor,
		evsw:      evsw,
		metrics:   NopMetrics(),
		logger:    log.NewNopLogger(),
	}
	for _, option := range options {
		option(s)
	}
	s.metrics.Height.Set(float64(chain.CurrentHeight()))
	return s
}

func (s *Synchronizer) SetLogger(logger log.Logger) {
	s.logger = logger
}

// chainContext 每次从主链计算，不缓存
func (s *Synchronizer) chainContext() types.ChainContext {
	return types.ChainContext{
		ChainID:            s.chainID,
		CurrentBlockHash:   s.chain.CurrentHash(),
		CurrentBlockHeight: s.chain.CurrentHeight(),
	}
}

// ReceiveBlock 处理一个远端区块，返回校验结果和最终的执行结果
// 校验没有通过时执行结果为NotExecuted
func (s *Synchronizer) ReceiveBlock(block *types.Block) (types.BlockValidationResult, types.BlockExecutionResult) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	vr := s.validator.Validate(block, s.chainContext())
	if !vr.IsSuccess() {
		s.logger.Info("invalid block", "block", block, "result", vr)
		s.handleInvalidBlock(block, vr)
		return vr, types.NotExecuted
	}

	s.logger.Debug("valid block", "block", block)
	s.blockSet.AddBlock(block)
	res := s.execute(block)
	switch res {
	case types.ExecutionSuccess, types.NeedToRollback:
		s.drain()
	case types.CannotExecute:
		// 缓存的current+1区块之前可能是Pending，现在也许可以执行了
		if s.drain() {
			res = s.executionResultOf(block)
		}
	}
	return vr, res
}

// executionResultOf drain之后区块是否已经在主链上
func (s *Synchronizer) executionResultOf(block *types.Block) types.BlockExecutionResult {
	if s.blockSet.IsExecuted(block.Hash()) {
		return types.ExecutionSuccess
	}
	return types.CannotExecute
}

// handleInvalidBlock 结果码小于100的区块放入BlockSet，之后可能被执行
func (s *Synchronizer) handleInvalidBlock(block *types.Block, vr types.BlockValidationResult) {
	s.metrics.InvalidBlocks.With("result", vr.String()).Add(1)

	switch vr {
	case types.Unlinkable:
		s.blockSet.AddBlock(block)
		s.branched = true
		s.evsw.FireEvent(types.EventUnlinkableBlock, types.EventDataBlock{Block: block})
		s.reviewBlockSet()

	case types.BranchedBlock:
		if !s.blockSet.IsLinkable(block) {
			s.logger.Debug("branched block not linkable, dropped", "block", block)
			return
		}
		s.blockSet.AddBlock(block)
		s.branched = true
		s.reviewBlockSet()

	case types.Pending:
		s.blockSet.AddBlock(block)
		if !s.paused {
			s.paused = true
			s.logger.Info("pending block received, pause consensus", "block", block)
			s.evsw.FireEvent(types.EventConsensusPause, types.EventDataBlock{Block: block})
		}

	default:
		// 协议错误，直接丢弃
	}
	s.metrics.CachedBlocks.Set(float64(s.blockSet.Size()))
}

// execute 执行一个已经通过校验的区块
func (s *Synchronizer) execute(block *types.Block) types.BlockExecutionResult {
	res := s.executor.ExecuteBlock(block)
	if res == types.CanExecuteAgain {
		res = s.reExecute(block)
	}

	switch res {
	case types.ExecutionSuccess:
		s.onCommitted(block)

	case types.NeedToRollback:
		s.rollbackOneBlock()

	case types.CannotExecute:
		s.logger.Debug("cannot execute block yet", "block", block)
		s.fireMissingBlock(s.chain.CurrentHeight()+1, "gap before block")

	case types.CanExecuteAgain:
		s.logger.Error("block still not executed after retries", "block", block, "max", s.config.MaxReExecution)

	default:
		s.logger.Info("block not executed", "block", block, "result", res)
	}
	return res
}

// reExecute 临时错误时重新校验并执行，最多MaxReExecution次
// 同一高度出现其它区块时放弃，交给drain处理
func (s *Synchronizer) reExecute(block *types.Block) types.BlockExecutionResult {
	res := types.CanExecuteAgain
	if s.config.MaxReExecution == 0 {
		return res
	}
	// 第一次重新执行不计入重试次数
	b := retry.WithMaxRetries(s.config.MaxReExecution-1, retry.NewConstant(s.config.ReExecuteInterval))

	err := retry.Do(context.Background(), b, func(ctx context.Context) error {
		if vr := s.validator.Validate(block, s.chainContext()); !vr.IsSuccess() {
			s.logger.Info("block failed re-validation", "block", block, "result", vr)
			return nil
		}
		s.metrics.ReExecutions.Add(1)
		res = s.executor.ExecuteBlock(block)
		if s.blockSet.MultipleBlocksInOneIndex(block.Height) {
			return nil
		}
		if res == types.CanExecuteAgain {
			return retry.RetryableError(errExecuteAgain)
		}
		return nil
	})
	if err != nil {
		s.logger.Debug("re-execution exhausted", "block", block, "err", err)
	}
	return res
}

// onCommitted 标记已执行，通知共识和网络层
func (s *Synchronizer) onCommitted(block *types.Block) {
	s.blockSet.Tell(block)
	s.metrics.Height.Set(float64(block.Height))
	s.metrics.CachedBlocks.Set(float64(s.blockSet.Size()))
	s.logger.Info("block committed", "height", block.Height, "hash", block.Hash(), "txs", len(block.Txs))

	s.evsw.FireEvent(types.EventBlockExecuted, types.EventDataBlock{Block: block})
	if s.paused {
		s.paused = false
		s.evsw.FireEvent(types.EventConsensusResume, types.EventDataBlock{Block: block})
	}
}

// drain 从当前高度+1开始依次执行BlockSet中能连接上的区块
// 回滚之后高度降低，从新的高度继续。有区块被执行或者回滚时返回true
func (s *Synchronizer) drain() bool {
	drained := false
	for {
		height := s.chain.CurrentHeight() + 1
		progressed := false
		for _, block := range s.blockSet.GetBlockByHeight(height) {
			if s.blockSet.IsExecuted(block.Hash()) {
				continue
			}
			if vr := s.validator.Validate(block, s.chainContext()); !vr.IsSuccess() {
				continue
			}
			res := s.execute(block)
			if res == types.ExecutionSuccess || res == types.NeedToRollback {
				progressed = true
				break
			}
		}
		if !progressed {
			return drained
		}
		drained = true
	}
}

// SyncUnfinished 执行BlockSet中已经可以执行的区块，出块之前调用
// 返回执行之后的高度
func (s *Synchronizer) SyncUnfinished() uint64 {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.drain() {
		s.logger.Info("executed cached blocks", "height", s.chain.CurrentHeight())
	}
	return s.chain.CurrentHeight()
}

// rollbackOneBlock 区块与已提交的状态冲突，回滚一个区块
func (s *Synchronizer) rollbackOneBlock() {
	from := s.chain.CurrentHeight()
	removed, err := s.chain.RollbackOneBlock()
	if err != nil {
		s.logger.Error("failed to roll back one block", "height", from, "err", err)
		return
	}
	s.blockSet.InformRollback(from, from)
	s.metrics.RolledBackBlocks.Add(float64(len(removed)))
	s.metrics.Height.Set(float64(s.chain.CurrentHeight()))
	s.logger.Info("rolled back one block", "from", from, "to", s.chain.CurrentHeight())
	s.evsw.FireEvent(types.EventRollback, types.EventDataRollback{From: from, To: s.chain.CurrentHeight()})
}

// reviewBlockSet 存在更长的分支时回滚到分叉点之下，然后执行分支
// 相同长度的分支不处理
func (s *Synchronizer) reviewBlockSet() {
	if !s.branched {
		return
	}
	current := s.chain.CurrentHeight()
	fork := s.blockSet.AnyLongerValidChain(current)
	if fork == 0 {
		s.logger.Debug("no longer branch", "current", current)
		return
	}

	s.logger.Info("switching to a longer branch", "fork", fork, "current", current)
	removed, err := s.chain.RollbackToHeight(fork - 1)
	if err != nil {
		s.logger.Error("failed to roll back to fork", "fork", fork, "err", err)
		return
	}
	s.blockSet.InformRollback(fork, current)
	s.metrics.ForkSwitches.Add(1)
	s.metrics.RolledBackBlocks.Add(float64(len(removed)))
	s.evsw.FireEvent(types.EventRollback, types.EventDataRollback{From: current, To: fork - 1})

	s.drain()
	if s.blockSet.AnyLongerValidChain(s.chain.CurrentHeight()) == 0 {
		s.branched = false
	}
}

func (s *Synchronizer) fireMissingBlock(height uint64, reason string) {
	if height == 0 {
		return
	}
	s.evsw.FireEvent(types.EventMissingBlock, types.EventDataMissingBlock{Height: height, Reason: reason})
}

// AddMinedBlock 执行本节点产出的区块，不经过校验
// 第一次出块之后BlockSet只保留最近MinedKeepHeight个高度
func (s *Synchronizer) AddMinedBlock(block *types.Block) types.BlockExecutionResult {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	res := s.executor.ExecuteBlock(block)
	if res == types.CanExecuteAgain {
		res = s.reExecute(block)
	}
	if !res.IsSuccess() {
		s.logger.Error("mined block not executed", "block", block, "result", res)
		return res
	}

	if !s.mined {
		s.mined = true
		s.blockSet.SetKeepHeight(s.config.MinedKeepHeight)
		s.logger.Info("first mined block, limit block set", "keep", s.config.MinedKeepHeight)
	}
	s.onCommitted(block)
	s.evsw.FireEvent(types.EventBlockMined, types.EventDataBlock{Block: block})
	s.drain()
	return res
}

// GetBlockByHash 先查BlockSet，再查主链
func (s *Synchronizer) GetBlockByHash(hash []byte) (*types.Block, error) {
	if block := s.blockSet.GetBlockByHash(hash); block != nil {
		return block, nil
	}
	return s.chain.GetBlockByHash(hash)
}

// GetBlockHeaderList 从height开始向下最多count个区块头
func (s *Synchronizer) GetBlockHeaderList(height uint64, count int) ([]*types.Header, error) {
	if current := s.chain.CurrentHeight(); height > current {
		height = current
	}
	headers := make([]*types.Header, 0, count)
	for i := 0; i < count; i++ {
		header, err := s.chain.GetHeaderAt(height)
		if err != nil {
			return nil, err
		}
		headers = append(headers, header)
		if height == 0 {
			break
		}
		height--
	}
	return headers, nil
}

func (s *Synchronizer) BlockSet() *types.BlockSet {
	return s.blockSet
}

func (s *Synchronizer) ChainContext() types.ChainContext {
	return s.chainContext()
}
