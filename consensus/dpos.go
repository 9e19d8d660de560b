package consensus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"dposchain/config"
	cstypes "dposchain/consensus/types"
	"dposchain/libs/metric"
	mempl "dposchain/mempool"
	"dposchain/slot"
	"dposchain/state"
	"dposchain/types"

	"github.com/pkg/errors"
	"github.com/tendermint/tendermint/libs/events"
	"github.com/tendermint/tendermint/libs/service"
)

const listenerID = "dpos"

// 出块标志位
//  idle --claim--> producing --release--> idle
//  Hang: idle -> hung, producing -> producingHung
//  Recover: hung -> idle, producingHung -> producing
const (
	flagIdle int32 = iota
	flagProducing
	flagHung
	flagProducingHung
)

var (
	ErrNotInRound   = errors.New("producer is not in the current round")
	ErrRoundChanged = errors.New("round changed before the slot fired")
)

// BlockMiner 打包并提交区块，由state.Miner实现
type BlockMiner interface {
	Mine(roundNumber uint64) (*types.Block, error)
}

// slotAction 构造一个时间槽内需要提交的共识交易
type slotAction func(cs *state.ConsensusState) (types.Txs, error)

// DPoS 共识调度器，决定本节点什么时候出块以及出块前提交哪些共识交易
//  - 每一轮的定时任务放在一个slot.Schedule中，轮次变化时整体Dispose
//  - 同一时间最多只有一个出块任务，由producing标志位保证
//  - 轮次信息全部来自已提交区块对应的ConsensusState
type DPoS struct {
	service.BaseService

	config  *config.DPoSConfig
	chain   state.ChainStore
	mempool mempl.Mempool
	miner   BlockMiner
	privVal types.PrivValidator
	address types.Address
	evsw    events.EventSwitch

	mtx      sync.Mutex
	rs       cstypes.RoundState
	schedule *slot.Schedule

	producing int32
	values    *inOutValue

	now     func() time.Time
	metric  *consensusMetric
	metrics *Metrics
}

type DPoSOption func(*DPoS)

func WithMetrics(metrics *Metrics) DPoSOption {
	return func(dpos *DPoS) {
		dpos.metrics = metrics
	}
}

// WithClock 替换当前时间，用于测试
func WithClock(now func() time.Time) DPoSOption {
	return func(dpos *DPoS) {
		dpos.now = now
	}
}

func NewDPoS(
	cfg *config.DPoSConfig,
	chain state.ChainStore,
	mempool mempl.Mempool,
	miner BlockMiner,
	privVal types.PrivValidator,
	evsw events.EventSwitch,
	options ...DPoSOption,
) (*DPoS, error) {
	pubKey, err := privVal.GetPubKey()
	if err != nil {
		return nil, errors.Wrap(err, "can't get pubkey")
	}
	dpos := &DPoS{
		config:  cfg,
		chain:   chain,
		mempool: mempool,
		miner:   miner,
		privVal: privVal,
		address: types.Address(pubKey.Address()),
		evsw:    evsw,
		rs:      cstypes.RoundState{Step: cstypes.StepIdle},
		values:  newInOutValue(),
		now:     time.Now,
		metric:  newConsensusMetric(),
		metrics: NopMetrics(),
	}
	dpos.BaseService = *service.NewBaseService(nil, "DPoS", dpos)
	for _, option := range options {
		option(dpos)
	}
	return dpos, nil
}

func (dpos *DPoS) OnStart() error {
	if !dpos.config.IsMiner {
		dpos.Logger.Info("not a miner, consensus stays idle")
		return nil
	}

	listeners := map[string]events.EventCallback{
		types.EventBlockExecuted:   func(events.EventData) { dpos.Update() },
		types.EventRollback:        func(events.EventData) { dpos.Update() },
		types.EventConsensusPause:  func(events.EventData) { dpos.Hang() },
		types.EventConsensusResume: func(events.EventData) { dpos.Recover() },
	}
	for event, cb := range listeners {
		if err := dpos.evsw.AddListenerForEvent(listenerID, event, cb); err != nil {
			return errors.Wrapf(err, "listen %s", event)
		}
	}

	dpos.Update()
	return nil
}

func (dpos *DPoS) OnStop() {
	if dpos.config.IsMiner {
		dpos.evsw.RemoveListener(listenerID)
	}

	dpos.mtx.Lock()
	defer dpos.mtx.Unlock()
	if dpos.schedule != nil {
		dpos.schedule.Dispose()
		dpos.schedule = nil
	}
	dpos.rs.Step = cstypes.StepIdle
	dpos.metric.MarkRoundState(dpos.rs)
}

// Update 每次提交区块后调用，轮次变化时重新安排定时任务，轮次不变时不做任何事
func (dpos *DPoS) Update() {
	if !dpos.IsRunning() || !dpos.config.IsMiner {
		return
	}
	cs, err := state.LoadConsensusState(dpos.chain)
	if err != nil {
		dpos.Logger.Error("failed to load consensus state", "err", err)
		return
	}

	dpos.mtx.Lock()
	defer dpos.mtx.Unlock()

	if !cs.IsInitialized() {
		dpos.armInitialize(cs)
		return
	}

	round := cs.CurrentRound()
	if round == nil {
		dpos.Logger.Error("current round missing from consensus state", "round", cs.CurrentRoundNumber)
		return
	}
	if dpos.schedule != nil && !dpos.schedule.Disposed() &&
		dpos.rs.RoundNumber == round.RoundNumber && dpos.rs.RoundID == round.RoundID() {
		return
	}
	dpos.arm(cs, round)
}

// armInitialize 共识还未初始化时，由信息生成者或者唯一的出块者提交InitializeConsensus
func (dpos *DPoS) armInitialize(cs *state.ConsensusState) {
	if dpos.rs.Step == cstypes.StepInitializing && dpos.schedule != nil && !dpos.schedule.Disposed() {
		return
	}
	if !cs.Producers.HasAddress(dpos.address) {
		dpos.Logger.Info("not in the producer set, consensus stays idle", "address", dpos.address)
		return
	}
	if !dpos.config.ConsensusInfoGenerator && cs.Producers.Size() != 1 {
		dpos.Logger.Info("waiting for consensus initialization")
		return
	}

	dpos.resetSchedule("initialize")
	dpos.rs = cstypes.RoundState{Step: cstypes.StepInitializing}
	dpos.metric.MarkRoundState(dpos.rs)
	dpos.schedule.After("initialize", 0, dpos.initialize)
}

func (dpos *DPoS) arm(cs *state.ConsensusState, round *types.Round) {
	dpos.resetSchedule(fmt.Sprintf("round-%d", round.RoundNumber))
	dpos.rs = makeRoundState(cs, dpos.address)
	if dpos.isHung() {
		dpos.rs.Step = cstypes.StepPaused
	}
	dpos.metric.MarkRoundState(dpos.rs)
	dpos.metrics.RoundNumber.Set(float64(round.RoundNumber))

	rs := dpos.rs
	if rs.Order == 0 {
		dpos.Logger.Info("not in the current round", "round", round.RoundNumber)
		return
	}

	number := round.RoundNumber
	now := dpos.now()
	if !slotPassed(rs.TimeSlot, round.MiningInterval, now) {
		dpos.schedule.At("slot", rs.TimeSlot, func(ctx context.Context) {
			dpos.produce(ctx, number, cstypes.BehaviourPublishOutValueAndSignature, dpos.ownSlot)
		})
	} else {
		dpos.Logger.Info("time slot already passed", "round", number, "slot", rs.TimeSlot)
	}

	if rs.IsExtraBlockProducer {
		dpos.schedule.At("extra", rs.ExtraBlockTimeSlot, func(ctx context.Context) {
			dpos.produce(ctx, number, cstypes.BehaviourUpdateRound, dpos.updateRound)
		})
	} else {
		at := backupTime(round, rs.Order, dpos.config.ExtraBlockProducerTimeout)
		dpos.schedule.At("backup", at, func(ctx context.Context) {
			dpos.produce(ctx, number, cstypes.BehaviourUpdateRound, dpos.updateRound)
		})
	}
	dpos.Logger.Info("armed round", "round", rs)
}

// resetSchedule 调用者持有dpos.mtx
func (dpos *DPoS) resetSchedule(name string) {
	if dpos.schedule != nil {
		dpos.schedule.Dispose()
	}
	dpos.schedule = slot.NewSchedule(name, dpos.Logger.With("schedule", name), slot.WithClock(dpos.now))
}

//-----------------------------------------------------------------------------
// slot actions

func (dpos *DPoS) initialize(ctx context.Context) {
	ok := dpos.produce(ctx, 0, cstypes.BehaviourInitializeConsensus, func(cs *state.ConsensusState) (types.Txs, error) {
		tx, err := dpos.initializeConsensusTx(cs, dpos.now())
		if err != nil {
			return nil, err
		}
		return types.Txs{tx}, nil
	})
	if ok || ctx.Err() != nil {
		return
	}

	// 初始化失败时一个间隔后重试
	dpos.mtx.Lock()
	defer dpos.mtx.Unlock()
	if dpos.schedule != nil && dpos.rs.Step == cstypes.StepInitializing {
		dpos.schedule.After("initialize", dpos.miningInterval(nil), dpos.initialize)
	}
}

// ownSlot 先公布上一轮的InValue，再公布本轮的OutValue和签名
func (dpos *DPoS) ownSlot(cs *state.ConsensusState) (types.Txs, error) {
	round := cs.CurrentRound()
	if round.Miner(dpos.address) == nil {
		return nil, ErrNotInRound
	}

	txs := types.Txs{}
	revealed, err := dpos.values.Reveal(round.RoundNumber)
	switch {
	case err == nil:
		tx, err := dpos.publishInValueTx(round, revealed)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	case !errors.Is(err, ErrNoPendingValue):
		dpos.Logger.Info("in value not published", "round", round.RoundNumber, "err", err)
	}

	value, err := dpos.values.Generate(round.RoundNumber)
	if err != nil {
		return nil, err
	}
	tx, err := dpos.publishOutValueTx(round, cs.PreviousRound(), value)
	if err != nil {
		dpos.values.Discard()
		return nil, err
	}
	return append(txs, tx), nil
}

func (dpos *DPoS) updateRound(cs *state.ConsensusState) (types.Txs, error) {
	round := cs.CurrentRound()
	if round.Miner(dpos.address) == nil {
		return nil, ErrNotInRound
	}
	now := dpos.now()
	next := generateNextRound(cs, now)
	tx, err := dpos.updateRoundTx(round, next, now)
	if err != nil {
		return nil, err
	}
	return types.Txs{tx}, nil
}

// produce 获取出块标志位后提交共识交易并出块，返回是否成功出块
// 任何错误都只记录日志，视为跳过该时间槽
func (dpos *DPoS) produce(ctx context.Context, roundNumber uint64, behaviour cstypes.Behaviour, action slotAction) bool {
	if !dpos.claim() {
		dpos.Logger.Info("production in progress or hung, trigger dropped", "behaviour", behaviour, "round", roundNumber)
		dpos.metric.MarkDropped()
		dpos.metrics.DroppedTriggers.Add(1)
		return false
	}
	defer dpos.release()

	if ctx.Err() != nil {
		return false
	}
	err := dpos.doProduce(roundNumber, behaviour, action)
	if err != nil {
		dpos.Logger.Error("time slot skipped", "behaviour", behaviour, "round", roundNumber, "err", err)
		dpos.metric.MarkSkipped()
		dpos.metrics.SkippedSlots.Add(1)
		return false
	}
	return true
}

func (dpos *DPoS) doProduce(roundNumber uint64, behaviour cstypes.Behaviour, action slotAction) error {
	cs, err := state.LoadConsensusState(dpos.chain)
	if err != nil {
		return err
	}
	if cs.CurrentRoundNumber != roundNumber {
		return errors.Wrapf(ErrRoundChanged, "expected #%d, now #%d", roundNumber, cs.CurrentRoundNumber)
	}

	txs, err := action(cs)
	if err != nil {
		return err
	}
	for _, tx := range txs {
		outcome := dpos.mempool.Submit(tx, mempl.TxInfo{SenderID: mempl.UnknownPeerID})
		if outcome != types.TxSuccess && outcome != types.TxAlreadyExists {
			dpos.discardGenerated(behaviour, roundNumber)
			return errors.Errorf("submit %s: %v", tx.MethodName, outcome)
		}
		dpos.metrics.ConsensusTxs.With("method", tx.MethodName).Add(1)
	}
	dpos.metric.MarkBehaviour(behaviour)

	start := time.Now()
	block, err := dpos.miner.Mine(roundNumber)
	if err != nil {
		dpos.discardGenerated(behaviour, roundNumber)
		return errors.Wrap(err, "mine")
	}
	dpos.metrics.MiningSeconds.Observe(time.Since(start).Seconds())
	dpos.metrics.MinedBlocks.Add(1)
	dpos.metric.MarkMined(block.Height)
	return nil
}

// discardGenerated 出块失败时丢弃本时间槽生成的值，避免下一轮公布一个未上链的InValue
func (dpos *DPoS) discardGenerated(behaviour cstypes.Behaviour, roundNumber uint64) {
	if behaviour != cstypes.BehaviourPublishOutValueAndSignature {
		return
	}
	if p := dpos.values.Pending(); p != nil && p.RoundNumber == roundNumber {
		dpos.values.Discard()
	}
}

//-----------------------------------------------------------------------------
// production flag

func (dpos *DPoS) claim() bool {
	return atomic.CompareAndSwapInt32(&dpos.producing, flagIdle, flagProducing)
}

func (dpos *DPoS) release() {
	if !atomic.CompareAndSwapInt32(&dpos.producing, flagProducing, flagIdle) {
		atomic.CompareAndSwapInt32(&dpos.producing, flagProducingHung, flagHung)
	}
}

func (dpos *DPoS) isHung() bool {
	flag := atomic.LoadInt32(&dpos.producing)
	return flag == flagHung || flag == flagProducingHung
}

// Hang 暂停出块，正在进行的出块任务不受影响
func (dpos *DPoS) Hang() {
	for {
		switch atomic.LoadInt32(&dpos.producing) {
		case flagIdle:
			if atomic.CompareAndSwapInt32(&dpos.producing, flagIdle, flagHung) {
				dpos.markHung(true)
				return
			}
		case flagProducing:
			if atomic.CompareAndSwapInt32(&dpos.producing, flagProducing, flagProducingHung) {
				dpos.markHung(true)
				return
			}
		default:
			return
		}
	}
}

// Recover 恢复出块
func (dpos *DPoS) Recover() {
	for {
		switch atomic.LoadInt32(&dpos.producing) {
		case flagHung:
			if atomic.CompareAndSwapInt32(&dpos.producing, flagHung, flagIdle) {
				dpos.markHung(false)
				return
			}
		case flagProducingHung:
			if atomic.CompareAndSwapInt32(&dpos.producing, flagProducingHung, flagProducing) {
				dpos.markHung(false)
				return
			}
		default:
			return
		}
	}
}

func (dpos *DPoS) markHung(hung bool) {
	dpos.Logger.Info("consensus production flag changed", "hung", hung)
	dpos.metric.MarkHung(hung)

	dpos.mtx.Lock()
	defer dpos.mtx.Unlock()
	switch {
	case hung && dpos.rs.Step != cstypes.StepIdle:
		dpos.rs.Step = cstypes.StepPaused
	case !hung && dpos.rs.Step == cstypes.StepPaused:
		if dpos.rs.RoundNumber <= 2 {
			dpos.rs.Step = cstypes.StepProducingFirstRounds
		} else {
			dpos.rs.Step = cstypes.StepSteady
		}
	}
	dpos.metric.MarkRoundState(dpos.rs)
}

//-----------------------------------------------------------------------------

// IsAlive 当前时间是否还在当前轮次第一个时间槽附近
func (dpos *DPoS) IsAlive() bool {
	cs, err := state.LoadConsensusState(dpos.chain)
	if err != nil {
		return false
	}
	return isAlive(cs.CurrentRound(), dpos.now())
}

func (dpos *DPoS) GetRoundState() cstypes.RoundState {
	dpos.mtx.Lock()
	defer dpos.mtx.Unlock()
	return dpos.rs
}

func (dpos *DPoS) Address() types.Address {
	return dpos.address
}

func (dpos *DPoS) Metric() metric.MetricItem {
	return dpos.metric
}

// miningInterval 配置优先，其次是共识状态中的间隔
func (dpos *DPoS) miningInterval(cs *state.ConsensusState) time.Duration {
	if dpos.config.MiningInterval > 0 {
		return dpos.config.MiningInterval
	}
	if cs == nil {
		if loaded, err := state.LoadConsensusState(dpos.chain); err == nil {
			cs = loaded
		}
	}
	if cs != nil && cs.MiningInterval > 0 {
		return cs.MiningInterval
	}
	return time.Second
}
