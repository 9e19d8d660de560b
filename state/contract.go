package state

import (
	"bytes"

	"dposchain/types"

	"github.com/pkg/errors"
	"github.com/tendermint/tendermint/libs/log"
)

// ConsensusContract 执行共识交易，结果只取决于交易和执行前的ConsensusState
type ConsensusContract struct {
	logger log.Logger
}

func NewConsensusContract(logger log.Logger) *ConsensusContract {
	return &ConsensusContract{logger: logger}
}

// Apply 在cs上执行一笔共识交易，出错时cs不变
func (c *ConsensusContract) Apply(cs *ConsensusState, tx *types.Transaction) error {
	if !tx.IsConsensusTx() {
		return errors.Errorf("not a consensus tx: %v", tx)
	}

	// 先在拷贝上执行，成功后再替换
	next := cs.Copy()
	var err error
	switch tx.MethodName {
	case MethodInitializeConsensus:
		err = c.initializeConsensus(next, tx)
	case MethodPublishOutValueAndSignature:
		err = c.publishOutValueAndSignature(next, tx)
	case MethodPublishInValue:
		err = c.publishInValue(next, tx)
	case MethodUpdateRound:
		err = c.updateRound(next, tx)
	default:
		err = errors.Wrap(ErrUnknownMethod, tx.MethodName)
	}
	if err != nil {
		return errors.Wrapf(err, "%s from %v", tx.MethodName, tx.From)
	}
	*cs = *next
	return nil
}

func (c *ConsensusContract) initializeConsensus(cs *ConsensusState, tx *types.Transaction) error {
	if cs.IsInitialized() {
		return ErrAlreadyInitialized
	}
	in, err := DecodeInitializeConsensus(tx.Params)
	if err != nil {
		return err
	}
	if err := in.Producers.ValidateBasic(); err != nil {
		return errors.Wrap(err, "invalid producer set")
	}
	if !in.Producers.HasAddress(tx.From) {
		return errors.Wrapf(ErrNotMiner, "%v", tx.From)
	}
	// 创世文件已经给出出块者时必须一致
	if !cs.Producers.IsNilOrEmpty() && !sameAddresses(cs.Producers.Addresses(), in.Producers.Addresses()) {
		return errors.Wrap(ErrWrongParams, "producer set differs from genesis")
	}
	if len(in.FirstRounds) != 2 {
		return errors.Wrapf(ErrWrongParams, "expected 2 rounds, got %d", len(in.FirstRounds))
	}
	producers := in.Producers.Addresses()
	for i, r := range in.FirstRounds {
		if r.RoundNumber != uint64(i+1) {
			return errors.Wrapf(ErrWrongRound, "round #%d at position %d", r.RoundNumber, i)
		}
		if err := r.ValidateBasic(producers); err != nil {
			return errors.Wrapf(ErrWrongParams, "round #%d: %v", r.RoundNumber, err)
		}
	}
	if in.MiningInterval <= 0 {
		return errors.Wrap(ErrWrongParams, "mining interval must be positive")
	}

	cs.Producers = in.Producers
	cs.MiningInterval = in.MiningInterval
	cs.LogLevel = in.LogLevel
	cs.Rounds = nil
	for _, r := range in.FirstRounds {
		cs.setRound(r)
	}
	cs.CurrentRoundNumber = 1
	return nil
}

func (c *ConsensusContract) publishOutValueAndSignature(cs *ConsensusState, tx *types.Transaction) error {
	in, err := DecodePublishOutValue(tx.Params)
	if err != nil {
		return err
	}
	round, err := checkRound(cs, in.RoundNumber, in.RoundID)
	if err != nil {
		return err
	}
	miner, err := checkMiner(round, tx.From, in.ProducerAddress)
	if err != nil {
		return err
	}
	if len(in.OutValue) == 0 || len(in.Signature) == 0 {
		return errors.Wrap(ErrWrongParams, "empty out value or signature")
	}
	if len(miner.OutValue) > 0 {
		if bytes.Equal(miner.OutValue, in.OutValue) && bytes.Equal(miner.Signature, in.Signature) {
			return nil
		}
		return errors.Wrapf(ErrAlreadyPublished, "out value of %v in round #%d", miner.Address, round.RoundNumber)
	}
	miner.OutValue = in.OutValue
	miner.Signature = in.Signature
	return nil
}

func (c *ConsensusContract) publishInValue(cs *ConsensusState, tx *types.Transaction) error {
	in, err := DecodePublishInValue(tx.Params)
	if err != nil {
		return err
	}
	if _, err := checkRound(cs, in.RoundNumber, in.RoundID); err != nil {
		return err
	}
	previous := cs.PreviousRound()
	if previous == nil {
		return errors.Wrapf(ErrWrongRound, "no round before #%d", in.RoundNumber)
	}
	miner, err := checkMiner(previous, tx.From, in.ProducerAddress)
	if err != nil {
		return err
	}
	if !bytes.Equal(types.CalculateOutValue(in.InValue), miner.OutValue) {
		return ErrWrongInValue
	}
	miner.InValue = in.InValue
	return nil
}

func (c *ConsensusContract) updateRound(cs *ConsensusState, tx *types.Transaction) error {
	in, err := DecodeUpdateRound(tx.Params)
	if err != nil {
		return err
	}
	current, err := checkRound(cs, cs.CurrentRoundNumber, in.RoundID)
	if err != nil {
		return err
	}
	if current.Miner(tx.From) == nil {
		return errors.Wrapf(ErrNotMiner, "%v", tx.From)
	}
	if in.CurrentRound == nil || in.CurrentRound.RoundNumber != current.RoundNumber {
		return errors.Wrap(ErrWrongRound, "current round info does not match")
	}
	next := in.NextRound
	if next == nil || next.RoundNumber != current.RoundNumber+1 {
		return errors.Wrap(ErrWrongRound, "next round number must follow the current one")
	}
	if err := next.ValidateBasic(cs.Producers.Addresses()); err != nil {
		return errors.Wrapf(ErrWrongParams, "next round: %v", err)
	}
	if ebp := next.ExtraBlockProducer(); ebp == nil || !ebp.Address.Equal(in.ExtraBlockProducer) {
		return errors.Wrap(ErrWrongParams, "extra block producer does not match next round")
	}
	if !next.StartTime().After(current.ExtraBlockTimeSlot()) {
		return errors.Wrap(ErrWrongRound, "next round starts before the extra block slot")
	}
	// 出块顺序和extra block producer由已提交的本轮数据决定，只有开始时间由提交者选择
	if err := sameSchedule(cs.GenerateNextRound(next.StartTime()), next); err != nil {
		return errors.Wrapf(ErrWrongParams, "next round: %v", err)
	}

	cs.setRound(next.Copy())
	cs.CurrentRoundNumber = next.RoundNumber
	cs.prune()
	c.logger.Debug("round updated", "round", next.RoundNumber, "ebp", in.ExtraBlockProducer)
	return nil
}

// sameSchedule 比较每个出块者的顺序、时间槽和extra block producer
func sameSchedule(expected, got *types.Round) error {
	if expected.Size() != got.Size() || expected.MiningInterval != got.MiningInterval {
		return errors.Errorf("expected %d miners every %v, got %d every %v",
			expected.Size(), expected.MiningInterval, got.Size(), got.MiningInterval)
	}
	for _, want := range expected.Miners {
		m := got.Miner(want.Address)
		switch {
		case m == nil:
			return errors.Errorf("miner %v missing", want.Address)
		case m.Order != want.Order:
			return errors.Errorf("miner %v has order %d, expected %d", want.Address, m.Order, want.Order)
		case !m.TimeSlot.Equal(want.TimeSlot):
			return errors.Errorf("miner %v has time slot %v, expected %v", want.Address, m.TimeSlot, want.TimeSlot)
		case m.IsExtraBlockProducer != want.IsExtraBlockProducer:
			return errors.Errorf("extra block producer flag of %v is %v", want.Address, m.IsExtraBlockProducer)
		}
	}
	return nil
}

func checkRound(cs *ConsensusState, number uint64, roundID int64) (*types.Round, error) {
	if !cs.IsInitialized() {
		return nil, ErrNotInitialized
	}
	if number != cs.CurrentRoundNumber {
		return nil, errors.Wrapf(ErrWrongRound, "expected #%d, got #%d", cs.CurrentRoundNumber, number)
	}
	round := cs.CurrentRound()
	if round == nil {
		return nil, errors.Wrapf(ErrWrongRound, "round #%d not found", number)
	}
	if round.RoundID() != roundID {
		return nil, errors.Wrapf(ErrWrongRoundID, "expected %d, got %d", round.RoundID(), roundID)
	}
	return round, nil
}

// checkMiner 交易只能由出块者为自己提交
func checkMiner(round *types.Round, from, producer types.Address) (*types.MinerInRound, error) {
	if !from.Equal(producer) {
		return nil, errors.Wrapf(ErrNotMiner, "%v publishes for %v", from, producer)
	}
	miner := round.Miner(producer)
	if miner == nil {
		return nil, errors.Wrapf(ErrNotMiner, "%v in round #%d", producer, round.RoundNumber)
	}
	return miner, nil
}

func sameAddresses(a, b types.Addresses) bool {
	if len(a) != len(b) {
		return false
	}
	for _, addr := range a {
		if !b.Contains(addr) {
			return false
		}
	}
	return true
}
