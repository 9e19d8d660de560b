package consensus

import (
	"time"

	"dposchain/state"
	"dposchain/types"

	"github.com/pkg/errors"
)

type paramsEncoder interface {
	Params() ([][]byte, error)
}

// newConsensusTx 构造并签名一笔共识交易
// 交易时间使用时间槽的时间，同一时间槽内生成的交易相同
func (dpos *DPoS) newConsensusTx(method string, input paramsEncoder, at time.Time) (*types.Transaction, error) {
	params, err := input.Params()
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s params", method)
	}
	refHeight, refPrefix := refBlock(dpos.chain)
	tx := &types.Transaction{
		From:           dpos.address,
		To:             types.ConsensusContractAddress,
		RefBlockNumber: refHeight,
		RefBlockPrefix: refPrefix,
		MethodName:     method,
		Params:         params,
		Type:           types.DPoSTransaction,
		Time:           at.UTC(),
	}
	if err := dpos.privVal.SignTransaction(tx); err != nil {
		return nil, errors.Wrapf(err, "sign %s", method)
	}
	return tx, nil
}

func (dpos *DPoS) initializeConsensusTx(cs *state.ConsensusState, now time.Time) (*types.Transaction, error) {
	interval := dpos.miningInterval(cs)
	producers := cs.Producers.Addresses()
	// 第一轮从下一个间隔开始，初始化交易所在的区块先于第一个时间槽
	rounds := types.GenerateFirstRounds(producers, now.Add(interval), interval)
	return dpos.newConsensusTx(state.MethodInitializeConsensus, state.InitializeConsensusInput{
		Producers:      cs.Producers,
		FirstRounds:    rounds,
		MiningInterval: interval,
		LogLevel:       dpos.config.LogLevel,
	}, now)
}

func (dpos *DPoS) publishOutValueTx(round *types.Round, previous *types.Round, value *pendingValue) (*types.Transaction, error) {
	slot := round.Miner(dpos.address).TimeSlot
	return dpos.newConsensusTx(state.MethodPublishOutValueAndSignature, state.PublishOutValueInput{
		RoundNumber:     round.RoundNumber,
		ProducerAddress: dpos.address,
		OutValue:        value.OutValue,
		Signature:       types.CalculateSignature(value.InValue, previous),
		RoundID:         round.RoundID(),
	}, slot)
}

func (dpos *DPoS) publishInValueTx(round *types.Round, value *pendingValue) (*types.Transaction, error) {
	slot := round.Miner(dpos.address).TimeSlot
	return dpos.newConsensusTx(state.MethodPublishInValue, state.PublishInValueInput{
		RoundNumber:     round.RoundNumber,
		ProducerAddress: dpos.address,
		InValue:         value.InValue,
		RoundID:         round.RoundID(),
	}, slot)
}

func (dpos *DPoS) updateRoundTx(round *types.Round, next *types.Round, at time.Time) (*types.Transaction, error) {
	ebp := next.ExtraBlockProducer()
	if ebp == nil {
		return nil, errors.Errorf("round #%d has no extra block producer", next.RoundNumber)
	}
	return dpos.newConsensusTx(state.MethodUpdateRound, state.UpdateRoundInput{
		CurrentRound:       round,
		NextRound:          next,
		ExtraBlockProducer: ebp.Address,
		RoundID:            round.RoundID(),
	}, at)
}
