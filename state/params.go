package state

import (
	"time"

	"dposchain/types"

	"github.com/pkg/errors"
	tmbytes "github.com/tendermint/tendermint/libs/bytes"
	tmjson "github.com/tendermint/tendermint/libs/json"
)

// 共识合约的方法名
const (
	MethodInitializeConsensus         = "InitializeConsensus"
	MethodPublishOutValueAndSignature = "PublishOutValueAndSignature"
	MethodPublishInValue              = "PublishInValue"
	MethodUpdateRound                 = "UpdateRound"
)

// 共识交易的参数按位置编码，每个参数单独用tmjson编码

func encodeParams(values ...interface{}) ([][]byte, error) {
	params := make([][]byte, len(values))
	for i, v := range values {
		bz, err := tmjson.Marshal(v)
		if err != nil {
			return nil, errors.Wrapf(err, "encode param #%d", i)
		}
		params[i] = bz
	}
	return params, nil
}

func decodeParams(params [][]byte, ptrs ...interface{}) error {
	if len(params) != len(ptrs) {
		return errors.Wrapf(ErrWrongParams, "expected %d params, got %d", len(ptrs), len(params))
	}
	for i, ptr := range ptrs {
		if err := tmjson.Unmarshal(params[i], ptr); err != nil {
			return errors.Wrapf(ErrWrongParams, "decode param #%d: %v", i, err)
		}
	}
	return nil
}

// InitializeConsensusInput 第一轮由信息生成者提交，包含前两轮的信息
type InitializeConsensusInput struct {
	Producers      *types.ProducerSet
	FirstRounds    []*types.Round
	MiningInterval time.Duration
	LogLevel       int32
}

func (in InitializeConsensusInput) Params() ([][]byte, error) {
	return encodeParams(in.Producers, in.FirstRounds, in.MiningInterval, in.LogLevel)
}

func DecodeInitializeConsensus(params [][]byte) (in InitializeConsensusInput, err error) {
	err = decodeParams(params, &in.Producers, &in.FirstRounds, &in.MiningInterval, &in.LogLevel)
	return
}

// PublishOutValueInput 出块者在自己的时间槽公布OutValue和签名
type PublishOutValueInput struct {
	RoundNumber     uint64
	ProducerAddress types.Address
	OutValue        tmbytes.HexBytes
	Signature       tmbytes.HexBytes
	RoundID         int64
}

func (in PublishOutValueInput) Params() ([][]byte, error) {
	return encodeParams(in.RoundNumber, in.ProducerAddress, in.OutValue, in.Signature, in.RoundID)
}

func DecodePublishOutValue(params [][]byte) (in PublishOutValueInput, err error) {
	err = decodeParams(params, &in.RoundNumber, &in.ProducerAddress, &in.OutValue, &in.Signature, &in.RoundID)
	return
}

// PublishInValueInput 在下一轮公布上一轮的InValue，RoundNumber和RoundID都是公布时所在的轮次
type PublishInValueInput struct {
	RoundNumber     uint64
	ProducerAddress types.Address
	InValue         tmbytes.HexBytes
	RoundID         int64
}

func (in PublishInValueInput) Params() ([][]byte, error) {
	return encodeParams(in.RoundNumber, in.ProducerAddress, in.InValue, in.RoundID)
}

func DecodePublishInValue(params [][]byte) (in PublishInValueInput, err error) {
	err = decodeParams(params, &in.RoundNumber, &in.ProducerAddress, &in.InValue, &in.RoundID)
	return
}

// UpdateRoundInput extra block producer在本轮结束时提交下一轮信息
type UpdateRoundInput struct {
	CurrentRound       *types.Round
	NextRound          *types.Round
	ExtraBlockProducer types.Address
	RoundID            int64
}

func (in UpdateRoundInput) Params() ([][]byte, error) {
	return encodeParams(in.CurrentRound, in.NextRound, in.ExtraBlockProducer, in.RoundID)
}

func DecodeUpdateRound(params [][]byte) (in UpdateRoundInput, err error) {
	err = decodeParams(params, &in.CurrentRound, &in.NextRound, &in.ExtraBlockProducer, &in.RoundID)
	return
}
