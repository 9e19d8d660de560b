package consensus

import (
	"sync"

	"dposchain/types"

	"github.com/pkg/errors"
	tmbytes "github.com/tendermint/tendermint/libs/bytes"
	tmrand "github.com/tendermint/tendermint/libs/rand"
)

const inValueSize = 32

var (
	ErrPendingValueExists = errors.New("an unrevealed in value already exists")
	ErrNoPendingValue     = errors.New("no unrevealed in value")
	ErrStalePendingValue  = errors.New("unrevealed in value is too old to publish")
)

// pendingValue 已经公布OutValue但还没有公布InValue的一对值
type pendingValue struct {
	RoundNumber uint64
	InValue     tmbytes.HexBytes
	OutValue    tmbytes.HexBytes
}

// inOutValue 最多只保存一对未公布的值
// 第N轮生成，第N+1轮取出并公布InValue
type inOutValue struct {
	mtx     sync.Mutex
	pending *pendingValue
}

func newInOutValue() *inOutValue {
	return &inOutValue{}
}

// Generate 为roundNumber轮生成新的一对值
func (v *inOutValue) Generate(roundNumber uint64) (*pendingValue, error) {
	v.mtx.Lock()
	defer v.mtx.Unlock()

	if v.pending != nil {
		return nil, errors.Wrapf(ErrPendingValueExists, "round #%d", v.pending.RoundNumber)
	}
	in := tmrand.Bytes(inValueSize)
	v.pending = &pendingValue{
		RoundNumber: roundNumber,
		InValue:     in,
		OutValue:    types.CalculateOutValue(in),
	}
	return v.pending, nil
}

// Reveal 在roundNumber轮取出上一轮生成的值
// 更早轮次的值已经无法通过合约校验，直接丢弃；本轮生成的值保持不动
func (v *inOutValue) Reveal(roundNumber uint64) (*pendingValue, error) {
	v.mtx.Lock()
	defer v.mtx.Unlock()

	p := v.pending
	switch {
	case p == nil:
		return nil, ErrNoPendingValue
	case p.RoundNumber >= roundNumber:
		return nil, errors.Wrapf(ErrNoPendingValue, "value of round #%d is not revealable in #%d", p.RoundNumber, roundNumber)
	case p.RoundNumber+1 < roundNumber:
		v.pending = nil
		return nil, errors.Wrapf(ErrStalePendingValue, "round #%d", p.RoundNumber)
	}
	v.pending = nil
	return p, nil
}

// Discard 回滚或者生成的交易提交失败时丢弃
func (v *inOutValue) Discard() {
	v.mtx.Lock()
	v.pending = nil
	v.mtx.Unlock()
}

func (v *inOutValue) Pending() *pendingValue {
	v.mtx.Lock()
	defer v.mtx.Unlock()
	return v.pending
}
