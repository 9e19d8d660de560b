package consensus

import (
	"time"

	cstypes "dposchain/consensus/types"
	"dposchain/state"
	"dposchain/types"
)

// refBlockOffset 共识交易引用的区块距离当前高度的偏移
const refBlockOffset = 4

// makeRoundState 计算addr在cs当前轮次中的视图
func makeRoundState(cs *state.ConsensusState, addr types.Address) cstypes.RoundState {
	rs := cstypes.RoundState{Step: cstypes.StepIdle}
	round := cs.CurrentRound()
	if round == nil {
		return rs
	}
	rs.RoundNumber = round.RoundNumber
	rs.RoundID = round.RoundID()
	rs.ExtraBlockTimeSlot = round.ExtraBlockTimeSlot()
	if m := round.Miner(addr); m != nil {
		rs.Order = m.Order
		rs.TimeSlot = m.TimeSlot
		rs.IsExtraBlockProducer = m.IsExtraBlockProducer
	}
	// 第二轮及之前使用初始化时生成的轮次信息
	if round.RoundNumber <= 2 {
		rs.Step = cstypes.StepProducingFirstRounds
	} else {
		rs.Step = cstypes.StepSteady
	}
	return rs
}

// nextRoundStart 下一轮第一个时间槽，不早于extra block时间槽之后一个间隔
// 本节点落后时从now之后一个间隔开始
func nextRoundStart(current *types.Round, now time.Time) time.Time {
	start := current.ExtraBlockTimeSlot().Add(current.MiningInterval)
	if late := now.Add(current.MiningInterval); late.After(start) {
		start = late
	}
	return start
}

// generateNextRound 下一轮的顺序由已提交的状态决定，只有开始时间取决于now
func generateNextRound(cs *state.ConsensusState, now time.Time) *types.Round {
	return cs.GenerateNextRound(nextRoundStart(cs.CurrentRound(), now))
}

// isAlive 当前时间是否在第一个时间槽附近的窗口内
//  start - N*I < now < start + 2*N*I + I
func isAlive(round *types.Round, now time.Time) bool {
	if round == nil || round.Size() == 0 {
		return false
	}
	span := time.Duration(round.Size()) * round.MiningInterval
	start := round.StartTime()
	lower := start.Add(-span)
	upper := start.Add(2*span + round.MiningInterval)
	return now.After(lower) && now.Before(upper)
}

// backupTime 第order个出块者补出extra block的时间
func backupTime(round *types.Round, order int, timeout time.Duration) time.Time {
	return round.ExtraBlockTimeSlot().
		Add(time.Duration(order) * round.MiningInterval).
		Add(timeout)
}

// slotPassed 时间槽已经整个过去
func slotPassed(slot time.Time, interval time.Duration, now time.Time) bool {
	return !now.Before(slot.Add(interval))
}

// refBlock 共识交易引用的区块高度以及hash前缀
func refBlock(chain state.ChainStore) (uint64, []byte) {
	height := chain.CurrentHeight()
	if height > refBlockOffset {
		height -= refBlockOffset
	} else {
		height = 0
	}
	hash, ok := chain.BlockHashAt(height)
	if !ok || len(hash) < types.RefBlockPrefixSize {
		return height, nil
	}
	return height, append([]byte{}, hash[:types.RefBlockPrefixSize]...)
}
