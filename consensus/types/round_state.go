package types

import (
	"fmt"
	"time"
)

//-----------------------------------------------------------------------------
// SchedulerStep enum type

// SchedulerStep 共识调度器所处的阶段
type SchedulerStep uint8

const (
	StepIdle                 = SchedulerStep(0x01) // 未启动或者本节点不出块
	StepInitializing         = SchedulerStep(0x02) // 由本节点生成前两轮信息
	StepProducingFirstRounds = SchedulerStep(0x03) // 第一轮、第二轮，还没有任何UpdateRound
	StepSteady               = SchedulerStep(0x04)
	StepPaused               = SchedulerStep(0x05) // 收到Pending区块或者被Hang
)

func (s SchedulerStep) String() string {
	switch s {
	case StepIdle:
		return "Idle"
	case StepInitializing:
		return "Initializing"
	case StepProducingFirstRounds:
		return "ProducingFirstRounds"
	case StepSteady:
		return "Steady"
	case StepPaused:
		return "Paused"
	default:
		return fmt.Sprintf("SchedulerStep(%d)", uint8(s))
	}
}

//-----------------------------------------------------------------------------
// Behaviour enum type

// Behaviour 一个时间槽内需要做的事，每个Behaviour对应一笔共识交易
type Behaviour uint8

const (
	BehaviourNothing                     = Behaviour(0x00)
	BehaviourInitializeConsensus         = Behaviour(0x01)
	BehaviourPublishInValue              = Behaviour(0x02) // 公布上一轮的InValue
	BehaviourPublishOutValueAndSignature = Behaviour(0x03)
	BehaviourUpdateRound                 = Behaviour(0x04) // extra block时间槽或者备用节点补位
)

func (b Behaviour) String() string {
	switch b {
	case BehaviourNothing:
		return "Nothing"
	case BehaviourInitializeConsensus:
		return "InitializeConsensus"
	case BehaviourPublishInValue:
		return "PublishInValue"
	case BehaviourPublishOutValueAndSignature:
		return "PublishOutValueAndSignature"
	case BehaviourUpdateRound:
		return "UpdateRound"
	default:
		return fmt.Sprintf("Behaviour(%d)", uint8(b))
	}
}

// RoundState 调度器当前所在轮次的视图，每次轮次切换时重新计算
type RoundState struct {
	Step        SchedulerStep
	RoundNumber uint64
	RoundID     int64

	// 本节点在该轮中的位置，0表示不在该轮中
	Order                int
	IsExtraBlockProducer bool
	TimeSlot             time.Time
	ExtraBlockTimeSlot   time.Time

	LastBehaviour Behaviour
}

func (rs *RoundState) String() string {
	return fmt.Sprintf("RoundState{%v round:#%d id:%d order:%d ebp:%v slot:%v}",
		rs.Step, rs.RoundNumber, rs.RoundID, rs.Order, rs.IsExtraBlockProducer, rs.TimeSlot)
}
