package consensus

import (
	"sync"
	"time"

	cstypes "dposchain/consensus/types"

	jsoniter "github.com/json-iterator/go"
)

func newConsensusMetric() *consensusMetric {
	return &consensusMetric{
		Step:          cstypes.StepIdle.String(),
		LastBehaviour: cstypes.BehaviourNothing.String(),
	}
}

// consensusMetric 通过rpc的metrics接口查看的调度器状态
type consensusMetric struct {
	mtx sync.Mutex

	Step          string    `json:"step"`
	RoundNumber   uint64    `json:"round_number"`
	RoundID       int64     `json:"round_id"`
	Order         int       `json:"order"`
	IsEBP         bool      `json:"is_extra_block_producer"`
	TimeSlot      time.Time `json:"time_slot"`
	LastBehaviour string    `json:"last_behaviour"`

	MinedBlocks     int64  `json:"mined_blocks"`
	LastMinedHeight uint64 `json:"last_mined_height"`
	SkippedSlots    int64  `json:"skipped_slots"`
	DroppedTriggers int64  `json:"dropped_triggers"`
	Hung            bool   `json:"hung"`
}

func (cm *consensusMetric) JSONString() string {
	cm.mtx.Lock()
	defer cm.mtx.Unlock()
	s, _ := jsoniter.MarshalToString(cm)
	return s
}

func (cm *consensusMetric) MarkRoundState(rs cstypes.RoundState) {
	cm.mtx.Lock()
	defer cm.mtx.Unlock()
	cm.Step = rs.Step.String()
	cm.RoundNumber = rs.RoundNumber
	cm.RoundID = rs.RoundID
	cm.Order = rs.Order
	cm.IsEBP = rs.IsExtraBlockProducer
	cm.TimeSlot = rs.TimeSlot
}

func (cm *consensusMetric) MarkBehaviour(b cstypes.Behaviour) {
	cm.mtx.Lock()
	cm.LastBehaviour = b.String()
	cm.mtx.Unlock()
}

func (cm *consensusMetric) MarkMined(height uint64) {
	cm.mtx.Lock()
	cm.MinedBlocks++
	cm.LastMinedHeight = height
	cm.mtx.Unlock()
}

func (cm *consensusMetric) MarkSkipped() {
	cm.mtx.Lock()
	cm.SkippedSlots++
	cm.mtx.Unlock()
}

func (cm *consensusMetric) MarkDropped() {
	cm.mtx.Lock()
	cm.DroppedTriggers++
	cm.mtx.Unlock()
}

func (cm *consensusMetric) MarkHung(v bool) {
	cm.mtx.Lock()
	cm.Hung = v
	cm.mtx.Unlock()
}
