package state

import (
	"fmt"
	"sort"
	"time"

	"dposchain/types"

	"github.com/pkg/errors"
	tmjson "github.com/tendermint/tendermint/libs/json"
)

const (
	// 除当前轮次外最多保留的历史轮次数
	keepRounds = 2
)

// MakeGenesisState 由创世文件得到高度0的共识状态，此时还没有初始化轮次信息
func MakeGenesisState(genDoc *types.GenesisDoc) *ConsensusState {
	return &ConsensusState{
		ChainID:        genDoc.ChainID,
		Producers:      genDoc.ProducerSet(),
		MiningInterval: genDoc.MiningInterval,
	}
}

// ConsensusState 共识合约的状态，每个高度执行完成后保存一份快照
// 回滚区块时恢复到对应高度的快照
type ConsensusState struct {
	ChainID            string             `json:"chain_id"`
	Producers          *types.ProducerSet `json:"producers"`
	MiningInterval     time.Duration      `json:"mining_interval"`
	CurrentRoundNumber uint64             `json:"current_round_number"`
	LogLevel           int32              `json:"log_level"`

	// 按轮次升序，只保留最近几轮
	Rounds []*types.Round `json:"rounds"`
}

// ConsensusStateFromBytes 解码快照，空快照返回空状态
func ConsensusStateFromBytes(bz []byte) (*ConsensusState, error) {
	cs := &ConsensusState{}
	if len(bz) == 0 {
		return cs, nil
	}
	if err := tmjson.Unmarshal(bz, cs); err != nil {
		return nil, errors.Wrap(err, "decode consensus state")
	}
	return cs, nil
}

// LoadConsensusState 读取主链最高区块对应的共识状态
func LoadConsensusState(chain ChainStore) (*ConsensusState, error) {
	bz, err := chain.CurrentSnapshot()
	if err != nil {
		return nil, errors.Wrap(err, "load consensus snapshot")
	}
	return ConsensusStateFromBytes(bz)
}

func (cs *ConsensusState) Bytes() []byte {
	bz, err := tmjson.Marshal(cs)
	if err != nil {
		panic(err)
	}
	return bz
}

func (cs *ConsensusState) IsInitialized() bool {
	return cs.CurrentRoundNumber > 0
}

func (cs *ConsensusState) Round(number uint64) *types.Round {
	for _, r := range cs.Rounds {
		if r.RoundNumber == number {
			return r
		}
	}
	return nil
}

func (cs *ConsensusState) CurrentRound() *types.Round {
	return cs.Round(cs.CurrentRoundNumber)
}

func (cs *ConsensusState) PreviousRound() *types.Round {
	if cs.CurrentRoundNumber <= 1 {
		return nil
	}
	return cs.Round(cs.CurrentRoundNumber - 1)
}

// NextRound 已经生成但还未开始的下一轮，只有初始化后的第二轮会提前生成
func (cs *ConsensusState) NextRound() *types.Round {
	return cs.Round(cs.CurrentRoundNumber + 1)
}

// GenerateNextRound 从start开始的下一轮，所有节点由相同的已提交状态得到相同的结果
// 初始化时生成的第二轮只重新排时间，之后的轮次由本轮的签名计算
func (cs *ConsensusState) GenerateNextRound(start time.Time) *types.Round {
	if next := cs.NextRound(); next != nil {
		return next.Retime(next.RoundNumber, start)
	}
	current := cs.CurrentRound()
	if current == nil {
		return nil
	}
	return current.GenerateNextRound(start)
}

func (cs *ConsensusState) setRound(round *types.Round) {
	for i, r := range cs.Rounds {
		if r.RoundNumber == round.RoundNumber {
			cs.Rounds[i] = round
			return
		}
	}
	cs.Rounds = append(cs.Rounds, round)
	sort.Slice(cs.Rounds, func(i, j int) bool {
		return cs.Rounds[i].RoundNumber < cs.Rounds[j].RoundNumber
	})
}

// prune 删除比当前轮次早keepRounds以上的轮次
func (cs *ConsensusState) prune() {
	if cs.CurrentRoundNumber <= keepRounds {
		return
	}
	oldest := cs.CurrentRoundNumber - keepRounds
	kept := cs.Rounds[:0]
	for _, r := range cs.Rounds {
		if r.RoundNumber >= oldest {
			kept = append(kept, r)
		}
	}
	cs.Rounds = kept
}

// Copy deep copy
func (cs *ConsensusState) Copy() *ConsensusState {
	cp := &ConsensusState{
		ChainID:            cs.ChainID,
		MiningInterval:     cs.MiningInterval,
		CurrentRoundNumber: cs.CurrentRoundNumber,
		LogLevel:           cs.LogLevel,
		Rounds:             make([]*types.Round, len(cs.Rounds)),
	}
	if cs.Producers != nil {
		cp.Producers = cs.Producers.Copy()
	}
	for i, r := range cs.Rounds {
		cp.Rounds[i] = r.Copy()
	}
	return cp
}

func (cs *ConsensusState) String() string {
	return fmt.Sprintf("ConsensusState{%s round:%d rounds:%d producers:%d}",
		cs.ChainID, cs.CurrentRoundNumber, len(cs.Rounds), cs.Producers.Size())
}
