package types

import (
	"encoding/binary"
	"fmt"
	"sort"
	"time"

	"github.com/tendermint/tendermint/crypto/tmhash"
	tmbytes "github.com/tendermint/tendermint/libs/bytes"
)

// MinerInRound 一个出块者在某一轮中的时间槽以及公布的值
type MinerInRound struct {
	Address              Address          `json:"address"`
	Order                int              `json:"order"`
	TimeSlot             time.Time        `json:"time_slot"`
	OutValue             tmbytes.HexBytes `json:"out_value"`
	Signature            tmbytes.HexBytes `json:"signature"`
	InValue              tmbytes.HexBytes `json:"in_value"`
	IsExtraBlockProducer bool             `json:"is_extra_block_producer"`
}

func (m *MinerInRound) Copy() *MinerInRound {
	cp := *m
	return &cp
}

// Round 一轮DPoS共识：按Order排序的时间槽，最后追加一个extra block时间槽
type Round struct {
	RoundNumber    uint64          `json:"round_number"`
	MiningInterval time.Duration   `json:"mining_interval"`
	Miners         []*MinerInRound `json:"miners"`
}

// RoundID 由所有时间槽计算得到，同一轮的信息在所有节点上相同
func (r *Round) RoundID() int64 {
	var id int64
	for _, m := range r.Miners {
		id += m.TimeSlot.UnixNano() / int64(time.Millisecond)
	}
	return id
}

func (r *Round) Size() int {
	return len(r.Miners)
}

func (r *Round) Miner(addr Address) *MinerInRound {
	for _, m := range r.Miners {
		if m.Address.Equal(addr) {
			return m
		}
	}
	return nil
}

func (r *Round) MinerByOrder(order int) *MinerInRound {
	for _, m := range r.Miners {
		if m.Order == order {
			return m
		}
	}
	return nil
}

func (r *Round) ExtraBlockProducer() *MinerInRound {
	for _, m := range r.Miners {
		if m.IsExtraBlockProducer {
			return m
		}
	}
	return nil
}

// StartTime 第一个时间槽的开始时间
func (r *Round) StartTime() time.Time {
	if m := r.MinerByOrder(1); m != nil {
		return m.TimeSlot
	}
	return time.Time{}
}

// ExtraBlockTimeSlot 最后一个普通时间槽之后的一个间隔
func (r *Round) ExtraBlockTimeSlot() time.Time {
	if m := r.MinerByOrder(len(r.Miners)); m != nil {
		return m.TimeSlot.Add(r.MiningInterval)
	}
	return time.Time{}
}

func (r *Round) Addresses() Addresses {
	addrs := make(Addresses, 0, len(r.Miners))
	for _, m := range r.Miners {
		addrs = append(addrs, m.Address)
	}
	return addrs
}

// Signatures 按Order顺序返回所有已公布的签名
func (r *Round) Signatures() [][]byte {
	sigs := make([][]byte, 0, len(r.Miners))
	for i := 1; i <= len(r.Miners); i++ {
		if m := r.MinerByOrder(i); m != nil && len(m.Signature) > 0 {
			sigs = append(sigs, m.Signature)
		}
	}
	return sigs
}

func (r *Round) Copy() *Round {
	if r == nil {
		return nil
	}
	cp := &Round{
		RoundNumber:    r.RoundNumber,
		MiningInterval: r.MiningInterval,
		Miners:         make([]*MinerInRound, len(r.Miners)),
	}
	for i, m := range r.Miners {
		cp.Miners[i] = m.Copy()
	}
	return cp
}

// ValidateBasic 检查Order是出块者集合的排列，并且只有一个extra block producer
func (r *Round) ValidateBasic(producers Addresses) error {
	if r.RoundNumber == 0 {
		return fmt.Errorf("round number must be positive")
	}
	if r.MiningInterval <= 0 {
		return fmt.Errorf("mining interval must be positive")
	}
	if len(r.Miners) != len(producers) {
		return fmt.Errorf("round has %d miners, expected %d", len(r.Miners), len(producers))
	}
	seen := make(map[int]bool, len(r.Miners))
	ebp := 0
	for _, m := range r.Miners {
		if m.Order < 1 || m.Order > len(r.Miners) || seen[m.Order] {
			return fmt.Errorf("invalid order %d for %v", m.Order, m.Address)
		}
		seen[m.Order] = true
		if !producers.Contains(m.Address) {
			return fmt.Errorf("%v is not a producer", m.Address)
		}
		if m.IsExtraBlockProducer {
			ebp++
		}
	}
	if ebp != 1 {
		return fmt.Errorf("round has %d extra block producers", ebp)
	}
	for i := 2; i <= len(r.Miners); i++ {
		if !r.MinerByOrder(i).TimeSlot.After(r.MinerByOrder(i - 1).TimeSlot) {
			return fmt.Errorf("time slot of order %d is not after order %d", i, i-1)
		}
	}
	return nil
}

func (r *Round) String() string {
	if r == nil {
		return "nil-Round"
	}
	return fmt.Sprintf("Round{#%d id:%d miners:%d start:%v}", r.RoundNumber, r.RoundID(), len(r.Miners), r.StartTime())
}

//-----------------------------------------------------------------------------

// CalculateOutValue OutValue = H(InValue)
func CalculateOutValue(inValue []byte) tmbytes.HexBytes {
	return tmhash.Sum(inValue)
}

// CalculateSignature 签名 = H(InValue || 上一轮所有签名)，第一轮没有上一轮时只对InValue求hash
func CalculateSignature(inValue []byte, previous *Round) tmbytes.HexBytes {
	h := tmhash.New()
	h.Write(inValue)
	if previous != nil {
		for _, sig := range previous.Signatures() {
			h.Write(sig)
		}
	}
	return h.Sum(nil)
}

// GenerateFirstRounds 生成前两轮的信息，出块顺序为地址的字节序
func GenerateFirstRounds(producers Addresses, start time.Time, interval time.Duration) []*Round {
	sorted := make(Addresses, len(producers))
	copy(sorted, producers)
	sort.Sort(sorted)

	first := &Round{RoundNumber: 1, MiningInterval: interval}
	for i, addr := range sorted {
		first.Miners = append(first.Miners, &MinerInRound{
			Address:              addr,
			Order:                i + 1,
			TimeSlot:             start.Add(time.Duration(i) * interval),
			IsExtraBlockProducer: i == 0,
		})
	}

	second := first.Copy()
	second.RoundNumber = 2
	second.retime(first.ExtraBlockTimeSlot().Add(interval))
	return []*Round{first, second}
}

// retime 按Order重新计算时间槽
func (r *Round) retime(start time.Time) {
	for _, m := range r.Miners {
		m.TimeSlot = start.Add(time.Duration(m.Order-1) * r.MiningInterval)
	}
}

// Retime 返回从start开始重新排时间的拷贝，清空公布的值
func (r *Round) Retime(roundNumber uint64, start time.Time) *Round {
	cp := r.Copy()
	cp.RoundNumber = roundNumber
	for _, m := range cp.Miners {
		m.OutValue, m.Signature, m.InValue = nil, nil, nil
	}
	cp.retime(start)
	return cp
}

// GenerateNextRound 根据本轮公布的签名计算下一轮的出块顺序
// 有签名的出块者 order = sig mod N + 1，冲突时线性探测；没有签名的出块者按本轮顺序填补剩余位置
// 下一轮的extra block producer由本轮order为1的出块者的签名决定，没有签名时沿用本轮的extra block producer
func (r *Round) GenerateNextRound(start time.Time) *Round {
	n := len(r.Miners)
	next := &Round{
		RoundNumber:    r.RoundNumber + 1,
		MiningInterval: r.MiningInterval,
		Miners:         make([]*MinerInRound, 0, n),
	}
	taken := make(map[int]bool, n)
	var unsigned []*MinerInRound

	for i := 1; i <= n; i++ {
		m := r.MinerByOrder(i)
		if m == nil {
			continue
		}
		if len(m.Signature) == 0 {
			unsigned = append(unsigned, m)
			continue
		}
		order := int(sigToUint64(m.Signature)%uint64(n)) + 1
		for taken[order] {
			order = order%n + 1
		}
		taken[order] = true
		next.Miners = append(next.Miners, &MinerInRound{Address: m.Address, Order: order})
	}
	order := 1
	for _, m := range unsigned {
		for taken[order] {
			order++
		}
		taken[order] = true
		next.Miners = append(next.Miners, &MinerInRound{Address: m.Address, Order: order})
	}
	sort.Slice(next.Miners, func(i, j int) bool { return next.Miners[i].Order < next.Miners[j].Order })
	next.retime(start)

	var ebp Address
	if first := r.MinerByOrder(1); first != nil && len(first.Signature) > 0 {
		ebp = next.MinerByOrder(int(sigToUint64(first.Signature)%uint64(n)) + 1).Address
	} else if cur := r.ExtraBlockProducer(); cur != nil {
		ebp = cur.Address
	} else if n > 0 {
		ebp = next.MinerByOrder(1).Address
	}
	for _, m := range next.Miners {
		m.IsExtraBlockProducer = m.Address.Equal(ebp)
	}
	return next
}

// SetExtraBlockProducer 指定extra block producer
func (r *Round) SetExtraBlockProducer(addr Address) {
	for _, m := range r.Miners {
		m.IsExtraBlockProducer = m.Address.Equal(addr)
	}
}

func sigToUint64(sig []byte) uint64 {
	if len(sig) >= 8 {
		return binary.BigEndian.Uint64(sig[:8])
	}
	buf := make([]byte, 8)
	copy(buf[8-len(sig):], sig)
	return binary.BigEndian.Uint64(buf)
}
