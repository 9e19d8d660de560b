// fork from github.com/tendermint/tendermint/types/validator_set.go
package types

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ProducerSet 出块者集合，按地址升序排列
//
// NOTE: Not goroutine-safe.
type ProducerSet struct {
	Producers []*Producer `json:"producers"`
}

// NewProducerSet 拷贝并排序传入的出块者；地址重复时panic
func NewProducerSet(ps []*Producer) *ProducerSet {
	set := &ProducerSet{Producers: make([]*Producer, 0, len(ps))}
	seen := make(map[string]struct{}, len(ps))
	for _, p := range ps {
		if _, ok := seen[p.Address.String()]; ok {
			panic(fmt.Sprintf("duplicate producer %v", p.Address))
		}
		seen[p.Address.String()] = struct{}{}
		set.Producers = append(set.Producers, p.Copy())
	}
	sort.Slice(set.Producers, func(i, j int) bool {
		return Addresses{set.Producers[i].Address, set.Producers[j].Address}.Less(0, 1)
	})
	return set
}

func (ps *ProducerSet) ValidateBasic() error {
	if ps.IsNilOrEmpty() {
		return errors.New("producer set is nil or empty")
	}
	for idx, p := range ps.Producers {
		if err := p.ValidateBasic(); err != nil {
			return fmt.Errorf("invalid producer #%d: %w", idx, err)
		}
	}
	return nil
}

func (ps *ProducerSet) IsNilOrEmpty() bool {
	return ps == nil || len(ps.Producers) == 0
}

func (ps *ProducerSet) Size() int {
	if ps == nil {
		return 0
	}
	return len(ps.Producers)
}

// GetByAddress 返回出块者的下标和拷贝，不存在时返回-1, nil
func (ps *ProducerSet) GetByAddress(addr Address) (int, *Producer) {
	if ps == nil {
		return -1, nil
	}
	for idx, p := range ps.Producers {
		if p.Address.Equal(addr) {
			return idx, p.Copy()
		}
	}
	return -1, nil
}

func (ps *ProducerSet) HasAddress(addr Address) bool {
	idx, _ := ps.GetByAddress(addr)
	return idx != -1
}

func (ps *ProducerSet) Addresses() Addresses {
	addrs := make(Addresses, 0, ps.Size())
	if ps == nil {
		return addrs
	}
	for _, p := range ps.Producers {
		addrs = append(addrs, p.Address)
	}
	return addrs
}

func (ps *ProducerSet) Copy() *ProducerSet {
	return NewProducerSet(ps.Producers)
}

func (ps *ProducerSet) String() string {
	if ps == nil {
		return "nil-ProducerSet"
	}
	strs := make([]string, 0, len(ps.Producers))
	for _, p := range ps.Producers {
		strs = append(strs, p.String())
	}
	return fmt.Sprintf("ProducerSet{%s}", strings.Join(strs, ", "))
}
