// fork from github.com/tendermint/tendermint/types/validator.go
package types

import (
	"errors"
	"fmt"

	"github.com/tendermint/tendermint/crypto"
)

// Producer DPoS出块者，只保存地址和公钥
type Producer struct {
	Address Address       `json:"address"`
	PubKey  crypto.PubKey `json:"pub_key"`
	Name    string        `json:"name"`
}

// NewProducer returns a new producer with the given pubkey.
func NewProducer(pubKey crypto.PubKey, name string) *Producer {
	return &Producer{
		Address: Address(pubKey.Address()),
		PubKey:  pubKey,
		Name:    name,
	}
}

// ValidateBasic performs basic validation.
func (p *Producer) ValidateBasic() error {
	if p == nil {
		return errors.New("nil producer")
	}
	if p.PubKey == nil {
		return errors.New("producer does not have a public key")
	}
	if len(p.Address) != crypto.AddressSize {
		return fmt.Errorf("producer address is the wrong size: %v", p.Address)
	}
	if !p.Address.Equal(Address(p.PubKey.Address())) {
		return fmt.Errorf("producer address %v does not match pubkey", p.Address)
	}
	return nil
}

func (p *Producer) Copy() *Producer {
	cp := *p
	return &cp
}

func (p *Producer) String() string {
	if p == nil {
		return "nil-Producer"
	}
	return fmt.Sprintf("Producer{%v %v %s}", p.Address, p.PubKey, p.Name)
}
