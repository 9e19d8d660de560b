package types

import (
	"fmt"

	"github.com/tendermint/tendermint/crypto"
	"github.com/tendermint/tendermint/crypto/ed25519"
)

// PrivValidator 出块者的签名接口
type PrivValidator interface {
	GetPubKey() (crypto.PubKey, error)

	SignBlock(chainID string, block *Block) error
	SignTransaction(tx *Transaction) error
}

// VerifyBlockSignature 用出块者公钥验证区块签名
func VerifyBlockSignature(pubKey crypto.PubKey, block *Block) bool {
	if pubKey == nil || len(block.Signature) == 0 {
		return false
	}
	return pubKey.VerifySignature(block.Hash(), block.Signature)
}

//----------------------------------------
// MockPV

// MockPV implements PrivValidator without any safety or persistence.
// Only use it for testing.
type MockPV struct {
	PrivKey crypto.PrivKey
}

func NewMockPV() MockPV {
	return MockPV{ed25519.GenPrivKey()}
}

// NewMockPVWithSeed 用于测试中生成确定的出块者
func NewMockPVWithSeed(seed string) MockPV {
	return MockPV{ed25519.GenPrivKeyFromSecret([]byte(seed))}
}

// GetPubKey implements PrivValidator.
func (pv MockPV) GetPubKey() (crypto.PubKey, error) {
	return pv.PrivKey.PubKey(), nil
}

func (pv MockPV) Address() Address {
	return Address(pv.PrivKey.PubKey().Address())
}

// SignBlock implements PrivValidator.
func (pv MockPV) SignBlock(chainID string, block *Block) error {
	if block.ChainID != chainID {
		return fmt.Errorf("block chain id %s does not match %s", block.ChainID, chainID)
	}
	sig, err := pv.PrivKey.Sign(block.Hash())
	if err != nil {
		return err
	}
	block.Signature = sig
	return nil
}

// SignTransaction implements PrivValidator.
func (pv MockPV) SignTransaction(tx *Transaction) error {
	sig, err := pv.PrivKey.Sign(tx.SignBytes())
	if err != nil {
		return err
	}
	tx.Signature = sig
	return nil
}

func (pv MockPV) String() string {
	return fmt.Sprintf("MockPV{%v}", pv.Address())
}
