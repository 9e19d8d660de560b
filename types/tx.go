package types

import (
	"fmt"
	"time"

	"github.com/tendermint/tendermint/crypto/merkle"
	"github.com/tendermint/tendermint/crypto/tmhash"
	tmbytes "github.com/tendermint/tendermint/libs/bytes"
	tmjson "github.com/tendermint/tendermint/libs/json"
)

// TransactionType 区分普通交易和共识合约交易
type TransactionType uint8

const (
	ContractTransaction = TransactionType(0x01)
	DPoSTransaction     = TransactionType(0x02)
)

func (t TransactionType) String() string {
	switch t {
	case ContractTransaction:
		return "contract"
	case DPoSTransaction:
		return "dpos"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// ConsensusContractAddress 共识合约的固定地址
var ConsensusContractAddress = Address(tmhash.SumTruncated([]byte("dpos.consensus.contract")))

// Transaction 链上交易；共识交易的参数按位置编码在Params中
type Transaction struct {
	From           Address          `json:"from"`
	To             Address          `json:"to"`
	RefBlockNumber uint64           `json:"ref_block_number"`
	RefBlockPrefix tmbytes.HexBytes `json:"ref_block_prefix"`
	MethodName     string           `json:"method_name"`
	Params         [][]byte         `json:"params"`
	Type           TransactionType  `json:"type"`
	Time           time.Time        `json:"time"`

	Signature tmbytes.HexBytes `json:"signature"`
}

// SignBytes 签名覆盖除Signature外的全部字段
func (tx *Transaction) SignBytes() []byte {
	cp := *tx
	cp.Signature = nil
	bz, err := tmjson.Marshal(&cp)
	if err != nil {
		panic(err)
	}
	return bz
}

func (tx *Transaction) Hash() tmbytes.HexBytes {
	return tmhash.Sum(tx.SignBytes())
}

// Size 交易编码后的字节数
func (tx *Transaction) Size() int64 {
	bz, err := tmjson.Marshal(tx)
	if err != nil {
		return 0
	}
	return int64(len(bz))
}

func (tx *Transaction) IsConsensusTx() bool {
	return tx.Type == DPoSTransaction && tx.To.Equal(ConsensusContractAddress)
}

func (tx *Transaction) ValidateBasic() error {
	if len(tx.From) == 0 {
		return fmt.Errorf("transaction has no sender")
	}
	if tx.MethodName == "" {
		return fmt.Errorf("transaction has no method")
	}
	if len(tx.RefBlockPrefix) > RefBlockPrefixSize {
		return fmt.Errorf("ref block prefix too long: %d", len(tx.RefBlockPrefix))
	}
	return nil
}

func (tx *Transaction) String() string {
	return fmt.Sprintf("Tx{%X %s from:%v}", []byte(tx.Hash()), tx.MethodName, tx.From)
}

const RefBlockPrefixSize = 4

// ===== tx array =====
type Txs []*Transaction

// 返回交易形成的merkle tree的根value
func (txs Txs) Hash() tmbytes.HexBytes {
	txBzs := make([][]byte, len(txs))
	for i := 0; i < len(txs); i++ {
		txBzs[i] = txs[i].Hash()
	}
	return merkle.HashFromByteSlices(txBzs)
}

func (txs Txs) Size() int64 {
	var dataSize int64
	for _, tx := range txs {
		dataSize += tx.Size()
	}
	return dataSize
}

// Index 返回hash对应交易的下标，不存在返回-1
func (txs Txs) Index(hash []byte) int {
	for i := range txs {
		if txs[i].Hash().String() == tmbytes.HexBytes(hash).String() {
			return i
		}
	}
	return -1
}
