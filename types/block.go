package types

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tendermint/tendermint/crypto/merkle"
	tmbytes "github.com/tendermint/tendermint/libs/bytes"
)

// local blockchain维护的区块的基本单位
// 区块创建后不可修改，BlockHash和Signature在Fill/签名后确定
type Block struct {
	mtx    sync.Mutex
	Header `json:"header"`
	Body   `json:"body"`
}

func NewBlock(header Header, txs Txs) *Block {
	b := &Block{
		Header: header,
		Body:   Body{Txs: txs},
	}
	b.Fill()
	return b
}

// 检验一个block是否合法 - 这里的合法指的是没有明确的错误
func (b *Block) ValidateBasic() error {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	if len(b.BlockHash) == 0 {
		return errors.New("block had no blockhash")
	}
	if len(b.Signature) == 0 {
		return errors.New("block had no signature")
	}
	if !bytes.Equal(b.TxsHash, b.Body.Txs.Hash()) {
		return fmt.Errorf("wrong txs hash: expected %v, got %v", b.Body.Txs.Hash(), b.TxsHash)
	}
	if !bytes.Equal(b.BlockHash, b.Header.computeHash()) {
		return fmt.Errorf("wrong block hash %v", b.BlockHash)
	}
	return nil
}

// Fill 填补各种hash value
func (b *Block) Fill() {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	b.fillHeader()
}

func (b *Block) fillHeader() {
	if b.TxsHash == nil {
		b.TxsHash = b.Body.Txs.Hash()
	}
	if b.BlockHash == nil {
		b.BlockHash = b.Header.computeHash()
	}
}

func (b *Block) Hash() tmbytes.HexBytes {
	if b == nil {
		return nil
	}
	b.mtx.Lock()
	defer b.mtx.Unlock()

	b.fillHeader()
	return b.BlockHash
}

// HashString 作为map key使用
func (b *Block) HashString() string {
	return b.Hash().String()
}

func (b *Block) String() string {
	if b == nil {
		return "nil-Block"
	}
	return fmt.Sprintf("Block{#%d %v prev:%v txs:%d}", b.Height, b.Hash(), b.PreviousBlockHash, len(b.Txs))
}

type Header struct {
	ChainID           string           `json:"chain_id"`
	Height            uint64           `json:"height"`
	PreviousBlockHash tmbytes.HexBytes `json:"previous_block_hash"`
	Time              time.Time        `json:"time"`
	RoundNumber       uint64           `json:"round_number"` // 出块时所在的共识轮次

	TxsHash         tmbytes.HexBytes `json:"txs_hash"`
	ProducerAddress Address          `json:"producer_address"`

	BlockHash tmbytes.HexBytes `json:"block_hash"` // 不参与hash计算
	Signature tmbytes.HexBytes `json:"signature"`  // 对BlockHash的签名
}

func (h *Header) computeHash() tmbytes.HexBytes {
	heightBz := make([]byte, 8)
	binary.BigEndian.PutUint64(heightBz, h.Height)
	roundBz := make([]byte, 8)
	binary.BigEndian.PutUint64(roundBz, h.RoundNumber)
	timeBz := make([]byte, 8)
	binary.BigEndian.PutUint64(timeBz, uint64(h.Time.UnixNano()))

	return merkle.HashFromByteSlices([][]byte{
		[]byte(h.ChainID),
		heightBz,
		h.PreviousBlockHash,
		timeBz,
		roundBz,
		h.TxsHash,
		h.ProducerAddress,
	})
}

// SignBytes 区块签名的内容即区块hash
func (h *Header) SignBytes() []byte {
	return h.BlockHash
}

// Copy 返回header的浅拷贝，用于header列表的返回
func (h *Header) Copy() *Header {
	cp := *h
	return &cp
}

type Body struct {
	Txs Txs `json:"txs"` // transactions
}
