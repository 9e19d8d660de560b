package types

import "time"

// MakeGenesisBlock 高度为0的创世区块，所有节点由相同的创世文件得到相同的hash
func MakeGenesisBlock(chainID string, genesisTime time.Time) *Block {
	return NewBlock(Header{
		ChainID:           chainID,
		Height:            0,
		PreviousBlockHash: []byte{},
		Time:              genesisTime.UTC(),
	}, Txs{})
}

// MakeBlock 返回一个未签名的区块
func MakeBlock(chainID string, height uint64, prev []byte, round uint64, producer Address, txs Txs) *Block {
	if txs == nil {
		txs = Txs{}
	}
	return NewBlock(Header{
		ChainID:           chainID,
		Height:            height,
		PreviousBlockHash: prev,
		Time:              time.Now().UTC(),
		RoundNumber:       round,
		ProducerAddress:   producer,
	}, txs)
}
