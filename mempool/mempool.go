package mempool

import (
	"dposchain/types"

	"github.com/tendermint/tendermint/p2p"
)

const (
	// UnknownPeerID 本节点(rpc、共识)提交的交易使用的SenderID
	UnknownPeerID uint16 = 0
)

// Mempool 交易池
type Mempool interface {
	// CheckTx检验一个新交易是否合法，合法则加入mempool
	CheckTx(tx *types.Transaction, txInfo TxInfo) error

	// Submit同CheckTx，将结果转换为TxOutcome
	Submit(tx *types.Transaction, txInfo TxInfo) types.TxOutcome

	// HasTx 判断hash对应的交易是否在mempool中
	HasTx(hash []byte) bool

	// GetTx 根据hash取出交易，用于回应交易请求
	GetTx(hash []byte) *types.Transaction

	// ReapMaxTxs从mempool中取出caller指定数量的交易，共识交易排在前面
	// 如果max是负数则表示取出mempool所有的交易
	ReapMaxTxs(max int) types.Txs

	// Lock locks the mempool，更新mempool前必须lock mempool
	Lock()

	// Unlock the Mempool
	Unlock()

	// Update 将已提交的交易从mempool中删去
	// NOTE: 该函数只能在block被提交后才能调用
	// NOTE: caller负责Lock/Unlock
	Update(height uint64, txs types.Txs) error

	// Flush将mempool中的所有交易和和cache清空
	Flush()

	// Size返回mempool中的交易条数
	Size() int

	// TxsBytes返回mempool所有交易的byte大小
	TxsBytes() int64
}

//--------------------------------------------------------------------------------
type PreCheckFunc func(*types.Transaction) error

// TxInfo are parameters that get passed when attempting to add a tx to the
// mempool.
type TxInfo struct {
	// SenderID is the internal peer ID used in the mempool to identify the
	// sender, storing 2 bytes with each tx instead of 20 bytes for the p2p.ID.
	SenderID uint16
	// SenderP2PID is the actual p2p.ID of the sender, used e.g. for logging.
	SenderP2PID p2p.ID
}

// IsLocal 交易由本节点提交
func (info TxInfo) IsLocal() bool {
	return info.SenderID == UnknownPeerID
}
