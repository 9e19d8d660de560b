package mempool

import (
	"sync"

	jsoniter "github.com/json-iterator/go"
)

func newMemMetric() *memMetric {
	return &memMetric{}
}

type memMetric struct {
	mtx             sync.RWMutex
	TxsNum          int    `json:"txs_num"`           // mempool中所有的交易总数
	ConsensusTxsNum int    `json:"consensus_txs_num"` // mempool中等待打包的共识交易
	TotalTxsBytes   int64  `json:"total_txs_bytes"`   // 目前mempool所有的交易的大小
	RejectedTxsNum  int64  `json:"rejected_txs_num"`  // 累计被拒绝的交易
	CommittedTxsNum int64  `json:"committed_txs_num"` // 累计被区块提交的交易
	Height          uint64 `json:"height"`            // 最后一次Update的高度
}

func (mm *memMetric) JSONString() string {
	mm.mtx.RLock()
	defer mm.mtx.RUnlock()
	s, _ := jsoniter.MarshalToString(mm)
	return s
}

func (mm *memMetric) MarkTxs(txsNum, consensusTxsNum int, txsBytes int64) {
	mm.mtx.Lock()
	defer mm.mtx.Unlock()
	mm.TxsNum = txsNum
	mm.ConsensusTxsNum = consensusTxsNum
	mm.TotalTxsBytes = txsBytes
}

func (mm *memMetric) MarkRejected() {
	mm.mtx.Lock()
	defer mm.mtx.Unlock()
	mm.RejectedTxsNum++
}

func (mm *memMetric) MarkCommitted(height uint64, committed int) {
	mm.mtx.Lock()
	defer mm.mtx.Unlock()
	mm.Height = height
	mm.CommittedTxsNum += int64(committed)
}
