package mempool

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrTxInMap 交易已经在mempool中
	ErrTxInMap = errors.New("tx already exists in map")
	// ErrTxInCache 交易最近已经被提交
	ErrTxInCache = errors.New("tx already committed recently")
	// ErrConsensusTxFromPeer 共识交易只能由本节点产生
	ErrConsensusTxFromPeer = errors.New("consensus tx received from peer")
)

// ErrTxTooLarge 交易超过了MaxTxBytes
type ErrTxTooLarge struct {
	max    int
	actual int64
}

func (e ErrTxTooLarge) Error() string {
	return fmt.Sprintf("tx too large. Max size is %d, but got %d", e.max, e.actual)
}

// ErrMempoolIsFull 交易条数或总大小超出限制
type ErrMempoolIsFull struct {
	numTxs int
	maxTxs int

	txsBytes    int64
	maxTxsBytes int64
}

func (e ErrMempoolIsFull) Error() string {
	return fmt.Sprintf(
		"mempool is full: number of txs %d (max: %d), total txs bytes %d (max: %d)",
		e.numTxs, e.maxTxs, e.txsBytes, e.maxTxsBytes)
}
