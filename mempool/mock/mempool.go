package mock

import (
	mempl "dposchain/mempool"
	"dposchain/types"

	"github.com/tendermint/tendermint/libs/clist"
)

// Mempool is an empty implementation of a Mempool, useful for testing.
type Mempool struct{}

var _ mempl.Mempool = Mempool{}

func (Mempool) Lock()     {}
func (Mempool) Unlock()   {}
func (Mempool) Size() int { return 0 }
func (Mempool) CheckTx(_ *types.Transaction, _ mempl.TxInfo) error {
	return nil
}
func (Mempool) Submit(_ *types.Transaction, _ mempl.TxInfo) types.TxOutcome {
	return types.TxSuccess
}
func (Mempool) HasTx(_ []byte) bool                { return false }
func (Mempool) GetTx(_ []byte) *types.Transaction  { return nil }
func (Mempool) ReapMaxTxs(_ int) types.Txs         { return types.Txs{} }
func (Mempool) Update(_ uint64, _ types.Txs) error { return nil }
func (Mempool) Flush()                             {}
func (Mempool) TxsBytes() int64                    { return 0 }

func (Mempool) TxsFront() *clist.CElement    { return nil }
func (Mempool) TxsWaitChan() <-chan struct{} { return nil }
