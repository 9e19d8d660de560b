package rpc

import (
	meml "dposchain/mempool"
	"dposchain/types"

	"github.com/pkg/errors"
	tmbytes "github.com/tendermint/tendermint/libs/bytes"
	rpctypes "github.com/tendermint/tendermint/rpc/jsonrpc/types"
)

// ErrConsensusTx 共识交易只能由本节点的调度器生成
var ErrConsensusTx = errors.New("consensus transactions can't be submitted through rpc")

type ResultBroadcastTx struct {
	Hash    tmbytes.HexBytes `json:"hash"`
	Outcome string           `json:"outcome"`
}

type ResultUnconfirmedTxs struct {
	Count      int   `json:"n_txs"`
	TotalBytes int64 `json:"total_bytes"`
}

// BroadcastTx 交易加入交易池后由reactor广播出去
func BroadcastTx(ctx *rpctypes.Context, tx *types.Transaction) (*ResultBroadcastTx, error) {
	if tx == nil {
		return nil, errors.New("missing tx")
	}
	if tx.IsConsensusTx() {
		return nil, ErrConsensusTx
	}

	outcome := env.Mempool.Submit(tx, meml.TxInfo{SenderID: meml.UnknownPeerID})
	env.Logger.Debug("broadcast_tx", "tx", tx, "outcome", outcome)
	if outcome == types.TxInvalid {
		return nil, errors.Errorf("invalid tx %X", []byte(tx.Hash()))
	}
	return &ResultBroadcastTx{Hash: tx.Hash(), Outcome: outcome.String()}, nil
}

func NumUnconfirmedTxs(ctx *rpctypes.Context) (*ResultUnconfirmedTxs, error) {
	return &ResultUnconfirmedTxs{
		Count:      env.Mempool.Size(),
		TotalBytes: env.Mempool.TxsBytes(),
	}, nil
}
