package rpc

import rpc "github.com/tendermint/tendermint/rpc/jsonrpc/server"

var Routes = map[string]*rpc.RPCFunc{
	"status":          rpc.NewRPCFunc(Status, ""),
	"consensus_round": rpc.NewRPCFunc(ConsensusRound, ""),
	"block":           rpc.NewRPCFunc(Block, "height"),
	"block_by_hash":   rpc.NewRPCFunc(BlockByHash, "hash"),
	"headers":         rpc.NewRPCFunc(Headers, "height,count"),
	"block_set":       rpc.NewRPCFunc(BlockSet, ""),

	"broadcast_tx":        rpc.NewRPCFunc(BroadcastTx, "tx"),
	"num_unconfirmed_txs": rpc.NewRPCFunc(NumUnconfirmedTxs, ""),

	"metrics": rpc.NewRPCFunc(JSONMetrics, "label"),
}
