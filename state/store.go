package state

import "dposchain/types"

// ChainStore 主链的持久化接口，由store.KVStore实现
type ChainStore interface {
	CurrentHeight() uint64
	CurrentHash() []byte

	GetBlockAt(height uint64) (*types.Block, error)
	GetHeaderAt(height uint64) (*types.Header, error)
	GetBlockByHash(hash []byte) (*types.Block, error)
	BlockHashAt(height uint64) ([]byte, bool)

	// 每个高度执行后的共识状态快照
	CurrentSnapshot() ([]byte, error)

	AppendBlock(block *types.Block, snapshot []byte) error
	RollbackOneBlock() ([]*types.Block, error)
	RollbackToHeight(height uint64) ([]*types.Block, error)
}

// ChainInitializer 写入创世区块
type ChainInitializer interface {
	IsInitialized() bool
	InitChain(genesis *types.Block, snapshot []byte) error
}

// InitChain 写入创世区块和创世共识状态，已经初始化的链直接返回
func InitChain(chain ChainInitializer, genDoc *types.GenesisDoc) (*types.Block, error) {
	genesis := types.MakeGenesisBlock(genDoc.ChainID, genDoc.GenesisTime)
	if chain.IsInitialized() {
		return genesis, nil
	}
	if err := chain.InitChain(genesis, MakeGenesisState(genDoc).Bytes()); err != nil {
		return nil, err
	}
	return genesis, nil
}
