package store

import (
	"bytes"
	"encoding/binary"
	"sync"

	"dposchain/types"

	"github.com/pkg/errors"
	tmjson "github.com/tendermint/tendermint/libs/json"
	"github.com/tendermint/tendermint/libs/log"
	tmdb "github.com/tendermint/tm-db"
	leveldb "github.com/tendermint/tm-db/goleveldb"
)

var (
	ErrBlockNotFound   = errors.New("block not found")
	ErrNotInitialized  = errors.New("chain is not initialized")
	ErrAlreadyInit     = errors.New("chain is already initialized")
	ErrNotLinked       = errors.New("block does not link to the current block")
	ErrRollbackGenesis = errors.New("cannot roll back the genesis block")
)

// chainMeta 当前主链的最高区块
type chainMeta struct {
	Height uint64 `json:"height"`
	Hash   []byte `json:"hash"`
}

func NewKVStore(name, dir string, logger log.Logger) (*KVStore, error) {
	levelDB, err := leveldb.NewDB(name, dir)
	if err != nil {
		return nil, errors.Wrapf(err, "open chain db %s in %s", name, dir)
	}
	return NewKVStoreWithDB(levelDB, logger)
}

// NewKVStoreWithDB 从已有的db加载主链信息
func NewKVStoreWithDB(kvdb tmdb.DB, logger log.Logger) (*KVStore, error) {
	kv := &KVStore{kvDB: kvdb, logger: logger}
	bz, err := kvdb.Get(metaKey())
	if err != nil {
		return nil, err
	}
	if bz != nil {
		meta := chainMeta{}
		if err := tmjson.Unmarshal(bz, &meta); err != nil {
			return nil, errors.Wrap(err, "decode chain meta")
		}
		kv.meta = meta
		kv.initialized = true
	}
	return kv, nil
}

// KVStore 基于tm-db的主链存储：区块、hash索引以及每个高度执行后的共识状态快照
type KVStore struct {
	mtx         sync.RWMutex
	kvDB        tmdb.DB
	meta        chainMeta
	initialized bool

	logger log.Logger
}

// InitChain 写入创世区块和初始共识状态
func (kv *KVStore) InitChain(genesis *types.Block, snapshot []byte) error {
	kv.mtx.Lock()
	defer kv.mtx.Unlock()

	if kv.initialized {
		return ErrAlreadyInit
	}
	if err := kv.writeBlock(genesis, snapshot); err != nil {
		return err
	}
	kv.initialized = true
	kv.logger.Info("chain initialized", "genesis", genesis.Hash())
	return nil
}

func (kv *KVStore) IsInitialized() bool {
	kv.mtx.RLock()
	defer kv.mtx.RUnlock()
	return kv.initialized
}

// AppendBlock 原子地写入区块、hash索引、共识状态快照并更新主链最高区块
func (kv *KVStore) AppendBlock(block *types.Block, snapshot []byte) error {
	kv.mtx.Lock()
	defer kv.mtx.Unlock()

	if !kv.initialized {
		return ErrNotInitialized
	}
	if block.Height != kv.meta.Height+1 || !hashEqual(block.PreviousBlockHash, kv.meta.Hash) {
		return errors.Wrapf(ErrNotLinked, "block %v on top of #%d %X", block, kv.meta.Height, kv.meta.Hash)
	}
	return kv.writeBlock(block, snapshot)
}

func (kv *KVStore) writeBlock(block *types.Block, snapshot []byte) error {
	blockBz, err := tmjson.Marshal(block)
	if err != nil {
		return errors.Wrap(err, "encode block")
	}
	meta := chainMeta{Height: block.Height, Hash: block.Hash()}
	metaBz, err := tmjson.Marshal(meta)
	if err != nil {
		return err
	}

	batch := kv.kvDB.NewBatch()
	defer batch.Close()

	if err := batch.Set(blockKey(block.Height), blockBz); err != nil {
		return err
	}
	if err := batch.Set(hashKey(block.Hash()), heightBytes(block.Height)); err != nil {
		return err
	}
	if snapshot != nil {
		if err := batch.Set(snapshotKey(block.Height), snapshot); err != nil {
			return err
		}
	}
	if err := batch.Set(metaKey(), metaBz); err != nil {
		return err
	}
	if err := batch.WriteSync(); err != nil {
		return errors.Wrap(err, "write block batch")
	}
	kv.meta = meta
	return nil
}

func (kv *KVStore) CurrentHeight() uint64 {
	kv.mtx.RLock()
	defer kv.mtx.RUnlock()
	return kv.meta.Height
}

func (kv *KVStore) CurrentHash() []byte {
	kv.mtx.RLock()
	defer kv.mtx.RUnlock()
	return kv.meta.Hash
}

// GetBlockAt 主链上指定高度的区块
func (kv *KVStore) GetBlockAt(height uint64) (*types.Block, error) {
	bz, err := kv.kvDB.Get(blockKey(height))
	if err != nil {
		return nil, err
	}
	if bz == nil {
		return nil, errors.Wrapf(ErrBlockNotFound, "height %d", height)
	}
	block := &types.Block{}
	if err := tmjson.Unmarshal(bz, block); err != nil {
		return nil, errors.Wrapf(err, "decode block at %d", height)
	}
	return block, nil
}

func (kv *KVStore) GetHeaderAt(height uint64) (*types.Header, error) {
	block, err := kv.GetBlockAt(height)
	if err != nil {
		return nil, err
	}
	return block.Header.Copy(), nil
}

func (kv *KVStore) GetBlockByHash(hash []byte) (*types.Block, error) {
	bz, err := kv.kvDB.Get(hashKey(hash))
	if err != nil {
		return nil, err
	}
	if bz == nil {
		return nil, errors.Wrapf(ErrBlockNotFound, "hash %X", hash)
	}
	return kv.GetBlockAt(binary.BigEndian.Uint64(bz))
}

// BlockHashAt implements types.ChainReader
func (kv *KVStore) BlockHashAt(height uint64) ([]byte, bool) {
	kv.mtx.RLock()
	current := kv.meta.Height
	kv.mtx.RUnlock()
	if height > current {
		return nil, false
	}
	block, err := kv.GetBlockAt(height)
	if err != nil {
		return nil, false
	}
	return block.Hash(), true
}

// SnapshotAt 执行完height区块后的共识状态
func (kv *KVStore) SnapshotAt(height uint64) ([]byte, error) {
	return kv.kvDB.Get(snapshotKey(height))
}

// CurrentSnapshot 当前最高区块对应的共识状态
func (kv *KVStore) CurrentSnapshot() ([]byte, error) {
	return kv.SnapshotAt(kv.CurrentHeight())
}

// RollbackOneBlock 删除当前最高区块，返回被删除的区块
func (kv *KVStore) RollbackOneBlock() ([]*types.Block, error) {
	current := kv.CurrentHeight()
	if current == 0 {
		return nil, ErrRollbackGenesis
	}
	return kv.RollbackToHeight(current - 1)
}

// RollbackToHeight 删除height之上的所有区块，回滚后最高区块为height
func (kv *KVStore) RollbackToHeight(height uint64) ([]*types.Block, error) {
	kv.mtx.Lock()
	defer kv.mtx.Unlock()

	if height >= kv.meta.Height {
		return nil, nil
	}
	target, err := kv.GetBlockAt(height)
	if err != nil {
		return nil, err
	}

	batch := kv.kvDB.NewBatch()
	defer batch.Close()

	removed := make([]*types.Block, 0, kv.meta.Height-height)
	for h := kv.meta.Height; h > height; h-- {
		block, err := kv.GetBlockAt(h)
		if err != nil {
			return nil, err
		}
		removed = append(removed, block)
		if err := batch.Delete(blockKey(h)); err != nil {
			return nil, err
		}
		if err := batch.Delete(hashKey(block.Hash())); err != nil {
			return nil, err
		}
		if err := batch.Delete(snapshotKey(h)); err != nil {
			return nil, err
		}
	}

	meta := chainMeta{Height: height, Hash: target.Hash()}
	metaBz, err := tmjson.Marshal(meta)
	if err != nil {
		return nil, err
	}
	if err := batch.Set(metaKey(), metaBz); err != nil {
		return nil, err
	}
	if err := batch.WriteSync(); err != nil {
		return nil, errors.Wrap(err, "write rollback batch")
	}

	kv.logger.Info("rolled back chain", "from", kv.meta.Height, "to", height)
	kv.meta = meta
	return removed, nil
}

// ListSnapshotHeights 列出所有保存了共识快照的高度，主要用于排查问题
func (kv *KVStore) ListSnapshotHeights() ([]uint64, error) {
	start := snapshotKey(0)
	end := snapshotKey(^uint64(0))
	it, err := kv.kvDB.Iterator(start, end)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	heights := []uint64{}
	for ; it.Valid(); it.Next() {
		h, err := parseHeight(it.Key())
		if err != nil {
			return nil, err
		}
		heights = append(heights, h)
	}
	return heights, it.Error()
}

func (kv *KVStore) GetDB() tmdb.DB {
	return kv.kvDB
}

func (kv *KVStore) Close() error {
	return kv.kvDB.Close()
}

func heightBytes(h uint64) []byte {
	bz := make([]byte, 8)
	binary.BigEndian.PutUint64(bz, h)
	return bz
}

func hashEqual(a, b []byte) bool {
	return bytes.Equal(a, b)
}
