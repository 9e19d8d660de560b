package types

import (
	"bytes"
	"math"
	"sort"
	"sync"

	tmbytes "github.com/tendermint/tendermint/libs/bytes"
)

const (
	// DefaultKeepHeight 初始同步阶段不淘汰任何区块
	DefaultKeepHeight = uint64(math.MaxUint64)
	// MinedKeepHeight 本节点产出第一个区块后的保留窗口
	MinedKeepHeight = uint64(64)
)

// ChainReader 读取已持久化的主链，BlockSet用它判断分支是否连接到已知历史
type ChainReader interface {
	BlockHashAt(height uint64) ([]byte, bool)
}

// BlockSet 用来表示区块的一个集合，里面的数据会频繁更新，读写均衡
// 按高度索引候选区块，同一高度可以有多个区块（分支）
// 已执行的区块只作为缓存保留，提交高度超过KeepHeight之后被淘汰
type BlockSet struct {
	mtx sync.RWMutex

	blocks   map[uint64][]*Block
	byHash   map[string]*Block
	executed map[string]struct{}

	keepHeight uint64
	chain      ChainReader
}

type BlockSetOption func(*BlockSet)

func WithChainReader(chain ChainReader) BlockSetOption {
	return func(bs *BlockSet) {
		bs.chain = chain
	}
}

func WithKeepHeight(keep uint64) BlockSetOption {
	return func(bs *BlockSet) {
		bs.keepHeight = keep
	}
}

func NewBlockSet(options ...BlockSetOption) *BlockSet {
	bs := &BlockSet{
		blocks:     make(map[uint64][]*Block),
		byHash:     make(map[string]*Block),
		executed:   make(map[string]struct{}),
		keepHeight: DefaultKeepHeight,
	}
	for _, option := range options {
		option(bs)
	}
	return bs
}

// AddBlock 加入一个校验通过但未提交的区块，重复的区块会被忽略
func (bs *BlockSet) AddBlock(b *Block) {
	bs.mtx.Lock()
	defer bs.mtx.Unlock()
	bs.addBlock(b)
}

func (bs *BlockSet) addBlock(b *Block) bool {
	key := b.HashString()
	if _, ok := bs.byHash[key]; ok {
		return false
	}
	bs.byHash[key] = b
	bs.blocks[b.Height] = append(bs.blocks[b.Height], b)
	return true
}

// Tell 标记区块已执行，并淘汰保留窗口之外的区块
func (bs *BlockSet) Tell(b *Block) {
	bs.mtx.Lock()
	defer bs.mtx.Unlock()

	bs.addBlock(b)
	bs.executed[b.HashString()] = struct{}{}

	if bs.keepHeight == DefaultKeepHeight || b.Height <= bs.keepHeight {
		return
	}
	limit := b.Height - bs.keepHeight
	for height := range bs.blocks {
		if height < limit {
			bs.removeHeight(height)
		}
	}
}

func (bs *BlockSet) removeHeight(height uint64) {
	for _, b := range bs.blocks[height] {
		key := b.HashString()
		delete(bs.byHash, key)
		delete(bs.executed, key)
	}
	delete(bs.blocks, height)
}

func (bs *BlockSet) removeBlock(b *Block) {
	key := b.HashString()
	delete(bs.byHash, key)
	delete(bs.executed, key)

	candidates := bs.blocks[b.Height]
	for i, c := range candidates {
		if c == b {
			candidates = append(candidates[:i], candidates[i+1:]...)
			break
		}
	}
	if len(candidates) == 0 {
		delete(bs.blocks, b.Height)
	} else {
		bs.blocks[b.Height] = candidates
	}
}

// RemoveBlock 删除一个区块
func (bs *BlockSet) RemoveBlock(b *Block) {
	bs.mtx.Lock()
	defer bs.mtx.Unlock()
	if cached, ok := bs.byHash[b.HashString()]; ok {
		bs.removeBlock(cached)
	}
}

// GetBlockByHeight 返回该高度所有候选区块的拷贝列表
func (bs *BlockSet) GetBlockByHeight(height uint64) []*Block {
	bs.mtx.RLock()
	defer bs.mtx.RUnlock()

	return bs.heightLocked(height)
}

// GetBlockByHash 只在缓存中查找
func (bs *BlockSet) GetBlockByHash(hash []byte) *Block {
	bs.mtx.RLock()
	defer bs.mtx.RUnlock()
	return bs.byHash[hashKey(hash)]
}

func (bs *BlockSet) IsExecuted(hash []byte) bool {
	bs.mtx.RLock()
	defer bs.mtx.RUnlock()
	_, ok := bs.executed[hashKey(hash)]
	return ok
}

// MultipleBlocksInOneIndex 同一高度存在多个候选区块
func (bs *BlockSet) MultipleBlocksInOneIndex(height uint64) bool {
	bs.mtx.RLock()
	defer bs.mtx.RUnlock()
	return len(bs.blocks[height]) > 1
}

// InformRollback 回滚后删除[from, to]区间内已执行的区块，这些区块属于被放弃的分支
func (bs *BlockSet) InformRollback(from, to uint64) int {
	bs.mtx.Lock()
	defer bs.mtx.Unlock()

	removed := 0
	for height := from; height <= to; height++ {
		for _, b := range bs.heightLocked(height) {
			if _, ok := bs.executed[b.HashString()]; ok {
				bs.removeBlock(b)
				removed++
			}
		}
		if height == math.MaxUint64 {
			break
		}
	}
	return removed
}

// heightLocked 调用者需要持有锁
func (bs *BlockSet) heightLocked(height uint64) []*Block {
	candidates := bs.blocks[height]
	res := make([]*Block, len(candidates))
	copy(res, candidates)
	return res
}

// IsLinkable 区块能否通过BlockSet中的区块连接到已知历史（已执行的区块或主链）
func (bs *BlockSet) IsLinkable(b *Block) bool {
	bs.mtx.RLock()
	defer bs.mtx.RUnlock()
	_, ok := bs.branchRoot(b)
	return ok
}

// branchRoot 沿父区块回溯未执行的区块，返回分支的第一个区块
// 只有当分支根的父区块是已执行区块或主链区块时才返回true
func (bs *BlockSet) branchRoot(b *Block) (*Block, bool) {
	cur := b
	for {
		parent, ok := bs.byHash[cur.PreviousBlockHash.String()]
		if ok {
			if _, done := bs.executed[parent.HashString()]; done {
				return cur, true
			}
			cur = parent
			continue
		}
		if cur.Height == 0 || bs.chain == nil {
			return cur, false
		}
		hash, ok := bs.chain.BlockHashAt(cur.Height - 1)
		return cur, ok && bytes.Equal(hash, cur.PreviousBlockHash)
	}
}

// AnyLongerValidChain 查找比当前高度更长、并且分叉点不高于当前高度的分支
// 返回分叉高度（分支第一个区块的高度），没有则返回0
func (bs *BlockSet) AnyLongerValidChain(currentHeight uint64) uint64 {
	bs.mtx.RLock()
	defer bs.mtx.RUnlock()

	var (
		bestTip  *Block
		bestFork uint64
	)
	for height, candidates := range bs.blocks {
		if height <= currentHeight {
			continue
		}
		for _, tip := range candidates {
			if _, done := bs.executed[tip.HashString()]; done {
				continue
			}
			root, ok := bs.branchRoot(tip)
			if !ok || root.Height > currentHeight {
				continue
			}
			if bs.onChain(root) {
				continue
			}
			if bestTip == nil || betterBranch(tip, root.Height, bestTip, bestFork) {
				bestTip, bestFork = tip, root.Height
			}
		}
	}
	if bestTip == nil {
		return 0
	}
	return bestFork
}

// betterBranch 更高的分支优先，高度相同时选择分叉点更低的，再按hash排序保证确定性
func betterBranch(tip *Block, fork uint64, best *Block, bestFork uint64) bool {
	if tip.Height != best.Height {
		return tip.Height > best.Height
	}
	if fork != bestFork {
		return fork < bestFork
	}
	return bytes.Compare(tip.Hash(), best.Hash()) < 0
}

func (bs *BlockSet) onChain(b *Block) bool {
	if bs.chain == nil {
		return false
	}
	hash, ok := bs.chain.BlockHashAt(b.Height)
	return ok && bytes.Equal(hash, b.Hash())
}

func (bs *BlockSet) KeepHeight() uint64 {
	bs.mtx.RLock()
	defer bs.mtx.RUnlock()
	return bs.keepHeight
}

func (bs *BlockSet) SetKeepHeight(keep uint64) {
	bs.mtx.Lock()
	defer bs.mtx.Unlock()
	bs.keepHeight = keep
}

func (bs *BlockSet) Size() int {
	bs.mtx.RLock()
	defer bs.mtx.RUnlock()
	return len(bs.byHash)
}

// Heights 返回缓存中所有高度，升序
func (bs *BlockSet) Heights() []uint64 {
	bs.mtx.RLock()
	defer bs.mtx.RUnlock()

	heights := make([]uint64, 0, len(bs.blocks))
	for h := range bs.blocks {
		heights = append(heights, h)
	}
	sort.Slice(heights, func(i, j int) bool { return heights[i] < heights[j] })
	return heights
}

func hashKey(hash []byte) string {
	return tmbytes.HexBytes(hash).String()
}
