package mempool

import (
	"sync"
	"sync/atomic"

	"dposchain/config"
	"dposchain/libs/metric"
	"dposchain/types"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	"github.com/tendermint/tendermint/libs/clist"
	"github.com/tendermint/tendermint/libs/events"
	"github.com/tendermint/tendermint/libs/log"
)

const (
	// 最近提交过的交易hash缓存，用来拒绝重放
	committedCacheSize = 10000
)

func NewListMempool(config *config.MempoolConfig, height uint64, options ...ListMempoolOption) *ListMempool {
	mem := &ListMempool{
		height: height,
		config: config,
		txs:    clist.New(),
		logger: log.NewNopLogger(),
		metric: newMemMetric(),
	}

	cache, err := lru.New(committedCacheSize)
	if err != nil {
		panic(err)
	}
	mem.cache = cache

	mem.txsAvailable = make(chan struct{}, 1)

	for _, option := range options {
		option(mem)
	}

	return mem
}

var _ Mempool = (*ListMempool)(nil)

// ListMempool 按到达顺序保存交易的交易池
type ListMempool struct {
	// Atomic integers
	height       uint64 // the last block Update()'d to
	txsBytes     int64  // total size of mempool, in bytes
	consensusTxs int64  // 共识交易条数

	txsAvailable chan struct{} // 有新交易时通知一次

	config *config.MempoolConfig

	updateMtx sync.RWMutex
	preCheck  PreCheckFunc

	txs    *clist.CList
	txsMap sync.Map // hash string -> *clist.CElement

	// 最近提交的交易
	cache *lru.Cache

	evsw   events.Fireable
	logger log.Logger
	metric *memMetric
}

type ListMempoolOption func(memppol *ListMempool)

func SetPreCheck(precheck PreCheckFunc) ListMempoolOption {
	return func(mem *ListMempool) {
		mem.preCheck = precheck
	}
}

// WithEventSwitch 本节点提交的交易会触发EventTxAdded
func WithEventSwitch(evsw events.Fireable) ListMempoolOption {
	return func(mem *ListMempool) {
		mem.evsw = evsw
	}
}

func (mem *ListMempool) SetLogger(logger log.Logger) {
	mem.logger = logger
}

// Metric 交易池的统计信息
func (mem *ListMempool) Metric() metric.MetricItem {
	return mem.metric
}

func (mem *ListMempool) CheckTx(tx *types.Transaction, txInfo TxInfo) error {
	mem.updateMtx.RLock()
	defer mem.updateMtx.RUnlock()

	if err := mem.checkTx(tx, txInfo); err != nil {
		mem.metric.MarkRejected()
		return err
	}

	memTx := &mempoolTx{
		height: atomic.LoadUint64(&mem.height),
		tx:     tx,
	}
	memTx.senders.Store(txInfo.SenderID, struct{}{})

	// 并发的CheckTx可能同时通过检查
	if _, loaded := mem.txsMap.LoadOrStore(txKey(tx.Hash()), (*clist.CElement)(nil)); loaded {
		mem.metric.MarkRejected()
		return ErrTxInMap
	}
	mem.addTx(memTx)
	mem.logger.Debug("added tx", "tx", tx, "sender", txInfo.SenderP2PID, "total", mem.Size())

	if txInfo.IsLocal() && mem.evsw != nil {
		mem.evsw.FireEvent(types.EventTxAdded, types.EventDataTx{Tx: tx})
	}
	return nil
}

func (mem *ListMempool) checkTx(tx *types.Transaction, txInfo TxInfo) error {
	if tx == nil {
		return errors.New("nil tx")
	}
	if size := tx.Size(); size > int64(mem.config.MaxTxBytes) {
		return ErrTxTooLarge{max: mem.config.MaxTxBytes, actual: size}
	}
	if err := tx.ValidateBasic(); err != nil {
		return errors.Wrap(err, "invalid tx")
	}
	if tx.IsConsensusTx() && !txInfo.IsLocal() {
		return ErrConsensusTxFromPeer
	}
	if mem.preCheck != nil {
		if err := mem.preCheck(tx); err != nil {
			return errors.Wrap(err, "precheck failed")
		}
	}

	hash := tx.Hash()
	if _, ok := mem.txsMap.Load(txKey(hash)); ok {
		return ErrTxInMap
	}
	if mem.cache.Contains(txKey(hash)) {
		return ErrTxInCache
	}
	if err := mem.isFull(tx.Size()); err != nil {
		return err
	}
	return nil
}

// Submit 把CheckTx的错误转换为TxOutcome
func (mem *ListMempool) Submit(tx *types.Transaction, txInfo TxInfo) types.TxOutcome {
	err := mem.CheckTx(tx, txInfo)
	switch errors.Cause(err).(type) {
	case nil:
		return types.TxSuccess
	case ErrMempoolIsFull:
		return types.TxPoolFull
	}
	if errors.Is(err, ErrTxInMap) || errors.Is(err, ErrTxInCache) {
		return types.TxAlreadyExists
	}
	mem.logger.Debug("rejected tx", "err", err)
	return types.TxInvalid
}

func (mem *ListMempool) isFull(txSize int64) error {
	var (
		memSize  = mem.Size()
		txsBytes = mem.TxsBytes()
	)
	if memSize >= mem.config.Size || txSize+txsBytes > mem.config.MaxTxsBytes {
		return ErrMempoolIsFull{
			numTxs:      memSize,
			maxTxs:      mem.config.Size,
			txsBytes:    txsBytes,
			maxTxsBytes: mem.config.MaxTxsBytes,
		}
	}
	return nil
}

func (mem *ListMempool) HasTx(hash []byte) bool {
	_, ok := mem.txsMap.Load(txKey(hash))
	return ok
}

func (mem *ListMempool) GetTx(hash []byte) *types.Transaction {
	v, ok := mem.txsMap.Load(txKey(hash))
	if !ok {
		return nil
	}
	e, ok := v.(*clist.CElement)
	if !ok || e == nil {
		return nil
	}
	return e.Value.(*mempoolTx).tx
}

// ReapMaxTxs 共识交易优先，其余交易按到达顺序
func (mem *ListMempool) ReapMaxTxs(max int) types.Txs {
	mem.updateMtx.RLock()
	defer mem.updateMtx.RUnlock()

	if max < 0 {
		max = mem.txs.Len()
	}
	txs := make(types.Txs, 0, minInt(max, mem.txs.Len()))
	for e := mem.txs.Front(); e != nil && len(txs) < max; e = e.Next() {
		if memTx := e.Value.(*mempoolTx); memTx.tx.IsConsensusTx() {
			txs = append(txs, memTx.tx)
		}
	}
	for e := mem.txs.Front(); e != nil && len(txs) < max; e = e.Next() {
		if memTx := e.Value.(*mempoolTx); !memTx.tx.IsConsensusTx() {
			txs = append(txs, memTx.tx)
		}
	}
	return txs
}

// Lock 锁定mempool的updateMtx读写锁的写锁
func (mem *ListMempool) Lock() {
	mem.updateMtx.Lock()
}

// Unlock 释放mempool的updateMtx读写锁的写锁
func (mem *ListMempool) Unlock() {
	mem.updateMtx.Unlock()
}

// Update 删除区块中已提交的交易，并记录到cache中
func (mem *ListMempool) Update(height uint64, txs types.Txs) error {
	atomic.StoreUint64(&mem.height, height)

	for _, tx := range txs {
		hash := tx.Hash()
		mem.cache.Add(txKey(hash), struct{}{})
		if v, ok := mem.txsMap.Load(txKey(hash)); ok {
			if e, ok := v.(*clist.CElement); ok && e != nil {
				mem.removeTx(e)
			}
		}
	}
	mem.metric.MarkCommitted(height, len(txs))
	mem.markSize()
	return nil
}

// Flush 清空交易池和已提交交易的缓存
func (mem *ListMempool) Flush() {
	mem.updateMtx.Lock()
	defer mem.updateMtx.Unlock()

	for e := mem.txs.Front(); e != nil; e = e.Next() {
		mem.removeTx(e)
	}
	mem.cache.Purge()
	mem.markSize()
}

func (mem *ListMempool) Size() int {
	return mem.txs.Len()
}

func (mem *ListMempool) TxsBytes() int64 {
	return atomic.LoadInt64(&mem.txsBytes)
}

func (mem *ListMempool) Height() uint64 {
	return atomic.LoadUint64(&mem.height)
}

// TxsAvailable 有新交易加入时收到通知
func (mem *ListMempool) TxsAvailable() <-chan struct{} {
	return mem.txsAvailable
}

// addTx 将tx加入到mempool的双向链表；
// 并且更新快速查询表txMap和mempool的tx总大小
func (mem *ListMempool) addTx(memTx *mempoolTx) {
	e := mem.txs.PushBack(memTx)
	mem.txsMap.Store(txKey(memTx.tx.Hash()), e)
	atomic.AddInt64(&mem.txsBytes, memTx.tx.Size())
	if memTx.tx.IsConsensusTx() {
		atomic.AddInt64(&mem.consensusTxs, 1)
	}
	mem.markSize()

	select {
	case mem.txsAvailable <- struct{}{}:
	default:
	}
}

func (mem *ListMempool) removeTx(e *clist.CElement) {
	memTx := e.Value.(*mempoolTx)
	mem.txs.Remove(e)
	e.DetachPrev()
	mem.txsMap.Delete(txKey(memTx.tx.Hash()))
	atomic.AddInt64(&mem.txsBytes, -memTx.tx.Size())
	if memTx.tx.IsConsensusTx() {
		atomic.AddInt64(&mem.consensusTxs, -1)
	}
}

func (mem *ListMempool) markSize() {
	mem.metric.MarkTxs(mem.Size(), int(atomic.LoadInt64(&mem.consensusTxs)), mem.TxsBytes())
}

func (mem *ListMempool) TxsWaitChan() <-chan struct{} {
	return mem.txs.WaitChan()
}

func (mem *ListMempool) TxsFront() *clist.CElement {
	return mem.txs.Front()
}

// ------------------------------

type mempoolTx struct {
	height uint64

	tx      *types.Transaction
	senders sync.Map
}

// Height returns the height for this transaction
func (memTx *mempoolTx) Height() uint64 {
	return atomic.LoadUint64(&memTx.height)
}

// ------------------------------

// txKey 交易hash作为map的key
func txKey(hash []byte) string {
	return string(hash)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
