package protocol

import (
	"bytes"
	"fmt"
	"sort"

	"dposchain/config"
	"dposchain/libs/metric"
	"dposchain/mempool"
	"dposchain/types"

	gometrics "github.com/rcrowley/go-metrics"
	tmbytes "github.com/tendermint/tendermint/libs/bytes"
	"github.com/tendermint/tendermint/libs/events"
	"github.com/tendermint/tendermint/libs/log"
	tmsync "github.com/tendermint/tendermint/libs/sync"
	"github.com/tendermint/tendermint/p2p"
)

const (
	BlockChannel = byte(0x40)
	TxChannel    = byte(0x41)

	maxMsgSize = 4 * 1024 * 1024

	subscriber = "protocol-reactor"
)

// BlockReceiver 收到的区块交给同步器，由synchronizer.Synchronizer实现
type BlockReceiver interface {
	ReceiveBlock(block *types.Block) (types.BlockValidationResult, types.BlockExecutionResult)
}

// BlockStore 回应区块和区块头请求，也用于查找分叉点
type BlockStore interface {
	GetBlockAt(height uint64) (*types.Block, error)
	CurrentHeight() uint64
}

// TxPool 交易池中网络层用到的部分
type TxPool interface {
	Submit(tx *types.Transaction, txInfo mempool.TxInfo) types.TxOutcome
	GetTx(hash []byte) *types.Transaction
}

// Reactor 节点之间的区块和交易传播
// 所有节点发来的消息进入同一个优先级队列，由一个goroutine按顺序处理
type Reactor struct {
	p2p.BaseReactor

	config *config.NetworkConfig

	sync    BlockReceiver
	store   BlockStore
	mempool TxPool
	evsw    events.EventSwitch

	mtx   tmsync.RWMutex
	peers map[p2p.ID]Peer
	ids   *peerIDs
	// 区块头请求id -> 需要补齐到的高度
	headerTops map[string]uint64

	queue   *messageQueue
	blocks  *recentHashes
	txs     *recentHashes
	tracker *RequestTracker

	registry         gometrics.Registry
	receivedBlocks   gometrics.Counter
	duplicateBlocks  gometrics.Counter
	rebroadcastBlock gometrics.Counter
	receivedTxs      gometrics.Counter
	duplicateTxs     gometrics.Counter
	droppedMsgs      gometrics.Counter
	invalidMsgs      gometrics.Counter
	peerGauge        gometrics.Gauge
	queueGauge       gometrics.Gauge
}

type ReactorOption func(*Reactor)

// WithRegistry 使用外部的go-metrics registry
func WithRegistry(registry gometrics.Registry) ReactorOption {
	return func(r *Reactor) {
		r.registry = registry
	}
}

func NewReactor(
	cfg *config.NetworkConfig,
	sync BlockReceiver,
	store BlockStore,
	mempool TxPool,
	evsw events.EventSwitch,
	options ...ReactorOption,
) *Reactor {
	r := &Reactor{
		config:     cfg,
		sync:       sync,
		store:      store,
		mempool:    mempool,
		evsw:       evsw,
		peers:      make(map[p2p.ID]Peer),
		headerTops: make(map[string]uint64),
		ids:        newPeerIDs(),
		queue:      newMessageQueue(cfg.MaxQueuedMessages),
		blocks:     newRecentHashes(cfg.MaxBlockHistory),
		txs:        newRecentHashes(cfg.MaxTransactionHistory),
		registry:   gometrics.NewRegistry(),
	}
	r.BaseReactor = *p2p.NewBaseReactor("Protocol", r)

	for _, option := range options {
		option(r)
	}

	r.receivedBlocks = gometrics.GetOrRegisterCounter("blocks.received", r.registry)
	r.duplicateBlocks = gometrics.GetOrRegisterCounter("blocks.duplicate", r.registry)
	r.rebroadcastBlock = gometrics.GetOrRegisterCounter("blocks.rebroadcast", r.registry)
	r.receivedTxs = gometrics.GetOrRegisterCounter("txs.received", r.registry)
	r.duplicateTxs = gometrics.GetOrRegisterCounter("txs.duplicate", r.registry)
	r.droppedMsgs = gometrics.GetOrRegisterCounter("messages.dropped", r.registry)
	r.invalidMsgs = gometrics.GetOrRegisterCounter("messages.invalid", r.registry)
	r.peerGauge = gometrics.GetOrRegisterGauge("peers", r.registry)
	r.queueGauge = gometrics.GetOrRegisterGauge("queue.size", r.registry)

	r.tracker = NewRequestTracker(r.Peers, cfg.RequestTimeout, cfg.MaxRetry, evsw, r.registry)
	return r
}

func (r *Reactor) SetLogger(l log.Logger) {
	r.BaseService.SetLogger(l)
	r.tracker.SetLogger(l.With("module", "tracker"))
}

// Metric 网络层的统计信息
func (r *Reactor) Metric() metric.MetricItem {
	return metric.NewRegistryItem(r.registry)
}

func (r *Reactor) Tracker() *RequestTracker {
	return r.tracker
}

// OnStart implements p2p.BaseReactor.
func (r *Reactor) OnStart() error {
	if err := r.subscribe(); err != nil {
		return err
	}
	go r.processRoutine()
	r.Logger.Info("Protocol Reactor started.")
	return nil
}

// OnStop implements p2p.BaseReactor.
func (r *Reactor) OnStop() {
	r.evsw.RemoveListener(subscriber)
	r.tracker.Stop()
}

// GetChannels implements Reactor
func (r *Reactor) GetChannels() []*p2p.ChannelDescriptor {
	return []*p2p.ChannelDescriptor{
		{
			ID:                  BlockChannel,
			Priority:            10,
			SendQueueCapacity:   100,
			RecvMessageCapacity: maxMsgSize,
		},
		{
			ID:                  TxChannel,
			Priority:            5,
			SendQueueCapacity:   1000,
			RecvMessageCapacity: maxMsgSize,
		},
	}
}

// InitPeer implements Reactor.
func (r *Reactor) InitPeer(peer p2p.Peer) p2p.Peer {
	r.ids.Reserve(peer.ID())
	return peer
}

// AddPeer implements Reactor.
func (r *Reactor) AddPeer(peer p2p.Peer) {
	r.addPeer(peer)
}

func (r *Reactor) addPeer(peer Peer) {
	r.ids.Reserve(peer.ID())

	r.mtx.Lock()
	r.peers[peer.ID()] = peer
	n := len(r.peers)
	r.mtx.Unlock()

	r.peerGauge.Update(int64(n))
	r.Logger.Info("peer added", "peer", peer.ID(), "peers", n)
}

// RemovePeer implements Reactor.
func (r *Reactor) RemovePeer(peer p2p.Peer, reason interface{}) {
	r.removePeer(peer.ID(), reason)
}

func (r *Reactor) removePeer(id p2p.ID, reason interface{}) {
	r.mtx.Lock()
	delete(r.peers, id)
	n := len(r.peers)
	r.mtx.Unlock()

	r.ids.Reclaim(id)
	r.peerGauge.Update(int64(n))
	r.Logger.Info("peer removed", "peer", id, "reason", reason, "peers", n)
}

// Peers 按id排序的节点快照
func (r *Reactor) Peers() []Peer {
	r.mtx.RLock()
	peers := make([]Peer, 0, len(r.peers))
	for _, p := range r.peers {
		peers = append(peers, p)
	}
	r.mtx.RUnlock()

	sort.Slice(peers, func(i, j int) bool { return peers[i].ID() < peers[j].ID() })
	return peers
}

// Receive implements Reactor.
// 只解码并放入队列，处理在processRoutine中进行
func (r *Reactor) Receive(chID byte, src p2p.Peer, msgBytes []byte) {
	r.receive(chID, src, msgBytes)
}

func (r *Reactor) receive(chID byte, src Peer, msgBytes []byte) {
	msg, err := decodeMsg(msgBytes)
	if err != nil {
		r.invalidMsgs.Inc(1)
		r.Logger.Error("Error decoding message", "src", src.ID(), "chId", chID, "err", err)
		if p, ok := src.(p2p.Peer); ok && r.Switch != nil {
			r.Switch.StopPeerForError(p, err)
		}
		return
	}
	if msg.Type.channel() != chID {
		r.invalidMsgs.Inc(1)
		r.Logger.Error("message on wrong channel", "src", src.ID(), "chId", chID, "msg", msg)
		return
	}

	if !r.queue.Push(peerMessage{msg: msg, peer: src}) {
		r.droppedMsgs.Inc(1)
		r.Logger.Error("message queue is full, drop message", "src", src.ID(), "msg", msg)
		return
	}
	r.queueGauge.Update(int64(r.queue.Len()))
}

// processRoutine 唯一的消费者
func (r *Reactor) processRoutine() {
	for {
		select {
		case <-r.queue.Wait():
			for {
				pm, ok := r.queue.Pop()
				if !ok {
					break
				}
				r.process(pm)
			}
			r.queueGauge.Update(int64(r.queue.Len()))
		case <-r.Quit():
			return
		}
	}
}

func (r *Reactor) process(pm peerMessage) {
	defer func() {
		if e := recover(); e != nil {
			r.Logger.Error("panic while processing message", "msg", pm.msg, "peer", pm.peer.ID(), "err", e)
		}
	}()

	switch pm.msg.Type {
	case MsgNewBlock, MsgBlock:
		r.handleBlock(pm.msg, pm.peer)
	case MsgNewTransaction:
		r.handleNewTransaction(pm.msg, pm.peer)
	case MsgTransactions:
		r.handleTransactions(pm.msg, pm.peer)
	case MsgRequestBlock:
		r.handleBlockRequest(pm.msg, pm.peer)
	case MsgTxRequest:
		r.handleTxRequest(pm.msg, pm.peer)
	case MsgRequestHeaders:
		r.handleHeadersRequest(pm.msg, pm.peer)
	case MsgHeaders:
		r.handleHeaders(pm.msg, pm.peer)
	default:
		r.Logger.Error("Unknown message", "msg", pm.msg)
	}
}

// handleBlock 校验通过后才转发给其它节点
// 本节点请求的区块即使最近见过也交给synchronizer，之前的那次可能还不能执行
func (r *Reactor) handleBlock(msg *Message, src Peer) {
	requested := false
	if msg.ID != "" {
		_, requested = r.tracker.Match(msg.ID)
	}
	block, err := msg.decodeBlock()
	if err != nil {
		r.invalidMsgs.Inc(1)
		r.Logger.Error("bad block message", "src", src.ID(), "err", err)
		return
	}
	r.receivedBlocks.Inc(1)
	if requested {
		r.blocks.Add(block.Hash())
	} else if r.blocks.Seen(block.Hash()) {
		r.duplicateBlocks.Inc(1)
		return
	}

	vr, er := r.sync.ReceiveBlock(block)
	r.Logger.Debug("block handled", "block", block, "src", src.ID(), "validation", vr, "execution", er)
	if !vr.IsSuccess() {
		return
	}

	bz, err := encodeMsg(MsgNewBlock, "", BlockMessage{Block: block})
	if err != nil {
		r.Logger.Error("Marshal block failed.", "err", err)
		return
	}
	r.rebroadcastBlock.Inc(1)
	r.broadcast(BlockChannel, bz, src.ID())
}

// handleNewTransaction 加入交易池成功后转发
func (r *Reactor) handleNewTransaction(msg *Message, src Peer) {
	tx, err := msg.decodeTx()
	if err != nil {
		r.invalidMsgs.Inc(1)
		r.Logger.Error("bad tx message", "src", src.ID(), "err", err)
		return
	}
	r.receivedTxs.Inc(1)
	if r.txs.Seen(tx.Hash()) {
		r.duplicateTxs.Inc(1)
		return
	}
	if tx.IsConsensusTx() {
		r.Logger.Info("consensus tx from peer, ignored", "tx", tx, "src", src.ID())
		return
	}

	outcome := r.mempool.Submit(tx, r.txInfo(src))
	if outcome != types.TxSuccess {
		r.Logger.Debug("new tx not added to the pool", "tx", tx, "src", src.ID(), "outcome", outcome)
		return
	}
	bz, err := encodeMsg(MsgNewTransaction, "", TxMessage{Tx: tx})
	if err != nil {
		r.Logger.Error("Marshal tx failed.", "err", err)
		return
	}
	r.broadcast(TxChannel, bz, src.ID())
}

// handleTransactions 请求的交易，加入交易池但不转发
func (r *Reactor) handleTransactions(msg *Message, src Peer) {
	if msg.ID != "" {
		r.tracker.Match(msg.ID)
	}
	txs, err := msg.decodeTransactions()
	if err != nil {
		r.invalidMsgs.Inc(1)
		r.Logger.Error("bad transactions message", "src", src.ID(), "err", err)
		return
	}
	for _, tx := range txs {
		if tx == nil || tx.IsConsensusTx() {
			continue
		}
		r.receivedTxs.Inc(1)
		r.txs.Add(tx.Hash())
		outcome := r.mempool.Submit(tx, r.txInfo(src))
		r.Logger.Debug("requested tx", "tx", tx, "outcome", outcome)
	}
}

func (r *Reactor) handleBlockRequest(msg *Message, src Peer) {
	req, err := msg.decodeBlockRequest()
	if err != nil {
		r.invalidMsgs.Inc(1)
		r.Logger.Error("bad block request", "src", src.ID(), "err", err)
		return
	}
	block, err := r.store.GetBlockAt(req.Height)
	if err != nil {
		r.Logger.Debug("requested block not found", "height", req.Height, "src", src.ID(), "err", err)
		return
	}
	bz, err := encodeMsg(MsgBlock, msg.ID, BlockMessage{Block: block})
	if err != nil {
		r.Logger.Error("Marshal block failed.", "err", err)
		return
	}
	src.Send(BlockChannel, bz)
}

func (r *Reactor) handleTxRequest(msg *Message, src Peer) {
	req, err := msg.decodeTxRequest()
	if err != nil {
		r.invalidMsgs.Inc(1)
		r.Logger.Error("bad tx request", "src", src.ID(), "err", err)
		return
	}
	txs := make(types.Txs, 0, len(req.Hashes))
	for _, hash := range req.Hashes {
		if tx := r.mempool.GetTx(hash); tx != nil && !tx.IsConsensusTx() {
			txs = append(txs, tx)
		}
	}
	bz, err := encodeMsg(MsgTransactions, msg.ID, TransactionsMessage{Txs: txs})
	if err != nil {
		r.Logger.Error("Marshal transactions failed.", "err", err)
		return
	}
	src.Send(TxChannel, bz)
}

// handleHeadersRequest 从min(Height, 当前高度)开始向下返回主链的区块头
func (r *Reactor) handleHeadersRequest(msg *Message, src Peer) {
	req, err := msg.decodeHeadersRequest()
	if err != nil {
		r.invalidMsgs.Inc(1)
		r.Logger.Error("bad headers request", "src", src.ID(), "err", err)
		return
	}
	count := req.Count
	if count <= 0 || count > r.config.MaxHeadersPerRequest {
		count = r.config.MaxHeadersPerRequest
	}
	height := req.Height
	if current := r.store.CurrentHeight(); height > current {
		height = current
	}

	headers := make([]*types.Header, 0, count)
	for h := int64(height); h >= 0 && len(headers) < count; h-- {
		block, err := r.store.GetBlockAt(uint64(h))
		if err != nil {
			r.Logger.Debug("header not found", "height", h, "err", err)
			break
		}
		block.Hash()
		headers = append(headers, block.Header.Copy())
	}
	bz, err := encodeMsg(MsgHeaders, msg.ID, HeadersMessage{Headers: headers})
	if err != nil {
		r.Logger.Error("Marshal headers failed.", "err", err)
		return
	}
	src.Send(BlockChannel, bz)
}

// handleHeaders 只处理本节点请求过的区块头
// 找到与主链相同的最高区块头即为分叉点，请求分叉点之上的区块
// 都不相同时继续向下请求
func (r *Reactor) handleHeaders(msg *Message, src Peer) {
	if msg.ID == "" {
		return
	}
	if _, ok := r.tracker.Match(msg.ID); !ok {
		r.Logger.Debug("unrequested headers", "id", msg.ID, "src", src.ID())
		return
	}
	headers, err := msg.decodeHeaders()
	if err != nil {
		r.invalidMsgs.Inc(1)
		r.Logger.Error("bad headers message", "src", src.ID(), "err", err)
		return
	}
	top, ok := r.takeHeadersTop(msg.ID)
	if len(headers) == 0 {
		return
	}
	if !ok {
		top = headers[0].Height
	}
	for _, header := range headers {
		local, err := r.store.GetBlockAt(header.Height)
		if err != nil || !bytes.Equal(local.Hash(), header.BlockHash) {
			continue
		}
		r.Logger.Info("fork point found", "height", header.Height, "top", top, "src", src.ID())
		for h := header.Height + 1; h <= top; h++ {
			if _, err := r.QueueBlockRequestByHeight(h); err != nil {
				r.Logger.Debug("cannot request block", "height", h, "err", err)
			}
		}
		return
	}

	lowest := headers[len(headers)-1].Height
	if lowest == 0 {
		r.Logger.Error("no common ancestor with peer", "src", src.ID())
		return
	}
	if _, err := r.QueueHeadersRequest(lowest-1, top, src); err != nil {
		r.Logger.Debug("cannot request headers", "height", lowest-1, "err", err)
	}
}

func (r *Reactor) txInfo(src Peer) mempool.TxInfo {
	return mempool.TxInfo{SenderID: r.ids.Get(src.ID()), SenderP2PID: src.ID()}
}

// broadcast 发给除except以外的所有节点，返回发送成功的节点数
func (r *Reactor) broadcast(chID byte, msgBytes []byte, except p2p.ID) int {
	sent := 0
	for _, p := range r.Peers() {
		if p.ID() == except {
			continue
		}
		if p.Send(chID, msgBytes) {
			sent++
		}
	}
	return sent
}

// BroadcastBlock 发给所有节点，并记入最近收到的区块避免被转发回来后重复处理
func (r *Reactor) BroadcastBlock(block *types.Block) int {
	r.blocks.Add(block.Hash())
	bz, err := encodeMsg(MsgNewBlock, "", BlockMessage{Block: block})
	if err != nil {
		r.Logger.Error("Marshal block failed.", "err", err)
		return 0
	}
	n := r.broadcast(BlockChannel, bz, "")
	r.Logger.Debug("broadcast block", "block", block, "peers", n)
	return n
}

// BroadcastMessage 发给所有节点
func (r *Reactor) BroadcastMessage(msgType MsgType, payload interface{}) int {
	bz, err := encodeMsg(msgType, "", payload)
	if err != nil {
		r.Logger.Error("Marshal message failed.", "type", msgType, "err", err)
		return 0
	}
	return r.broadcast(msgType.channel(), bz, "")
}

// QueueBlockRequestByHeight 向其它节点请求height处的区块
// 同一高度已经有请求在等待时不再重复请求
func (r *Reactor) QueueBlockRequestByHeight(height uint64) (string, error) {
	target := fmt.Sprintf("block#%d", height)
	if r.tracker.HasTarget(target) {
		return "", nil
	}
	return r.tracker.Track(target, MsgRequestBlock, BlockRequestMessage{Height: height}, nil)
}

// QueueHeadersRequest 请求height及以下的区块头，用于查找分叉点
// 找到分叉点后请求其上直到top的区块
func (r *Reactor) QueueHeadersRequest(height, top uint64, hint Peer) (string, error) {
	target := fmt.Sprintf("headers#%d", height)
	if r.tracker.HasTarget(target) {
		return "", nil
	}
	req := HeadersRequestMessage{Height: height, Count: r.config.MaxHeadersPerRequest}
	id, err := r.tracker.Track(target, MsgRequestHeaders, req, hint)
	if err != nil {
		return "", err
	}
	r.mtx.Lock()
	r.headerTops[id] = top
	r.mtx.Unlock()
	return id, nil
}

func (r *Reactor) takeHeadersTop(id string) (uint64, bool) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	top, ok := r.headerTops[id]
	delete(r.headerTops, id)
	return top, ok
}

// QueueTransactionRequest 请求交易，hint为空时按轮询选择节点
func (r *Reactor) QueueTransactionRequest(hashes [][]byte, hint Peer) (string, error) {
	req := TxRequestMessage{Hashes: make([]tmbytes.HexBytes, 0, len(hashes))}
	for _, h := range hashes {
		req.Hashes = append(req.Hashes, h)
	}
	return r.tracker.Track(fmt.Sprintf("txs#%d", len(hashes)), MsgTxRequest, req, hint)
}

// subscribe 监听同步器、交易池和共识的事件
func (r *Reactor) subscribe() error {
	listeners := map[string]events.EventCallback{
		types.EventBlockMined: func(data events.EventData) {
			r.BroadcastBlock(data.(types.EventDataBlock).Block)
		},
		types.EventMissingBlock: func(data events.EventData) {
			ev := data.(types.EventDataMissingBlock)
			if _, err := r.QueueBlockRequestByHeight(ev.Height); err != nil {
				r.Logger.Debug("cannot request missing block", "height", ev.Height, "reason", ev.Reason, "err", err)
			}
		},
		types.EventUnlinkableBlock: func(data events.EventData) {
			block := data.(types.EventDataBlock).Block
			if block.Height == 0 {
				return
			}
			if _, err := r.QueueHeadersRequest(block.Height-1, block.Height-1, nil); err != nil {
				r.Logger.Debug("cannot request headers", "block", block, "err", err)
			}
		},
		types.EventTxAdded: func(data events.EventData) {
			tx := data.(types.EventDataTx).Tx
			if tx.IsConsensusTx() {
				return
			}
			r.txs.Add(tx.Hash())
			r.BroadcastMessage(MsgNewTransaction, TxMessage{Tx: tx})
		},
		types.EventRequestFailed: func(data events.EventData) {
			ev := data.(types.EventDataRequestFailed)
			r.takeHeadersTop(ev.ID)
			r.Logger.Info("request gave up", "id", ev.ID, "target", ev.Target, "tried", ev.TriedPeers)
		},
	}
	for _, event := range []string{
		types.EventBlockMined, types.EventMissingBlock, types.EventUnlinkableBlock,
		types.EventTxAdded, types.EventRequestFailed,
	} {
		if err := r.evsw.AddListenerForEvent(subscriber, event, listeners[event]); err != nil {
			return err
		}
	}
	return nil
}
