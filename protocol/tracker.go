package protocol

import (
	"sort"
	"sync"
	"time"

	"dposchain/types"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/tendermint/tendermint/libs/events"
	"github.com/tendermint/tendermint/libs/log"
	"github.com/tendermint/tendermint/p2p"
)

var ErrNoPeers = errors.New("no peer to send the request to")

// Peer 发送消息所需的最小接口，p2p.Peer满足该接口
type Peer interface {
	ID() p2p.ID
	Send(chID byte, msgBytes []byte) bool
}

// PendingRequest 一个等待回应的请求
// 超时后换一个没有试过的节点重发，最多重发MaxRetry次
type PendingRequest struct {
	ID       string
	Target   string
	MsgType  MsgType
	MaxRetry int
	Timeout  time.Duration

	msgBytes []byte
	tried    []p2p.ID
	timer    *time.Timer
	// 每次重发加一，过期的timer据此忽略
	attempt int
}

func (req *PendingRequest) TriedPeers() []p2p.ID {
	return append([]p2p.ID(nil), req.tried...)
}

func (req *PendingRequest) hasTried(id p2p.ID) bool {
	for _, t := range req.tried {
		if t == id {
			return true
		}
	}
	return false
}

// RequestTracker 管理发出去的请求：超时重试、回应匹配、重试用完后的失败事件
type RequestTracker struct {
	mtx     sync.Mutex
	pending map[string]*PendingRequest
	// 轮询的起点
	cursor int

	peers    func() []Peer
	timeout  time.Duration
	maxRetry int
	evsw     events.Fireable

	sent    gometrics.Counter
	retried gometrics.Counter
	matched gometrics.Counter
	failed  gometrics.Counter

	logger log.Logger
}

func NewRequestTracker(
	peers func() []Peer,
	timeout time.Duration,
	maxRetry int,
	evsw events.Fireable,
	registry gometrics.Registry,
) *RequestTracker {
	return &RequestTracker{
		pending:  make(map[string]*PendingRequest),
		peers:    peers,
		timeout:  timeout,
		maxRetry: maxRetry,
		evsw:     evsw,
		sent:     gometrics.GetOrRegisterCounter("requests.sent", registry),
		retried:  gometrics.GetOrRegisterCounter("requests.retried", registry),
		matched:  gometrics.GetOrRegisterCounter("requests.matched", registry),
		failed:   gometrics.GetOrRegisterCounter("requests.failed", registry),
		logger:   log.NewNopLogger(),
	}
}

func (t *RequestTracker) SetLogger(logger log.Logger) {
	t.logger = logger
}

// Track 生成请求id，编码消息并发给下一个节点
// hint不为空时优先发给hint
func (t *RequestTracker) Track(target string, msgType MsgType, payload interface{}, hint Peer) (string, error) {
	id := uuid.New().String()
	bz, err := encodeMsg(msgType, id, payload)
	if err != nil {
		return "", err
	}
	req := &PendingRequest{
		ID:       id,
		Target:   target,
		MsgType:  msgType,
		MaxRetry: t.maxRetry,
		Timeout:  t.timeout,
		msgBytes: bz,
	}

	t.mtx.Lock()
	peer := hint
	if peer == nil {
		peer = t.nextPeer(req)
	}
	if peer == nil {
		t.mtx.Unlock()
		return "", ErrNoPeers
	}
	t.pending[id] = req
	t.arm(req, peer)
	t.mtx.Unlock()

	t.send(req, peer)
	return id, nil
}

// HasTarget 同一个目标已经有请求在等待回应
func (t *RequestTracker) HasTarget(target string) bool {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	for _, req := range t.pending {
		if req.Target == target {
			return true
		}
	}
	return false
}

// Match 收到回应，删除请求并停止timer
func (t *RequestTracker) Match(id string) (*PendingRequest, bool) {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	req, ok := t.pending[id]
	if !ok {
		return nil, false
	}
	req.timer.Stop()
	delete(t.pending, id)
	t.matched.Inc(1)
	return req, true
}

func (t *RequestTracker) Len() int {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	return len(t.pending)
}

// Stop 停止所有timer，丢弃所有请求
func (t *RequestTracker) Stop() {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	for id, req := range t.pending {
		req.timer.Stop()
		delete(t.pending, id)
	}
}

// arm 记录节点并启动超时timer，caller持有mtx
func (t *RequestTracker) arm(req *PendingRequest, peer Peer) {
	req.tried = append(req.tried, peer.ID())
	req.attempt++
	attempt := req.attempt
	req.timer = time.AfterFunc(req.Timeout, func() {
		t.onTimeout(req.ID, attempt)
	})
}

func (t *RequestTracker) send(req *PendingRequest, peer Peer) {
	t.sent.Inc(1)
	if !peer.Send(req.MsgType.channel(), req.msgBytes) {
		// 等超时后换节点
		t.logger.Debug("failed to send request", "id", req.ID, "peer", peer.ID())
	}
}

func (t *RequestTracker) onTimeout(id string, attempt int) {
	t.mtx.Lock()
	req, ok := t.pending[id]
	if !ok || req.attempt != attempt {
		t.mtx.Unlock()
		return
	}

	var peer Peer
	if len(req.tried) <= req.MaxRetry {
		peer = t.nextPeer(req)
	}
	if peer == nil {
		delete(t.pending, id)
		t.mtx.Unlock()
		t.fail(req)
		return
	}
	t.arm(req, peer)
	t.mtx.Unlock()

	t.logger.Debug("request timed out, try another peer", "id", id, "target", req.Target, "peer", peer.ID())
	t.retried.Inc(1)
	t.send(req, peer)
}

// nextPeer 从cursor开始轮询，跳过已经试过的节点，caller持有mtx
func (t *RequestTracker) nextPeer(req *PendingRequest) Peer {
	peers := t.peers()
	sort.Slice(peers, func(i, j int) bool { return peers[i].ID() < peers[j].ID() })
	for i := 0; i < len(peers); i++ {
		idx := (t.cursor + i) % len(peers)
		if !req.hasTried(peers[idx].ID()) {
			t.cursor = idx + 1
			return peers[idx]
		}
	}
	return nil
}

func (t *RequestTracker) fail(req *PendingRequest) {
	t.failed.Inc(1)
	tried := make([]string, 0, len(req.tried))
	for _, id := range req.tried {
		tried = append(tried, string(id))
	}
	t.logger.Info("request failed", "id", req.ID, "target", req.Target, "tried", tried, "max_retry", req.MaxRetry)
	t.evsw.FireEvent(types.EventRequestFailed, types.EventDataRequestFailed{
		ID:         req.ID,
		Target:     req.Target,
		TriedPeers: tried,
	})
}
