package protocol

import (
	"sync"

	"github.com/ef-ds/deque"
)

const (
	priorityResponse = iota
	priorityBlock
	priorityRequest
	priorityTx

	numPriorities
)

// peerMessage 收到的消息和发送者
type peerMessage struct {
	msg  *Message
	peer Peer
}

// messageQueue 单消费者的优先级队列
// 每个优先级一个FIFO，Pop总是先取优先级最高的非空FIFO
type messageQueue struct {
	mtx    sync.Mutex
	lanes  [numPriorities]*deque.Deque
	size   int
	max    int
	notify chan struct{}
}

func newMessageQueue(max int) *messageQueue {
	q := &messageQueue{
		max:    max,
		notify: make(chan struct{}, 1),
	}
	for i := range q.lanes {
		q.lanes[i] = deque.New()
	}
	return q
}

// Push 队列满时丢弃并返回false
func (q *messageQueue) Push(pm peerMessage) bool {
	q.mtx.Lock()
	if q.size >= q.max {
		q.mtx.Unlock()
		return false
	}
	q.lanes[pm.msg.Type.priority()].PushBack(pm)
	q.size++
	q.mtx.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

func (q *messageQueue) Pop() (peerMessage, bool) {
	q.mtx.Lock()
	defer q.mtx.Unlock()

	for _, lane := range q.lanes {
		if v, ok := lane.PopFront(); ok {
			q.size--
			return v.(peerMessage), true
		}
	}
	return peerMessage{}, false
}

// Wait 有新消息时可读，读到后需要Pop直到队列为空
func (q *messageQueue) Wait() <-chan struct{} {
	return q.notify
}

func (q *messageQueue) Len() int {
	q.mtx.Lock()
	defer q.mtx.Unlock()
	return q.size
}
