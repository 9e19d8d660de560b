package protocol

import (
	"fmt"
	"math"

	"dposchain/mempool"

	tmsync "github.com/tendermint/tendermint/libs/sync"
	"github.com/tendermint/tendermint/p2p"
)

const maxActiveIDs = math.MaxUint16

// peerIDs 交易池里用2字节的id标记交易的来源节点
type peerIDs struct {
	mtx       tmsync.RWMutex
	peerMap   map[p2p.ID]uint16
	nextID    uint16 // nextID指向最后一个可用ID+1的值，但该值不一定可用
	activeIDs map[uint16]struct{}
}

func newPeerIDs() *peerIDs {
	return &peerIDs{
		peerMap:   make(map[p2p.ID]uint16),
		activeIDs: map[uint16]struct{}{mempool.UnknownPeerID: {}},
		nextID:    1, // 0留给本节点提交的交易
	}
}

// Reserve 为peer节点分配一个唯一id
func (ids *peerIDs) Reserve(peer p2p.ID) {
	ids.mtx.Lock()
	defer ids.mtx.Unlock()

	if _, ok := ids.peerMap[peer]; ok {
		return
	}
	curID := ids.nextPeerID()
	ids.peerMap[peer] = curID
	ids.activeIDs[curID] = struct{}{}
}

// nextPeerID 由caller负责lock/unlock
func (ids *peerIDs) nextPeerID() uint16 {
	if len(ids.activeIDs) == maxActiveIDs {
		panic(fmt.Sprintf("node has maximum %d active IDs and wanted to get one more", maxActiveIDs))
	}

	_, idExists := ids.activeIDs[ids.nextID]
	for idExists {
		ids.nextID++
		_, idExists = ids.activeIDs[ids.nextID]
	}
	curID := ids.nextID
	ids.nextID++
	return curID
}

// Reclaim 释放peer对应的id
func (ids *peerIDs) Reclaim(peer p2p.ID) {
	ids.mtx.Lock()
	defer ids.mtx.Unlock()

	if removedID, ok := ids.peerMap[peer]; ok {
		delete(ids.activeIDs, removedID)
		delete(ids.peerMap, peer)
	}
}

func (ids *peerIDs) Get(peer p2p.ID) uint16 {
	ids.mtx.RLock()
	defer ids.mtx.RUnlock()
	return ids.peerMap[peer]
}
