package types

// 同步器、共识和网络层之间通过events.EventSwitch传递的事件
// 同一个订阅者收到事件的顺序与发布顺序一致
const (
	// EventBlockExecuted 区块执行并提交成功，data: EventDataBlock
	EventBlockExecuted = "BlockExecuted"
	// EventBlockMined 本节点产出的区块已提交，data: EventDataBlock
	EventBlockMined = "BlockMined"
	// EventConsensusPause 收到Pending区块，共识暂停出块，data: EventDataBlock
	EventConsensusPause = "ConsensusPause"
	// EventConsensusResume 链状态追上后恢复出块，data: EventDataBlock
	EventConsensusResume = "ConsensusResume"
	// EventMissingBlock 发现缺失的区块，data: EventDataMissingBlock
	EventMissingBlock = "MissingBlock"
	// EventUnlinkableBlock 区块的祖先未知，需要先找到与主链的分叉点，data: EventDataBlock
	EventUnlinkableBlock = "UnlinkableBlock"
	// EventRollback 发生回滚，data: EventDataRollback
	EventRollback = "Rollback"
	// EventTxAdded 本节点提交到交易池的交易，data: EventDataTx
	EventTxAdded = "TxAdded"
	// EventRequestFailed 请求重试次数用完仍没有回应，data: EventDataRequestFailed
	EventRequestFailed = "RequestFailed"
)

type EventDataBlock struct {
	Block *Block
}

type EventDataMissingBlock struct {
	Height uint64
	Reason string
}

type EventDataRollback struct {
	From uint64 // 回滚前的高度
	To   uint64 // 回滚后的高度
}

type EventDataTx struct {
	Tx *Transaction
}

type EventDataRequestFailed struct {
	ID         string
	Target     string
	TriedPeers []string
}
