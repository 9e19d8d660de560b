package protocol

import (
	"fmt"

	"dposchain/types"

	"github.com/pkg/errors"
	tmbytes "github.com/tendermint/tendermint/libs/bytes"
	tmjson "github.com/tendermint/tendermint/libs/json"
)

// MsgType 节点之间消息的类型
type MsgType uint8

const (
	MsgNewBlock = MsgType(iota + 1)
	MsgBlock
	MsgRequestBlock
	MsgNewTransaction
	MsgTxRequest
	MsgTransactions
	MsgRequestHeaders
	MsgHeaders
)

func (t MsgType) String() string {
	switch t {
	case MsgNewBlock:
		return "NewBlock"
	case MsgBlock:
		return "Block"
	case MsgRequestBlock:
		return "RequestBlock"
	case MsgNewTransaction:
		return "NewTransaction"
	case MsgTxRequest:
		return "TxRequest"
	case MsgTransactions:
		return "Transactions"
	case MsgRequestHeaders:
		return "RequestHeaders"
	case MsgHeaders:
		return "Headers"
	default:
		return fmt.Sprintf("MsgType(%d)", uint8(t))
	}
}

// channel 区块相关的消息走BlockChannel，交易走TxChannel
func (t MsgType) channel() byte {
	switch t {
	case MsgNewTransaction, MsgTxRequest, MsgTransactions:
		return TxChannel
	default:
		return BlockChannel
	}
}

// priority 数字越小越先处理
// 请求的回应最先处理，新交易最后
func (t MsgType) priority() int {
	switch t {
	case MsgBlock, MsgTransactions, MsgHeaders:
		return priorityResponse
	case MsgNewBlock:
		return priorityBlock
	case MsgRequestBlock, MsgTxRequest, MsgRequestHeaders:
		return priorityRequest
	default:
		return priorityTx
	}
}

// Message 线上格式：tmjson编码的信封，Payload是具体消息的tmjson编码
// ID只在请求和请求的回应中出现
type Message struct {
	Type    MsgType `json:"type"`
	ID      string  `json:"id,omitempty"`
	Payload []byte  `json:"payload"`
}

func (msg *Message) ValidateBasic() error {
	if msg.Type < MsgNewBlock || msg.Type > MsgHeaders {
		return fmt.Errorf("unknown message type %d", uint8(msg.Type))
	}
	if len(msg.Payload) == 0 {
		return errors.New("empty payload")
	}
	return nil
}

func (msg *Message) String() string {
	if msg.ID == "" {
		return fmt.Sprintf("[%v %dB]", msg.Type, len(msg.Payload))
	}
	return fmt.Sprintf("[%v id:%s %dB]", msg.Type, msg.ID, len(msg.Payload))
}

type BlockMessage struct {
	Block *types.Block `json:"block"`
}

type BlockRequestMessage struct {
	Height uint64 `json:"height"`
}

type TxMessage struct {
	Tx *types.Transaction `json:"tx"`
}

type TxRequestMessage struct {
	Hashes []tmbytes.HexBytes `json:"hashes"`
}

type TransactionsMessage struct {
	Txs types.Txs `json:"txs"`
}

// HeadersRequestMessage 请求从Height开始向下的Count个主链区块头
type HeadersRequestMessage struct {
	Height uint64 `json:"height"`
	Count  int    `json:"count"`
}

// HeadersMessage 按高度从高到低排列
type HeadersMessage struct {
	Headers []*types.Header `json:"headers"`
}

func encodeMsg(msgType MsgType, id string, payload interface{}) ([]byte, error) {
	bz, err := tmjson.Marshal(payload)
	if err != nil {
		return nil, errors.Wrapf(err, "encode %v payload", msgType)
	}
	return tmjson.Marshal(&Message{Type: msgType, ID: id, Payload: bz})
}

func decodeMsg(bz []byte) (*Message, error) {
	msg := &Message{}
	if err := tmjson.Unmarshal(bz, msg); err != nil {
		return nil, errors.Wrap(err, "decode message")
	}
	if err := msg.ValidateBasic(); err != nil {
		return nil, err
	}
	return msg, nil
}

func (msg *Message) decodeBlock() (*types.Block, error) {
	m := BlockMessage{}
	if err := tmjson.Unmarshal(msg.Payload, &m); err != nil {
		return nil, errors.Wrapf(err, "decode %v", msg.Type)
	}
	if m.Block == nil {
		return nil, errors.New("nil block")
	}
	return m.Block, nil
}

func (msg *Message) decodeBlockRequest() (BlockRequestMessage, error) {
	m := BlockRequestMessage{}
	err := tmjson.Unmarshal(msg.Payload, &m)
	return m, errors.Wrap(err, "decode block request")
}

func (msg *Message) decodeTx() (*types.Transaction, error) {
	m := TxMessage{}
	if err := tmjson.Unmarshal(msg.Payload, &m); err != nil {
		return nil, errors.Wrap(err, "decode tx")
	}
	if m.Tx == nil {
		return nil, errors.New("nil tx")
	}
	return m.Tx, nil
}

func (msg *Message) decodeTxRequest() (TxRequestMessage, error) {
	m := TxRequestMessage{}
	err := tmjson.Unmarshal(msg.Payload, &m)
	return m, errors.Wrap(err, "decode tx request")
}

func (msg *Message) decodeTransactions() (types.Txs, error) {
	m := TransactionsMessage{}
	if err := tmjson.Unmarshal(msg.Payload, &m); err != nil {
		return nil, errors.Wrap(err, "decode transactions")
	}
	return m.Txs, nil
}

func (msg *Message) decodeHeadersRequest() (HeadersRequestMessage, error) {
	m := HeadersRequestMessage{}
	err := tmjson.Unmarshal(msg.Payload, &m)
	return m, errors.Wrap(err, "decode headers request")
}

func (msg *Message) decodeHeaders() ([]*types.Header, error) {
	m := HeadersMessage{}
	if err := tmjson.Unmarshal(msg.Payload, &m); err != nil {
		return nil, errors.Wrap(err, "decode headers")
	}
	for i, h := range m.Headers {
		if h == nil {
			return nil, errors.Errorf("nil header at %d", i)
		}
		if i > 0 && h.Height >= m.Headers[i-1].Height {
			return nil, errors.Errorf("headers not in descending order at %d", i)
		}
	}
	return m.Headers, nil
}
