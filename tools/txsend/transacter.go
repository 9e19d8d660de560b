package main

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"dposchain/types"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	tmjson "github.com/tendermint/tendermint/libs/json"
	"github.com/tendermint/tendermint/libs/log"
	jsonrpc "github.com/tendermint/tendermint/rpc/jsonrpc/types"
)

const (
	sendTimeout = 10 * time.Second
	// see rpc/jsonrpc/server/ws_handler.go
	pingPeriod = (30 * 9 / 10) * time.Second
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// transacter 通过websocket按固定速率调用broadcast_tx
type transacter struct {
	Target            string
	Rate              int
	Connections       int
	BroadcastTxMethod string

	signer      types.PrivValidator
	from        types.Address
	conns       []*websocket.Conn
	connsBroken []bool
	startingWg  sync.WaitGroup
	endingWg    sync.WaitGroup
	stopped     int32
	txNumber    uint64

	logger log.Logger
}

func newTransacter(target string, connections, rate int, broadcastTxMethod string,
	signer types.PrivValidator, from types.Address) *transacter {
	return &transacter{
		Target:            target,
		Rate:              rate,
		Connections:       connections,
		BroadcastTxMethod: broadcastTxMethod,
		signer:            signer,
		from:              from,
		conns:             make([]*websocket.Conn, connections),
		connsBroken:       make([]bool, connections),
		logger:            log.NewNopLogger(),
	}
}

// SetLogger lets you set your own logger
func (t *transacter) SetLogger(l log.Logger) {
	t.logger = l
}

// Start opens N = `t.Connections` connections to the target and creates read
// and write goroutines for each connection.
func (t *transacter) Start() error {
	atomic.StoreInt32(&t.stopped, 0)

	for i := 0; i < t.Connections; i++ {
		c, _, err := connect(t.Target)
		if err != nil {
			return err
		}
		t.conns[i] = c
	}

	t.startingWg.Add(t.Connections)
	t.endingWg.Add(2 * t.Connections)
	for i := 0; i < t.Connections; i++ {
		go t.sendLoop(i)
		go t.receiveLoop(i)
	}

	t.startingWg.Wait()

	return nil
}

// Stop closes the connections.
func (t *transacter) Stop() {
	atomic.StoreInt32(&t.stopped, 1)
	t.endingWg.Wait()
	for _, c := range t.conns {
		c.Close()
	}
}

func (t *transacter) isStopped() bool {
	return atomic.LoadInt32(&t.stopped) == 1
}

// Sent 已发出的交易数
func (t *transacter) Sent() uint64 {
	return atomic.LoadUint64(&t.txNumber)
}

// receiveLoop reads messages from the connection.
func (t *transacter) receiveLoop(connIndex int) {
	c := t.conns[connIndex]
	defer t.endingWg.Done()
	for {
		_, msg, err := c.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				t.logger.Error(
					fmt.Sprintf("failed to read response on conn %d", connIndex),
					"err",
					err,
				)
			}
			return
		}
		var resp jsonrpc.RPCResponse
		if err := json.Unmarshal(msg, &resp); err == nil && resp.Error != nil {
			t.logger.Debug("tx rejected", "err", resp.Error)
		}
		if t.isStopped() || t.connsBroken[connIndex] {
			return
		}
	}
}

// sendLoop generates transactions at a given rate.
func (t *transacter) sendLoop(connIndex int) {
	started := false
	// Close the starting waitgroup, in the event that this fails to start
	defer func() {
		if !started {
			t.startingWg.Done()
		}
	}()
	c := t.conns[connIndex]

	c.SetPingHandler(func(message string) error {
		err := c.WriteControl(websocket.PongMessage, []byte(message), time.Now().Add(sendTimeout))
		if err == websocket.ErrCloseSent {
			return nil
		} else if e, ok := err.(net.Error); ok && e.Temporary() {
			return nil
		}
		return err
	})

	logger := t.logger.With("addr", c.RemoteAddr())

	pingsTicker := time.NewTicker(pingPeriod)
	txsTicker := time.NewTicker(1 * time.Second)
	defer func() {
		pingsTicker.Stop()
		txsTicker.Stop()
		t.endingWg.Done()
	}()

	for {
		select {
		case <-txsTicker.C:
			startTime := time.Now()
			endTime := startTime.Add(time.Second)
			numTxSent := t.Rate
			if !started {
				t.startingWg.Done()
				started = true
			}

			now := time.Now()
			for i := 0; i < t.Rate; i++ {
				params, err := t.txParams(connIndex, now)
				if err != nil {
					logger.Error("failed to build tx", "err", err)
					t.connsBroken[connIndex] = true
					return
				}

				c.SetWriteDeadline(now.Add(sendTimeout))
				err = c.WriteJSON(jsonrpc.RPCRequest{
					JSONRPC: "2.0",
					ID:      jsonrpc.JSONRPCStringID("txsend"),
					Method:  t.BroadcastTxMethod,
					Params:  params,
				})
				if err != nil {
					err = errors.Wrap(err,
						fmt.Sprintf("txs send failed on connection #%d", connIndex))
					t.connsBroken[connIndex] = true
					logger.Error(err.Error())
					return
				}

				// cache the time.Now() reads to save time.
				if i%5 == 0 {
					now = time.Now()
					if now.After(endTime) {
						// Plus one accounts for sending this tx
						numTxSent = i + 1
						break
					}
				}
			}

			timeToSend := time.Since(startTime)
			logger.Info(fmt.Sprintf("sent %d transactions", numTxSent), "took", timeToSend)
			if timeToSend < 1*time.Second {
				sleepTime := time.Second - timeToSend
				logger.Debug(fmt.Sprintf("connection #%d is sleeping for %f seconds", connIndex, sleepTime.Seconds()))
				time.Sleep(sleepTime)
			}

		case <-pingsTicker.C:
			// go-rpc server closes the connection in the absence of pings
			c.SetWriteDeadline(time.Now().Add(sendTimeout))
			if err := c.WriteMessage(websocket.PingMessage, []byte{}); err != nil {
				err = errors.Wrap(err,
					fmt.Sprintf("failed to write ping message on conn #%d", connIndex))
				logger.Error(err.Error())
				t.connsBroken[connIndex] = true
			}
		}

		if t.isStopped() {
			// To cleanly close a connection, a client should send a close
			// frame and wait for the server to close the connection.
			c.SetWriteDeadline(time.Now().Add(sendTimeout))
			err := c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			if err != nil {
				err = errors.Wrap(err,
					fmt.Sprintf("failed to write close message on conn #%d", connIndex))
				logger.Error(err.Error())
				t.connsBroken[connIndex] = true
			}

			return
		}
	}
}

// txParams 交易本身用tmjson编码，rpc服务端同样用tmjson解码参数
func (t *transacter) txParams(connIndex int, now time.Time) ([]byte, error) {
	tx, err := t.generateTx(connIndex, now)
	if err != nil {
		return nil, err
	}
	txBz, err := tmjson.Marshal(tx)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]jsoniter.RawMessage{"tx": txBz})
}

func (t *transacter) generateTx(connIndex int, now time.Time) (*types.Transaction, error) {
	n := atomic.AddUint64(&t.txNumber, 1)
	tx := &types.Transaction{
		From:       t.from,
		To:         types.Address(fmt.Sprintf("txsend-target-%06d", connIndex)),
		MethodName: "Transfer",
		Params:     [][]byte{[]byte(fmt.Sprintf("%d", n))},
		Type:       types.ContractTransaction,
		Time:       now,
	}
	if err := t.signer.SignTransaction(tx); err != nil {
		return nil, err
	}
	return tx, nil
}

func connect(host string) (*websocket.Conn, *http.Response, error) {
	u := url.URL{Scheme: "ws", Host: host, Path: "/websocket"}
	return websocket.DefaultDialer.Dial(u.String(), nil)
}
