package node

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"dposchain/config"
	"dposchain/consensus"
	"dposchain/libs/metric"
	mempl "dposchain/mempool"
	"dposchain/privval"
	"dposchain/protocol"
	"dposchain/rpc"
	"dposchain/state"
	"dposchain/store"
	"dposchain/synchronizer"
	"dposchain/types"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tendermint/tendermint/libs/events"
	"github.com/tendermint/tendermint/libs/log"
	"github.com/tendermint/tendermint/libs/service"
	"github.com/tendermint/tendermint/p2p"
	"github.com/tendermint/tendermint/p2p/conn"
	rpcserver "github.com/tendermint/tendermint/rpc/jsonrpc/server"
)

type Provider func(*config.Config, log.Logger) (*Node, error)

type Node struct {
	service.BaseService

	// config
	config  *config.Config
	genDoc  *types.GenesisDoc
	privVal types.PrivValidator

	// network
	transport *p2p.MultiplexTransport
	sw        *p2p.Switch // p2p connections
	nodeInfo  p2p.NodeInfo
	nodeKey   *p2p.NodeKey // our node privkey

	// services
	evsw         events.EventSwitch
	chain        *store.KVStore
	mempool      *mempl.ListMempool
	blockSet     *types.BlockSet
	synchronizer *synchronizer.Synchronizer
	dpos         *consensus.DPoS
	reactor      *protocol.Reactor

	metricSet     *metric.MetricSet
	rpcListeners  []net.Listener
	prometheusSrv *http.Server
}

type Option func(*Node)

// DefaultNewNode 从配置目录读取节点密钥、出块者密钥和创世文件
func DefaultNewNode(cfg *config.Config, logger log.Logger) (*Node, error) {
	nodeKey, err := p2p.LoadOrGenNodeKey(cfg.NodeKeyFile())
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load or gen node key %s", cfg.NodeKeyFile())
	}
	genDoc, err := types.GenesisDocFromFile(cfg.GenesisFile())
	if err != nil {
		return nil, err
	}
	pv := privval.LoadOrGenFilePV(cfg.PrivValidatorKeyFile())

	return NewNode(cfg, pv, nodeKey, genDoc, logger)
}

func createTransport(
	cfg *config.Config,
	nodeInfo p2p.NodeInfo,
	nodeKey *p2p.NodeKey,
) *p2p.MultiplexTransport {
	var (
		mConnConfig = conn.DefaultMConnConfig()
		transport   = p2p.NewMultiplexTransport(nodeInfo, *nodeKey, mConnConfig)
	)

	// Limit the number of incoming connections.
	max := cfg.P2P.MaxNumInboundPeers + len(splitAndTrimEmpty(cfg.P2P.UnconditionalPeerIDs, ",", " "))
	p2p.MultiplexTransportMaxIncomingConnections(max)(transport)

	return transport
}

func createSwitch(cfg *config.Config,
	transport p2p.Transport,
	reactor *protocol.Reactor,
	nodeInfo p2p.NodeInfo,
	nodeKey *p2p.NodeKey,
	p2pLogger log.Logger) *p2p.Switch {

	sw := p2p.NewSwitch(
		cfg.P2P,
		transport,
	)
	sw.SetLogger(p2pLogger)
	sw.AddReactor("PROTOCOL", reactor)

	sw.SetNodeInfo(nodeInfo)
	sw.SetNodeKey(nodeKey)

	p2pLogger.Info("P2P Node ID", "ID", nodeKey.ID(), "file", cfg.NodeKeyFile())
	return sw
}

func createMetrics(cfg *config.Config, chainID string) (*consensus.Metrics, *synchronizer.Metrics) {
	if cfg.Instrumentation.Prometheus {
		return consensus.PrometheusMetrics(cfg.Instrumentation.Namespace, "chain_id", chainID),
			synchronizer.PrometheusMetrics(cfg.Instrumentation.Namespace, "chain_id", chainID)
	}
	return consensus.NopMetrics(), synchronizer.NopMetrics()
}

func NewNode(
	cfg *config.Config,
	privVal types.PrivValidator,
	nodeKey *p2p.NodeKey,
	genDoc *types.GenesisDoc,
	logger log.Logger,
	options ...Option,
) (*Node, error) {
	chainID := genDoc.ChainID
	evsw := events.NewEventSwitch()

	chain, err := store.NewKVStore(config.DefaultChainDBName, cfg.DBDir(), logger.With("module", "store"))
	if err != nil {
		return nil, err
	}
	genesis, err := state.InitChain(chain, genDoc)
	if err != nil {
		return nil, errors.Wrap(err, "init chain")
	}
	logger.Info("chain loaded", "genesis", genesis.Hash(), "height", chain.CurrentHeight())

	csMetrics, syncMetrics := createMetrics(cfg, chainID)

	mempool := mempl.NewListMempool(cfg.Mempool, chain.CurrentHeight(), mempl.WithEventSwitch(evsw))
	mempool.SetLogger(logger.With("module", "mempool"))

	blockSet := types.NewBlockSet(types.WithChainReader(chain))
	validator := state.NewBlockValidator(chain, blockSet, genDoc.ProducerSet(), cfg.DPoS.BlockTimeDrift,
		logger.With("module", "validator"))
	executor := state.NewBlockExecutor(chain, mempool, logger.With("module", "executor"))

	sync := synchronizer.NewSynchronizer(cfg.Sync, chainID, chain, blockSet, validator, executor, evsw,
		synchronizer.WithMetrics(syncMetrics))
	sync.SetLogger(logger.With("module", "sync"))

	miner, err := state.NewMiner(chainID, chain, mempool, privVal, cfg.Mempool.MaxTxsPerBlock, sync,
		logger.With("module", "miner"))
	if err != nil {
		return nil, err
	}
	dpos, err := consensus.NewDPoS(cfg.DPoS, chain, mempool, miner, privVal, evsw, consensus.WithMetrics(csMetrics))
	if err != nil {
		return nil, err
	}
	dpos.SetLogger(logger.With("module", "consensus"))

	reactor := protocol.NewReactor(cfg.Network, sync, chain, mempool, evsw)
	reactor.SetLogger(logger.With("module", "protocol"))

	p2pLogger := logger.With("module", "p2p")

	// setup node identity
	nodeInfo, err := makeNodeInfo(cfg, nodeKey, chainID)
	if err != nil {
		return nil, err
	}

	// Setup Transport.
	transport := createTransport(cfg, nodeInfo, nodeKey)

	// Setup Switch.
	sw := createSwitch(
		cfg, transport, reactor, nodeInfo, nodeKey, p2pLogger,
	)

	metricSet := metric.NewMetricSet()
	for label, item := range map[string]metric.MetricItem{
		"mempool":   mempool.Metric(),
		"consensus": dpos.Metric(),
		"network":   reactor.Metric(),
	} {
		if err := metricSet.SetMetrics(label, item); err != nil {
			return nil, errors.Wrap(err, label)
		}
	}

	node := &Node{
		config:  cfg,
		genDoc:  genDoc,
		privVal: privVal,

		transport: transport,
		sw:        sw,
		nodeInfo:  nodeInfo,
		nodeKey:   nodeKey,

		evsw:         evsw,
		chain:        chain,
		mempool:      mempool,
		blockSet:     blockSet,
		synchronizer: sync,
		dpos:         dpos,
		reactor:      reactor,

		metricSet: metricSet,
	}

	node.BaseService = *service.NewBaseService(logger, "Node", node)
	for _, option := range options {
		option(node)
	}

	return node, nil
}

func (n *Node) Switch() *p2p.Switch {
	return n.sw
}

func (n *Node) NodeInfo() p2p.NodeInfo {
	return n.nodeInfo
}

func (n *Node) Consensus() *consensus.DPoS {
	return n.dpos
}

func (n *Node) Synchronizer() *synchronizer.Synchronizer {
	return n.synchronizer
}

func (n *Node) OnStart() error {
	if err := n.evsw.Start(); err != nil {
		return err
	}

	if n.config.Instrumentation.Prometheus && n.config.Instrumentation.PrometheusListenAddr != "" {
		n.prometheusSrv = n.startPrometheusServer(n.config.Instrumentation.PrometheusListenAddr)
	}

	if n.config.RPC.ListenAddress != "" {
		listeners, err := n.startRPC()
		if err != nil {
			return err
		}
		n.rpcListeners = listeners
	}

	// start the transport
	addr, err := p2p.NewNetAddressString(p2p.IDAddressString(n.nodeKey.ID(), n.config.P2P.ListenAddress))
	if err != nil {
		return err
	}
	if err := n.transport.Listen(*addr); err != nil {
		return err
	}

	// start the Switch
	if err := n.sw.Start(); err != nil {
		return err
	}

	if err := n.dpos.Start(); err != nil {
		return err
	}

	err = n.sw.DialPeersAsync(splitAndTrimEmpty(n.config.P2P.PersistentPeers, ",", " "))
	if err != nil {
		return fmt.Errorf("could not dial peers from persistent_peers field: %w", err)
	}

	return nil
}

func (n *Node) OnStop() {
	n.Logger.Info("Stopping Node")

	if err := n.dpos.Stop(); err != nil {
		n.Logger.Error("Error closing consensus", "err", err)
	}
	if err := n.sw.Stop(); err != nil {
		n.Logger.Error("Error closing switch", "err", err)
	}
	if err := n.transport.Close(); err != nil {
		n.Logger.Error("Error closing transport", "err", err)
	}

	for _, l := range n.rpcListeners {
		n.Logger.Info("Closing rpc listener", "listener", l)
		if err := l.Close(); err != nil {
			n.Logger.Error("Error closing listener", "listener", l, "err", err)
		}
	}
	if n.prometheusSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := n.prometheusSrv.Shutdown(ctx); err != nil {
			n.Logger.Error("Prometheus HTTP server Shutdown", "err", err)
		}
	}

	if err := n.evsw.Stop(); err != nil {
		n.Logger.Error("Error closing event switch", "err", err)
	}
	if err := n.chain.Close(); err != nil {
		n.Logger.Error("Error closing chain store", "err", err)
	}
}

func (n *Node) configureRPC() {
	rpc.SetEnvironment(&rpc.Environment{
		Chain:        n.chain,
		Mempool:      n.mempool,
		Consensus:    n.dpos,
		Synchronizer: n.synchronizer,
		P2PPeers:     n.reactor,

		GenDoc: n.genDoc,
		NodeID: n.nodeKey.ID(),

		MetricSet: n.metricSet,
		Logger:    n.Logger.With("module", "rpc"),
	})
}

func (n *Node) startRPC() ([]net.Listener, error) {
	n.configureRPC()

	listenAddrs := splitAndTrimEmpty(n.config.RPC.ListenAddress, ",", " ")
	cfg := rpcserver.DefaultConfig()
	cfg.MaxBodyBytes = n.config.RPC.MaxBodyBytes
	cfg.MaxHeaderBytes = n.config.RPC.MaxHeaderBytes
	cfg.MaxOpenConnections = n.config.RPC.MaxOpenConnections

	listeners := make([]net.Listener, len(listenAddrs))
	for i, listenAddr := range listenAddrs {
		mux := http.NewServeMux()
		rpcLogger := n.Logger.With("module", "rpc-server")
		wmLogger := rpcLogger.With("protocol", "websocket")
		wm := rpcserver.NewWebsocketManager(rpc.Routes, rpcserver.ReadLimit(cfg.MaxBodyBytes))
		wm.SetLogger(wmLogger)
		mux.HandleFunc("/websocket", wm.WebsocketHandler)
		rpcserver.RegisterRPCFuncs(mux, rpc.Routes, rpcLogger)

		listener, err := rpcserver.Listen(listenAddr, cfg)
		if err != nil {
			return nil, err
		}
		go func() {
			if err := rpcserver.Serve(listener, mux, rpcLogger, cfg); err != nil {
				n.Logger.Error("Error serving server", "err", err)
			}
		}()
		listeners[i] = listener
	}
	return listeners, nil
}

// startPrometheusServer 暴露go-kit注册到默认registry的指标
func (n *Node) startPrometheusServer(addr string) *http.Server {
	srv := &http.Server{
		Addr: addr,
		Handler: promhttp.InstrumentMetricHandler(
			prometheus.DefaultRegisterer, promhttp.HandlerFor(
				prometheus.DefaultGatherer,
				promhttp.HandlerOpts{MaxRequestsInFlight: n.config.Instrumentation.MaxOpenConnections},
			),
		),
	}
	go func() {
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			n.Logger.Error("Prometheus HTTP server ListenAndServe", "err", err)
		}
	}()
	return srv
}
