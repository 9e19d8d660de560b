package node

import (
	"io/ioutil"
	"os"
	"testing"
	"time"

	"dposchain/config"
	"dposchain/privval"
	"dposchain/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tmcfg "github.com/tendermint/tendermint/config"
	"github.com/tendermint/tendermint/libs/log"
	"github.com/tendermint/tendermint/p2p"
)

func newTestConfig(t *testing.T) *config.Config {
	root, err := ioutil.TempDir("", "dposchain_node_test")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(root) })

	cfg := config.TestConfig().SetRoot(root)
	tmcfg.EnsureRoot(root)
	cfg.P2P.ListenAddress = "tcp://127.0.0.1:0"
	cfg.RPC.ListenAddress = "tcp://127.0.0.1:0"
	cfg.DPoS.ConsensusInfoGenerator = true
	return cfg
}

func TestNodeStartStop(t *testing.T) {
	cfg := newTestConfig(t)

	pv := privval.GenFilePVWithSeed(cfg.PrivValidatorKeyFile(), "node_test")
	pubKey, err := pv.GetPubKey()
	require.NoError(t, err)
	genDoc := &types.GenesisDoc{
		ChainID:        "node_test",
		GenesisTime:    time.Now(),
		MiningInterval: cfg.DPoS.MiningInterval,
		Producers:      []types.GenesisProducer{{PubKey: pubKey, Name: "p0"}},
	}
	require.NoError(t, genDoc.ValidateAndComplete())

	nodeKey, err := p2p.LoadOrGenNodeKey(cfg.NodeKeyFile())
	require.NoError(t, err)

	n, err := NewNode(cfg, pv, nodeKey, genDoc, log.TestingLogger())
	require.NoError(t, err)
	assert.Equal(t, "node_test", n.NodeInfo().(p2p.DefaultNodeInfo).Network)
	assert.Equal(t, []string{"consensus", "mempool", "network"}, n.metricSet.GetAllLabels())

	require.NoError(t, n.Start())
	defer n.Stop() //nolint:errcheck

	// 唯一的出块者会一直出块
	require.Eventually(t, func() bool {
		return n.chain.CurrentHeight() >= 2
	}, 10*time.Second, 50*time.Millisecond)
	assert.GreaterOrEqual(t, n.Consensus().GetRoundState().RoundNumber, uint64(1))
	assert.Len(t, n.rpcListeners, 1)
}

func TestSplitAndTrimEmpty(t *testing.T) {
	testCases := []struct {
		s        string
		sep      string
		cutset   string
		expected []string
	}{
		{"a,b,c", ",", " ", []string{"a", "b", "c"}},
		{" a , b , c ", ",", " ", []string{"a", "b", "c"}},
		{" a, ,b,c ", ",", " ", []string{"a", "b", "c"}},
		{"", ",", " ", []string{}},
		{" , ", ",", " ", []string{}},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.expected, splitAndTrimEmpty(tc.s, tc.sep, tc.cutset), "%s", tc.s)
	}
}
