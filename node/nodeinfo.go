package node

import (
	"strings"

	"dposchain/config"
	"dposchain/protocol"

	"github.com/tendermint/tendermint/p2p"
	"github.com/tendermint/tendermint/version"
)

// 只有Network相同的节点才能建立连接，这里使用链名
func makeNodeInfo(
	cfg *config.Config,
	nodeKey *p2p.NodeKey,
	chainID string,
) (p2p.NodeInfo, error) {
	nodeInfo := p2p.DefaultNodeInfo{
		ProtocolVersion: p2p.NewProtocolVersion(
			version.P2PProtocol,
			version.BlockProtocol,
			0,
		),
		DefaultNodeID: nodeKey.ID(),
		Network:       chainID,
		Version:       version.TMCoreSemVer,
		Channels: []byte{
			protocol.BlockChannel,
			protocol.TxChannel,
		},
		Moniker: cfg.Moniker,
		Other: p2p.DefaultNodeInfoOther{
			TxIndex:    "off",
			RPCAddress: cfg.RPC.ListenAddress,
		},
	}

	lAddr := cfg.P2P.ExternalAddress
	if lAddr == "" {
		lAddr = cfg.P2P.ListenAddress
	}
	nodeInfo.ListenAddr = lAddr

	err := nodeInfo.Validate()
	return nodeInfo, err
}

// splitAndTrimEmpty slices s into all subslices separated by sep and returns a
// slice of the string s with all leading and trailing Unicode code points
// contained in cutset removed. Empty strings are filtered out.
func splitAndTrimEmpty(s, sep, cutset string) []string {
	if s == "" {
		return []string{}
	}

	spl := strings.Split(s, sep)
	nonEmptyStrings := make([]string, 0, len(spl))
	for i := 0; i < len(spl); i++ {
		element := strings.Trim(spl[i], cutset)
		if element != "" {
			nonEmptyStrings = append(nonEmptyStrings, element)
		}
	}
	return nonEmptyStrings
}
