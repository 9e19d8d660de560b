package commands

import (
	"io/ioutil"
	"os"
	"testing"

	cfg "dposchain/config"
	"dposchain/store"
	"dposchain/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tmcfg "github.com/tendermint/tendermint/config"
	"github.com/tendermint/tendermint/libs/log"
	tmos "github.com/tendermint/tendermint/libs/os"
)

func setupTestRoot(t *testing.T) {
	root, err := ioutil.TempDir("", "dposchain_cmd_test")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(root) })

	config = cfg.TestConfig().SetRoot(root)
	tmcfg.EnsureRoot(root)
	logger = log.TestingLogger()
}

func TestInitFilesAndDB(t *testing.T) {
	setupTestRoot(t)
	seed = "cmd_test"
	defer func() { seed = "" }()

	require.NoError(t, initFilesWithConfig(config))
	assert.True(t, tmos.FileExists(config.PrivValidatorKeyFile()))
	assert.True(t, tmos.FileExists(config.NodeKeyFile()))
	assert.True(t, tmos.FileExists(cfg.DPoSConfigFile(config.RootDir)))

	genDoc, err := types.GenesisDocFromFile(config.GenesisFile())
	require.NoError(t, err)
	require.Len(t, genDoc.Producers, 1)
	assert.True(t, genDoc.Producers[0].Address.Equal(types.NewMockPVWithSeed("cmd_test").Address()))

	// 重复init不会覆盖已有文件
	require.NoError(t, initFilesWithConfig(config))
	again, err := types.GenesisDocFromFile(config.GenesisFile())
	require.NoError(t, err)
	assert.Equal(t, genDoc.ChainID, again.ChainID)

	require.NoError(t, initDB(InitDBCmd, nil))
	chain, err := store.NewKVStore(cfg.DefaultChainDBName, config.DBDir(), logger)
	require.NoError(t, err)
	defer chain.Close()
	assert.True(t, chain.IsInitialized())
	assert.Equal(t, uint64(0), chain.CurrentHeight())
}

func TestGenGenesisFromSeeds(t *testing.T) {
	setupTestRoot(t)
	producerSeeds = "a, b,,c"
	defer func() { producerSeeds = "" }()

	require.NoError(t, genGenesisFile(GenGenesisCmd, nil))
	genDoc, err := types.GenesisDocFromFile(config.GenesisFile())
	require.NoError(t, err)

	require.Len(t, genDoc.Producers, 3)
	for i, s := range []string{"a", "b", "c"} {
		assert.True(t, genDoc.Producers[i].Address.Equal(types.NewMockPVWithSeed(s).Address()), s)
	}
}

func TestGenGenesisWithoutKeys(t *testing.T) {
	setupTestRoot(t)
	assert.Error(t, genGenesisFile(GenGenesisCmd, nil))
}
