package config

import (
	"io/ioutil"
	"os"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.ValidateBasic())
	assert.Equal(t, 15, cfg.Network.MaxBlockHistory)
	assert.Equal(t, 15, cfg.Network.MaxTransactionHistory)
	assert.Equal(t, 2000*time.Millisecond, cfg.Network.RequestTimeout)
	assert.Equal(t, 64, cfg.Network.MaxHeadersPerRequest)
	assert.Equal(t, uint64(64), cfg.Sync.MinedKeepHeight)

	cfg.Sync.ReExecuteInterval = 0
	assert.Error(t, cfg.ValidateBasic())
}

func TestWriteAndLoadConfig(t *testing.T) {
	root, err := ioutil.TempDir("", "dpos-config")
	require.NoError(t, err)
	defer os.RemoveAll(root)

	cfg := TestConfig()
	cfg.DPoS.ConsensusInfoGenerator = true
	cfg.Network.MaxRetry = 5
	require.NoError(t, WriteConfigFiles(root, cfg))

	loaded, err := LoadConfig(viper.New(), root)
	require.NoError(t, err)
	assert.True(t, loaded.DPoS.ConsensusInfoGenerator)
	assert.Equal(t, 5, loaded.Network.MaxRetry)
	assert.Equal(t, cfg.DPoS.MiningInterval, loaded.DPoS.MiningInterval)
	assert.Equal(t, root, loaded.RootDir)
}

func TestLoadConfigWithoutFiles(t *testing.T) {
	root, err := ioutil.TempDir("", "dpos-config")
	require.NoError(t, err)
	defer os.RemoveAll(root)

	loaded, err := LoadConfig(viper.New(), root)
	require.NoError(t, err)
	assert.Equal(t, DefaultDPoSConfig(), loaded.DPoS)
}
