package config

import (
	"time"

	"github.com/pkg/errors"
	tmcfg "github.com/tendermint/tendermint/config"
)

const (
	// DefaultDPoSConfigName dpos相关配置的文件名，与tendermint的config.toml放在同一目录
	DefaultDPoSConfigName = "dpos.toml"
	DefaultChainDBName    = "chain"
)

// Config 节点的全部配置，tendermint部分负责p2p、rpc以及目录
type Config struct {
	*tmcfg.Config `mapstructure:"-" toml:"-"`

	DPoS    *DPoSConfig    `mapstructure:"dpos" toml:"dpos"`
	Sync    *SyncConfig    `mapstructure:"sync" toml:"sync"`
	Network *NetworkConfig `mapstructure:"network" toml:"network"`
	Mempool *MempoolConfig `mapstructure:"txpool" toml:"txpool"`
}

func DefaultConfig() *Config {
	return &Config{
		Config:  tmcfg.DefaultConfig(),
		DPoS:    DefaultDPoSConfig(),
		Sync:    DefaultSyncConfig(),
		Network: DefaultNetworkConfig(),
		Mempool: DefaultMempoolConfig(),
	}
}

func TestConfig() *Config {
	return &Config{
		Config:  tmcfg.TestConfig(),
		DPoS:    TestDPoSConfig(),
		Sync:    TestSyncConfig(),
		Network: TestNetworkConfig(),
		Mempool: DefaultMempoolConfig(),
	}
}

// SetRoot 设置所有配置的根目录
func (cfg *Config) SetRoot(root string) *Config {
	cfg.Config.SetRoot(root)
	return cfg
}

func (cfg *Config) ValidateBasic() error {
	if err := cfg.Config.ValidateBasic(); err != nil {
		return err
	}
	if err := cfg.DPoS.ValidateBasic(); err != nil {
		return errors.Wrap(err, "error in [dpos] section")
	}
	if err := cfg.Sync.ValidateBasic(); err != nil {
		return errors.Wrap(err, "error in [sync] section")
	}
	if err := cfg.Network.ValidateBasic(); err != nil {
		return errors.Wrap(err, "error in [network] section")
	}
	if err := cfg.Mempool.ValidateBasic(); err != nil {
		return errors.Wrap(err, "error in [txpool] section")
	}
	return nil
}

//-----------------------------------------------------------------------------
// DPoSConfig

// DPoSConfig 共识调度相关配置
type DPoSConfig struct {
	// 本节点是否参与出块
	IsMiner bool `mapstructure:"is_miner" toml:"is_miner"`
	// 由本节点生成前两轮的共识信息
	ConsensusInfoGenerator bool `mapstructure:"consensus_info_generator" toml:"consensus_info_generator"`
	// 出块间隔，为0时使用创世文件中的值
	MiningInterval time.Duration `mapstructure:"mining_interval" toml:"mining_interval"`
	// 区块时间超过now+BlockTimeDrift时视为Pending
	BlockTimeDrift time.Duration `mapstructure:"block_time_drift" toml:"block_time_drift"`
	// 备用节点补出extra block前额外等待的基准时间，第k个备用节点等待 k*MiningInterval + 该值
	ExtraBlockProducerTimeout time.Duration `mapstructure:"extra_block_producer_timeout" toml:"extra_block_producer_timeout"`
	// 写入InitializeConsensus交易的日志级别
	LogLevel int32 `mapstructure:"log_level" toml:"log_level"`
}

func DefaultDPoSConfig() *DPoSConfig {
	return &DPoSConfig{
		IsMiner:                true,
		ConsensusInfoGenerator: false,
		MiningInterval:         0,
		BlockTimeDrift:         4 * time.Second,
		LogLevel:               0,

		ExtraBlockProducerTimeout: 0,
	}
}

func TestDPoSConfig() *DPoSConfig {
	cfg := DefaultDPoSConfig()
	cfg.MiningInterval = 200 * time.Millisecond
	cfg.BlockTimeDrift = time.Second
	return cfg
}

func (cfg *DPoSConfig) ValidateBasic() error {
	if cfg.MiningInterval < 0 {
		return errors.New("mining_interval can't be negative")
	}
	if cfg.BlockTimeDrift < 0 {
		return errors.New("block_time_drift can't be negative")
	}
	if cfg.ExtraBlockProducerTimeout < 0 {
		return errors.New("extra_block_producer_timeout can't be negative")
	}
	return nil
}

//-----------------------------------------------------------------------------
// SyncConfig

// SyncConfig 区块同步器相关配置
type SyncConfig struct {
	// CanExecuteAgain时最多重新执行的次数
	MaxReExecution uint64 `mapstructure:"max_re_execution" toml:"max_re_execution"`
	// 两次重新执行之间的间隔
	ReExecuteInterval time.Duration `mapstructure:"re_execute_interval" toml:"re_execute_interval"`
	// 本节点出块后BlockSet保留的高度
	MinedKeepHeight uint64 `mapstructure:"mined_keep_height" toml:"mined_keep_height"`
}

func DefaultSyncConfig() *SyncConfig {
	return &SyncConfig{
		MaxReExecution:    5,
		ReExecuteInterval: 10 * time.Millisecond,
		MinedKeepHeight:   64,
	}
}

func TestSyncConfig() *SyncConfig {
	cfg := DefaultSyncConfig()
	cfg.ReExecuteInterval = time.Millisecond
	return cfg
}

func (cfg *SyncConfig) ValidateBasic() error {
	if cfg.ReExecuteInterval <= 0 {
		return errors.New("re_execute_interval must be positive")
	}
	if cfg.MinedKeepHeight == 0 {
		return errors.New("mined_keep_height must be positive")
	}
	return nil
}

//-----------------------------------------------------------------------------
// NetworkConfig

// NetworkConfig 区块、交易广播以及请求重试相关配置
type NetworkConfig struct {
	MaxBlockHistory       int           `mapstructure:"max_block_history" toml:"max_block_history"`
	MaxTransactionHistory int           `mapstructure:"max_transaction_history" toml:"max_transaction_history"`
	RequestTimeout        time.Duration `mapstructure:"request_timeout" toml:"request_timeout"`
	MaxRetry              int           `mapstructure:"max_retry" toml:"max_retry"`
	MaxQueuedMessages     int           `mapstructure:"max_queued_messages" toml:"max_queued_messages"`
	// 一次请求或回应的区块头数量上限
	MaxHeadersPerRequest int `mapstructure:"max_headers_per_request" toml:"max_headers_per_request"`
}

func DefaultNetworkConfig() *NetworkConfig {
	return &NetworkConfig{
		MaxBlockHistory:       15,
		MaxTransactionHistory: 15,
		RequestTimeout:        2000 * time.Millisecond,
		MaxRetry:              2,
		MaxQueuedMessages:     10000,
		MaxHeadersPerRequest:  64,
	}
}

func TestNetworkConfig() *NetworkConfig {
	cfg := DefaultNetworkConfig()
	cfg.RequestTimeout = 100 * time.Millisecond
	return cfg
}

func (cfg *NetworkConfig) ValidateBasic() error {
	if cfg.MaxBlockHistory <= 0 || cfg.MaxTransactionHistory <= 0 {
		return errors.New("history sizes must be positive")
	}
	if cfg.RequestTimeout <= 0 {
		return errors.New("request_timeout must be positive")
	}
	if cfg.MaxRetry < 0 {
		return errors.New("max_retry can't be negative")
	}
	if cfg.MaxQueuedMessages <= 0 {
		return errors.New("max_queued_messages must be positive")
	}
	if cfg.MaxHeadersPerRequest <= 0 {
		return errors.New("max_headers_per_request must be positive")
	}
	return nil
}

//-----------------------------------------------------------------------------
// MempoolConfig

// MempoolConfig 交易池配置
type MempoolConfig struct {
	Size        int   `mapstructure:"size" toml:"size"`
	MaxTxsBytes int64 `mapstructure:"max_txs_bytes" toml:"max_txs_bytes"`
	MaxTxBytes  int   `mapstructure:"max_tx_bytes" toml:"max_tx_bytes"`
	// 每个区块最多打包的交易数
	MaxTxsPerBlock int `mapstructure:"max_txs_per_block" toml:"max_txs_per_block"`
}

func DefaultMempoolConfig() *MempoolConfig {
	return &MempoolConfig{
		Size:        5000,
		MaxTxsBytes: 1024 * 1024 * 1024,
		MaxTxBytes:  1024 * 1024,

		MaxTxsPerBlock: 1000,
	}
}

func (cfg *MempoolConfig) ValidateBasic() error {
	if cfg.Size <= 0 {
		return errors.New("size must be positive")
	}
	if cfg.MaxTxsBytes <= 0 || cfg.MaxTxBytes <= 0 {
		return errors.New("max_txs_bytes and max_tx_bytes must be positive")
	}
	if cfg.MaxTxsPerBlock <= 0 {
		return errors.New("max_txs_per_block must be positive")
	}
	return nil
}
