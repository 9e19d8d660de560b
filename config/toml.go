package config

import (
	"bytes"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	tmcfg "github.com/tendermint/tendermint/config"
	tmos "github.com/tendermint/tendermint/libs/os"
	"github.com/tendermint/tendermint/libs/tempfile"
)

// dposFile dpos.toml中除tendermint以外的部分
type dposFile struct {
	DPoS    *DPoSConfig    `mapstructure:"dpos" toml:"dpos"`
	Sync    *SyncConfig    `mapstructure:"sync" toml:"sync"`
	Network *NetworkConfig `mapstructure:"network" toml:"network"`
	Mempool *MempoolConfig `mapstructure:"txpool" toml:"txpool"`
}

// DPoSConfigFile dpos.toml的完整路径
func DPoSConfigFile(root string) string {
	return filepath.Join(root, "config", DefaultDPoSConfigName)
}

// WriteConfigFiles 写入config.toml和dpos.toml，已存在的文件不会被覆盖
func WriteConfigFiles(root string, cfg *Config) error {
	tmcfg.EnsureRoot(root)

	tmFile := filepath.Join(root, "config", "config.toml")
	if !tmos.FileExists(tmFile) {
		tmcfg.WriteConfigFile(tmFile, cfg.Config)
	}

	dposPath := DPoSConfigFile(root)
	if tmos.FileExists(dposPath) {
		return nil
	}
	bz, err := EncodeDPoSSections(cfg)
	if err != nil {
		return err
	}
	return tempfile.WriteFileAtomic(dposPath, bz, 0644)
}

// EncodeDPoSSections 以toml格式输出dpos相关的配置段
func EncodeDPoSSections(cfg *Config) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("# dpos chain configuration\n\n")
	enc := toml.NewEncoder(&buf)
	if err := enc.Encode(dposFile{
		DPoS:    cfg.DPoS,
		Sync:    cfg.Sync,
		Network: cfg.Network,
		Mempool: cfg.Mempool,
	}); err != nil {
		return nil, errors.Wrap(err, "encode dpos config")
	}
	return buf.Bytes(), nil
}

// LoadConfig 依次读取config.toml和dpos.toml，缺失的文件使用默认值
func LoadConfig(v *viper.Viper, root string) (*Config, error) {
	cfg := DefaultConfig()

	v.SetConfigType("toml")
	v.AddConfigPath(filepath.Join(root, "config"))
	v.SetConfigName("config")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errors.Wrap(err, "read config.toml")
		}
	}

	dposPath := DPoSConfigFile(root)
	if tmos.FileExists(dposPath) {
		v.SetConfigFile(dposPath)
		if err := v.MergeInConfig(); err != nil {
			return nil, errors.Wrap(err, "read dpos.toml")
		}
	}

	if err := v.Unmarshal(cfg.Config); err != nil {
		return nil, errors.Wrap(err, "unmarshal tendermint config")
	}
	sections := dposFile{
		DPoS:    cfg.DPoS,
		Sync:    cfg.Sync,
		Network: cfg.Network,
		Mempool: cfg.Mempool,
	}
	if err := v.Unmarshal(&sections); err != nil {
		return nil, errors.Wrap(err, "unmarshal dpos config")
	}
	cfg.SetRoot(root)
	tmcfg.EnsureRoot(root)
	if err := cfg.ValidateBasic(); err != nil {
		return nil, errors.Wrap(err, "error in config file")
	}
	return cfg, nil
}
