package commands

import (
	"fmt"

	cfg "dposchain/config"
	"dposchain/privval"
	"dposchain/types"

	"github.com/spf13/cobra"
	tmos "github.com/tendermint/tendermint/libs/os"
	tmrand "github.com/tendermint/tendermint/libs/rand"
	"github.com/tendermint/tendermint/p2p"
	tmtime "github.com/tendermint/tendermint/types/time"
)

// InitFilesCmd 生成配置文件、密钥以及只有本节点一个出块者的创世文件
var InitFilesCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a dpos node",
	RunE:  initFiles,
}

func init() {
	InitFilesCmd.Flags().StringVar(&seed, "seed", "", "用来生成出块者私钥的种子，为空时随机生成")
}

func initFiles(cmd *cobra.Command, args []string) error {
	return initFilesWithConfig(config)
}

func initFilesWithConfig(config *cfg.Config) error {
	// private validator
	privValKeyFile := config.PrivValidatorKeyFile()

	var pv *privval.FilePV
	if tmos.FileExists(privValKeyFile) {
		pv = privval.LoadFilePV(privValKeyFile)
		logger.Info("Found private validator", "keyFile", privValKeyFile)
	} else {
		pv = newFilePV(privValKeyFile)
		pv.Save()
		logger.Info("Generated private validator", "keyFile", privValKeyFile)
	}

	nodeKeyFile := config.NodeKeyFile()
	if tmos.FileExists(nodeKeyFile) {
		logger.Info("Found node key", "path", nodeKeyFile)
	} else {
		if _, err := p2p.LoadOrGenNodeKey(nodeKeyFile); err != nil {
			return err
		}
		logger.Info("Generated node key", "path", nodeKeyFile)
	}

	// genesis file
	genFile := config.GenesisFile()
	if tmos.FileExists(genFile) {
		logger.Info("Found genesis file", "path", genFile)
	} else {
		pubKey, err := pv.GetPubKey()
		if err != nil {
			return fmt.Errorf("can't get pubkey: %w", err)
		}
		genDoc := types.GenesisDoc{
			ChainID:     fmt.Sprintf("dpos-chain-%v", tmrand.Str(6)),
			GenesisTime: tmtime.Now(),
			Producers: []types.GenesisProducer{{
				Address: pv.GetAddress(),
				PubKey:  pubKey,
				Name:    config.Moniker,
			}},
		}
		if err := genDoc.ValidateAndComplete(); err != nil {
			return err
		}
		if err := genDoc.SaveAs(genFile); err != nil {
			return err
		}
		logger.Info("Generated genesis file", "path", genFile)
	}

	if err := cfg.WriteConfigFiles(config.RootDir, config); err != nil {
		return err
	}
	logger.Info("Wrote config files", "dir", config.RootDir)
	return nil
}
