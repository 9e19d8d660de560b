package commands

import (
	"fmt"
	"strings"
	"time"

	"dposchain/privval"
	"dposchain/types"

	"github.com/spf13/cobra"
	"github.com/tendermint/tendermint/crypto/ed25519"
	tmos "github.com/tendermint/tendermint/libs/os"
	tmtime "github.com/tendermint/tendermint/types/time"
)

var (
	chainID        string
	producerSeeds  string
	miningInterval time.Duration
)

// GenGenesisCmd 为多个出块者生成同一份创世文件
// 与gen-validator使用相同的seed即可得到一致的公钥
var GenGenesisCmd = &cobra.Command{
	Use:     "gen-genesis",
	Aliases: []string{"gen_genesis"},
	Short:   "Generate a genesis file for a set of producers",
	PreRun:  deprecateSnakeCase,
	RunE:    genGenesisFile,
}

func init() {
	GenGenesisCmd.Flags().StringVar(&chainID, "chain-id", "dpos-chain", "链名")
	GenGenesisCmd.Flags().StringVar(&producerSeeds, "seeds", "",
		"逗号分隔的出块者种子，为空时只使用本节点的出块者密钥")
	GenGenesisCmd.Flags().DurationVar(&miningInterval, "interval", 4*time.Second, "出块间隔")
}

func genesisProducers() ([]types.GenesisProducer, error) {
	seeds := strings.Split(producerSeeds, ",")
	producers := make([]types.GenesisProducer, 0, len(seeds))
	for i, s := range seeds {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		pub := ed25519.GenPrivKeyFromSecret([]byte(s)).PubKey()
		producers = append(producers, types.GenesisProducer{
			Address: types.Address(pub.Address()),
			PubKey:  pub,
			Name:    fmt.Sprintf("producer-%d", i+1),
		})
	}
	if len(producers) > 0 {
		return producers, nil
	}

	keyFile := config.PrivValidatorKeyFile()
	if !tmos.FileExists(keyFile) {
		return nil, fmt.Errorf("no --seeds given and no private validator at %s", keyFile)
	}
	pv := privval.LoadFilePV(keyFile)
	return []types.GenesisProducer{{
		Address: pv.GetAddress(),
		PubKey:  pv.Key.PubKey,
		Name:    config.Moniker,
	}}, nil
}

func genGenesisFile(cmd *cobra.Command, args []string) error {
	genFile := config.GenesisFile()
	if tmos.FileExists(genFile) {
		logger.Info("Found genesis file", "path", genFile)
		return nil
	}

	producers, err := genesisProducers()
	if err != nil {
		return err
	}
	genDoc := types.GenesisDoc{
		ChainID:        chainID,
		GenesisTime:    tmtime.Now(),
		MiningInterval: miningInterval,
		Producers:      producers,
	}
	if err := genDoc.ValidateAndComplete(); err != nil {
		return err
	}

	if err := genDoc.SaveAs(genFile); err != nil {
		return err
	}
	logger.Info("Generated genesis file", "path", genFile, "producers", len(producers))
	return nil
}
