package commands

import (
	"dposchain/state"
	"dposchain/store"
	"dposchain/types"

	cfg "dposchain/config"

	"github.com/spf13/cobra"
)

var dbdir string

func init() {
	InitDBCmd.Flags().StringVar(&dbdir, "dir", "", "链数据库目录，为空时使用配置中的db_dir")
}

// InitDBCmd 按创世文件写入创世区块和初始共识状态
var InitDBCmd = &cobra.Command{
	Use:     "init-db",
	Aliases: []string{"init_db", "initdb"},
	Short:   "Write the genesis block into the chain database",
	PreRun:  deprecateSnakeCase,
	RunE:    initDB,
}

func initDB(cmd *cobra.Command, args []string) error {
	genDoc, err := types.GenesisDocFromFile(config.GenesisFile())
	if err != nil {
		return err
	}

	dir := dbdir
	if dir == "" {
		dir = config.DBDir()
	}
	chain, err := store.NewKVStore(cfg.DefaultChainDBName, dir, logger)
	if err != nil {
		return err
	}
	defer chain.Close()

	genesis, err := state.InitChain(chain, genDoc)
	if err != nil {
		return err
	}
	logger.Info("Chain database ready", "dir", dir, "genesis", genesis.Hash(), "height", chain.CurrentHeight())
	return nil
}
