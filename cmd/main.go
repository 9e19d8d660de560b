package main

import (
	"os"
	"path/filepath"

	cmd "dposchain/cmd/commands"
	nm "dposchain/node"

	cfg "github.com/tendermint/tendermint/config"
	"github.com/tendermint/tendermint/libs/cli"
)

func main() {
	cfg.DefaultTendermintDir = ".dposchain"
	rootCmd := cmd.RootCmd

	// NOTE:
	// Users wishing to:
	//	* Use an external signer for their producers
	//	* Supply a genesis doc file from another source
	//	* Provide their own DB implementation
	// can copy this file and use something other than the
	// DefaultNewNode function
	nodeFunc := nm.DefaultNewNode

	rootCmd.AddCommand(
		cmd.InitFilesCmd,
		cmd.GenNodeKeyCmd,
		cmd.GenValidatorCmd,
		cmd.ShowNodeIDCmd,
		cmd.ShowValidatorCmd,
		cmd.GenGenesisCmd,
		cmd.InitDBCmd,
		cmd.NewRunNodeCmd(nodeFunc),
		cli.NewCompletionCmd(rootCmd, true),
	)

	cmd := cli.PrepareBaseCmd(rootCmd, "DPOS", os.ExpandEnv(filepath.Join("$HOME", cfg.DefaultTendermintDir)))
	if err := cmd.Execute(); err != nil {
		panic(err)
	}
}
