package commands

import (
	"fmt"

	"dposchain/privval"

	"github.com/spf13/cobra"
	tmjson "github.com/tendermint/tendermint/libs/json"
	tmos "github.com/tendermint/tendermint/libs/os"
)

var seed string

// GenValidatorCmd 生成出块者的公私钥对
var GenValidatorCmd = &cobra.Command{
	Use:     "gen-validator",
	Aliases: []string{"gen_validator"},
	Args:    cobra.NoArgs,
	Short:   "Generate new producer keypair",
	PreRun:  deprecateSnakeCase,
	RunE:    genValidator,
}

func init() {
	GenValidatorCmd.Flags().StringVar(&seed, "seed", "", "用来生成私钥的种子，为空时随机生成")
}

// newFilePV seed为空时随机生成
func newFilePV(keyFilePath string) *privval.FilePV {
	if seed == "" {
		return privval.GenFilePV(keyFilePath)
	}
	return privval.GenFilePVWithSeed(keyFilePath, seed)
}

func genValidator(cmd *cobra.Command, args []string) error {
	privValKeyFile := config.PrivValidatorKeyFile()
	if tmos.FileExists(privValKeyFile) {
		logger.Info("Found private validator", "keyFile", privValKeyFile)
		return nil
	}

	pv := newFilePV(privValKeyFile)
	jsbz, err := tmjson.Marshal(pv.Key)
	if err != nil {
		return err
	}
	pv.Save()

	fmt.Printf(`%v
`, string(jsbz))
	return nil
}
