package main

import (
	"fmt"
	"os"
	"time"

	"dposchain/privval"

	"github.com/spf13/cobra"
	"github.com/tendermint/tendermint/libs/log"
	tmos "github.com/tendermint/tendermint/libs/os"
)

var (
	target      string
	connections int
	rate        int
	duration    time.Duration
	seed        string
	method      string
	verbose     bool
)

var rootCmd = &cobra.Command{
	Use:   "txsend",
	Short: "Send signed transactions to a dpos node over websocket",
	RunE:  run,
}

func init() {
	rootCmd.Flags().StringVar(&target, "target", "127.0.0.1:26657", "节点rpc地址")
	rootCmd.Flags().IntVar(&connections, "connections", 1, "websocket连接数")
	rootCmd.Flags().IntVar(&rate, "rate", 100, "每个连接每秒发送的交易数")
	rootCmd.Flags().DurationVar(&duration, "duration", 10*time.Second, "发送时长")
	rootCmd.Flags().StringVar(&seed, "seed", "txsend", "交易发送者的私钥种子")
	rootCmd.Flags().StringVar(&method, "method", "broadcast_tx", "rpc方法")
	rootCmd.Flags().BoolVar(&verbose, "verbose", false, "输出debug日志")
}

func run(cmd *cobra.Command, args []string) error {
	if connections <= 0 || rate <= 0 {
		return fmt.Errorf("connections and rate must be positive")
	}

	logger := log.NewTMLogger(log.NewSyncWriter(os.Stdout))
	if !verbose {
		logger = log.NewFilter(logger, log.AllowInfo())
	}

	// 私钥只在内存中使用，不写文件
	signer := privval.GenFilePVWithSeed("", seed)
	t := newTransacter(target, connections, rate, method, signer, signer.GetAddress())
	t.SetLogger(logger)

	if err := t.Start(); err != nil {
		return err
	}
	logger.Info("started", "target", target, "from", signer.GetAddress())

	// Stop upon receiving SIGTERM or CTRL-C.
	tmos.TrapSignal(logger, func() {
		t.Stop()
		logger.Info("interrupted", "sent", t.Sent())
	})

	time.Sleep(duration)
	t.Stop()
	logger.Info("done", "sent", t.Sent())
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
