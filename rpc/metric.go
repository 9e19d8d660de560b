package rpc

import (
	rpctypes "github.com/tendermint/tendermint/rpc/jsonrpc/types"
)

type ResultMetrics struct {
	Metrics map[string]string `json:"metrics"`
}

// JSONMetrics label为空时返回全部模块的metric
func JSONMetrics(ctx *rpctypes.Context, label string) (*ResultMetrics, error) {
	if label == "" {
		return &ResultMetrics{Metrics: env.MetricSet.Snapshot()}, nil
	}

	result := &ResultMetrics{Metrics: make(map[string]string)}
	if item := env.MetricSet.GetMetrics(label); item != nil {
		result.Metrics[label] = item.JSONString()
	}
	return result, nil
}
