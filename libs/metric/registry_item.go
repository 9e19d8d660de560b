package metric

import (
	jsoniter "github.com/json-iterator/go"
	gometrics "github.com/rcrowley/go-metrics"
)

// RegistryItem 把go-metrics的Registry作为一个MetricItem输出
type RegistryItem struct {
	registry gometrics.Registry
}

func NewRegistryItem(registry gometrics.Registry) *RegistryItem {
	return &RegistryItem{registry: registry}
}

func (item *RegistryItem) Registry() gometrics.Registry {
	return item.registry
}

// JSONString 每个指标一个对象，例如 {"requests.sent":{"count":3}}
func (item *RegistryItem) JSONString() string {
	bz, err := jsoniter.Marshal(item.registry.GetAll())
	if err != nil {
		return "{}"
	}
	return string(bz)
}
