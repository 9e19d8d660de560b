package metric

// MetricItem 一个模块的全部指标，以JSON字符串输出
// 实现需要保证JSONString并发安全
type MetricItem interface {
	JSONString() string
}
