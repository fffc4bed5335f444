package xsafe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// 指标名称常量
const (
	// metricNameRunsTotal 安全操作执行总数
	metricNameRunsTotal = "xsafe.runs.total"
	// metricNameLockFailuresTotal 锁获取失败总数
	metricNameLockFailuresTotal = "xsafe.lock_failures.total"
	// metricNameFallbackTotal 无锁降级执行总数
	metricNameFallbackTotal = "xsafe.fallback.total"
	// metricNameRunDuration 执行耗时直方图
	metricNameRunDuration = "xsafe.run.duration"
)

// Metrics 安全操作指标收集器。
type Metrics struct {
	runsTotal         metric.Int64Counter
	lockFailuresTotal metric.Int64Counter
	fallbackTotal     metric.Int64Counter
	runDuration       metric.Float64Histogram
}

// NewMetrics 创建指标收集器。
// meterProvider 为 nil 时返回 nil（不收集指标）。
func NewMetrics(meterProvider metric.MeterProvider) (*Metrics, error) {
	if meterProvider == nil {
		return nil, nil
	}

	meter := meterProvider.Meter("xsafe",
		metric.WithInstrumentationVersion("1.0.0"),
	)

	runsTotal, err := meter.Int64Counter(
		metricNameRunsTotal,
		metric.WithDescription("安全操作执行总数"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	lockFailuresTotal, err := meter.Int64Counter(
		metricNameLockFailuresTotal,
		metric.WithDescription("锁重试耗尽次数"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, err
	}

	fallbackTotal, err := meter.Int64Counter(
		metricNameFallbackTotal,
		metric.WithDescription("无锁降级执行次数"),
		metric.WithUnit("{fallback}"),
	)
	if err != nil {
		return nil, err
	}

	runDuration, err := meter.Float64Histogram(
		metricNameRunDuration,
		metric.WithDescription("安全操作执行耗时"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(
			0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 15.0,
		),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		runsTotal:         runsTotal,
		lockFailuresTotal: lockFailuresTotal,
		fallbackTotal:     fallbackTotal,
		runDuration:       runDuration,
	}, nil
}

// recordRun 记录一次执行。
// 设计决策: 标签只用策略名与类别等低基数值，tenant/resource
// 不进标签，避免指标基数膨胀。
func (m *Metrics) recordRun(ctx context.Context, policy string, class Class, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("policy", policy),
		attribute.String("class", class.String()),
		attribute.String("outcome", outcome),
	)
	m.runsTotal.Add(ctx, 1, attrs)
	m.runDuration.Record(ctx, d.Seconds(), attrs)
}

// recordLockFailure 记录一次锁获取失败。
func (m *Metrics) recordLockFailure(ctx context.Context, policy string, class Class) {
	if m == nil {
		return
	}
	m.lockFailuresTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("policy", policy),
		attribute.String("class", class.String()),
	))
}

// recordFallback 记录一次无锁降级执行。
func (m *Metrics) recordFallback(ctx context.Context, policy string) {
	if m == nil {
		return
	}
	m.fallbackTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("policy", policy),
	))
}
