package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "eidos"
	subsystem = "p2p"
)

// P2P Settlement Metrics - 结算核心监控指标
var (
	// EventsTotal 入站事件处理结果
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "events_total",
			Help:      "入站事件数，按 topic 与结果(consumed/processed/failed/duplicate/skipped)分组",
		},
		[]string{"topic", "result"},
	)

	// HandlerLatency handler 执行耗时 (含重试)
	HandlerLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "handler_latency_seconds",
			Help:      "事件处理耗时(秒)",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16), // 1ms to 32s
		},
		[]string{"topic"},
	)

	// RetriesTotal 重试次数
	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "retries_total",
			Help:      "处理重试，按 topic 与结果(retry/exhausted/permanent)分组",
		},
		[]string{"topic", "outcome"},
	)

	// DeadLettersTotal 死信投递
	DeadLettersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "dead_letters_total",
			Help:      "死信投递数，按 topic 与结果分组",
		},
		[]string{"topic", "result"},
	)

	// ReprocessTotal 人工重放结果
	ReprocessTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "reprocess_total",
			Help:      "事件重放，按 topic 与结果(processed/no_handler/failed)分组",
		},
		[]string{"topic", "outcome"},
	)

	// TradeTransitionsTotal 交易状态流转
	TradeTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "trade_transitions_total",
			Help:      "交易状态流转次数",
		},
		[]string{"from", "to", "trigger"},
	)

	// LockWaitSeconds 等待引擎确认余额锁
	LockWaitSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "lock_wait_seconds",
			Help:      "余额锁确认等待时间(秒)，按结果(locked/rejected/timeout)分组",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"outcome"},
	)

	// LockReleaseRetriesTotal 引擎解锁失败后的重发
	LockReleaseRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "lock_release_retries_total",
			Help:      "解锁失败重发，按结果(requeued/exhausted)分组",
		},
		[]string{"outcome"},
	)

	// SweeperActionsTotal 超时扫描动作
	SweeperActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sweeper_actions_total",
			Help:      "超时扫描执行的自动流转，按动作(cancel/dispute)与结果分组",
		},
		[]string{"action", "result"},
	)

	// OutboxPending 待发送 outbox 消息
	OutboxPending = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "outbox_pending",
			Help:      "outbox 消息数，按状态分组",
		},
		[]string{"status"},
	)

	// OutboxErrorsTotal outbox 发送失败
	OutboxErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "outbox_errors_total",
			Help:      "outbox 发送失败数",
		},
		[]string{"topic", "reason"},
	)

	// JobRunsTotal 定时任务执行
	JobRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "job_runs_total",
			Help:      "定时任务执行次数，按任务与结果(success/failed/skipped)分组",
		},
		[]string{"job", "result"},
	)
)

func RecordEvent(topic, result string) {
	EventsTotal.WithLabelValues(topic, result).Inc()
}

func ObserveHandlerLatency(topic string, seconds float64) {
	HandlerLatency.WithLabelValues(topic).Observe(seconds)
}

func RecordRetry(topic, outcome string) {
	RetriesTotal.WithLabelValues(topic, outcome).Inc()
}

func RecordDeadLetter(topic, result string) {
	DeadLettersTotal.WithLabelValues(topic, result).Inc()
}

func RecordReprocess(topic, outcome string) {
	ReprocessTotal.WithLabelValues(topic, outcome).Inc()
}

func RecordTradeTransition(from, to, trigger string) {
	TradeTransitionsTotal.WithLabelValues(from, to, trigger).Inc()
}

func ObserveLockWait(outcome string, seconds float64) {
	LockWaitSeconds.WithLabelValues(outcome).Observe(seconds)
}

func RecordLockReleaseRetry(outcome string) {
	LockReleaseRetriesTotal.WithLabelValues(outcome).Inc()
}

func RecordSweeperAction(action, result string) {
	SweeperActionsTotal.WithLabelValues(action, result).Inc()
}

func SetOutboxPending(status string, count float64) {
	OutboxPending.WithLabelValues(status).Set(count)
}

func RecordOutboxError(topic, reason string) {
	OutboxErrorsTotal.WithLabelValues(topic, reason).Inc()
}

func RecordJobRun(job, result string) {
	JobRunsTotal.WithLabelValues(job, result).Inc()
}
