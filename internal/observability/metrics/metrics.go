// Package metrics 基于 Prometheus 暴露服务与编排引擎的运行指标。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ageeeent"

var (
	registry = prometheus.NewRegistry()

	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests processed.",
	}, []string{"handler", "method", "code"})

	httpErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_request_errors_total",
		Help:      "Total number of HTTP requests that resulted in a server error.",
	}, []string{"handler", "method"})

	httpLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"handler", "method"})

	commandsExecuted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "commands_executed_total",
		Help:      "Executable commands run by the execution engine, by tool and outcome.",
	}, []string{"tool", "outcome"})

	commandLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "command_duration_seconds",
		Help:      "Tool execution duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"tool"})

	planningAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "planning_attempts_total",
		Help:      "Calls to the planning capability, by stage and outcome.",
	}, []string{"stage", "outcome"})

	verifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "verifications_total",
		Help:      "Verifier decisions, by scope and result.",
	}, []string{"scope", "result"})

	cyclesRun = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cycles_total",
		Help:      "Tactical cycles run by the cycle controller, by result.",
	}, []string{"result"})

	strategicRestarts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "strategic_restarts_total",
		Help:      "Strategic planning restarts after a failed verification or escalation.",
	})

	sessionsFinished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_finished_total",
		Help:      "Sessions that reached a terminal status.",
	}, []string{"status"})
)

func init() {
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		httpRequests, httpErrors, httpLatency,
		commandsExecuted, commandLatency,
		planningAttempts, verifications,
		cyclesRun, strategicRestarts, sessionsFinished,
	)
}

// ObserveHTTPRequest 记录一次 HTTP 请求。
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	if status >= http.StatusInternalServerError {
		httpErrors.WithLabelValues(handler, method).Inc()
	}
	httpLatency.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// ObserveCommand 记录一次工具执行。
func ObserveCommand(tool, outcome string, duration time.Duration) {
	commandsExecuted.WithLabelValues(tool, outcome).Inc()
	commandLatency.WithLabelValues(tool).Observe(duration.Seconds())
}

// ObservePlanning 记录一次规划调用。
func ObservePlanning(stage, outcome string) {
	planningAttempts.WithLabelValues(stage, outcome).Inc()
}

// ObserveVerification 记录一次校验结果。
func ObserveVerification(scope string, passed bool) {
	result := "failed"
	if passed {
		result = "passed"
	}
	verifications.WithLabelValues(scope, result).Inc()
}

// ObserveCycle 记录一次战术循环的结果。
func ObserveCycle(passed bool) {
	result := "failed"
	if passed {
		result = "passed"
	}
	cyclesRun.WithLabelValues(result).Inc()
}

// ObserveStrategicRestart 记录一次战略重启。
func ObserveStrategicRestart() {
	strategicRestarts.Inc()
}

// ObserveSession 记录会话终态。
func ObserveSession(status string) {
	sessionsFinished.WithLabelValues(status).Inc()
}

// Handler 以 Prometheus 文本格式暴露指标。
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// Gatherer 返回底层注册表，便于测试读取。
func Gatherer() prometheus.Gatherer {
	return registry
}
