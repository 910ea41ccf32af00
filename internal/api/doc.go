// Package api 暴露会话提交、查询、快照轮询与停止的 REST 接口，以及 Prometheus 指标。
package api
