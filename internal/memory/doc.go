// Package memory 提供引擎的两层记忆：单次循环内的工作记忆与循环历史，
// 以及跨会话保留的经验（战略认知与执行策略）。
package memory
