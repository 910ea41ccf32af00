// Package verify 实现两级验证：战术验证检查单个子目标的执行结果，
// 战略验证检查累计的循环历史是否满足用户目标。验证失败时把反馈写入
// 对应层级的经验状态。
package verify
