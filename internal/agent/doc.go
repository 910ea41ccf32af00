// Package agent 实现循环控制器：驱动一次会话从战略规划、战术规划、
// 并发执行到两级验证的完整状态机，并在验证失败时把反馈写入经验后重试。
package agent
