// Package executor 实现执行引擎：把待执行命令分发到工具，隔离单条命令的
// 失败，并把 指针 → 摘要 结果合并进工作记忆。
package executor
