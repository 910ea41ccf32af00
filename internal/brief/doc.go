// Package brief 维护一次会话的计划层级：战略计划、子目标、可执行命令。
//
// 三层实体以扁平集合存放，通过父级 ID 关联。插入时校验父级存在，命令完成后
// 立即自底向上传播完成状态。Brief 自带读写锁，执行引擎的并发回写与观察者的
// 快照读取可以同时发生。
package brief
