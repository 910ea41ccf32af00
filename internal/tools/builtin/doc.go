// Package builtin 实现内置工具：网页搜索、结构化数据接口、知识库检索
// 与链上快照。
package builtin
