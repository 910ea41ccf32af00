// Package tools 定义工具契约与注册表。
//
// 工具接收会话上下文与参数，自行把原始数据写入存储，只返回
// 数据指针 → 摘要 的映射，原始大数据不会进入计划层级。
package tools
