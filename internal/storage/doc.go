// Package storage 定义工具原始数据的存取接口，并提供基于本地文件的经验与
// 循环历史持久化。Redis 与 MySQL 实现位于子包中。
package storage
