// Package mysql 基于 MySQL 持久化长期经验与循环历史，并负责执行
// deploy/migrations 中的内嵌迁移。
package mysql
