// Package redis 提供基于 Redis 的原始数据存储，键格式与工作记忆中的数据指针一致。
package redis
