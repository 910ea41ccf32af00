// Package web3 提供只读的链上数据访问，供 chain_snapshot 工具查询
// EVM 兼容网络的链 ID、区块高度、Gas 价格与账户余额。
package web3
