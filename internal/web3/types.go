package web3

import "context"

// ChainSnapshot 汇总一次链上查询的结果。
type ChainSnapshot struct {
	Chain       string `json:"chain"`
	ChainID     string `json:"chain_id"`
	BlockNumber string `json:"block_number"`
	GasPrice    string `json:"gas_price,omitempty"`
	Balance     string `json:"balance,omitempty"`
	Address     string `json:"address,omitempty"`
	Notes       string `json:"notes,omitempty"`
}

// Client 是链客户端的只读能力。
type Client interface {
	FetchChainSnapshot(ctx context.Context) (ChainSnapshot, error)
	BalanceOf(ctx context.Context, address string) (string, error)
	Close()
}
