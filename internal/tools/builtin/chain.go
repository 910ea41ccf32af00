package builtin

import (
	"context"
	"encoding/json"
	"fmt"

	xerrors "github.com/McKrispy/Ageeeent/internal/errors"
	"github.com/McKrispy/Ageeeent/internal/tools"
	"github.com/McKrispy/Ageeeent/internal/web3"
)

const (
	ChainSnapshotName = "chain_snapshot"
	chainSnapshotDoc  = `{"chain": "链名称，可省略", "address": "0x... 可省略"} 读取链 ID、最新区块、Gas 价格与账户余额`
)

// ChainResolver 按名称查找链客户端，名称为空时返回默认链。
type ChainResolver interface {
	Client(name string) (web3.Client, bool)
}

// ChainSnapshot 查询链上只读数据。
type ChainSnapshot struct {
	chains ChainResolver
}

// NewChainSnapshot 创建链上快照工具。
func NewChainSnapshot(chains ChainResolver) *ChainSnapshot {
	return &ChainSnapshot{chains: chains}
}

// Execute 实现 tools.Tool。
func (c *ChainSnapshot) Execute(ctx context.Context, sc tools.SessionContext, params map[string]any) (map[string]string, error) {
	name := tools.StringParam(params, "chain")
	client, ok := c.chains.Client(name)
	if !ok {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("未知的链 %q", name))
	}
	snapshot, err := client.FetchChainSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	if address := tools.StringParam(params, "address"); address != "" {
		balance, err := client.BalanceOf(ctx, address)
		if err != nil {
			return nil, err
		}
		snapshot.Address = address
		snapshot.Balance = balance
	}
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return nil, xerrors.Wrap(tools.CodeToolFailure, err, "编码链上快照失败")
	}
	return tools.Persist(ctx, sc, ChainSnapshotName, raw)
}
