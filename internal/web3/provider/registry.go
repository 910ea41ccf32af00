package provider

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/McKrispy/Ageeeent/internal/config"
	xerrors "github.com/McKrispy/Ageeeent/internal/errors"
	"github.com/McKrispy/Ageeeent/internal/web3"
	"github.com/McKrispy/Ageeeent/internal/web3/ethereum"
)

// DialFunc 根据链定义创建客户端。
type DialFunc func(ctx context.Context, name string, def web3.ChainDefinition) (web3.Client, error)

// Registry 按名称管理链客户端。
type Registry struct {
	defaultChain string
	clients      map[string]web3.Client
}

// NewRegistry 加载网络定义并连接每条链。
func NewRegistry(ctx context.Context, cfg config.ChainConfig) (*Registry, error) {
	defs, err := web3.LoadChainDefinitions(cfg.NetworksFile)
	if err != nil {
		return nil, err
	}
	if len(defs.Chains) == 0 && strings.TrimSpace(cfg.RPCURL) != "" {
		defs.Chains["default"] = web3.ChainDefinition{Type: "evm", RPCURL: cfg.RPCURL}
	}
	return Build(ctx, defs, cfg.DefaultChain, dialEVM)
}

// Build 使用给定的拨号函数构建注册表。
func Build(ctx context.Context, defs web3.ChainDefinitions, defaultChain string, dial DialFunc) (*Registry, error) {
	clients := make(map[string]web3.Client, len(defs.Chains))
	for name, def := range defs.Chains {
		client, err := dial(ctx, name, def)
		if err != nil {
			closeAll(clients)
			return nil, err
		}
		clients[name] = client
	}
	if len(clients) == 0 {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置任何链的 RPC 端点")
	}
	r := &Registry{defaultChain: defaultChain, clients: clients}
	if r.defaultChain == "" {
		r.defaultChain = r.Chains()[0]
	}
	if _, ok := clients[r.defaultChain]; !ok {
		closeAll(clients)
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("默认链 %s 未在配置中找到", r.defaultChain))
	}
	return r, nil
}

func dialEVM(ctx context.Context, name string, def web3.ChainDefinition) (web3.Client, error) {
	chainType := strings.ToLower(strings.TrimSpace(def.Type))
	if chainType != "" && chainType != "evm" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("链 %s 使用了不支持的类型 %s", name, def.Type))
	}
	return ethereum.NewClient(ctx, ethereum.Config{Name: name, RPCURL: def.RPCURL, Notes: def.Description})
}

// Client 返回指定链的客户端，name 为空时返回默认链。
func (r *Registry) Client(name string) (web3.Client, bool) {
	if r == nil {
		return nil, false
	}
	if strings.TrimSpace(name) == "" {
		name = r.defaultChain
	}
	client, ok := r.clients[name]
	return client, ok
}

// Chains 返回已注册的链名称。
func (r *Registry) Chains() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close 释放全部客户端。
func (r *Registry) Close() {
	if r == nil {
		return
	}
	closeAll(r.clients)
}

func closeAll(clients map[string]web3.Client) {
	for name, client := range clients {
		if client != nil {
			client.Close()
		}
		delete(clients, name)
	}
}
