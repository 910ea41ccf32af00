package ethereum

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	xerrors "github.com/McKrispy/Ageeeent/internal/errors"
	"github.com/McKrispy/Ageeeent/internal/web3"
)

// Config 描述 EVM 兼容链的连接参数。
type Config struct {
	Name   string
	RPCURL string
	Notes  string
}

// Backend 是客户端依赖的 ethclient 子集。
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// Client 实现 web3.Client。
type Client struct {
	name    string
	notes   string
	rpc     *gethrpc.Client
	backend Backend
	mu      sync.Mutex
}

// NewClient 连接 RPC 端点。
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未配置以太坊 RPC 地址")
	}
	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "连接以太坊节点失败",
			xerrors.WithMetadata("chain", cfg.Name))
	}
	return &Client{
		name:    cfg.Name,
		notes:   cfg.Notes,
		rpc:     rpcClient,
		backend: ethclient.NewClient(rpcClient),
	}, nil
}

// NewClientWithBackend 使用现成的后端构建客户端。
func NewClientWithBackend(name, notes string, backend Backend) *Client {
	return &Client{name: name, notes: notes, backend: backend}
}

// Close 释放连接。
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rpc != nil {
		c.rpc.Close()
		c.rpc = nil
	}
}

// FetchChainSnapshot 读取链 ID、最新区块与建议 Gas 价格。
func (c *Client) FetchChainSnapshot(ctx context.Context) (web3.ChainSnapshot, error) {
	if c == nil || c.backend == nil {
		return web3.ChainSnapshot{}, xerrors.New(xerrors.CodeInitializationFailure, "未初始化的以太坊客户端")
	}
	chainID, err := c.backend.ChainID(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, c.wrap(err, "获取链 ID 失败")
	}
	blockNumber, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, c.wrap(err, "获取最新区块高度失败")
	}
	snapshot := web3.ChainSnapshot{
		Chain:       c.name,
		ChainID:     toHexBig(chainID),
		BlockNumber: fmt.Sprintf("0x%x", blockNumber),
		Notes:       c.notes,
	}
	// Gas 价格只是补充信息，部分节点不支持。
	if price, err := c.backend.SuggestGasPrice(ctx); err == nil {
		snapshot.GasPrice = toHexBig(price)
	}
	return snapshot, nil
}

// BalanceOf 查询地址的最新余额。
func (c *Client) BalanceOf(ctx context.Context, address string) (string, error) {
	address = strings.TrimSpace(address)
	if !common.IsHexAddress(address) {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "无效的账户地址", xerrors.WithMetadata("address", address))
	}
	balance, err := c.backend.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return "", c.wrap(err, "查询余额失败")
	}
	return toHexBig(balance), nil
}

func (c *Client) wrap(err error, message string) error {
	return xerrors.Wrap(xerrors.CodeExecutorFailure, err, message, xerrors.WithMetadata("chain", c.name))
}

func toHexBig(v *big.Int) string {
	if v == nil {
		return "0x0"
	}
	return "0x" + v.Text(16)
}

var _ web3.Client = (*Client)(nil)
