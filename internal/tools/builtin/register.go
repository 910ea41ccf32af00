package builtin

import (
	"context"
	"time"

	"github.com/McKrispy/Ageeeent/internal/config"
	"github.com/McKrispy/Ageeeent/internal/knowledge"
	"github.com/McKrispy/Ageeeent/internal/tools"
	"github.com/McKrispy/Ageeeent/internal/web3/provider"
	"github.com/McKrispy/Ageeeent/pkg/logger"
)

// Register 根据配置注册内置工具与插件，返回需要在退出时释放的资源。
// 缺少配置的工具不会注册，规划阶段也就看不到它们。
func Register(ctx context.Context, reg *tools.Registry, cfg config.ToolsConfig) (func(), error) {
	log := logger.Named("tools")
	cleanup := func() {}

	if cfg.WebSearch.Endpoint != "" {
		search := NewWebSearch(cfg.WebSearch.Endpoint, seconds(cfg.WebSearch.TimeoutSeconds))
		if err := reg.Register(WebSearchName, webSearchDoc, func() tools.Tool { return search }); err != nil {
			return cleanup, err
		}
	}
	if len(cfg.StructuredData.AllowedHosts) > 0 {
		api := NewStructuredData(cfg.StructuredData.AllowedHosts, seconds(cfg.StructuredData.TimeoutSeconds))
		if err := reg.Register(StructuredDataName, structuredDataDoc, func() tools.Tool { return api }); err != nil {
			return cleanup, err
		}
	}
	if cfg.Knowledge.Source != "" {
		kb, err := knowledge.LoadStaticProvider(cfg.Knowledge.Source, cfg.Knowledge.MaxResults)
		if err != nil {
			return cleanup, err
		}
		if err := reg.Register(KnowledgeLookupName, knowledgeLookupDoc, func() tools.Tool { return NewKnowledgeLookup(kb) }); err != nil {
			return cleanup, err
		}
	}
	if cfg.Chain.RPCURL != "" || cfg.Chain.NetworksFile != "" {
		chains, err := provider.NewRegistry(ctx, cfg.Chain)
		if err != nil {
			return cleanup, err
		}
		cleanup = chains.Close
		if err := reg.Register(ChainSnapshotName, chainSnapshotDoc, func() tools.Tool { return NewChainSnapshot(chains) }); err != nil {
			return cleanup, err
		}
	}
	for _, p := range cfg.Plugins {
		factory, err := tools.LoadPlugin(p.Path)
		if err != nil {
			return cleanup, err
		}
		if err := reg.Register(p.Name, "插件工具", factory); err != nil {
			return cleanup, err
		}
		log.Info("加载插件工具", "name", p.Name, "path", p.Path)
	}

	log.Info("工具注册完成", "tools", reg.List())
	return cleanup, nil
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
