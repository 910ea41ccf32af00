package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/McKrispy/Ageeeent/internal/api"
	"github.com/McKrispy/Ageeeent/pkg/logger"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "启动会话队列处理器与 HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(root.configPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Address = addr
			}
			if err := initLogger(cfg.Logging); err != nil {
				return err
			}
			ctx := cmd.Context()

			rt, err := buildRuntime(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() {
				if err := rt.Close(); err != nil {
					logger.L().Error("释放资源失败", slog.Any("error", err))
				}
			}()

			svc, processor, err := buildQueue(ctx, rt)
			if err != nil {
				return err
			}

			processorCtx, processorCancel := context.WithCancel(ctx)
			defer processorCancel()
			go func() {
				if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
					logger.L().Error("会话处理器异常退出", slog.Any("error", err))
				}
			}()

			server := api.NewServer(cfg.Server.Address, svc, rt.runner, api.WithQuestionnaire(rt.clarifier))
			if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "覆盖配置中的监听地址")
	return cmd
}
