package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/McKrispy/Ageeeent/pkg/logger"
)

// main 是 Ageeeent 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "ageeeentd 运行失败: %v\n", err)
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
	envFile    string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "ageeeentd",
		Short:         "分层规划的任务编排引擎",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := godotenv.Load(opts.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("加载 %s 失败: %w", opts.envFile, err)
			}
			if opts.configPath == "" {
				opts.configPath = os.Getenv("AGEEEENT_CONFIG")
			}
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = logger.Sync()
		},
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "配置文件路径 (JSON 或 YAML)，默认读取 AGEEEENT_CONFIG")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "启动前加载的环境变量文件")

	cmd.AddCommand(newServeCmd(opts), newRunCmd(opts))
	return cmd
}
