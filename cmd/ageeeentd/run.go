package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/McKrispy/Ageeeent/internal/task"
	"github.com/McKrispy/Ageeeent/pkg/logger"
)

func newRunCmd(root *rootOptions) *cobra.Command {
	var (
		snapshot      bool
		clarify       bool
		supplementary string
		timeout       time.Duration
	)
	cmd := &cobra.Command{
		Use:   "run <goal>",
		Short: "在前台运行单个目标直到终态",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root.configPath)
			if err != nil {
				return err
			}
			if err := initLogger(cfg.Logging); err != nil {
				return err
			}
			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			rt, err := buildRuntime(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() {
				if err := rt.Close(); err != nil {
					logger.L().Error("释放资源失败", slog.Any("error", err))
				}
			}()

			goal := strings.Join(args, " ")
			out := cmd.OutOrStdout()
			if clarify && supplementary == "" {
				supplementary, err = askSupplementary(ctx, cmd, rt, goal)
				if err != nil {
					return err
				}
			}
			sess := &task.Session{ID: uuid.NewString(), Goal: goal}
			if supplementary != "" {
				sess.Metadata = map[string]any{task.MetadataSupplementary: supplementary}
			}
			result, runErr := rt.runner.Execute(ctx, sess)

			fmt.Fprintf(out, "session: %s\noutcome: %s\ncycles: %d\narchived: %d\n",
				sess.ID, result.Outcome, result.Cycles, result.Archived)
			if result.Summary != "" {
				fmt.Fprintf(out, "\n%s\n", result.Summary)
			}
			if snapshot {
				if snap, ok := rt.runner.Snapshot(ctx, sess.ID); ok {
					enc := json.NewEncoder(out)
					enc.SetIndent("", "  ")
					if err := enc.Encode(snap); err != nil {
						return err
					}
				}
			}
			return runErr
		},
	}
	cmd.Flags().BoolVar(&snapshot, "snapshot", false, "结束后输出完整快照 JSON")
	cmd.Flags().BoolVar(&clarify, "clarify", false, "运行前生成澄清问卷并从标准输入读取补充内容")
	cmd.Flags().StringVar(&supplementary, "supplementary", "", "直接提供补充内容，跳过问卷")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "整个会话的超时时间，0 表示不限制")
	return cmd
}

// askSupplementary 输出澄清问卷，并读取用户在一行内给出的补充内容。
func askSupplementary(ctx context.Context, cmd *cobra.Command, rt *runtime, goal string) (string, error) {
	questionnaire, err := rt.clarifier.Questionnaire(ctx, goal)
	if err != nil {
		return "", err
	}
	out := cmd.OutOrStdout()
	for i, q := range questionnaire.Questions {
		fmt.Fprintf(out, "%d. %s\n", i+1, q.Question)
		for _, opt := range q.Options {
			fmt.Fprintf(out, "   - %s\n", opt)
		}
	}
	fmt.Fprint(out, "\n请根据上述问题提供补充信息（回车跳过）: ")
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
