package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/McKrispy/Ageeeent/internal/agent"
	"github.com/McKrispy/Ageeeent/internal/config"
	xerrors "github.com/McKrispy/Ageeeent/internal/errors"
	"github.com/McKrispy/Ageeeent/internal/executor"
	"github.com/McKrispy/Ageeeent/internal/llm"
	"github.com/McKrispy/Ageeeent/internal/llm/gemini"
	"github.com/McKrispy/Ageeeent/internal/llm/openai"
	"github.com/McKrispy/Ageeeent/internal/llm/pythonbridge"
	"github.com/McKrispy/Ageeeent/internal/memory"
	"github.com/McKrispy/Ageeeent/internal/observability/alerting"
	"github.com/McKrispy/Ageeeent/internal/planning"
	"github.com/McKrispy/Ageeeent/internal/prompt"
	"github.com/McKrispy/Ageeeent/internal/storage"
	storagemysql "github.com/McKrispy/Ageeeent/internal/storage/mysql"
	storageredis "github.com/McKrispy/Ageeeent/internal/storage/redis"
	"github.com/McKrispy/Ageeeent/internal/task"
	"github.com/McKrispy/Ageeeent/internal/tools"
	"github.com/McKrispy/Ageeeent/internal/tools/builtin"
	"github.com/McKrispy/Ageeeent/internal/verify"
	"github.com/McKrispy/Ageeeent/pkg/logger"
)

// runtime 汇总一次进程生命周期内的全部组件。
type runtime struct {
	cfg       *config.Config
	runner    *agent.Runner
	clarifier *planning.Clarifier

	closers []func() error
}

func (r *runtime) onClose(fn func() error) {
	r.closers = append(r.closers, fn)
}

// Close 按创建的逆序释放资源。
func (r *runtime) Close() error {
	var err error
	for i := len(r.closers) - 1; i >= 0; i-- {
		err = errors.Join(err, r.closers[i]())
	}
	r.closers = nil
	return err
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		return config.Default(wd), nil
	}
	return config.Load(path)
}

func initLogger(cfg config.LoggingConfig) error {
	return logger.Init(logger.Config{
		Level:       cfg.Level,
		Format:      cfg.Format,
		OutputPaths: cfg.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Audit.Enabled,
			Path:       cfg.Audit.Path,
			MaxSizeMB:  cfg.Audit.MaxSizeMB,
			MaxBackups: cfg.Audit.MaxBackups,
			MaxAgeDays: cfg.Audit.MaxAgeDays,
		},
	})
}

// buildRuntime 按配置组装循环控制器依赖。出错时已创建的资源会被释放。
func buildRuntime(ctx context.Context, cfg *config.Config) (rt *runtime, err error) {
	rt = &runtime{cfg: cfg}
	defer func() {
		if err != nil {
			_ = rt.Close()
			rt = nil
		}
	}()

	client, err := newLLMClient(ctx, cfg.LLM)
	if err != nil {
		return nil, err
	}
	prompts, err := prompt.Load(cfg.Planning.PromptDir)
	if err != nil {
		return nil, err
	}
	caller := planning.NewCaller(client,
		planning.WithMaxAttempts(cfg.Planning.MaxAttempts),
		planning.WithBackoff(cfg.Planning.BaseDelay(), cfg.Planning.MaxDelay()),
	)

	blobs, err := newBlobStore(ctx, cfg.Storage.Blob)
	if err != nil {
		return nil, err
	}
	rt.onClose(blobs.Close)

	journal, archive, err := newJournal(ctx, rt, cfg.Storage.Experience)
	if err != nil {
		return nil, err
	}
	experience, err := memory.LoadExperience(ctx, journal)
	if err != nil {
		return nil, err
	}

	registry := tools.NewRegistry()
	cleanup, err := builtin.Register(ctx, registry, cfg.Tools)
	rt.onClose(func() error { cleanup(); return nil })
	if err != nil {
		return nil, err
	}

	engine := executor.New(registry, blobs,
		executor.WithMaxWorkers(cfg.Engine.MaxWorkers),
		executor.WithSummarizer(tools.NewLLMSummarizer(client, prompts)),
	)
	planDeps := planning.Deps{
		Caller:           caller,
		Prompts:          prompts,
		Registry:         registry,
		ExperienceWindow: cfg.Planning.ExperienceWindow,
	}
	rt.clarifier = planning.NewClarifier(caller, prompts, cfg.Planning.MaxQuestions)

	rt.runner, err = agent.NewRunner(agent.Deps{
		Strategic:         planning.NewStrategic(planDeps),
		Tactical:          planning.NewTactical(planDeps),
		Replan:            planning.NewReplan(planDeps),
		Engine:            engine,
		TacticalVerifier:  verify.NewTactical(),
		StrategicVerifier: verify.NewStrategic(caller, prompts),
		Experience:        experience,
		Archive:           archive,
		Profiler:          rt.clarifier,
	}, agent.Limits{
		MaxTacticalRetries:   cfg.Controller.MaxTacticalRetries,
		MaxStrategicAttempts: cfg.Controller.MaxStrategicAttempts,
	})
	if err != nil {
		return nil, err
	}
	logger.L().Info("运行时组装完成",
		slog.String("llm_provider", cfg.LLM.Provider),
		slog.String("blob_driver", cfg.Storage.Blob.Driver),
		slog.String("experience_driver", cfg.Storage.Experience.Driver),
		slog.Any("tools", registry.List()),
	)
	return rt, nil
}

func newLLMClient(ctx context.Context, cfg config.LLMConfig) (llm.Client, error) {
	switch cfg.Provider {
	case "openai":
		return openai.NewClient(openai.Config{
			APIKey:  cfg.OpenAI.ResolveAPIKey(),
			BaseURL: cfg.OpenAI.BaseURL,
			Model:   cfg.OpenAI.Model,
			Timeout: cfg.OpenAI.Timeout(),
		})
	case "gemini":
		return gemini.NewClient(ctx, gemini.Config{
			APIKey: cfg.Gemini.ResolveAPIKey(),
			Model:  cfg.Gemini.Model,
		})
	case "python_bridge":
		script := pythonbridge.ResolveScriptPath(cfg.Python.WorkingDir, cfg.Python.ScriptPath)
		return pythonbridge.NewClient(cfg.Python.PythonExecutable, script, cfg.Python.WorkingDir)
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("未知的大模型 provider: %s", cfg.Provider))
	}
}

func newBlobStore(ctx context.Context, cfg config.BlobConfig) (storage.BlobStore, error) {
	switch cfg.Driver {
	case "memory":
		return storage.NewMemoryBlobStore(), nil
	case "redis":
		return storageredis.NewBlobStore(ctx, storageredis.Config{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
			TTL:      cfg.TTL(),
		})
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("未知的原始数据存储驱动: %s", cfg.Driver))
	}
}

// newJournal 返回经验日志与循环历史归档。memory 驱动下历史只保存在会话内。
func newJournal(ctx context.Context, rt *runtime, cfg config.ExperienceConfig) (memory.Journal, memory.Archive, error) {
	switch cfg.Driver {
	case "memory":
		return &memory.MemoryJournal{}, nil, nil
	case "file":
		journal, err := storage.NewFileJournal(cfg.DataDir)
		if err != nil {
			return nil, nil, err
		}
		return journal, journal, nil
	case "mysql":
		db, err := storagemysql.Open(ctx, storagemysql.Config{DSN: cfg.DSN})
		if err != nil {
			return nil, nil, err
		}
		rt.onClose(db.Close)
		store := storagemysql.NewExperienceStore(db)
		return store, store, nil
	default:
		return nil, nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("未知的经验存储驱动: %s", cfg.Driver))
	}
}

// buildQueue 组装会话存储、队列、服务与处理器。
func buildQueue(ctx context.Context, rt *runtime) (*task.Service, *task.Processor, error) {
	cfg := rt.cfg

	var store task.Store
	switch cfg.Storage.Sessions.Driver {
	case "memory":
		store = task.NewMemoryStore()
	case "mysql":
		db, err := storagemysql.Open(ctx, storagemysql.Config{DSN: cfg.Storage.Sessions.DSN})
		if err != nil {
			return nil, nil, err
		}
		store = task.NewMySQLStoreWithDB(db)
	default:
		return nil, nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("未知的会话存储驱动: %s", cfg.Storage.Sessions.Driver))
	}

	var queue task.Queue
	switch cfg.Queue.Driver {
	case "memory":
		queue = task.NewMemoryQueue(cfg.Queue.Buffer)
	case "redis":
		q, err := task.NewRedisQueue(ctx, task.RedisQueueConfig{
			Address:   cfg.Queue.Redis.Address,
			Password:  cfg.Queue.Redis.Password,
			DB:        cfg.Queue.Redis.DB,
			Queue:     cfg.Queue.Redis.Queue,
			BlockWait: seconds(cfg.Queue.Redis.BlockWait),
		})
		if err != nil {
			_ = store.Close()
			return nil, nil, err
		}
		queue = q
	case "rabbitmq":
		q, err := task.NewRabbitMQQueue(task.RabbitMQConfig{
			URL:        cfg.Queue.RabbitMQ.URL,
			Queue:      cfg.Queue.RabbitMQ.Queue,
			Prefetch:   cfg.Queue.RabbitMQ.Prefetch,
			Durable:    cfg.Queue.RabbitMQ.Durable,
			AutoDelete: cfg.Queue.RabbitMQ.AutoDelete,
		})
		if err != nil {
			_ = store.Close()
			return nil, nil, err
		}
		queue = q
	default:
		_ = store.Close()
		return nil, nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("未知的队列驱动: %s", cfg.Queue.Driver))
	}

	svc := task.NewService(store, queue, cfg.Queue.MaxRetries)
	rt.onClose(svc.Close)

	processor := task.NewProcessor(rt.runner, store, queue, queue,
		task.WithWorkerCount(cfg.Queue.Workers),
		task.WithAlertDispatcher(newAlerts(cfg.Alerting)),
	)
	return svc, processor, nil
}

func newAlerts(cfg config.AlertingConfig) alerting.Dispatcher {
	notifiers := []alerting.Notifier{alerting.LogNotifier{}}
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, alerting.NewWebhookNotifier(cfg.WebhookURL))
	}
	return alerting.NewFanout(notifiers...)
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
