package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 描述了引擎在启动阶段需要加载的全部配置。
type Config struct {
	Server     ServerConfig     `json:"server" yaml:"server"`
	Logging    LoggingConfig    `json:"logging" yaml:"logging"`
	LLM        LLMConfig        `json:"llm" yaml:"llm"`
	Planning   PlanningConfig   `json:"planning" yaml:"planning"`
	Engine     EngineConfig     `json:"engine" yaml:"engine"`
	Controller ControllerConfig `json:"controller" yaml:"controller"`
	Storage    StorageConfig    `json:"storage" yaml:"storage"`
	Queue      QueueConfig      `json:"queue" yaml:"queue"`
	Tools      ToolsConfig      `json:"tools" yaml:"tools"`
	Alerting   AlertingConfig   `json:"alerting" yaml:"alerting"`
}

// ServerConfig 控制观测 API 的监听地址。
type ServerConfig struct {
	Address string `json:"address" yaml:"address"`
}

// LoggingConfig 对应 pkg/logger 的配置。
type LoggingConfig struct {
	Level       string      `json:"level" yaml:"level"`
	Format      string      `json:"format" yaml:"format"`
	OutputPaths []string    `json:"output_paths" yaml:"output_paths"`
	Audit       AuditConfig `json:"audit" yaml:"audit"`
}

// AuditConfig 控制审计日志。
type AuditConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	Path       string `json:"path" yaml:"path"`
	MaxSizeMB  int    `json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" yaml:"max_age_days"`
}

// LLMConfig 选择规划能力的后端。
type LLMConfig struct {
	Provider string             `json:"provider" yaml:"provider"`
	OpenAI   OpenAIConfig       `json:"openai" yaml:"openai"`
	Gemini   GeminiConfig       `json:"gemini" yaml:"gemini"`
	Python   PythonBridgeConfig `json:"python_bridge" yaml:"python_bridge"`
}

// OpenAIConfig 描述 OpenAI 兼容接口。
type OpenAIConfig struct {
	APIKey         string `json:"api_key" yaml:"api_key"`
	APIKeyEnv      string `json:"api_key_env" yaml:"api_key_env"`
	BaseURL        string `json:"base_url" yaml:"base_url"`
	Model          string `json:"model" yaml:"model"`
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"`
}

// Timeout 返回单次请求超时时间。
func (c OpenAIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ResolveAPIKey 优先使用显式配置，其次读取环境变量。
func (c OpenAIConfig) ResolveAPIKey() string {
	return resolveSecret(c.APIKey, c.APIKeyEnv)
}

// GeminiConfig 描述 Google Gemini 接口。
type GeminiConfig struct {
	APIKey    string `json:"api_key" yaml:"api_key"`
	APIKeyEnv string `json:"api_key_env" yaml:"api_key_env"`
	Model     string `json:"model" yaml:"model"`
}

// ResolveAPIKey 优先使用显式配置，其次读取环境变量。
func (c GeminiConfig) ResolveAPIKey() string {
	return resolveSecret(c.APIKey, c.APIKeyEnv)
}

// PythonBridgeConfig 描述通过外部脚本完成推理时所需的信息。
type PythonBridgeConfig struct {
	PythonExecutable string `json:"python_executable" yaml:"python_executable"`
	ScriptPath       string `json:"script_path" yaml:"script_path"`
	WorkingDir       string `json:"working_dir" yaml:"working_dir"`
}

// PlanningConfig 控制规划阶段的重试、提示词目录与经验窗口。
type PlanningConfig struct {
	MaxAttempts      int    `json:"max_attempts" yaml:"max_attempts"`
	BaseDelayMS      int    `json:"base_delay_ms" yaml:"base_delay_ms"`
	MaxDelayMS       int    `json:"max_delay_ms" yaml:"max_delay_ms"`
	PromptDir        string `json:"prompt_dir" yaml:"prompt_dir"`
	ExperienceWindow int    `json:"experience_window" yaml:"experience_window"`
	MaxQuestions     int    `json:"max_questions" yaml:"max_questions"`
}

// BaseDelay 返回首次重试的等待时间。
func (c PlanningConfig) BaseDelay() time.Duration {
	return time.Duration(c.BaseDelayMS) * time.Millisecond
}

// MaxDelay 返回单次等待的上限。
func (c PlanningConfig) MaxDelay() time.Duration {
	return time.Duration(c.MaxDelayMS) * time.Millisecond
}

// EngineConfig 控制执行引擎的并发度。
type EngineConfig struct {
	MaxWorkers int `json:"max_workers" yaml:"max_workers"`
}

// ControllerConfig 控制循环控制器的上限。
type ControllerConfig struct {
	MaxTacticalRetries   int `json:"max_tactical_retries" yaml:"max_tactical_retries"`
	MaxStrategicAttempts int `json:"max_strategic_attempts" yaml:"max_strategic_attempts"`
}

// StorageConfig 汇总原始数据存储与经验存储。
type StorageConfig struct {
	Blob       BlobConfig       `json:"blob" yaml:"blob"`
	Experience ExperienceConfig `json:"experience" yaml:"experience"`
	Sessions   SessionsConfig   `json:"sessions" yaml:"sessions"`
}

// BlobConfig 描述工具原始数据的存放位置。
type BlobConfig struct {
	Driver     string      `json:"driver" yaml:"driver"`
	Redis      RedisConfig `json:"redis" yaml:"redis"`
	TTLSeconds int         `json:"ttl_seconds" yaml:"ttl_seconds"`
}

// TTL 返回原始数据的过期时间，0 表示不过期。
func (c BlobConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// ExperienceConfig 描述长期经验与循环历史的持久化方式。
type ExperienceConfig struct {
	Driver  string `json:"driver" yaml:"driver"`
	DSN     string `json:"dsn" yaml:"dsn"`
	DataDir string `json:"data_dir" yaml:"data_dir"`
}

// SessionsConfig 描述会话运行记录的存储。
type SessionsConfig struct {
	Driver string `json:"driver" yaml:"driver"`
	DSN    string `json:"dsn" yaml:"dsn"`
}

// RedisConfig 是 Redis 连接参数。
type RedisConfig struct {
	Address   string `json:"address" yaml:"address"`
	Password  string `json:"password" yaml:"password"`
	DB        int    `json:"db" yaml:"db"`
	Prefix    string `json:"prefix" yaml:"prefix"`
	Queue     string `json:"queue" yaml:"queue"`
	BlockWait int    `json:"block_wait_seconds" yaml:"block_wait_seconds"`
}

// RabbitMQConfig 是 RabbitMQ 连接参数。
type RabbitMQConfig struct {
	URL        string `json:"url" yaml:"url"`
	Queue      string `json:"queue" yaml:"queue"`
	Prefetch   int    `json:"prefetch" yaml:"prefetch"`
	Durable    bool   `json:"durable" yaml:"durable"`
	AutoDelete bool   `json:"auto_delete" yaml:"auto_delete"`
}

// QueueConfig 描述会话运行队列。
type QueueConfig struct {
	Driver     string         `json:"driver" yaml:"driver"`
	Workers    int            `json:"workers" yaml:"workers"`
	MaxRetries int            `json:"max_retries" yaml:"max_retries"`
	Buffer     int            `json:"buffer" yaml:"buffer"`
	Redis      RedisConfig    `json:"redis" yaml:"redis"`
	RabbitMQ   RabbitMQConfig `json:"rabbitmq" yaml:"rabbitmq"`
}

// ToolsConfig 描述可用工具。
type ToolsConfig struct {
	WebSearch      WebSearchConfig      `json:"web_search" yaml:"web_search"`
	StructuredData StructuredDataConfig `json:"structured_data" yaml:"structured_data"`
	Knowledge      KnowledgeConfig      `json:"knowledge" yaml:"knowledge"`
	Chain          ChainConfig          `json:"chain" yaml:"chain"`
	Plugins        []PluginConfig       `json:"plugins" yaml:"plugins"`
}

// WebSearchConfig 指向 SearxNG 兼容的 JSON 搜索接口。
type WebSearchConfig struct {
	Endpoint       string `json:"endpoint" yaml:"endpoint"`
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"`
}

// StructuredDataConfig 限定结构化数据接口可访问的主机。
type StructuredDataConfig struct {
	AllowedHosts   []string `json:"allowed_hosts" yaml:"allowed_hosts"`
	TimeoutSeconds int      `json:"timeout_seconds" yaml:"timeout_seconds"`
}

// KnowledgeConfig 指向静态知识库文件。
type KnowledgeConfig struct {
	Source     string `json:"source" yaml:"source"`
	MaxResults int    `json:"max_results" yaml:"max_results"`
}

// ChainConfig 描述区块链快照工具可访问的网络。
type ChainConfig struct {
	RPCURL       string `json:"rpc_url" yaml:"rpc_url"`
	NetworksFile string `json:"networks_file" yaml:"networks_file"`
	DefaultChain string `json:"default_chain" yaml:"default_chain"`
}

// PluginConfig 描述以 Go 插件形式加载的工具。
type PluginConfig struct {
	Name string `json:"name" yaml:"name"`
	Path string `json:"path" yaml:"path"`
}

// AlertingConfig 描述告警通道。
type AlertingConfig struct {
	WebhookURL string `json:"webhook_url" yaml:"webhook_url"`
}

// Load 解析指定路径的配置文件，按扩展名选择 JSON 或 YAML。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(content, &cfg)
	default:
		err = json.Unmarshal(content, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	return &cfg, nil
}

// Default 返回未提供配置文件时使用的默认配置。
func Default(baseDir string) *Config {
	cfg := &Config{}
	cfg.applyDefaults(baseDir)
	return cfg
}

// applyDefaults 在用户未填写部分字段时设置默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.OpenAI.APIKeyEnv == "" {
		c.LLM.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
	}
	if c.LLM.OpenAI.TimeoutSeconds <= 0 {
		c.LLM.OpenAI.TimeoutSeconds = 60
	}
	if c.LLM.Gemini.APIKeyEnv == "" {
		c.LLM.Gemini.APIKeyEnv = "GEMINI_API_KEY"
	}
	if c.LLM.Gemini.Model == "" {
		c.LLM.Gemini.Model = "gemini-2.0-flash"
	}
	if c.LLM.Python.PythonExecutable == "" {
		c.LLM.Python.PythonExecutable = "python3"
	}
	c.LLM.Python.WorkingDir = resolvePath(baseDir, c.LLM.Python.WorkingDir, baseDir)

	if c.Planning.MaxAttempts <= 0 {
		c.Planning.MaxAttempts = 3
	}
	if c.Planning.BaseDelayMS <= 0 {
		c.Planning.BaseDelayMS = 1000
	}
	if c.Planning.MaxDelayMS <= 0 {
		c.Planning.MaxDelayMS = 8000
	}
	if c.Planning.ExperienceWindow <= 0 {
		c.Planning.ExperienceWindow = 20
	}
	if c.Planning.MaxQuestions <= 0 {
		c.Planning.MaxQuestions = 5
	}
	if c.Planning.PromptDir != "" {
		c.Planning.PromptDir = resolvePath(baseDir, c.Planning.PromptDir, "")
	}

	if c.Engine.MaxWorkers <= 0 {
		c.Engine.MaxWorkers = 10
	}
	if c.Controller.MaxTacticalRetries <= 0 {
		c.Controller.MaxTacticalRetries = 5
	}
	if c.Controller.MaxStrategicAttempts <= 0 {
		c.Controller.MaxStrategicAttempts = 3
	}

	if c.Storage.Blob.Driver == "" {
		c.Storage.Blob.Driver = "memory"
	}
	if c.Storage.Blob.Redis.Prefix == "" {
		c.Storage.Blob.Redis.Prefix = "ageeeent:blob:"
	}
	if c.Storage.Experience.Driver == "" {
		c.Storage.Experience.Driver = "file"
	}
	c.Storage.Experience.DataDir = resolvePath(baseDir, c.Storage.Experience.DataDir, filepath.Join(baseDir, "data"))
	if c.Storage.Sessions.Driver == "" {
		c.Storage.Sessions.Driver = "memory"
	}

	if c.Queue.Driver == "" {
		c.Queue.Driver = "memory"
	}
	if c.Queue.Workers <= 0 {
		c.Queue.Workers = 2
	}
	if c.Queue.MaxRetries < 0 {
		c.Queue.MaxRetries = 0
	} else if c.Queue.MaxRetries == 0 {
		c.Queue.MaxRetries = 2
	}
	if c.Queue.Buffer <= 0 {
		c.Queue.Buffer = 64
	}
	if c.Queue.Redis.Queue == "" {
		c.Queue.Redis.Queue = "ageeeent:sessions"
	}
	if c.Queue.Redis.BlockWait <= 0 {
		c.Queue.Redis.BlockWait = 5
	}
	if c.Queue.RabbitMQ.Queue == "" {
		c.Queue.RabbitMQ.Queue = "ageeeent.sessions"
	}
	if c.Queue.RabbitMQ.Prefetch <= 0 {
		c.Queue.RabbitMQ.Prefetch = c.Queue.Workers
	}

	if c.Tools.WebSearch.TimeoutSeconds <= 0 {
		c.Tools.WebSearch.TimeoutSeconds = 15
	}
	if c.Tools.StructuredData.TimeoutSeconds <= 0 {
		c.Tools.StructuredData.TimeoutSeconds = 15
	}
	if c.Tools.Knowledge.MaxResults <= 0 {
		c.Tools.Knowledge.MaxResults = 3
	}
	if c.Tools.Knowledge.Source != "" {
		c.Tools.Knowledge.Source = resolvePath(baseDir, c.Tools.Knowledge.Source, "")
	}
	if c.Tools.Chain.NetworksFile != "" {
		c.Tools.Chain.NetworksFile = resolvePath(baseDir, c.Tools.Chain.NetworksFile, "")
	}
	for i := range c.Tools.Plugins {
		c.Tools.Plugins[i].Path = resolvePath(baseDir, c.Tools.Plugins[i].Path, "")
	}
}

func resolvePath(baseDir, value, fallback string) string {
	if value == "" {
		return fallback
	}
	if filepath.IsAbs(value) {
		return value
	}
	return filepath.Join(baseDir, value)
}

func resolveSecret(value, env string) string {
	if value != "" {
		return value
	}
	if env == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(env))
}
