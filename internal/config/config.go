// Package config loads server configuration: defaults -> TOML file -> env
// vars (env wins). Env variable names are the authoritative interface; the
// TOML file is a convenience for local development.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	HTTP      HTTPConfig      `toml:"http"`
	LLM       LLMConfig       `toml:"llm"`
	Storage   StorageConfig   `toml:"storage"`
	Engine    EngineConfig    `toml:"engine"`
	Lineage   LineageConfig   `toml:"lineage"`
	Broadcast BroadcastConfig `toml:"broadcast"`
	Queue     QueueConfig     `toml:"queue"`
	Tools     ToolsConfig     `toml:"tools"`
	Observer  ObserverConfig  `toml:"observer"`
}

type HTTPConfig struct {
	Addr              string `toml:"addr"`
	HeartbeatInterval int    `toml:"heartbeat_interval"` // seconds
}

type LLMConfig struct {
	Provider      string `toml:"provider"`
	Model         string `toml:"model"`
	AnthropicKey  string `toml:"anthropic_api_key"`
	OpenAIKey     string `toml:"openai_api_key"`
	GoogleKey     string `toml:"google_api_key"`
	OllamaBaseURL string `toml:"ollama_base_url"`
}

type StorageConfig struct {
	Backend        string `toml:"backend"` // "memory" or "postgres"
	DatabaseURL    string `toml:"database_url"`
	CheckpointPath string `toml:"checkpoint_path"` // empty = no durable checkpoints
	MemoryDBPath   string `toml:"memory_db_path"`
}

type EngineConfig struct {
	MaxRevisions        int `toml:"max_revisions"`
	GraphTimeoutSeconds int `toml:"graph_timeout_seconds"`
	RateLimitRPM        int `toml:"rate_limit_rpm"`
}

type LineageConfig struct {
	MaxTaskDepth          int  `toml:"max_task_depth"`
	MaxChildTasksPerTask  int  `toml:"max_child_tasks_per_task"`
	MaxTotalAutoTasks     int  `toml:"max_total_auto_tasks"`
	AllowAutoTaskCreation bool `toml:"allow_auto_task_creation"`
}

type BroadcastConfig struct {
	ErrorDelay    int `toml:"error_delay"` // seconds
	MaxErrorCount int `toml:"max_error_count"`
}

type QueueConfig struct {
	Enabled bool   `toml:"enabled"`
	NATSURL string `toml:"nats_url"`
}

type ToolsConfig struct {
	Enabled        bool   `toml:"enabled"`
	WorkspaceDir   string `toml:"workspace_dir"`
	SandboxMode    string `toml:"sandbox_mode"` // "local" or "docker"
	SandboxImage   string `toml:"sandbox_image"`
	SandboxNetwork bool   `toml:"sandbox_network"`
	SandboxTimeout int    `toml:"sandbox_timeout"` // seconds
}

type ObserverConfig struct {
	Enabled bool `toml:"enabled"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		HTTP: HTTPConfig{Addr: ":8000", HeartbeatInterval: 30},
		LLM: LLMConfig{
			Provider:      "anthropic",
			OllamaBaseURL: "http://localhost:11434",
		},
		Storage: StorageConfig{Backend: "memory"},
		Engine: EngineConfig{
			MaxRevisions:        3,
			GraphTimeoutSeconds: 600,
			RateLimitRPM:        60,
		},
		Lineage: LineageConfig{
			MaxTaskDepth:          3,
			MaxChildTasksPerTask:  5,
			MaxTotalAutoTasks:     20,
			AllowAutoTaskCreation: true,
		},
		Broadcast: BroadcastConfig{ErrorDelay: 30, MaxErrorCount: 5},
		Queue:     QueueConfig{NATSURL: "nats://127.0.0.1:4222"},
		Tools: ToolsConfig{
			Enabled:        true,
			WorkspaceDir:   "./workspace",
			SandboxMode:    "local",
			SandboxImage:   "python:3.12-slim",
			SandboxTimeout: 120,
		},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "foreman.toml"
	}
	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	// Env overrides
	setString(&cfg.HTTP.Addr, "HTTP_ADDR")
	setSeconds(&cfg.HTTP.HeartbeatInterval, "WS_HEARTBEAT_INTERVAL")

	setString(&cfg.LLM.Provider, "LLM_PROVIDER")
	setString(&cfg.LLM.Model, "LLM_MODEL")
	setString(&cfg.LLM.AnthropicKey, "ANTHROPIC_API_KEY")
	setString(&cfg.LLM.OpenAIKey, "OPENAI_API_KEY")
	setString(&cfg.LLM.GoogleKey, "GOOGLE_API_KEY")
	setString(&cfg.LLM.OllamaBaseURL, "OLLAMA_BASE_URL")

	setString(&cfg.Storage.Backend, "STORAGE_BACKEND")
	setString(&cfg.Storage.DatabaseURL, "DATABASE_URL")
	setString(&cfg.Storage.CheckpointPath, "CHECKPOINT_PATH")
	setString(&cfg.Storage.MemoryDBPath, "MEMORY_DB_PATH")

	setInt(&cfg.Engine.MaxRevisions, "MAX_REVISIONS")
	setInt(&cfg.Engine.GraphTimeoutSeconds, "GRAPH_TIMEOUT_SECONDS")
	setInt(&cfg.Engine.RateLimitRPM, "RATE_LIMIT_RPM")

	setInt(&cfg.Lineage.MaxTaskDepth, "MAX_TASK_DEPTH")
	setInt(&cfg.Lineage.MaxChildTasksPerTask, "MAX_CHILD_TASKS_PER_TASK")
	setInt(&cfg.Lineage.MaxTotalAutoTasks, "MAX_TOTAL_AUTO_TASKS")
	setBool(&cfg.Lineage.AllowAutoTaskCreation, "ALLOW_AUTO_TASK_CREATION")

	setSeconds(&cfg.Broadcast.ErrorDelay, "BROADCAST_ERROR_DELAY")
	setInt(&cfg.Broadcast.MaxErrorCount, "MAX_BROADCAST_ERROR_COUNT")

	setBool(&cfg.Queue.Enabled, "USE_QUEUE")
	setString(&cfg.Queue.NATSURL, "NATS_URL")

	setBool(&cfg.Tools.Enabled, "ENABLE_AGENT_TOOLS")
	setString(&cfg.Tools.WorkspaceDir, "WORKSPACE_DIR")
	setString(&cfg.Tools.SandboxMode, "SANDBOX_MODE")
	setString(&cfg.Tools.SandboxImage, "SANDBOX_IMAGE")
	setBool(&cfg.Tools.SandboxNetwork, "SANDBOX_NETWORK")
	setSeconds(&cfg.Tools.SandboxTimeout, "SANDBOX_TIMEOUT")

	setBool(&cfg.Observer.Enabled, "OBSERVER_ENABLED")

	return cfg
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// setSeconds accepts either a bare integer ("30") or a Go duration ("30s").
func setSeconds(dst *int, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = n
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = int(d.Seconds())
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
