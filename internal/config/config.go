// Package config loads the plane's configuration into a single immutable
// snapshot at construction time. There is no global mutable configuration:
// "reconfiguration" means building a new Config and recomposing the
// components that depend on it.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Queue      QueueConfig      `yaml:"queue"`
	Agents     AgentsConfig     `yaml:"agents"`
	Snapshots  SnapshotsConfig  `yaml:"snapshots"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Notify     NotifyConfig     `yaml:"notify"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Database   DatabaseConfig   `yaml:"database"`
	Logging    LoggingConfig    `yaml:"logging"`
	Auth       AuthConfig       `yaml:"auth"`
	Tracing    TracingConfig    `yaml:"tracing"`
}

// AuthConfig drives the glue layer's token check. Authentication proper is
// an external concern; this is the minimal deployment-ready stand-in the
// composition root wires when nothing richer is plugged in.
type AuthConfig struct {
	// APIToken is the shared bearer token; empty disables the built-in
	// authenticator (every request is rejected until one is wired).
	APIToken string `yaml:"api_token"`

	// AdminUsers lists user ids granted admin scope.
	AdminUsers []string `yaml:"admin_users"`
}

// TracingConfig selects the OpenTelemetry service identity.
type TracingConfig struct {
	ServiceName    string  `yaml:"service_name"`
	ServiceVersion string  `yaml:"service_version"`
	Environment    string  `yaml:"environment"`
	SamplingRate   float64 `yaml:"sampling_rate"`
}

// ServerConfig controls the thin HTTP/WS transport glue.
type ServerConfig struct {
	Host        string `yaml:"host"`
	HTTPPort    int    `yaml:"http_port"`
	MetricsPort int    `yaml:"metrics_port"`
}

// QueueConfig controls the queue scheduler.
type QueueConfig struct {
	// SimilarityThreshold is the acceptance threshold (0-100) a snapshot
	// match must clear for enqueue to build a cache-hit job.
	SimilarityThreshold float64 `yaml:"similarity_threshold"`

	// CacheableRoutingCommands lists routing commands eligible for
	// snapshot caching.
	CacheableRoutingCommands []string `yaml:"cacheable_routing_commands"`

	// WorkerPollInterval is how often the worker loop checks todo when
	// idle.
	WorkerPollInterval time.Duration `yaml:"worker_poll_interval"`

	// TerminalRetention is how long done/dead jobs stay in memory before
	// the prune cron drops them (the durable archive keeps the record).
	TerminalRetention time.Duration `yaml:"terminal_retention"`

	// PruneSchedule is the cron expression driving terminal-queue pruning.
	PruneSchedule string `yaml:"prune_schedule"`
}

// PerCommand is the capability entry for one routing command: which model,
// prompt template, and serialization topic it uses, what response fields
// it yields, and how its answers are formatted, parsed, and cached.
type PerCommand struct {
	RoutingCommand     string   `yaml:"routing_command"`
	LLMSpecKey         string   `yaml:"llm_spec_key"`
	PromptTemplate     string   `yaml:"prompt_template"`
	SerializationTopic string   `yaml:"serialization_topic"`
	ExpectedFields     []string `yaml:"expected_fields"`
	FormatterMode      string   `yaml:"formatter_mode"` // "rephrase" | "terse"
	ProducesCode       bool     `yaml:"produces_code"`
	Cacheable          bool     `yaml:"cacheable"`
	ParseStrategy      string   `yaml:"parse_strategy"` // "baseline" | "structured" | "hybrid"
}

// AgentsConfig controls the agent core.
type AgentsConfig struct {
	Commands []PerCommand `yaml:"commands"`

	// DefaultRoutingCommand handles questions no richer router claims.
	// Falls back to the first configured command when empty.
	DefaultRoutingCommand string `yaml:"default_routing_command"`

	// DebugMinimalistModels is the cheap-model list for the first
	// auto-debug pass.
	DebugMinimalistModels []string `yaml:"debug_minimalist_models"`

	// DebugFullModels is the escalation list for the second auto-debug
	// pass.
	DebugFullModels []string `yaml:"debug_full_models"`

	// DebugMaxAttemptsPerModel bounds retries within a single pass.
	DebugMaxAttemptsPerModel int `yaml:"debug_max_attempts_per_model"`

	// SandboxTimeout bounds a single code execution.
	SandboxTimeout time.Duration `yaml:"sandbox_timeout"`

	// PythonInterpreter is the binary generated code runs under.
	PythonInterpreter string `yaml:"python_interpreter"`

	// WorkspaceRoot is where per-run sandbox workspaces are created.
	WorkspaceRoot string `yaml:"workspace_root"`

	// TemplateRoot is the directory prompt template paths resolve against.
	TemplateRoot string `yaml:"template_root"`

	// AnthropicAPIKey and OpenAIAPIKey fall back to the ANTHROPIC_API_KEY /
	// OPENAI_API_KEY environment variables when empty.
	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	OpenAIAPIKey    string `yaml:"openai_api_key"`
}

// SnapshotsConfig controls the snapshot store.
type SnapshotsConfig struct {
	// RootDir is {root}/src/conf/long-term-memory/solutions.
	RootDir string `yaml:"root_dir"`

	// WorldWritable widens snapshot file permissions to 0666. Off by
	// default; a deployment must opt in explicitly.
	WorldWritable bool `yaml:"world_writable"`

	// VectorIndexEnabled turns on the optional qdrant-backed accelerator
	// index alongside the flat-file source of truth.
	VectorIndexEnabled bool   `yaml:"vector_index_enabled"`
	VectorIndexAddr    string `yaml:"vector_index_addr"`
}

// EmbeddingsConfig controls the embedding service.
type EmbeddingsConfig struct {
	Model             string `yaml:"model"`
	Dimension         int    `yaml:"dimension"`
	NormalizeForCache bool   `yaml:"normalize_for_cache"`
	AsyncIOLog        bool   `yaml:"async_io_log"`
	ParseStrategy     string `yaml:"parse_strategy"`
	RedisAddr         string `yaml:"redis_addr"`
	OpenAIAPIKey      string `yaml:"openai_api_key"`
	OllamaBaseURL     string `yaml:"ollama_base_url"`
}

// NotifyConfig holds notification-hub settings. The hub does not read
// these values: its send buffer, pong wait and ping period are fixed
// constants in internal/notify/ws.go.
type NotifyConfig struct {
	SendBufferSize int           `yaml:"send_buffer_size"`
	PongWait       time.Duration `yaml:"pong_wait"`
	PingInterval   time.Duration `yaml:"ping_interval"`
}

// PipelineConfig controls the pipeline orchestrator.
type PipelineConfig struct {
	BudgetUSD float64 `yaml:"budget_usd"`

	// RoutingCommand registers the chained pipeline as a job family under
	// this command. Empty leaves the pipeline unwired.
	RoutingCommand string `yaml:"routing_command"`

	StageA PipelineStageConfig `yaml:"stage_a"`
	StageB PipelineStageConfig `yaml:"stage_b"`
}

// PipelineStageConfig selects the agent family one pipeline stage runs and
// which job artifact holds that stage's primary output.
type PipelineStageConfig struct {
	Name           string `yaml:"name"`
	RoutingCommand string `yaml:"routing_command"`
	ArtifactKey    string `yaml:"artifact_key"`
}

// DatabaseConfig is the Postgres/CockroachDB connection used by the durable
// store implementations.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxConnections  int           `yaml:"max_connections"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" | "text"
}

// Load reads .env overrides then a YAML file into a Config, applying
// defaults for anything left zero.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.HTTPPort == 0 {
		c.Server.HTTPPort = 8080
	}
	if c.Queue.SimilarityThreshold == 0 {
		c.Queue.SimilarityThreshold = 92.0
	}
	if c.Queue.WorkerPollInterval == 0 {
		c.Queue.WorkerPollInterval = 250 * time.Millisecond
	}
	if c.Agents.DebugMaxAttemptsPerModel == 0 {
		c.Agents.DebugMaxAttemptsPerModel = 2
	}
	if c.Agents.SandboxTimeout == 0 {
		c.Agents.SandboxTimeout = 30 * time.Second
	}
	if c.Agents.PythonInterpreter == "" {
		c.Agents.PythonInterpreter = "python3"
	}
	if c.Queue.TerminalRetention == 0 {
		c.Queue.TerminalRetention = 24 * time.Hour
	}
	if c.Queue.PruneSchedule == "" {
		c.Queue.PruneSchedule = "@hourly"
	}
	if c.Snapshots.RootDir == "" {
		c.Snapshots.RootDir = "src/conf/long-term-memory/solutions"
	}
	if c.Embeddings.Dimension == 0 {
		c.Embeddings.Dimension = 1536
	}
	if c.Notify.SendBufferSize == 0 {
		c.Notify.SendBufferSize = 64
	}
	if c.Notify.PongWait == 0 {
		c.Notify.PongWait = 45 * time.Second
	}
	if c.Notify.PingInterval == 0 {
		c.Notify.PingInterval = 15 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// CommandFor resolves the capability entry registered for a routing
// command.
func (c *AgentsConfig) CommandFor(routingCommand string) (PerCommand, bool) {
	for _, cmd := range c.Commands {
		if cmd.RoutingCommand == routingCommand {
			return cmd, true
		}
	}
	return PerCommand{}, false
}
