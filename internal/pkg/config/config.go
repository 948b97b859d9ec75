package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App         AppConfig
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Queue       QueueConfig
	Engine      EngineConfig
	Retry       RetryConfig
	Subworkflow SubworkflowConfig
	Snapshot    SnapshotConfig
	Catalog     CatalogConfig
	Connectors  map[string]ConnectorConfig
	Archive     ArchiveConfig
	JWT         JWTConfig
}

type AppConfig struct {
	Name        string
	Environment string
	Debug       bool
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// QueueConfig tunes the asynq worker pool that drains execution tasks.
type QueueConfig struct {
	Concurrency  int
	Queues       map[string]int
	RetryTimeout time.Duration
}

// EngineConfig holds the conductor's runtime limits.
type EngineConfig struct {
	MaxParallelActions     int
	DefaultActionTimeout   time.Duration
	DefaultWorkflowTimeout time.Duration
	TemplateTimeout        time.Duration
	ConditionTimeout       time.Duration
}

type RetryConfig struct {
	MaxRetryAttempts int
	InitialDelay     time.Duration
	BackoffFactor    float64
	Jitter           bool
}

type SubworkflowConfig struct {
	MaxNestingDepth     int
	AllowRecursion      bool
	DefaultChildTimeout time.Duration
}

// Snapshot pruning modes.
const (
	SnapshotModeFull        = "full"
	SnapshotModeSummaryOnly = "summary_only"
	SnapshotModeKeysOnly    = "keys_only"
)

// Snapshot overflow behaviors.
const (
	OverflowFail            = "fail"
	OverflowAutoPruneOldest = "auto_prune_oldest"
	OverflowDropOversize    = "drop_oversize"
)

type SnapshotConfig struct {
	Mode                string
	KeysToInclude       []string
	MaxContextSizeBytes int
	OverflowBehavior    string
}

type CatalogConfig struct {
	AutoRegisterActionsOnStartup   bool
	ValidateActionSchemasOnStartup bool
	AllowDraftExecution            bool
}

type ConnectorConfig struct {
	URL string
}

type ArchiveConfig struct {
	Enabled bool
	Bucket  string
	Region  string
}

type JWTConfig struct {
	Secret string
	Issuer string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config

	cfg.App.Name = viper.GetString("app.name")
	cfg.App.Environment = viper.GetString("app.environment")
	cfg.App.Debug = viper.GetBool("app.debug")

	cfg.Server.Host = viper.GetString("server.host")
	cfg.Server.Port = viper.GetInt("server.port")
	cfg.Server.ReadTimeout = viper.GetDuration("server.read_timeout")
	cfg.Server.WriteTimeout = viper.GetDuration("server.write_timeout")
	cfg.Server.IdleTimeout = viper.GetDuration("server.idle_timeout")

	cfg.Database.Host = viper.GetString("database.host")
	cfg.Database.Port = viper.GetInt("database.port")
	cfg.Database.User = viper.GetString("database.user")
	cfg.Database.Password = viper.GetString("database.password")
	cfg.Database.Name = viper.GetString("database.name")
	cfg.Database.SSLMode = viper.GetString("database.ssl_mode")
	cfg.Database.MaxOpenConns = viper.GetInt("database.max_open_conns")
	cfg.Database.MaxIdleConns = viper.GetInt("database.max_idle_conns")
	cfg.Database.ConnMaxLifetime = viper.GetDuration("database.conn_max_lifetime")

	cfg.Redis.Host = viper.GetString("redis.host")
	cfg.Redis.Port = viper.GetInt("redis.port")
	cfg.Redis.Password = viper.GetString("redis.password")
	cfg.Redis.DB = viper.GetInt("redis.db")

	cfg.Queue.Concurrency = viper.GetInt("queue.concurrency")
	cfg.Queue.RetryTimeout = viper.GetDuration("queue.retry_timeout")
	cfg.Queue.Queues = make(map[string]int)
	for name := range viper.GetStringMap("queue.queues") {
		cfg.Queue.Queues[name] = viper.GetInt(fmt.Sprintf("queue.queues.%s", name))
	}
	if len(cfg.Queue.Queues) == 0 {
		cfg.Queue.Queues = map[string]int{"executions": 10, "default": 5}
	}

	cfg.Engine.MaxParallelActions = viper.GetInt("engine.max_parallel_actions")
	cfg.Engine.DefaultActionTimeout = viper.GetDuration("engine.default_action_timeout")
	cfg.Engine.DefaultWorkflowTimeout = viper.GetDuration("engine.default_workflow_timeout")
	cfg.Engine.TemplateTimeout = viper.GetDuration("engine.template_timeout")
	cfg.Engine.ConditionTimeout = viper.GetDuration("engine.condition_timeout")

	cfg.Retry.MaxRetryAttempts = viper.GetInt("retry.max_retry_attempts")
	cfg.Retry.InitialDelay = viper.GetDuration("retry.initial_delay")
	cfg.Retry.BackoffFactor = viper.GetFloat64("retry.backoff_factor")
	cfg.Retry.Jitter = viper.GetBool("retry.jitter")

	cfg.Subworkflow.MaxNestingDepth = viper.GetInt("subworkflow.max_nesting_depth")
	cfg.Subworkflow.AllowRecursion = viper.GetBool("subworkflow.allow_recursion")
	cfg.Subworkflow.DefaultChildTimeout = viper.GetDuration("subworkflow.default_child_timeout")

	cfg.Snapshot.Mode = viper.GetString("snapshot.mode")
	cfg.Snapshot.KeysToInclude = viper.GetStringSlice("snapshot.keys_to_include")
	cfg.Snapshot.MaxContextSizeBytes = viper.GetInt("snapshot.max_context_size_bytes")
	cfg.Snapshot.OverflowBehavior = viper.GetString("snapshot.overflow_behavior")

	cfg.Catalog.AutoRegisterActionsOnStartup = viper.GetBool("catalog.auto_register_actions_on_startup")
	cfg.Catalog.ValidateActionSchemasOnStartup = viper.GetBool("catalog.validate_action_schemas_on_startup")
	cfg.Catalog.AllowDraftExecution = viper.GetBool("catalog.allow_draft_execution")

	cfg.Connectors = make(map[string]ConnectorConfig)
	for id := range viper.GetStringMap("connectors") {
		cfg.Connectors[id] = ConnectorConfig{
			URL: viper.GetString(fmt.Sprintf("connectors.%s.url", id)),
		}
	}

	cfg.Archive.Enabled = viper.GetBool("archive.enabled")
	cfg.Archive.Bucket = viper.GetString("archive.bucket")
	cfg.Archive.Region = viper.GetString("archive.region")

	cfg.JWT.Secret = viper.GetString("jwt.secret")
	cfg.JWT.Issuer = viper.GetString("jwt.issuer")

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("app.name", "flowline")
	viper.SetDefault("app.environment", "development")
	viper.SetDefault("app.debug", false)

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 15*time.Second)
	viper.SetDefault("server.write_timeout", 30*time.Second)
	viper.SetDefault("server.idle_timeout", 60*time.Second)

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "flowline")
	viper.SetDefault("database.name", "flowline")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("queue.concurrency", 20)
	viper.SetDefault("queue.retry_timeout", time.Hour)

	viper.SetDefault("engine.max_parallel_actions", 10)
	viper.SetDefault("engine.default_action_timeout", 5*time.Minute)
	viper.SetDefault("engine.default_workflow_timeout", time.Hour)
	viper.SetDefault("engine.template_timeout", 2*time.Second)
	viper.SetDefault("engine.condition_timeout", 2*time.Second)

	viper.SetDefault("retry.max_retry_attempts", 3)
	viper.SetDefault("retry.initial_delay", 2*time.Second)
	viper.SetDefault("retry.backoff_factor", 2.0)
	viper.SetDefault("retry.jitter", true)

	viper.SetDefault("subworkflow.max_nesting_depth", 5)
	viper.SetDefault("subworkflow.allow_recursion", false)
	viper.SetDefault("subworkflow.default_child_timeout", time.Hour)

	viper.SetDefault("snapshot.mode", SnapshotModeFull)
	viper.SetDefault("snapshot.max_context_size_bytes", 10*1024*1024)
	viper.SetDefault("snapshot.overflow_behavior", OverflowDropOversize)

	viper.SetDefault("catalog.auto_register_actions_on_startup", true)
	viper.SetDefault("catalog.validate_action_schemas_on_startup", false)
	viper.SetDefault("catalog.allow_draft_execution", false)

	viper.SetDefault("archive.enabled", false)
}
