// Package config 负责加载和校验应用程序的配置。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
// 由 Load 返回后显式传入各组件的构造函数，不存在全局配置变量。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Log           LogConfig           `mapstructure:"log"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Labeler       LabelerConfig       `mapstructure:"labeler"`
	Retry         RetryConfig         `mapstructure:"retry"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Search        SearchConfig        `mapstructure:"search"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	JWT           JWTConfig           `mapstructure:"jwt"`
}

// ServerConfig 存储查询服务相关的配置。
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// LLMConfig 存储视觉模型服务相关的配置。
type LLMConfig struct {
	APIKey         string  `mapstructure:"api_key"`
	BaseURL        string  `mapstructure:"base_url"`
	Model          string  `mapstructure:"model"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	Temperature    float64 `mapstructure:"temperature"`
	MaxTokens      int     `mapstructure:"max_tokens"`
}

// Timeout 返回单次模型调用的超时时间。
func (c LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// LabelerConfig 存储标注流水线的运行参数。
type LabelerConfig struct {
	ImageDir       string `mapstructure:"image_dir"`
	EquipmentType  string `mapstructure:"equipment_type"`
	MaxConcurrency int    `mapstructure:"max_concurrency"`
	BatchSize      int    `mapstructure:"batch_size"`
	OutputPath     string `mapstructure:"output_path"`
	Debug          bool   `mapstructure:"debug"`
	DebugLimit     int    `mapstructure:"debug_limit"`
}

// RetryConfig 对应模型调用的重试策略。
type RetryConfig struct {
	MaxAttempts      int     `mapstructure:"max_attempts"`
	InitialBackoffMs int     `mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `mapstructure:"max_backoff_ms"`
	Multiplier       float64 `mapstructure:"multiplier"`
	JitterFraction   float64 `mapstructure:"jitter_fraction"`
}

// StorageConfig 选择 PersistedStore 的实现。
// driver: csv | sqlite | mysql
type StorageConfig struct {
	Driver      string `mapstructure:"driver"`
	SQLitePath  string `mapstructure:"sqlite_path"`
	FailureLog  string `mapstructure:"failure_log"`
	ArchiveToS3 bool   `mapstructure:"archive_to_s3"`
}

// SearchConfig 存储查询服务的数据来源和参数。
// source: store | minio
type SearchConfig struct {
	Source      string `mapstructure:"source"`
	CSVPath     string `mapstructure:"csv_path"`
	ObjectName  string `mapstructure:"object_name"`
	DefaultTopK int    `mapstructure:"default_top_k"`
	MaxTopK     int    `mapstructure:"max_top_k"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。Addr 为空表示不启用。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// KafkaConfig 存储 Kafka 相关的配置。Brokers 为空表示不启用。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。Addresses 为空表示不启用。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。Endpoint 为空表示不启用。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// JWTConfig 存储管理接口 JWT 的配置。
type JWTConfig struct {
	Secret           string `mapstructure:"secret"`
	TokenExpireHours int    `mapstructure:"token_expire_hours"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "9000")
	v.SetDefault("server.mode", "release")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("llm.base_url", "http://localhost:11434/v1")
	v.SetDefault("llm.model", "qwen3-vl:8b-thinking")
	v.SetDefault("llm.timeout_seconds", 300)
	v.SetDefault("llm.temperature", 0.2)

	v.SetDefault("labeler.max_concurrency", 10)
	v.SetDefault("labeler.batch_size", 50)
	v.SetDefault("labeler.output_path", "equipment_labels.csv")
	v.SetDefault("labeler.debug_limit", 10)

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 1000)
	v.SetDefault("retry.max_backoff_ms", 30000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.2)

	v.SetDefault("storage.driver", "csv")
	v.SetDefault("storage.sqlite_path", "equipment_labels.db")
	v.SetDefault("storage.failure_log", "")

	v.SetDefault("search.source", "store")
	v.SetDefault("search.csv_path", "")
	v.SetDefault("search.object_name", "snapshots/equipment_labels.csv")
	v.SetDefault("search.default_top_k", 10)
	v.SetDefault("search.max_top_k", 100)

	v.SetDefault("kafka.topic", "lexicon-label-batches")
	v.SetDefault("kafka.group_id", "lexicon-query-service")

	v.SetDefault("elasticsearch.index_name", "equipment_labels")
	v.SetDefault("minio.bucket_name", "lexicon")

	v.SetDefault("jwt.token_expire_hours", 24)

	// 无默认值的键也要登记，否则仅由环境变量提供时 Unmarshal 看不到
	for _, key := range []string{
		"log.output_path", "llm.api_key", "labeler.image_dir", "labeler.equipment_type",
		"database.mysql.dsn", "database.redis.addr", "database.redis.password", "kafka.brokers",
		"elasticsearch.addresses", "elasticsearch.username", "elasticsearch.password",
		"minio.endpoint", "minio.access_key_id", "minio.secret_access_key", "jwt.secret",
	} {
		v.SetDefault(key, "")
	}
	for _, key := range []string{"llm.max_tokens", "database.redis.db"} {
		v.SetDefault(key, 0)
	}
	for _, key := range []string{"labeler.debug", "storage.archive_to_s3", "minio.use_ssl"} {
		v.SetDefault(key, false)
	}
}

// 旧版部署中直接使用的环境变量，继续兼容。
var legacyEnv = map[string]string{
	"search.csv_path":         "CSV_PATH",
	"llm.base_url":            "OLLAMA_HOST",
	"llm.model":               "OLLAMA_MODEL",
	"llm.api_key":             "API_KEY",
	"labeler.debug":           "DEBUG",
	"server.host":             "HOST",
	"server.port":             "PORT",
	"database.redis.addr":     "REDIS_ADDR",
	"kafka.brokers":           "KAFKA_BROKERS",
	"elasticsearch.addresses": "ES_ADDRESSES",
}

// Load 读取 .env 与 YAML 配置文件，返回解析后的配置。
// configPath 为空或文件不存在时只使用默认值和环境变量。
func Load(configPath string) (*Config, error) {
	// .env 不存在不算错误
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("LEXICON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		if err := v.BindEnv(key, "LEXICON_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("绑定环境变量 %s 失败: %w", env, err)
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("读取配置文件失败: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	cfg.LLM.BaseURL = NormalizeBaseURL(cfg.LLM.BaseURL)
	return &cfg, nil
}

// NormalizeBaseURL 兼容 OLLAMA_HOST 这类只有 host:port 的地址，补全协议和 /v1。
func NormalizeBaseURL(raw string) string {
	raw = strings.TrimRight(strings.TrimSpace(raw), "/")
	if raw == "" {
		return raw
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if u.Path == "" {
		u.Path = "/v1"
	}
	return u.String()
}

// Validate 检查不可能成立的配置组合。
func (c *Config) Validate() error {
	if c.Labeler.MaxConcurrency < 1 {
		return fmt.Errorf("labeler.max_concurrency 必须大于 0, 当前为 %d", c.Labeler.MaxConcurrency)
	}
	if c.Labeler.BatchSize < 1 {
		return fmt.Errorf("labeler.batch_size 必须大于 0, 当前为 %d", c.Labeler.BatchSize)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts 必须大于 0, 当前为 %d", c.Retry.MaxAttempts)
	}
	switch c.Storage.Driver {
	case "csv", "sqlite":
	case "mysql":
		if c.Database.MySQL.DSN == "" {
			return errors.New("storage.driver=mysql 时必须配置 database.mysql.dsn")
		}
	default:
		return fmt.Errorf("未知的 storage.driver: %q", c.Storage.Driver)
	}
	switch c.Search.Source {
	case "store":
	case "minio":
		if c.MinIO.Endpoint == "" {
			return errors.New("search.source=minio 时必须配置 minio.endpoint")
		}
	default:
		return fmt.Errorf("未知的 search.source: %q", c.Search.Source)
	}
	if c.Search.DefaultTopK < 1 || c.Search.MaxTopK < c.Search.DefaultTopK {
		return fmt.Errorf("search.default_top_k/max_top_k 配置无效: %d/%d", c.Search.DefaultTopK, c.Search.MaxTopK)
	}
	return nil
}

// ValidateLabeler 在 Validate 的基础上检查标注运行必需的参数。
func (c *Config) ValidateLabeler() error {
	if strings.TrimSpace(c.Labeler.ImageDir) == "" {
		return errors.New("必须指定图片目录 (--dir 或 labeler.image_dir)")
	}
	if strings.TrimSpace(c.Labeler.EquipmentType) == "" {
		return errors.New("必须指定装备类型 (--type 或 labeler.equipment_type)")
	}
	return c.Validate()
}

// RecordsPath 返回查询服务读取的 csv 路径，未单独配置时与标注输出一致。
func (c *Config) RecordsPath() string {
	if c.Search.CSVPath != "" {
		return c.Search.CSVPath
	}
	return c.Labeler.OutputPath
}

// ReloadsOnBatchEvents 表示查询服务是否应消费批次事件来重载快照。
// MinIO 快照只在标注运行结束时上传，逐批重载读到的仍是旧对象。
func (c *Config) ReloadsOnBatchEvents() bool {
	return c.Kafka.Brokers != "" && c.Search.Source != "minio"
}

// FailureLogPath 返回失败记录文件的位置。
func (c *Config) FailureLogPath() string {
	if c.Storage.FailureLog != "" {
		return c.Storage.FailureLog
	}
	return c.Labeler.OutputPath + ".failures.json"
}
