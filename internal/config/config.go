// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	Log           LogConfig           `mapstructure:"log"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Tika          TikaConfig          `mapstructure:"tika"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Ingestion     IngestionConfig     `mapstructure:"ingestion"`
	Retrieval     RetrievalConfig     `mapstructure:"retrieval"`
	Chat          ChatConfig          `mapstructure:"chat"`
	Seed          SeedConfig          `mapstructure:"seed"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig 存储所有数据库连接的配置。Driver 为 mysql 或 sqlite。
type DatabaseConfig struct {
	Driver string       `mapstructure:"driver"`
	MySQL  MySQLConfig  `mapstructure:"mysql"`
	SQLite SQLiteConfig `mapstructure:"sqlite"`
	Redis  RedisConfig  `mapstructure:"redis"`
}

type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// JWTConfig 存储 JWT 校验相关的配置。令牌由外部身份服务签发。
type JWTConfig struct {
	Secret                 string `mapstructure:"secret"`
	AccessTokenExpireHours int    `mapstructure:"access_token_expire_hours"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 仅在 ingestion.dispatcher=kafka 时使用。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

type TikaConfig struct {
	ServerURL string        `mapstructure:"server_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// ElasticsearchConfig 存储向量索引相关的配置。
type ElasticsearchConfig struct {
	Addresses          string `mapstructure:"addresses"`
	Username           string `mapstructure:"username"`
	Password           string `mapstructure:"password"`
	IndexName          string `mapstructure:"index_name"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify"`
}

// MinIOConfig 存储原始文件对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// EmbeddingConfig 存储 Embedding 服务相关的配置。Provider 为 openai 或 gemini。
type EmbeddingConfig struct {
	Provider    string        `mapstructure:"provider"`
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	Dimensions  int           `mapstructure:"dimensions"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Concurrency int           `mapstructure:"concurrency"`
}

// LLMConfig 存储生成服务相关的配置。Provider 为 openai 或 gemini。
type LLMConfig struct {
	Provider   string              `mapstructure:"provider"`
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Model      string              `mapstructure:"model"`
	Timeout    time.Duration       `mapstructure:"timeout"`
	Generation LLMGenerationConfig `mapstructure:"generation"`
	Prompt     LLMPromptConfig     `mapstructure:"prompt"`
}

// LLMGenerationConfig 配置生成相关参数（可选，零值表示使用服务端默认）。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// LLMPromptConfig 配置系统提示与上下文包裹格式。
type LLMPromptConfig struct {
	Rules        string `mapstructure:"rules"`
	RefStart     string `mapstructure:"ref_start"`
	RefEnd       string `mapstructure:"ref_end"`
	NoResultText string `mapstructure:"no_result_text"`
}

// IngestionConfig 控制上传校验、后台处理池与分块参数。
type IngestionConfig struct {
	Dispatcher          string        `mapstructure:"dispatcher"`
	Workers             int           `mapstructure:"workers"`
	QueueSize           int           `mapstructure:"queue_size"`
	MaxFileSize         int64         `mapstructure:"max_file_size"`
	AllowedExtensions   []string      `mapstructure:"allowed_extensions"`
	Extractor           string        `mapstructure:"extractor"`
	DefaultLanguage     string        `mapstructure:"default_language"`
	LanguageSampleRunes int           `mapstructure:"language_sample_runes"`
	ProcessTimeout      time.Duration `mapstructure:"process_timeout"`
	ShutdownTimeout     time.Duration `mapstructure:"shutdown_timeout"`
	DemoOwnerID         string        `mapstructure:"demo_owner_id"`
	Chunk               ChunkConfig   `mapstructure:"chunk"`
}

type ChunkConfig struct {
	MaxLength int `mapstructure:"max_length"`
	Overlap   int `mapstructure:"overlap"`
}

type RetrievalConfig struct {
	TopK          int `mapstructure:"top_k"`
	NumCandidates int `mapstructure:"num_candidates"`
}

// ChatConfig 控制对话历史窗口与持久化。
type ChatConfig struct {
	HistoryWindow  int           `mapstructure:"history_window"`
	HistoryTTL     time.Duration `mapstructure:"history_ttl"`
	PersistTimeout time.Duration `mapstructure:"persist_timeout"`
}

// SeedConfig 指定启动时导入的演示文档目录，为空则跳过。
type SeedConfig struct {
	DemoDir string `mapstructure:"demo_dir"`
}

// setDefaults 注册所有可省略配置项的默认值。
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8081")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.shutdown_timeout", "5s")
	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.sqlite.path", "duoread.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("kafka.topic", "duoread-index-tasks")
	v.SetDefault("kafka.group_id", "duoread-indexer")
	v.SetDefault("tika.timeout", "60s")
	v.SetDefault("elasticsearch.index_name", "duoread_chunks")
	v.SetDefault("minio.bucket_name", "duoread")
	v.SetDefault("embedding.provider", "openai")
	v.SetDefault("embedding.dimensions", 1536)
	v.SetDefault("embedding.timeout", "30s")
	v.SetDefault("embedding.concurrency", 4)
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.timeout", "120s")
	v.SetDefault("llm.prompt.ref_start", "<<REF>>")
	v.SetDefault("llm.prompt.ref_end", "<<END>>")
	v.SetDefault("llm.prompt.no_result_text", "(no relevant passages were retrieved for this turn)")
	v.SetDefault("ingestion.dispatcher", "pool")
	v.SetDefault("ingestion.workers", 2)
	v.SetDefault("ingestion.queue_size", 64)
	v.SetDefault("ingestion.max_file_size", 50<<20)
	v.SetDefault("ingestion.allowed_extensions", []string{".pdf"})
	v.SetDefault("ingestion.extractor", "tika")
	v.SetDefault("ingestion.default_language", "en")
	v.SetDefault("ingestion.language_sample_runes", 10000)
	v.SetDefault("ingestion.process_timeout", "10m")
	v.SetDefault("ingestion.shutdown_timeout", "30s")
	v.SetDefault("ingestion.demo_owner_id", "00000000-0000-0000-0000-000000000001")
	v.SetDefault("ingestion.chunk.max_length", 1000)
	v.SetDefault("ingestion.chunk.overlap", 100)
	v.SetDefault("retrieval.top_k", 5)
	v.SetDefault("retrieval.num_candidates", 100)
	v.SetDefault("chat.history_window", 20)
	v.SetDefault("chat.history_ttl", "168h")
	v.SetDefault("chat.persist_timeout", "5s")
}

// Load 读取指定路径的 YAML 文件，叠加默认值与 DUOREAD_ 前缀的环境变量。
func Load(configPath string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("DUOREAD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.ReadInConfig(); err != nil {
		return cfg, fmt.Errorf("读取配置文件失败: %w", err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	return cfg, nil
}

// Init 加载配置到全局 Conf 变量，失败时直接 panic。
func Init(configPath string) {
	cfg, err := Load(configPath)
	if err != nil {
		panic(err)
	}
	Conf = cfg
}
