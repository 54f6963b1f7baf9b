package config

import (
	"log"

	"github.com/BurntSushi/toml"
)

type MainConfig struct {
	AppName string `toml:"appName"`
	Host    string `toml:"host"`
	Port    int    `toml:"port"`
}

type MysqlConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	User         string `toml:"user"`
	Password     string `toml:"password"`
	DatabaseName string `toml:"databaseName"`
}

type LogConfig struct {
	LogPath string `toml:"logPath"`
}

type JwtConfig struct {
	Key         string `toml:"key"`
	ExpireHours int    `toml:"expireHours"`
	Issuer      string `toml:"issuer"`
}

type MilvusConfig struct {
	Address        string `toml:"address"`
	Username       string `toml:"username"`
	Password       string `toml:"password"`
	DBName         string `toml:"dbName"`
	CollectionName string `toml:"collectionName"`
	MetricType     string `toml:"metricType"`
}

type KafkaConfig struct {
	Brokers         []string `toml:"brokers"`
	ClientID        string   `toml:"clientID"`
	IngestTopic     string   `toml:"ingestTopic"`
	ConsumerGroupID string   `toml:"consumerGroupID"`
	Partitions      int32    `toml:"partitions"`
	Replication     int16    `toml:"replication"`
}

type AIEmbeddingConfig struct {
	Provider       string `toml:"provider"`
	APIKey         string `toml:"apiKey"`
	BaseURL        string `toml:"baseURL"`
	Model          string `toml:"model"`
	Dimensions     int    `toml:"dimensions"`
	TimeoutSeconds int    `toml:"timeoutSeconds"`
}

type AIChatModelConfig struct {
	Provider       string `toml:"provider"`
	APIKey         string `toml:"apiKey"`
	BaseURL        string `toml:"baseURL"`
	Model          string `toml:"model"`
	TimeoutSeconds int    `toml:"timeoutSeconds"`
}

type AIConfig struct {
	Embedding AIEmbeddingConfig `toml:"embedding"`
	ChatModel AIChatModelConfig `toml:"chatModel"`
}

type RedisConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"poolSize"`
	MinIdleConns int    `toml:"minIdleConns"`
}

// EngineConfig 语义索引引擎自身的参数
type EngineConfig struct {
	Dimension     int     `toml:"dimension"`     // 向量维度，进程级固定
	MaxImageBytes int     `toml:"maxImageBytes"` // 单张图片载荷上限
	DefaultTopK   int     `toml:"defaultTopK"`
	EdgeThreshold float32 `toml:"edgeThreshold"` // 相似图导出的默认阈值
	MaxEdges      int     `toml:"maxEdges"`
	RetryTimes    int     `toml:"retryTimes"`   // ProviderUnavailable 的最大重试次数
	IndexBackend  string  `toml:"indexBackend"` // memory | milvus
	AsyncEnabled  bool    `toml:"asyncEnabled"` // 是否启用 Kafka 异步摄取
}

type Config struct {
	MainConfig   `toml:"mainConfig"`
	MysqlConfig  `toml:"mysqlConfig"`
	JwtConfig    `toml:"jwtConfig"`
	MilvusConfig `toml:"milvusConfig"`
	KafkaConfig  `toml:"kafkaConfig"`
	AIConfig     `toml:"aiConfig"`
	LogConfig    `toml:"logConfig"`
	RedisConfig  `toml:"redisConfig"`
	EngineConfig `toml:"engineConfig"`
}

var config *Config

func LoadConfig() error {
	configPath := "configs/config_local.toml"
	if _, err := toml.DecodeFile(configPath, config); err != nil {
		log.Printf("加载配置文件失败: %v, 尝试使用默认设置", err)
		return err
	}
	return nil
}

func GetConfig() *Config {
	if config == nil {
		config = new(Config)
		_ = LoadConfig()
		config.applyDefaults()
	}
	return config
}

func (c *Config) applyDefaults() {
	if c.EngineConfig.Dimension <= 0 {
		c.EngineConfig.Dimension = 768
	}
	if c.EngineConfig.MaxImageBytes <= 0 {
		c.EngineConfig.MaxImageBytes = 8 << 20
	}
	if c.EngineConfig.DefaultTopK <= 0 {
		c.EngineConfig.DefaultTopK = 15
	}
	if c.EngineConfig.EdgeThreshold <= 0 {
		c.EngineConfig.EdgeThreshold = 0.75
	}
	if c.EngineConfig.MaxEdges <= 0 {
		c.EngineConfig.MaxEdges = 500
	}
	if c.EngineConfig.RetryTimes <= 0 {
		c.EngineConfig.RetryTimes = 3
	}
	if c.EngineConfig.IndexBackend == "" {
		c.EngineConfig.IndexBackend = "memory"
	}
}
