package config

import (
	"errors"
	"io/fs"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type Config struct {
	AppName                       string `env:"APP_NAME" env-default:"fern"`
	Version                       string `env:"APP_VERSION" env-default:"dev"`
	Port                          int    `env:"PORT" env-default:"3004"`
	LogLevel                      string `env:"LOG_LEVEL" env-default:"info"`
	PrettyLogs                    bool   `env:"PRETTY_LOGS" env-default:"false"`
	HttpServerWriteTimeoutSeconds int    `env:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerReadTimeoutSeconds  int    `env:"HTTP_SERVER_READ_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerIdleTimeoutSeconds  int    `env:"HTTP_SERVER_IDLE_TIMEOUT_SECONDS" env-default:"30"`
	MaxHeaderBytes                int    `env:"HTTP_SERVER_MAX_HEADER_BYTES" env-default:"64000"` // 64KB
	ShutdownTimeoutSeconds        int    `env:"SHUTDOWN_TIMEOUT_SECONDS" env-default:"15"`
	StartupMaxAttempts            int    `env:"STARTUP_MAX_ATTEMPTS" env-default:"5"`

	// Tracing
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" env-default:""`
	OTLPProtocol string `env:"OTEL_EXPORTER_OTLP_PROTOCOL" env-default:"grpc"`
	OTLPInsecure bool   `env:"OTEL_EXPORTER_OTLP_INSECURE" env-default:"true"`
	OTLPHeaders  string `env:"OTEL_EXPORTER_OTLP_HEADERS" env-default:""`

	// PostgreSQL
	DatabaseHost                  string `env:"DB_HOST" env-default:"localhost"`
	DatabasePort                  string `env:"DB_PORT" env-default:"5432"`
	DatabaseUserName              string `env:"DB_USER_NAME" env-default:"fern"`
	DatabasePassword              string `env:"DB_PASSWORD" env-default:""`
	DatabaseName                  string `env:"DB_NAME" env-default:"fern"`
	DatabaseSSLMode               string `env:"DB_SSL_MODE" env-default:"disable"`
	DatabaseMaxOpenConns          int    `env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	DatabaseMaxIdleConns          int    `env:"DB_MAX_IDLE_CONNS" env-default:"10"`
	DatabaseConnMaxLifetime       int    `env:"DB_CONN_MAX_LIFETIME_SECONDS" env-default:"300"`
	DatabaseMigrationFolderPath   string `env:"DB_MIGRATION_FOLDER_PATH" env-default:"db/pg"`
	DatabaseMigrationVersion      uint   `env:"DB_MIGRATION_VERSION" env-default:"0"`
	DatabaseMigrationForce        int    `env:"DB_MIGRATION_FORCE" env-default:"0"`
	DatabaseMigrationAutoRollback bool   `env:"DB_MIGRATION_AUTO_ROLLBACK" env-default:"true"`

	// Redis merge locks. Empty address falls back to in-process locks.
	RedisAddr        string        `env:"REDIS_ADDR" env-default:""`
	RedisPassword    string        `env:"REDIS_PASSWORD" env-default:""`
	RedisDB          int           `env:"REDIS_DB" env-default:"0"`
	MergeLockPrefix  string        `env:"MERGE_LOCK_PREFIX" env-default:"fern:merge:"`
	MergeLockTTL     time.Duration `env:"MERGE_LOCK_TTL" env-default:"30s"`
	MergeLockTimeout time.Duration `env:"MERGE_LOCK_TIMEOUT" env-default:"10s"`

	// Graph Database (Memgraph). Empty host disables the projection.
	GraphDBHost     string `env:"GRAPH_DB_HOST" env-default:""`
	GraphDBPort     int    `env:"GRAPH_DB_PORT" env-default:"7687"`
	GraphDBUser     string `env:"GRAPH_DB_USER" env-default:""`
	GraphDBPassword string `env:"GRAPH_DB_PASSWORD" env-default:""`
	GraphDBName     string `env:"GRAPH_DB_NAME" env-default:""`
	GraphDBPoolSize int    `env:"GRAPH_DB_POOL_SIZE" env-default:"16"`

	// Kafka consumer (raw candidates)
	KafkaBrokers         []string      `env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	KafkaInputTopic      string        `env:"KAFKA_INPUT_TOPIC" env-default:"raw.candidates"`
	KafkaDeadLetterTopic string        `env:"KAFKA_DEAD_LETTER_TOPIC" env-default:"raw.candidates.dlq"`
	KafkaConsumerGroup   string        `env:"KAFKA_CONSUMER_GROUP" env-default:"fern-resolver"`
	KafkaConsumerEnabled bool          `env:"KAFKA_CONSUMER_ENABLED" env-default:"true"`
	KafkaConsumeBatch    int           `env:"KAFKA_CONSUME_BATCH_SIZE" env-default:"64"`
	KafkaConsumeWait     time.Duration `env:"KAFKA_CONSUME_BATCH_WAIT" env-default:"200ms"`
	KafkaMaxRetries      int           `env:"KAFKA_MAX_RETRIES" env-default:"5"`

	// Kafka producer (decision and merge events)
	KafkaEventsEnabled bool   `env:"KAFKA_EVENTS_ENABLED" env-default:"true"`
	KafkaBatchSize     int    `env:"KAFKA_BATCH_SIZE" env-default:"100"`
	KafkaBatchTimeout  int    `env:"KAFKA_BATCH_TIMEOUT_MS" env-default:"100"`
	KafkaRequiredAcks  int    `env:"KAFKA_REQUIRED_ACKS" env-default:"1"`
	KafkaCompression   string `env:"KAFKA_COMPRESSION" env-default:"snappy"`

	// Matching
	MatchingConfigPath       string        `env:"MATCHING_CONFIG_PATH" env-default:"config/matching.yaml"`
	MatchMaxAttempts         int           `env:"MATCH_MAX_ATTEMPTS" env-default:"3"`
	MatchMaxCandidates       int           `env:"MATCH_MAX_CANDIDATES" env-default:"50"`
	BlacklistRefreshInterval time.Duration `env:"BLACKLIST_REFRESH_INTERVAL" env-default:"1m"`
	ResolveWorkers           int           `env:"RESOLVE_WORKERS" env-default:"8"`
}

// DatabaseDSN builds the Postgres connection string
func (c *Config) DatabaseDSN() string {
	return "postgres://" + c.DatabaseUserName + ":" + c.DatabasePassword + "@" +
		c.DatabaseHost + ":" + c.DatabasePort + "/" + c.DatabaseName + "?sslmode=" + c.DatabaseSSLMode
}

// Load reads a .env file when one exists, then the environment
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
