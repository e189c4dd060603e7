package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment   string
	ServiceName   string
	Server        ServerConfig
	Logging       LoggingConfig
	Redis         RedisConfig
	Kafka         KafkaConfig
	Scylla        ScyllaConfig
	Clickhouse    ClickhouseConfig
	Elasticsearch ElasticsearchConfig
	MinIO         MinIOConfig
	KMS           KMSConfig
	Bucketing     BucketingConfig
	Auth          AuthConfig
	Admission     AdmissionConfig
	Ingestion     IngestionConfig
}

type ServerConfig struct {
	Port           int
	TLSPort        int
	EnableTLS      bool
	AutoCert       bool
	Domain         string
	CertFile       string
	KeyFile        string
	AutoCertDir    string
	Email          string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	AllowedOrigins []string
}

type LoggingConfig struct {
	Level  string
	Format string
}

type RedisConfig struct {
	URL         string
	Password    string
	DB          int
	PoolSize    int
	TLSCAFile   string
	TLSCertFile string
	TLSKeyFile  string
}

type KafkaConfig struct {
	Brokers         []string
	ClaimCheckTopic string
	WriteTimeout    time.Duration
}

type ScyllaConfig struct {
	Nodes    []string
	Keyspace string
	Username string
	Password string
}

type ClickhouseConfig struct {
	URL          string
	Username     string
	Password     string
	Database     string
	UsageTable   string
	CAFile       string
	QueryTimeout time.Duration
}

type ElasticsearchConfig struct {
	URL        string
	Username   string
	Password   string
	AuditIndex string
}

type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseTLS    bool
	Bucket    string
}

type KMSConfig struct {
	Enabled bool
	KeyID   string
	Region  string
}

type BucketingConfig struct {
	StorageShards int
}

type AuthConfig struct {
	JwtPublicKeyPath string
	TrustForwardAuth bool
	AdminToken       string
}

// AdmissionConfig carries the thresholds and failure policies of the
// admission stages that run before a payload is accepted.
type AdmissionConfig struct {
	TiersFile         string
	Tiers             map[string]Tier
	Window            time.Duration
	ViolationTTL      time.Duration
	UploadLockTTL     time.Duration
	BanFailPolicy     string
	QuotaFailPolicy   string
	QuotaEnabled      bool
	QuotaByteEstimate bool
	StoreTimeout      time.Duration
	// AllowInMemoryState lets a non-production gateway run on a
	// single-process state store when Redis is unreachable.
	AllowInMemoryState bool
}

// Tier is a pair of per-window thresholds for one user type.
type Tier struct {
	Normal int64 `yaml:"normal"`
	Jail   int64 `yaml:"jail"`
}

type IngestionConfig struct {
	MaxBodyBytes       int64
	MaxBatchItems      int
	StorageEncryption  bool
	RepublishInterval  time.Duration
	RepublishBatchSize int
}

// LoadConfig reads an optional .env file and then the process environment.
func LoadConfig() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		Environment: GetEnv("ENVIRONMENT", "development"),
		ServiceName: GetEnv("SERVICE_NAME", "telemetry-gateway"),
		Server: ServerConfig{
			Port:           GetEnvInt("SERVER_PORT", 8080),
			TLSPort:        GetEnvInt("SERVER_TLS_PORT", 8443),
			EnableTLS:      GetEnvBool("SERVER_ENABLE_TLS", false),
			AutoCert:       GetEnvBool("SERVER_AUTOCERT", false),
			Domain:         GetEnv("SERVER_DOMAIN", "localhost"),
			CertFile:       GetEnv("SERVER_CERT_FILE", ""),
			KeyFile:        GetEnv("SERVER_KEY_FILE", ""),
			AutoCertDir:    GetEnv("SERVER_AUTOCERT_DIR", "/app/certs/autocert"),
			Email:          GetEnv("SERVER_AUTOCERT_EMAIL", ""),
			ReadTimeout:    GetEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   GetEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:    GetEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
			AllowedOrigins: GetEnvList("SERVER_ALLOWED_ORIGINS", []string{"https://*"}),
		},
		Logging: LoggingConfig{
			Level:  GetEnv("LOG_LEVEL", "info"),
			Format: GetEnv("LOG_FORMAT", "json"),
		},
		Redis: RedisConfig{
			URL:      GetEnv("REDIS_URL", "redis://localhost:6379/0"),
			Password: GetEnv("REDIS_PASSWORD", ""),
			DB:       GetEnvInt("REDIS_DB", 0),
			PoolSize: GetEnvInt("REDIS_POOL_SIZE", 50),

			TLSCAFile:   GetEnv("REDIS_TLS_CA_FILE", ""),
			TLSCertFile: GetEnv("REDIS_TLS_CERT_FILE", ""),
			TLSKeyFile:  GetEnv("REDIS_TLS_KEY_FILE", ""),
		},
		Kafka: KafkaConfig{
			Brokers:         GetEnvList("KAFKA_BROKERS", []string{"localhost:9092"}),
			ClaimCheckTopic: GetEnv("CLAIM_CHECK_TOPIC", "telemetry.claim-checks"),
			WriteTimeout:    GetEnvDuration("KAFKA_WRITE_TIMEOUT", 10*time.Second),
		},
		Scylla: ScyllaConfig{
			Nodes:    GetEnvList("SCYLLA_NODES", []string{"localhost:9042"}),
			Keyspace: GetEnv("SCYLLA_KEYSPACE", "telemetry"),
			Username: GetEnv("SCYLLA_USERNAME", ""),
			Password: GetEnv("SCYLLA_PASSWORD", ""),
		},
		Clickhouse: ClickhouseConfig{
			URL:          GetEnv("CLICKHOUSE_URL", "clickhouse://localhost:9000"),
			Username:     GetEnv("CLICKHOUSE_USERNAME", "default"),
			Password:     GetEnv("CLICKHOUSE_PASSWORD", ""),
			Database:     GetEnv("CLICKHOUSE_DATABASE", "telemetry"),
			UsageTable:   GetEnv("CLICKHOUSE_USAGE_TABLE", "tenant_usage_daily"),
			CAFile:       GetEnv("CLICKHOUSE_CA_FILE", ""),
			QueryTimeout: GetEnvDuration("CLICKHOUSE_QUERY_TIMEOUT", 2*time.Second),
		},
		Elasticsearch: ElasticsearchConfig{
			URL:        GetEnv("ELASTICSEARCH_URL", "http://localhost:9200"),
			Username:   GetEnv("ELASTICSEARCH_USERNAME", ""),
			Password:   GetEnv("ELASTICSEARCH_PASSWORD", ""),
			AuditIndex: GetEnv("ELASTICSEARCH_AUDIT_INDEX", "quota-breaches"),
		},
		MinIO: MinIOConfig{
			Endpoint:  GetEnv("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey: GetEnv("MINIO_ACCESS_KEY", ""),
			SecretKey: GetEnv("MINIO_SECRET_KEY", ""),
			UseTLS:    GetEnvBool("MINIO_USE_TLS", false),
			Bucket:    GetEnv("MINIO_BUCKET", "telemetry-raw"),
		},
		KMS: KMSConfig{
			Enabled: GetEnvBool("KMS_ENABLED", false),
			KeyID:   GetEnv("KMS_KEY_ID", ""),
			Region:  GetEnv("AWS_REGION", "us-east-1"),
		},
		Bucketing: BucketingConfig{
			StorageShards: GetEnvInt("STORAGE_SHARDS", 64),
		},
		Auth: AuthConfig{
			JwtPublicKeyPath: GetEnv("JWT_PUBLIC_KEY_PATH", ""),
			TrustForwardAuth: GetEnvBool("TRUST_FORWARD_AUTH", false),
			AdminToken:       GetEnv("ADMIN_TOKEN", ""),
		},
		Admission: AdmissionConfig{
			TiersFile:         GetEnv("RATE_LIMIT_TIERS_FILE", ""),
			Tiers:             DefaultTiers(),
			Window:            GetEnvDuration("RATE_LIMIT_WINDOW", 60*time.Second),
			ViolationTTL:      GetEnvDuration("VIOLATION_TTL", 7*24*time.Hour),
			UploadLockTTL:     GetEnvDuration("UPLOAD_LOCK_TTL", 300*time.Second),
			BanFailPolicy:     GetEnv("ADMISSION_BAN_FAIL_POLICY", "closed"),
			QuotaFailPolicy:   GetEnv("ADMISSION_QUOTA_FAIL_POLICY", "closed"),
			QuotaEnabled:      GetEnvBool("QUOTA_ENFORCEMENT_ENABLED", true),
			QuotaByteEstimate: GetEnvBool("QUOTA_BYTE_ESTIMATION_ENABLED", false),
			StoreTimeout:      GetEnvDuration("ADMISSION_STORE_TIMEOUT", 2*time.Second),

			AllowInMemoryState: GetEnvBool("ALLOW_IN_MEMORY_STATE", false),
		},
		Ingestion: IngestionConfig{
			MaxBodyBytes:       int64(GetEnvInt("MAX_BODY_BYTES", 5<<20)),
			MaxBatchItems:      GetEnvInt("MAX_BATCH_ITEMS", 500),
			StorageEncryption:  GetEnvBool("STORAGE_ENCRYPTION_ENABLED", false),
			RepublishInterval:  GetEnvDuration("REPUBLISH_INTERVAL", 30*time.Second),
			RepublishBatchSize: GetEnvInt("REPUBLISH_BATCH_SIZE", 100),
		},
	}

	if cfg.Admission.TiersFile != "" {
		tiers, err := LoadTiers(cfg.Admission.TiersFile)
		if err != nil {
			panic(fmt.Sprintf("failed to load rate limit tiers: %v", err))
		}
		for name, tier := range tiers {
			cfg.Admission.Tiers[name] = tier
		}
	}

	return cfg
}

// DefaultTiers returns the built-in normal/jail thresholds per user type.
func DefaultTiers() map[string]Tier {
	return map[string]Tier{
		"device":   {Normal: 10, Jail: 30},
		"frontend": {Normal: 60, Jail: 180},
		"default":  {Normal: 30, Jail: 90},
	}
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// InMemoryStateAllowed reports whether bans, rate windows and upload locks
// may live in process memory. Never in production.
func (c *Config) InMemoryStateAllowed() bool {
	return !c.IsProduction() && c.Admission.AllowInMemoryState
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev" || c.Environment == "local"
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func GetEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func GetEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func GetEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
