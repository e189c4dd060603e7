package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"

	"telemetry-gateway/internal/admission"
	"telemetry-gateway/internal/auth"
	"telemetry-gateway/internal/bucketing"
	"telemetry-gateway/internal/client"
	"telemetry-gateway/internal/config"
	"telemetry-gateway/internal/encryption"
	"telemetry-gateway/internal/handler"
	"telemetry-gateway/internal/repository/clickhouse"
	"telemetry-gateway/internal/repository/elastic"
	"telemetry-gateway/internal/repository/memory"
	rediscache "telemetry-gateway/internal/repository/redis"
	"telemetry-gateway/internal/repository/scylla"
	"telemetry-gateway/internal/service"
	"telemetry-gateway/internal/tls"
	"telemetry-gateway/internal/util"
)

const auditDrainTimeout = 10 * time.Second

// Each backend concern must also report health for readiness.
type (
	objectBackend interface {
		service.ObjectStore
		handler.HealthChecker
	}
	queueBackend interface {
		service.Publisher
		handler.HealthChecker
	}
	tenantBackend interface {
		admission.TenantRegistry
		handler.HealthChecker
	}
	usageBackend interface {
		admission.UsageLedger
		handler.HealthChecker
	}
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config     *config.Config
	tlsManager *tls.TLSManager

	// Clients
	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient
	minioClient      *client.MinIOClient

	// Resolved backends, real or in-memory
	state     rediscache.KeyValueStore
	objects   objectBackend
	publisher queueBackend
	tenants   tenantBackend
	usage     usageBackend
	audit     admission.AuditSink
	checks    map[string]handler.HealthChecker

	// Managers
	encryptionManager *encryption.EncryptionManager
	bucketingManager  *bucketing.BucketingManager

	admissionCache *rediscache.AdmissionCache
	quotaEnforcer  *admission.QuotaEnforcer
	serviceFactory *service.ServiceFactory

	closeOnce sync.Once
}

// NewFactory loads configuration and builds every dependency. In production
// any backend that cannot be reached aborts startup; elsewhere the gateway
// substitutes the in-memory implementation for that concern. The shared
// state store is the exception: it only falls back when
// ALLOW_IN_MEMORY_STATE is set outside production.
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()

	util.Init(util.Options{
		Environment: cfg.Environment,
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     cfg.ServiceName,
	})

	factory := &Factory{
		config: cfg,
		checks: make(map[string]handler.HealthChecker),
	}

	if cfg.Server.EnableTLS {
		factory.tlsManager = tls.NewTLSManager(cfg.Server, util.Named("tls"))
	}

	if err := factory.initializeClients(); err != nil {
		factory.Close()
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	if err := factory.initializeManagers(); err != nil {
		factory.Close()
		return nil, fmt.Errorf("failed to initialize managers: %w", err)
	}

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("kms_enabled", cfg.KMS.Enabled),
		util.Bool("storage_encryption", cfg.Ingestion.StorageEncryption),
		util.Strings("health_checks", factory.checkNames()),
	)

	return factory, nil
}

// initializeClients connects every external backend and records which
// implementation serves each concern.
func (f *Factory) initializeClients() error {
	var initErrors []error
	fallback := func(concern string, err error) {
		initErrors = append(initErrors, fmt.Errorf("%s: %w", concern, err))
	}

	// Redis: bans, violations, rate windows, upload locks, pending claim checks
	if c, err := client.NewRedisClient(f.config, util.Named("redis")); err != nil {
		if !f.config.InMemoryStateAllowed() {
			return fmt.Errorf("redis: %w (ALLOW_IN_MEMORY_STATE is not set)", err)
		}
		fallback("redis", err)
		f.state = memory.NewStore(nil)
	} else {
		f.redisClient = c
		f.state = c
		util.Info("Redis client initialized and healthy")
	}
	f.checks["state_store"] = f.state

	// MinIO: raw batch payloads
	if c, err := client.NewMinIOClient(f.config, util.Named("minio")); err != nil {
		fallback("minio", err)
		f.objects = memory.NewObjectStore()
	} else {
		f.minioClient = c
		f.objects = c
	}
	f.checks["object_store"] = f.objects

	// Kafka: claim check queue
	if producer, err := client.NewKafkaProducer(f.config, util.Named("kafka")); err != nil {
		fallback("kafka", err)
		f.publisher = memory.NewQueue()
	} else {
		f.kafkaProducer = producer
		f.publisher = producer
	}
	f.checks["queue"] = f.publisher

	// Quota backends only matter when enforcement is on.
	if !f.config.Admission.QuotaEnabled {
		util.Warn("Quota enforcement disabled, skipping tenant registry, usage ledger and audit sink")
		return f.initializationResult(initErrors)
	}

	// ScyllaDB: tenant and plan limits
	if c, err := scylla.NewScyllaClient(f.config, util.Named("scylla")); err != nil {
		fallback("scylla", err)
		f.tenants = memory.NewTenantRegistry()
	} else {
		f.scyllaClient = c
		f.tenants = scylla.NewTenantRepository(c, util.Named("tenants"))
	}
	f.checks["tenant_registry"] = f.tenants

	// ClickHouse: daily usage
	if c, err := client.NewClickHouseClient(f.config, util.Named("clickhouse")); err != nil {
		fallback("clickhouse", err)
		f.usage = memory.NewUsageLedger()
	} else {
		f.clickhouseClient = c
		f.usage = clickhouse.NewUsageRepository(c, f.config.Clickhouse.UsageTable)
	}
	f.checks["usage_ledger"] = f.usage

	// Elasticsearch: quota breach audit events
	if c, err := client.NewElasticsearchClient(f.config, util.Named("elasticsearch")); err != nil {
		fallback("elasticsearch", err)
		f.audit = memory.NewAuditSink()
	} else {
		f.esClient = c
		f.audit = elastic.NewAuditSink(c)
	}

	return f.initializationResult(initErrors)
}

func (f *Factory) initializationResult(initErrors []error) error {
	if len(initErrors) == 0 {
		return nil
	}
	if f.config.IsProduction() {
		return fmt.Errorf("critical service initialization failed: %v", initErrors)
	}
	for _, err := range initErrors {
		util.Warn("Backend unavailable, using in-memory implementation", util.ErrorField(err))
	}
	return nil
}

// initializeManagers builds bucketing, encryption and the admission cache.
func (f *Factory) initializeManagers() error {
	f.bucketingManager = bucketing.NewBucketingManager(f.config.Bucketing.StorageShards)
	f.admissionCache = rediscache.NewAdmissionCache(f.state, util.Named("admission_cache"))

	if f.config.Ingestion.StorageEncryption {
		var kmsClient encryption.KMSAPI
		if f.config.KMS.Enabled {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(f.config.KMS.Region))
			if err != nil {
				return fmt.Errorf("failed to load AWS configuration: %w", err)
			}
			kmsClient = kms.NewFromConfig(awsCfg)
		}
		f.encryptionManager = encryption.NewEncryptionManager(f.config.KMS, kmsClient)
	}

	util.Info("Managers initialized successfully",
		util.Int("storage_shards", f.bucketingManager.StorageShards()),
		util.Bool("encryption_initialized", f.encryptionManager != nil),
	)
	return nil
}

// ==============================
// Admission
// ==============================

// RequestPipeline is the stage list run for every API request: ban gate,
// then rate limiter.
func (f *Factory) RequestPipeline() *admission.Pipeline {
	adm := f.config.Admission
	return admission.NewPipeline(util.Named("admission"),
		admission.Step{
			Stage:  admission.NewBlacklistGate(f.admissionCache),
			Policy: admission.ParseFailurePolicy(adm.BanFailPolicy),
		},
		admission.Step{
			Stage:  admission.NewRateLimiter(f.admissionCache, adm.Tiers, adm.Window, adm.ViolationTTL, util.Named("rate_limit")),
			Policy: admission.FailClosed,
		},
	)
}

// IngestPipeline is the stage list run once a telemetry body has been
// read: upload lock, validation, then quota when enabled.
func (f *Factory) IngestPipeline() *admission.Pipeline {
	adm := f.config.Admission
	steps := []admission.Step{
		{
			Stage:  admission.NewConcurrencyLock(f.admissionCache, adm.UploadLockTTL, adm.StoreTimeout, util.Named("upload_lock")),
			Policy: admission.FailClosed,
		},
		{
			Stage:  admission.NewValidator(f.config.Ingestion.MaxBatchItems),
			Policy: admission.FailClosed,
		},
	}
	if adm.QuotaEnabled {
		if f.quotaEnforcer == nil {
			f.quotaEnforcer = admission.NewQuotaEnforcer(f.tenants, f.usage, util.Named("quota"),
				admission.WithByteEstimation(adm.QuotaByteEstimate),
				admission.WithAuditSink(f.audit, adm.StoreTimeout),
			)
		}
		steps = append(steps, admission.Step{
			Stage:  f.quotaEnforcer,
			Policy: admission.ParseFailurePolicy(adm.QuotaFailPolicy),
		})
	}
	return admission.NewPipeline(util.Named("admission"), steps...)
}

// ClaimsResolver verifies bearer tokens when a public key is configured.
func (f *Factory) ClaimsResolver() (*auth.Resolver, error) {
	var verifier *auth.Verifier
	if path := f.config.Auth.JwtPublicKeyPath; path != "" {
		v, err := auth.LoadVerifier(path)
		if err != nil {
			return nil, err
		}
		verifier = v
	} else if !f.config.Auth.TrustForwardAuth {
		util.Warn("No JWT public key and forward auth disabled, all callers are anonymous")
	}
	return auth.NewResolver(verifier, f.config.Auth.TrustForwardAuth, util.Named("auth")), nil
}

// ==============================
// Service Factory
// ==============================
func (f *Factory) ServiceFactory() *service.ServiceFactory {
	if f.serviceFactory == nil {
		f.serviceFactory = service.NewServiceFactory(
			f.config,
			service.NewPayloadStore(f.objects, f.encryptionManager, util.Named("payloads")),
			f.bucketingManager,
			f.publisher,
			f.admissionCache,
			admission.BanDuration,
			util.Named("service"),
		)
	}
	return f.serviceFactory
}

// ==============================
// Health Checks
// ==============================

// HealthChecks returns the dependency checks readiness reports on.
func (f *Factory) HealthChecks() map[string]handler.HealthChecker {
	return f.checks
}

func (f *Factory) checkNames() []string {
	names := make([]string, 0, len(f.checks))
	for name := range f.checks {
		names = append(names, name)
	}
	return names
}

// ==============================
// Lifecycle
// ==============================

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		util.Info("Shutting down factory...")

		// Breach events raised while requests drained are written before
		// the backends go away.
		if f.quotaEnforcer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), auditDrainTimeout)
			if err := f.quotaEnforcer.Drain(ctx); err != nil {
				util.Error("Quota breach events still pending at shutdown", util.ErrorField(err))
			}
			cancel()
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			} else {
				util.Info("Kafka producer closed")
			}
		}

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			} else {
				util.Info("ClickHouse client closed")
			}
		}

		if f.scyllaClient != nil {
			f.scyllaClient.Close()
			util.Info("ScyllaDB client closed")
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			} else {
				util.Info("Redis client closed")
			}
		}

		if f.encryptionManager != nil {
			f.encryptionManager.ClearCache()
			util.Info("Encryption manager cache cleared")
		}

		util.Info("Factory shutdown completed")
		util.Sync()
	})

	return nil
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) TLSManager() *tls.TLSManager {
	return f.tlsManager
}
