package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"clinic-secops/internal/bucketing"
	"clinic-secops/internal/client"
	"clinic-secops/internal/config"
	"clinic-secops/internal/encryption"
	"clinic-secops/internal/geo"
	"clinic-secops/internal/hashing"
	"clinic-secops/internal/metrics"
	"clinic-secops/internal/notify"
	redisrepo "clinic-secops/internal/repository/redis"
	"clinic-secops/internal/repository/scylla"
	"clinic-secops/internal/repository/sqlite"
	"clinic-secops/internal/service"
	"clinic-secops/internal/stream"
	"clinic-secops/internal/tls"
	"clinic-secops/internal/util"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config     *config.Config
	tlsManager *tls.TLSManager

	// Optional backends, nil when disabled or unreachable outside production
	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient

	hasher            *hashing.Hasher
	encryptionManager *encryption.EncryptionManager
	bucketingManager  *bucketing.BucketingManager
	locator           *geo.Locator
	metrics           *metrics.Metrics

	db             *sqlite.DB
	publisher      *stream.Publisher
	serviceFactory *service.ServiceFactory

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory creates and initializes all application dependencies
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	factory := &Factory{
		config: cfg,
		closed: make(chan struct{}),
	}

	if cfg.Server.EnableTLS {
		factory.tlsManager = tls.NewTLSManager(cfg)
	}

	if err := factory.initializeClients(); err != nil {
		factory.Close()
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	if err := factory.initializeManagers(); err != nil {
		factory.Close()
		return nil, fmt.Errorf("failed to initialize managers: %w", err)
	}

	if err := factory.initializeStore(); err != nil {
		factory.Close()
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	if err := factory.initializeServices(); err != nil {
		factory.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("kms_enabled", cfg.KMS.Enabled),
		util.Strings("sinks", factory.publisher.Sinks()),
	)

	return factory, nil
}

// initializeClients connects the enabled backends and health checks each one
func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var initErrors []error

	if f.config.Redis.Enabled {
		if c, err := client.NewRedisClient(f.config); err != nil {
			initErrors = append(initErrors, fmt.Errorf("redis: %w", err))
		} else if err := c.HealthCheck(ctx); err != nil {
			c.Close()
			initErrors = append(initErrors, fmt.Errorf("redis health check: %w", err))
		} else {
			f.redisClient = c
			util.Info("Redis client initialized and healthy")
		}
	}

	if f.config.Scylla.Enabled {
		if c, err := scylla.NewScyllaClient(f.config); err != nil {
			initErrors = append(initErrors, fmt.Errorf("scylla: %w", err))
		} else if err := c.HealthCheck(ctx); err != nil {
			c.Close()
			initErrors = append(initErrors, fmt.Errorf("scylla health check: %w", err))
		} else {
			f.scyllaClient = c
			util.Info("ScyllaDB client initialized and healthy")
		}
	}

	if f.config.Kafka.Enabled {
		if producer, err := client.NewKafkaProducer(f.config); err != nil {
			util.Warn("Kafka producer initialization failed - proceeding without Kafka", util.ErrorField(err))
		} else {
			f.kafkaProducer = producer
			util.Info("Kafka producer initialized")
		}
	}

	if f.config.Elasticsearch.Enabled {
		if c, err := client.NewElasticsearchClient(f.config); err != nil {
			initErrors = append(initErrors, fmt.Errorf("elasticsearch: %w", err))
		} else if err := c.HealthCheck(ctx); err != nil {
			c.Close()
			initErrors = append(initErrors, fmt.Errorf("elasticsearch health check: %w", err))
		} else {
			f.esClient = c
			util.Info("Elasticsearch client initialized and healthy")
		}
	}

	if f.config.Clickhouse.Enabled {
		if c, err := client.NewClickHouseClient(f.config); err != nil {
			initErrors = append(initErrors, fmt.Errorf("clickhouse: %w", err))
		} else if err := c.HealthCheck(ctx); err != nil {
			c.Close()
			initErrors = append(initErrors, fmt.Errorf("clickhouse health check: %w", err))
		} else {
			f.clickhouseClient = c
			util.Info("ClickHouse client initialized and healthy")
		}
	}

	if len(initErrors) > 0 {
		if f.config.IsProduction() {
			return fmt.Errorf("critical service initialization failed: %v", initErrors)
		}
		for _, err := range initErrors {
			util.Warn("Service initialization warning", util.ErrorField(err))
		}
	}

	return nil
}

// initializeManagers initializes hashing, encryption, bucketing, geo lookup and metrics
func (f *Factory) initializeManagers() error {
	hasher, err := hashing.NewHasher(f.config)
	if err != nil {
		return fmt.Errorf("hasher: %w", err)
	}
	f.hasher = hasher

	var keyService encryption.KeyService
	if f.config.KMS.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(f.config.KMS.Region))
		cancel()
		if err != nil {
			return fmt.Errorf("aws config: %w", err)
		}
		keyService = kms.NewFromConfig(awsCfg)
	}

	em, err := encryption.NewEncryptionManager(f.config, keyService)
	if err != nil {
		return fmt.Errorf("encryption: %w", err)
	}
	f.encryptionManager = em
	f.bucketingManager = bucketing.NewBucketingManager(f.config)

	locator, err := geo.NewLocator(f.config.GeoIP.CityDBPath)
	if err != nil {
		if f.config.IsProduction() {
			return fmt.Errorf("geoip: %w", err)
		}
		util.Warn("GeoIP database unavailable - locations will be unknown", util.ErrorField(err))
		locator, _ = geo.NewLocator("")
	}
	f.locator = locator
	f.metrics = metrics.New()

	util.Info("Managers initialized successfully",
		util.Bool("hashing_initialized", f.hasher != nil),
		util.Bool("encryption_initialized", f.encryptionManager != nil),
		util.Bool("bucketing_initialized", f.bucketingManager != nil),
		util.Bool("geoip_configured", f.config.GeoIP.CityDBPath != ""),
	)
	return nil
}

// initializeStore opens the primary store and applies the settings file when one is configured
func (f *Factory) initializeStore() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := sqlite.Open(ctx, f.config.Database.Path)
	if err != nil {
		return err
	}
	f.db = db

	if f.config.Database.SettingsFile == "" {
		return nil
	}
	seed, err := config.LoadSeedFile(f.config.Database.SettingsFile)
	if err != nil {
		return err
	}
	digest := func(credential string) string {
		return f.hasher.Digest(hashing.ContextCredential, credential)
	}
	if err := sqlite.ApplySeed(ctx, db, seed, digest, time.Now()); err != nil {
		return fmt.Errorf("apply settings file: %w", err)
	}
	util.Info("Settings file applied",
		util.String("path", f.config.Database.SettingsFile),
		util.Int("principals", len(seed.Principals)),
	)
	return nil
}

// initializeServices builds the publisher sinks and the service graph
func (f *Factory) initializeServices() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	deps := service.Dependencies{
		DB:         f.db,
		Hasher:     f.hasher,
		Encryption: f.encryptionManager,
		Locator:    f.locator,
		Metrics:    f.metrics,
		Logger:     util.Get(),
		TOTPIssuer: f.config.Security.TOTPIssuer,
	}

	var sinks []stream.Sink
	if f.kafkaProducer != nil {
		sinks = append(sinks, stream.NewKafkaSink(f.kafkaProducer, f.bucketingManager,
			f.config.Kafka.AuditTopic, f.config.Kafka.IncidentTopic))
		deps.Notifier = notify.NewKafkaNotifier(f.kafkaProducer, f.config.Kafka.NotificationsTopic, f.metrics)
	} else {
		deps.Notifier = notify.NewLogNotifier(f.metrics)
	}

	if f.scyllaClient != nil {
		archive := scylla.NewAuditArchiveRepository(f.scyllaClient, f.bucketingManager)
		sinks = append(sinks, stream.NewArchiveSink(archive))
	}

	if f.esClient != nil {
		es, err := stream.NewElasticsearchSink(ctx, f.esClient,
			f.config.Elasticsearch.AuditIndex, f.config.Elasticsearch.IncidentIndex)
		if err != nil {
			if f.config.IsProduction() {
				return fmt.Errorf("elasticsearch sink: %w", err)
			}
			util.Warn("Elasticsearch sink unavailable", util.ErrorField(err))
		} else {
			sinks = append(sinks, es)
			deps.Searcher = es
		}
	}

	if f.clickhouseClient != nil {
		ch, err := stream.NewClickHouseSink(ctx, f.clickhouseClient)
		if err != nil {
			if f.config.IsProduction() {
				return fmt.Errorf("clickhouse sink: %w", err)
			}
			util.Warn("ClickHouse sink unavailable", util.ErrorField(err))
		} else {
			sinks = append(sinks, ch)
			deps.Analytics = ch
		}
	}

	if f.redisClient != nil {
		deps.Velocity = redisrepo.NewVelocityCache(f.redisClient)
		deps.Replay = redisrepo.NewReplayCache(f.redisClient)
	}

	f.publisher = stream.NewPublisher(f.metrics, sinks...)
	deps.Publisher = f.publisher
	f.serviceFactory = service.NewServiceFactory(deps)
	return nil
}

// StartSweeper deactivates expired sessions on the configured interval until ctx is done.
func (f *Factory) StartSweeper(ctx context.Context) {
	interval := f.config.Server.SweepEvery
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-f.closed:
				return
			case <-ticker.C:
				n, err := f.serviceFactory.Sessions().SweepExpired(ctx)
				if err != nil {
					util.Warn("Session sweep failed", util.ErrorField(err))
					continue
				}
				if n > 0 {
					util.Debug("Expired sessions swept", util.Int64("count", n))
				}
			}
		}
	}()
}

// ==============================
// Health Checks
// ==============================

func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	healthErrors := make(map[string]error)

	if f.db != nil {
		if err := f.db.HealthCheck(ctx); err != nil {
			healthErrors["store"] = err
		}
	} else {
		healthErrors["store"] = fmt.Errorf("store not initialized")
	}

	if f.redisClient != nil {
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			healthErrors["redis"] = err
		}
	} else if f.config.Redis.Enabled {
		healthErrors["redis"] = fmt.Errorf("redis client not initialized")
	}

	if f.scyllaClient != nil {
		if err := f.scyllaClient.HealthCheck(ctx); err != nil {
			healthErrors["scylla"] = err
		}
	} else if f.config.Scylla.Enabled {
		healthErrors["scylla"] = fmt.Errorf("scylla client not initialized")
	}

	if f.esClient != nil {
		if err := f.esClient.HealthCheck(ctx); err != nil {
			healthErrors["elasticsearch"] = err
		}
	} else if f.config.Elasticsearch.Enabled {
		healthErrors["elasticsearch"] = fmt.Errorf("elasticsearch client not initialized")
	}

	if f.clickhouseClient != nil {
		if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
			healthErrors["clickhouse"] = err
		}
	} else if f.config.Clickhouse.Enabled {
		healthErrors["clickhouse"] = fmt.Errorf("clickhouse client not initialized")
	}

	if f.kafkaProducer != nil {
		if err := f.kafkaProducer.HealthCheck(ctx); err != nil {
			healthErrors["kafka"] = err
		}
	}

	if f.hasher == nil {
		healthErrors["hasher"] = fmt.Errorf("hasher not initialized")
	}
	if f.encryptionManager == nil {
		healthErrors["encryption"] = fmt.Errorf("encryption manager not initialized")
	}

	return healthErrors
}

// IsHealthy ignores Kafka, whose delivery is best effort.
func (f *Factory) IsHealthy(ctx context.Context) bool {
	healthErrors := f.HealthCheck(ctx)
	delete(healthErrors, "kafka")
	return len(healthErrors) == 0
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		// Drain the publisher before its sinks' clients go away.
		if f.serviceFactory != nil {
			f.serviceFactory.Cleanup()
			util.Info("Service factory cleaned up")
		} else if f.publisher != nil {
			f.publisher.Close()
		}

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			} else {
				util.Info("ClickHouse client closed")
			}
		}

		if f.esClient != nil {
			f.esClient.Close()
			util.Info("Elasticsearch client closed")
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			} else {
				util.Info("Kafka producer closed")
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

		if f.db != nil {
			if err := f.db.Close(); err != nil {
				util.Error("Failed to close store", util.ErrorField(err))
			}
		}

		if f.locator != nil {
			f.locator.Close()
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

func (f *Factory) Metrics() *metrics.Metrics {
	return f.metrics
}

func (f *Factory) ServiceFactory() *service.ServiceFactory {
	return f.serviceFactory
}

func (f *Factory) Hasher() *hashing.Hasher {
	return f.hasher
}

func (f *Factory) EncryptionManager() *encryption.EncryptionManager {
	return f.encryptionManager
}

func (f *Factory) BucketingManager() *bucketing.BucketingManager {
	return f.bucketingManager
}
