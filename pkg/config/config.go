package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Dispatch     DispatchConfig
	Locations    LocationsConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	BigQuery     BigQueryConfig
	Kafka        KafkaConfig
	Outbox       OutboxConfig
	Archive      ArchiveConfig
	Cron         CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Outbox.validate(cfg.Kafka); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"DISPATCH_APP_ENV" required:"true"`
	Port         string `envconfig:"DISPATCH_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"DISPATCH_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"DISPATCH_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"DISPATCH_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"DISPATCH_DB_DSN"`
	Driver string `envconfig:"DISPATCH_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"DISPATCH_DB_HOST"`
	LegacyPort     int    `envconfig:"DISPATCH_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"DISPATCH_DB_USER"`
	LegacyPassword string `envconfig:"DISPATCH_DB_PASSWORD"`
	LegacyName     string `envconfig:"DISPATCH_DB_NAME"`
	LegacySSLMode  string `envconfig:"DISPATCH_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"DISPATCH_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"DISPATCH_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"DISPATCH_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"DISPATCH_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"DISPATCH_REDIS_URL"`
	Address      string        `envconfig:"DISPATCH_REDIS_ADDR"`
	Password     string        `envconfig:"DISPATCH_REDIS_PASSWORD"`
	DB           int           `envconfig:"DISPATCH_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"DISPATCH_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"DISPATCH_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"DISPATCH_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"DISPATCH_REDIS_READ_TIMEOUT" default:"3s"`
	WriteTimeout time.Duration `envconfig:"DISPATCH_REDIS_WRITE_TIMEOUT" default:"3s"`
}

// JWTConfig validates tokens minted by the identity service. This service
// never issues tokens itself.
type JWTConfig struct {
	Secret string `envconfig:"DISPATCH_JWT_SECRET" required:"true"`
	Issuer string `envconfig:"DISPATCH_JWT_ISSUER" required:"true"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"DISPATCH_AUTO_MIGRATE" default:"false"`
}

// DispatchConfig tunes partner matching.
type DispatchConfig struct {
	DefaultRadiusKm float64       `envconfig:"DISPATCH_DEFAULT_RADIUS_KM" default:"5"`
	AverageSpeedKmh float64       `envconfig:"DISPATCH_AVERAGE_SPEED_KMH" default:"30"`
	GeoTimeout      time.Duration `envconfig:"DISPATCH_GEO_TIMEOUT" default:"2s"`
	ReservationTTL  time.Duration `envconfig:"DISPATCH_RESERVATION_TTL" default:"90s"`
	IdempotencyTTL  time.Duration `envconfig:"DISPATCH_IDEMPOTENCY_TTL" default:"24h"`
}

type LocationsConfig struct {
	StaleAfter       time.Duration `envconfig:"DISPATCH_LOCATIONS_STALE_AFTER" default:"10m"`
	HistoryExportLag time.Duration `envconfig:"DISPATCH_LOCATIONS_HISTORY_EXPORT_LAG" default:"1h"`
	HistoryBatchSize int           `envconfig:"DISPATCH_LOCATIONS_HISTORY_BATCH_SIZE" default:"5000"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL time.Duration `envconfig:"DISPATCH_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
	OutboxRetention      time.Duration `envconfig:"DISPATCH_EVENTING_OUTBOX_RETENTION" default:"168h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"DISPATCH_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"DISPATCH_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"DISPATCH_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	DispatchTopic         string `envconfig:"DISPATCH_PUBSUB_DISPATCH_TOPIC" default:"dispatch-assignment-events"`
	NotificationTopic     string `envconfig:"DISPATCH_PUBSUB_NOTIFICATION_TOPIC" default:"dispatch-notification-events"`
	DeliverySubscription  string `envconfig:"DISPATCH_PUBSUB_DELIVERY_SUBSCRIPTION"`
	AnalyticsSubscription string `envconfig:"DISPATCH_PUBSUB_ANALYTICS_SUBSCRIPTION"`
}

type BigQueryConfig struct {
	Dataset          string `envconfig:"DISPATCH_BIGQUERY_DATASET" default:"dispatch"`
	AssignmentsTable string `envconfig:"DISPATCH_BIGQUERY_ASSIGNMENTS_TABLE" default:"assignment_events"`
}

type KafkaConfig struct {
	Brokers  string        `envconfig:"DISPATCH_KAFKA_BROKERS"`
	ClientID string        `envconfig:"DISPATCH_KAFKA_CLIENT_ID" default:"partner-dispatch"`
	Timeout  time.Duration `envconfig:"DISPATCH_KAFKA_TIMEOUT" default:"30s"`
}

// BrokerList splits the comma separated broker string.
func (k KafkaConfig) BrokerList() []string {
	out := []string{}
	for _, b := range strings.Split(k.Brokers, ",") {
		if trimmed := strings.TrimSpace(b); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

type OutboxConfig struct {
	Sink           string `envconfig:"DISPATCH_OUTBOX_SINK" default:"pubsub"`
	BatchSize      int    `envconfig:"DISPATCH_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int    `envconfig:"DISPATCH_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int    `envconfig:"DISPATCH_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

func (o OutboxConfig) validate(kafka KafkaConfig) error {
	switch strings.ToLower(o.Sink) {
	case OutboxSinkPubSub:
		return nil
	case OutboxSinkKafka:
		if len(kafka.BrokerList()) == 0 {
			return fmt.Errorf("%s is required when %s=%s", EnvKafkaBrokers, EnvOutboxSink, OutboxSinkKafka)
		}
		return nil
	default:
		return fmt.Errorf("unsupported %s %q", EnvOutboxSink, o.Sink)
	}
}

// ArchiveConfig controls where location history is copied to.
type ArchiveConfig struct {
	Enabled bool   `envconfig:"DISPATCH_ARCHIVE_ENABLED" default:"false"`
	Bucket  string `envconfig:"DISPATCH_ARCHIVE_S3_BUCKET"`
	Region  string `envconfig:"DISPATCH_ARCHIVE_S3_REGION" default:"us-east-1"`
	Prefix  string `envconfig:"DISPATCH_ARCHIVE_S3_PREFIX" default:"location-history"`

	// LocalDir writes parquet files to disk instead of S3. Meant for dev.
	LocalDir string `envconfig:"DISPATCH_ARCHIVE_LOCAL_DIR"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"DISPATCH_CRON_INTERVAL" default:"1m"`
	LockTTL  time.Duration `envconfig:"DISPATCH_CRON_LOCK_TTL" default:"10m"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
