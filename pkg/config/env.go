package config

const (
	EnvPrefix = "DISPATCH"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	OutboxSinkPubSub = "pubsub"
	OutboxSinkKafka  = "kafka"

	EnvAppEnv    = "DISPATCH_APP_ENV"
	EnvPort      = "DISPATCH_APP_PORT"
	EnvDBDSN     = "DISPATCH_DB_DSN"
	EnvDBHost    = "DISPATCH_DB_HOST"
	EnvDBUser    = "DISPATCH_DB_USER"
	EnvDBName    = "DISPATCH_DB_NAME"
	EnvRedisURL  = "DISPATCH_REDIS_URL"
	EnvJWTSecret = "DISPATCH_JWT_SECRET"
	EnvJWTIssuer = "DISPATCH_JWT_ISSUER"

	EnvDefaultRadiusKm = "DISPATCH_DEFAULT_RADIUS_KM"
	EnvGeoTimeout      = "DISPATCH_GEO_TIMEOUT"
	EnvReservationTTL  = "DISPATCH_RESERVATION_TTL"

	EnvKafkaBrokers = "DISPATCH_KAFKA_BROKERS"
	EnvOutboxSink   = "DISPATCH_OUTBOX_SINK"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
