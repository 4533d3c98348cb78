package config

const (
	EnvPrefix = "STOREFRONT"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	RoutingQuery = "query"
	RoutingPath  = "path"

	BackendMemory = "memory"
	BackendRedis  = "redis"

	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

const (
	EnvAppEnv             = "STOREFRONT_APP_ENV"
	EnvAPIBaseURL         = "STOREFRONT_API_BASE_URL"
	EnvAPIRouting         = "STOREFRONT_API_ROUTING"
	EnvAPITimeout         = "STOREFRONT_API_TIMEOUT"
	EnvRateLimitMax       = "STOREFRONT_RATE_LIMIT_MAX_REQUESTS"
	EnvRateLimitWindow    = "STOREFRONT_RATE_LIMIT_WINDOW"
	EnvRateLimitBackend   = "STOREFRONT_RATE_LIMIT_BACKEND"
	EnvOfflineDeliveryFee = "STOREFRONT_PRICING_OFFLINE_DELIVERY_FEE"
	EnvEphemeralBackend   = "STOREFRONT_STORAGE_EPHEMERAL_BACKEND"
	EnvDurableDriver      = "STOREFRONT_STORAGE_DURABLE_DRIVER"
	EnvDurableDSN         = "STOREFRONT_STORAGE_DURABLE_DSN"
	EnvRedisURL           = "STOREFRONT_REDIS_URL"
	EnvRedisAddr          = "STOREFRONT_REDIS_ADDR"
)
