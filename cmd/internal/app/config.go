package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string // "json" or "pretty"

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	MaxBodyBytes      int64

	DatabaseURL string
	DBSchema    string
	DBMaxConns  int32
	DBMinConns  int32

	// If true, /readyz returns 503 unless the DB is configured and reachable.
	ReadinessRequireDB bool

	// If true, DUO_SECRET_HMAC_KEY must be set (>= 32 bytes) so passkey digests are keyed.
	RequireSecretHMAC bool

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	MetricsEnabled bool

	// Batch endpoint limits.
	BatchMaxActions  int
	BatchMaxReads    int
	BatchRateMax     int
	BatchRateWindow  time.Duration
	BatchResultTTL   time.Duration
	BatchReadWorkers int

	KeyTTL time.Duration
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("DUO_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("DUO_LOG_LEVEL", "info"),
		LogFormat: EnvString("DUO_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("DUO_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("DUO_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("DUO_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("DUO_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("DUO_HTTP_MAX_HEADER_BYTES", 1<<20),
		MaxBodyBytes:   EnvBytes("DUO_HTTP_MAX_BODY", 1<<20),

		DatabaseURL: EnvString("DUO_DATABASE_URL", ""),
		DBSchema:    EnvString("DUO_DB_SCHEMA", "duo"),
		DBMaxConns:  EnvInt32("DUO_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("DUO_DB_MIN_CONNS", 0),

		ReadinessRequireDB: EnvBool("DUO_READINESS_REQUIRE_DB", false),

		RequireSecretHMAC: EnvBool("DUO_REQUIRE_SECRET_HMAC", false),

		CORSAllowedOrigins:   EnvList("DUO_CORS_ALLOWED_ORIGINS"),
		CORSAllowCredentials: EnvBool("DUO_CORS_ALLOW_CREDENTIALS", false),
		CORSMaxAgeSeconds:    EnvInt("DUO_CORS_MAX_AGE_SECONDS", 600),

		MetricsEnabled: EnvBool("DUO_METRICS_ENABLED", true),

		BatchMaxActions:  EnvInt("DUO_BATCH_MAX_ACTIONS", 200),
		BatchMaxReads:    EnvInt("DUO_BATCH_MAX_READS", 100),
		BatchRateMax:     EnvInt("DUO_BATCH_RATE_MAX", 120),
		BatchRateWindow:  EnvDuration("DUO_BATCH_RATE_WINDOW", time.Minute),
		BatchResultTTL:   EnvDuration("DUO_BATCH_RESULT_TTL", 10*time.Minute),
		BatchReadWorkers: EnvInt("DUO_BATCH_READ_WORKERS", 8),

		KeyTTL: EnvDuration("DUO_KEY_TTL", 20*time.Minute),
	}
}
