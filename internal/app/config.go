package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr string
	LogLevel string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBSchema    string
	DBMaxConns  int32
	DBMinConns  int32

	// Session token verification (issuance lives in the web application).
	SessionSecret string
	SessionCookie string

	// Websocket gateway knobs.
	WSAllowedOrigins []string
	WSSendQueue      int
	WSWriteTimeout   time.Duration
	WSPingInterval   time.Duration

	// Max message body length (runes) accepted by POST /mensajes.
	MaxBodyChars int

	// If true, /readyz returns 503 unless the DB is configured and reachable.
	ReadinessRequireDB bool
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr: EnvString("CHARLA_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel: EnvString("CHARLA_LOG_LEVEL", "info"),

		ReadHeaderTimeout: EnvDuration("CHARLA_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("CHARLA_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("CHARLA_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("CHARLA_HTTP_IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    EnvInt("CHARLA_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("CHARLA_DATABASE_URL", ""),
		DBSchema:    EnvString("CHARLA_DB_SCHEMA", "public"),
		DBMaxConns:  EnvInt32("CHARLA_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("CHARLA_DB_MIN_CONNS", 0),

		SessionSecret: EnvString("CHARLA_SESSION_SECRET", ""),
		SessionCookie: EnvString("CHARLA_SESSION_COOKIE", "token"),

		WSAllowedOrigins: EnvCSV("CHARLA_WS_ALLOWED_ORIGINS", "localhost,127.0.0.1"),
		WSSendQueue:      EnvInt("CHARLA_WS_SEND_QUEUE", 256),
		WSWriteTimeout:   EnvDuration("CHARLA_WS_WRITE_TIMEOUT", 5*time.Second),
		WSPingInterval:   EnvDuration("CHARLA_WS_PING_INTERVAL", 30*time.Second),

		MaxBodyChars: EnvInt("CHARLA_MAX_BODY_CHARS", 4000),

		ReadinessRequireDB: EnvBool("CHARLA_READINESS_REQUIRE_DB", false),
	}
}
