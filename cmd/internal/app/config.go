package app

import (
	"time"

	v1 "cipherchat/shared/contracts/relay/v1"
)

// Journal backends.
const (
	JournalOff      = "off"
	JournalMemory   = "memory"
	JournalBolt     = "bolt"
	JournalPostgres = "postgres"
)

// Config contains all runtime configuration loaded from environment variables.
// Key material is read separately by the keyring package and never stored here.
type Config struct {
	Addr      string
	FrameSize int

	LogLevel  string
	LogFormat string
	LogColor  bool

	AuthTimeout     time.Duration
	ReadIdleTimeout time.Duration
	WriteTimeout    time.Duration
	SendQueue       int
	RelayQueue      int
	RateEvents      int
	RateWindow      time.Duration

	// Ops HTTP server (health, metrics, journal, WebSocket). Disabled when empty.
	OpsAddr           string
	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	WSEnabled        bool
	WSAllowedOrigins []string
	WSOriginRequired bool
	WSDevInsecure    bool

	Journal     string
	JournalPath string

	DatabaseURL string
	DBSchema    string
	DBMaxConns  int32
	DBMinConns  int32

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		Addr:      EnvString("CIPHERCHAT_ADDR", v1.DefaultAddr),
		FrameSize: EnvInt("CIPHERCHAT_FRAME_SIZE", v1.DefaultFrameSize),

		LogLevel:  EnvString("CIPHERCHAT_LOG_LEVEL", "info"),
		LogFormat: EnvString("CIPHERCHAT_LOG_FORMAT", "json"),
		LogColor:  EnvBool("CIPHERCHAT_LOG_COLOR", false),

		AuthTimeout:     EnvDuration("CIPHERCHAT_AUTH_TIMEOUT", 30*time.Second),
		ReadIdleTimeout: EnvDuration("CIPHERCHAT_READ_IDLE_TIMEOUT", 0),
		WriteTimeout:    EnvDuration("CIPHERCHAT_WRITE_TIMEOUT", 5*time.Second),
		SendQueue:       EnvInt("CIPHERCHAT_SEND_QUEUE", 256),
		RelayQueue:      EnvInt("CIPHERCHAT_RELAY_QUEUE", 1024),
		RateEvents:      EnvInt("CIPHERCHAT_RATE_EVENTS", 120),
		RateWindow:      EnvDuration("CIPHERCHAT_RATE_WINDOW", 10*time.Second),

		OpsAddr:           EnvString("CIPHERCHAT_OPS_ADDR", ""),
		ReadHeaderTimeout: EnvDuration("CIPHERCHAT_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		IdleTimeout:       EnvDuration("CIPHERCHAT_HTTP_IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    EnvInt("CIPHERCHAT_HTTP_MAX_HEADER_BYTES", 1<<20),

		WSEnabled:        EnvBool("CIPHERCHAT_WS_ENABLED", false),
		WSAllowedOrigins: EnvCSV("CIPHERCHAT_WS_ALLOWED_ORIGINS", "http://localhost,http://127.0.0.1"),
		WSOriginRequired: EnvBool("CIPHERCHAT_WS_ORIGIN_REQUIRED", true),
		WSDevInsecure:    EnvBool("CIPHERCHAT_WS_DEV_INSECURE", false),

		Journal:     EnvString("CIPHERCHAT_JOURNAL", JournalOff),
		JournalPath: EnvString("CIPHERCHAT_JOURNAL_PATH", "cipherchat-journal.db"),

		DatabaseURL: EnvString("CIPHERCHAT_DATABASE_URL", ""),
		DBSchema:    EnvString("CIPHERCHAT_DB_SCHEMA", "cipherchat"),
		DBMaxConns:  EnvInt32("CIPHERCHAT_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("CIPHERCHAT_DB_MIN_CONNS", 0),

		ReadinessRequireDB: EnvBool("CIPHERCHAT_READINESS_REQUIRE_DB", false),
	}
}
