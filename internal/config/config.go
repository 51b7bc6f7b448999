package config

import (
	"log"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Settings struct {
	ListenAddr   string `envconfig:"LISTEN_ADDR" default:":8000"`
	WSPath       string `envconfig:"WS_PATH" default:"/ws/ssh"`
	DataPath     string `envconfig:"DATA_PATH" default:"/app/data"`
	DatabasePath string `envconfig:"DATABASE_PATH" default:""`
	LogPath      string `envconfig:"LOG_PATH" default:""`
	// TrustProxyHeaders takes the client address from X-Forwarded-For /
	// X-Real-IP. Enable only behind a proxy that sets them.
	TrustProxyHeaders bool `envconfig:"TRUST_PROXY_HEADERS" default:"false"`
	// APIToken guards /api/v1 with a bearer token. Empty leaves it open.
	APIToken string `envconfig:"API_TOKEN" default:""`

	// Audit settings
	AuditLogPath       string `envconfig:"AUDIT_LOG_PATH" default:"logs/ssh_commands.log"`
	AuditRetentionDays int    `envconfig:"AUDIT_RETENTION_DAYS" default:"90"`
	StatsSchedule      string `envconfig:"STATS_SCHEDULE" default:"@every 10m"`

	// Upstream SSH settings
	HandshakeTimeout string   `envconfig:"HANDSHAKE_TIMEOUT" default:"15s"`
	KnownHostsPath   string   `envconfig:"KNOWN_HOSTS_PATH" default:""`
	AllowedHosts     []string `envconfig:"ALLOWED_HOSTS" default:""`

	// Relay connection settings
	MaxMessageSize int64    `envconfig:"MAX_MESSAGE_SIZE" default:"65536"`
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS" default:""`

	// Connect rate limiting, per client IP
	RateLimitPerMinute   int    `envconfig:"RATE_LIMIT_PER_MINUTE" default:"10"`
	RateLimitMaxFailures int    `envconfig:"RATE_LIMIT_MAX_FAILURES" default:"5"`
	RateLimitBlock       string `envconfig:"RATE_LIMIT_BLOCK" default:"5m"`
}

var Cfg Settings

func Load() {
	if err := envconfig.Process("SSHRELAY", &Cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
}

// DBPath returns the sqlite path, defaulting to relay.db under DataPath.
func (s Settings) DBPath() string {
	if s.DatabasePath != "" {
		return s.DatabasePath
	}
	return filepath.Join(s.DataPath, "relay.db")
}

// Handshake parses HandshakeTimeout. An unparsable value falls back to 15s;
// "0" disables the timeout.
func (s Settings) Handshake() time.Duration {
	return parseDuration("HANDSHAKE_TIMEOUT", s.HandshakeTimeout, 15*time.Second)
}

// RateLimitBlockDuration parses RateLimitBlock, falling back to 5m.
func (s Settings) RateLimitBlockDuration() time.Duration {
	return parseDuration("RATE_LIMIT_BLOCK", s.RateLimitBlock, 5*time.Minute)
}

func parseDuration(name, value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d < 0 {
		log.Printf("Invalid %s %q, using %s", name, value, fallback)
		return fallback
	}
	return d
}
