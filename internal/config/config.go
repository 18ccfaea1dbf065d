package config

import (
	"log"

	"github.com/kelseyhightower/envconfig"
)

type Settings struct {
	DataPath   string `envconfig:"DATA_PATH" default:"/var/lib/shellmux"`
	ListenAddr string `envconfig:"LISTEN_ADDR" default:":8000"`
	LogPath    string `envconfig:"LOG_PATH" default:""`

	// Connection manager settings
	ConnectTimeout      string `envconfig:"CONNECT_TIMEOUT" default:"30s"`
	RateLimitAttempts   int    `envconfig:"RATE_LIMIT_ATTEMPTS" default:"5"`
	RateLimitWindow     string `envconfig:"RATE_LIMIT_WINDOW" default:"300s"`
	InactivityThreshold string `envconfig:"INACTIVITY_THRESHOLD" default:"1h"`
	InactivitySweepSpec string `envconfig:"INACTIVITY_SWEEP_SPEC" default:"@every 1m"`

	// Tab registry settings
	MaxTabs        int `envconfig:"MAX_TABS" default:"10"`
	ScrollbackSize int `envconfig:"SCROLLBACK_SIZE" default:"1048576"`

	// Collaboration settings
	HeartbeatInterval    string `envconfig:"HEARTBEAT_INTERVAL" default:"30s"`
	ReconnectBaseDelay   string `envconfig:"RECONNECT_BASE_DELAY" default:"1s"`
	ReconnectMaxAttempts int    `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"5"`
	CursorThrottleWindow string `envconfig:"CURSOR_THROTTLE_WINDOW" default:"100ms"`

	// Profile store settings
	DatabasePath    string `envconfig:"DATABASE_PATH" default:""`
	ProfileSeedPath string `envconfig:"PROFILE_SEED_PATH" default:""`
}

var Cfg Settings

func Load() {
	if err := envconfig.Process("SHELLMUX", &Cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
}
