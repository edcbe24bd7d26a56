// Package config provides server configuration loaded from environment variables.
package config

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const logPrefix = "config:LoadConfig"

// Prefix is prepended to every variable name. The bare names are accepted as
// a fallback, e.g. LOG_LEVEL for EDITOR_BRIDGE_LOG_LEVEL.
const Prefix = "EDITOR_BRIDGE"

// Transport modes.
const (
	TransportLine   = "line"
	TransportLength = "length"
	TransportHTTP   = "http"
	TransportNATS   = "nats"
)

// Config holds editor-bridge configuration.
type Config struct {
	// Command listener
	Port             int    `envconfig:"PORT" default:"55557"`
	BindAddress      string `envconfig:"BIND_ADDRESS" default:"127.0.0.1"`
	MaxConnections   int    `envconfig:"MAX_CONNECTIONS" default:"32"`
	RequestTimeoutMs int    `envconfig:"REQUEST_TIMEOUT_MS" default:"30000"`
	TransportMode    string `envconfig:"TRANSPORT_MODE" default:"line"`
	Codec            string `envconfig:"CODEC" default:"json"`
	MaxFrameBytes    int    `envconfig:"MAX_FRAME_BYTES" default:"1048576"`
	DrainOnPeerClose bool   `envconfig:"DRAIN_ON_PEER_CLOSE" default:"false"`

	// Mutation thread
	TickInterval    time.Duration `envconfig:"TICK_INTERVAL" default:"16ms"`
	MaxTasksPerTick int           `envconfig:"MAX_TASKS_PER_TICK" default:"8"`

	// Host
	ManifestFile string `envconfig:"MANIFEST_FILE"`
	HostVersion  string `envconfig:"HOST_VERSION"`

	// COMMS: NATS transport and change events. Empty COMMSURL disables both.
	COMMSURL           string `envconfig:"COMMS_URL"`
	COMMSName          string `envconfig:"SERVICE_NAME" default:"editor-bridge"`
	COMMSSubject       string `envconfig:"COMMS_SUBJECT" default:"editor.bridge.v1.commands"`
	ChangeEventSubject string `envconfig:"CHANGE_EVENT_SUBJECT"`

	// Audit journal (optional)
	JournalDatabaseURL string `envconfig:"JOURNAL_DATABASE_URL"`

	// Tracing (optional)
	OTelEndpoint string `envconfig:"OTEL_ENDPOINT"`

	// HTTP status server; 0 disables it
	HTTPPort        int           `envconfig:"HTTP_PORT" default:"8080"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`

	// Logging
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var c Config
	if err := envconfig.Process(Prefix, &c); err != nil {
		return nil, fmt.Errorf("%s - failed to process environment: %w", logPrefix, err)
	}
	return &c, nil
}

// RequestTimeout returns the per-request timeout.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMs) * time.Millisecond
}

// ListenAddress returns the command listener address.
func (c *Config) ListenAddress() string {
	return net.JoinHostPort(c.BindAddress, strconv.Itoa(c.Port))
}

// HTTPAddress returns the status server address, or "" when disabled.
func (c *Config) HTTPAddress() string {
	if c.HTTPPort == 0 {
		return ""
	}
	return net.JoinHostPort(c.BindAddress, strconv.Itoa(c.HTTPPort))
}

// ValidateForServe checks config when running the bridge.
func (c *Config) ValidateForServe() error {
	if c.TransportMode != TransportNATS && (c.Port <= 0 || c.Port > 65535) {
		return fmt.Errorf("%s - PORT must be between 1 and 65535, got %d", logPrefix, c.Port)
	}
	if c.HTTPPort < 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("%s - HTTP_PORT must be between 0 and 65535, got %d", logPrefix, c.HTTPPort)
	}
	if c.MaxConnections <= 0 {
		return fmt.Errorf("%s - MAX_CONNECTIONS must be positive", logPrefix)
	}
	if c.RequestTimeoutMs <= 0 {
		return fmt.Errorf("%s - REQUEST_TIMEOUT_MS must be positive", logPrefix)
	}
	if c.MaxFrameBytes <= 0 {
		return fmt.Errorf("%s - MAX_FRAME_BYTES must be positive", logPrefix)
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("%s - TICK_INTERVAL must be positive", logPrefix)
	}
	if c.MaxTasksPerTick <= 0 {
		return fmt.Errorf("%s - MAX_TASKS_PER_TICK must be positive", logPrefix)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("%s - SHUTDOWN_TIMEOUT must be positive", logPrefix)
	}

	switch c.TransportMode {
	case TransportLine, TransportLength, TransportHTTP:
	case TransportNATS:
		if c.COMMSURL == "" {
			return fmt.Errorf("%s - COMMS_URL is required for the nats transport", logPrefix)
		}
		if c.COMMSSubject == "" {
			return fmt.Errorf("%s - COMMS_SUBJECT is required for the nats transport", logPrefix)
		}
	default:
		return fmt.Errorf("%s - unknown TRANSPORT_MODE %q", logPrefix, c.TransportMode)
	}

	switch c.Codec {
	case "json":
	case "cbor":
		if c.TransportMode == TransportLine {
			return fmt.Errorf("%s - the cbor codec needs a binary-safe transport, not %q", logPrefix, TransportLine)
		}
	default:
		return fmt.Errorf("%s - unknown CODEC %q", logPrefix, c.Codec)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%s - unknown LOG_LEVEL %q", logPrefix, c.LogLevel)
	}
	return nil
}

// ValidateForJournal checks config for commands that need the journal database.
func (c *Config) ValidateForJournal() error {
	if c.JournalDatabaseURL == "" {
		return fmt.Errorf("%s - JOURNAL_DATABASE_URL is required", logPrefix)
	}
	return nil
}
