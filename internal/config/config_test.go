package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

var envNames = []string{
	"PORT", "BIND_ADDRESS", "MAX_CONNECTIONS", "REQUEST_TIMEOUT_MS", "TRANSPORT_MODE", "CODEC",
	"MAX_FRAME_BYTES", "DRAIN_ON_PEER_CLOSE", "TICK_INTERVAL", "MAX_TASKS_PER_TICK", "MANIFEST_FILE", "HOST_VERSION",
	"COMMS_URL", "SERVICE_NAME", "COMMS_SUBJECT", "CHANGE_EVENT_SUBJECT", "JOURNAL_DATABASE_URL",
	"OTEL_ENDPOINT", "HTTP_PORT", "SHUTDOWN_TIMEOUT", "LOG_LEVEL",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range envNames {
		os.Unsetenv(name)
		os.Unsetenv(Prefix + "_" + name)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("config:config_test - unexpected error: %v", err)
	}

	if cfg.Port != 55557 {
		t.Errorf("config:config_test - Port = %d, want 55557", cfg.Port)
	}
	if cfg.BindAddress != "127.0.0.1" {
		t.Errorf("config:config_test - BindAddress = %q, want 127.0.0.1", cfg.BindAddress)
	}
	if cfg.MaxConnections != 32 {
		t.Errorf("config:config_test - MaxConnections = %d, want 32", cfg.MaxConnections)
	}
	if cfg.RequestTimeout() != 30*time.Second {
		t.Errorf("config:config_test - RequestTimeout = %v, want 30s", cfg.RequestTimeout())
	}
	if cfg.TransportMode != TransportLine || cfg.Codec != "json" {
		t.Errorf("config:config_test - transport %q codec %q, want line/json", cfg.TransportMode, cfg.Codec)
	}
	if cfg.TickInterval != 16*time.Millisecond || cfg.MaxTasksPerTick != 8 {
		t.Errorf("config:config_test - tick %v tasks %d, want 16ms/8", cfg.TickInterval, cfg.MaxTasksPerTick)
	}
	if cfg.COMMSURL != "" {
		t.Errorf("config:config_test - COMMSURL = %q, want empty", cfg.COMMSURL)
	}
	if cfg.COMMSSubject != "editor.bridge.v1.commands" {
		t.Errorf("config:config_test - COMMSSubject = %q", cfg.COMMSSubject)
	}
	if cfg.HTTPPort != 8080 {
		t.Errorf("config:config_test - HTTPPort = %d, want 8080", cfg.HTTPPort)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("config:config_test - LogLevel = %q, want info", cfg.LogLevel)
	}
	if cfg.DrainOnPeerClose {
		t.Errorf("config:config_test - DrainOnPeerClose should default to false")
	}
	if cfg.ListenAddress() != "127.0.0.1:55557" {
		t.Errorf("config:config_test - ListenAddress = %q", cfg.ListenAddress())
	}
	if err := cfg.ValidateForServe(); err != nil {
		t.Errorf("config:config_test - defaults should validate: %v", err)
	}
}

func TestLoadConfig_EnvironmentOverrides(t *testing.T) {
	clearEnv(t)
	overrides := map[string]string{
		"EDITOR_BRIDGE_PORT":                "6000",
		"EDITOR_BRIDGE_BIND_ADDRESS":        "0.0.0.0",
		"EDITOR_BRIDGE_REQUEST_TIMEOUT_MS":  "1500",
		"EDITOR_BRIDGE_TRANSPORT_MODE":      "length",
		"EDITOR_BRIDGE_CODEC":               "cbor",
		"EDITOR_BRIDGE_TICK_INTERVAL":       "5ms",
		"EDITOR_BRIDGE_HTTP_PORT":           "0",
		"EDITOR_BRIDGE_DRAIN_ON_PEER_CLOSE": "true",
		"LOG_LEVEL":                         "debug",
	}
	for k, v := range overrides {
		t.Setenv(k, v)
	}

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("config:config_test - unexpected error: %v", err)
	}
	if cfg.Port != 6000 || cfg.BindAddress != "0.0.0.0" {
		t.Errorf("config:config_test - listener %s, want 0.0.0.0:6000", cfg.ListenAddress())
	}
	if cfg.RequestTimeout() != 1500*time.Millisecond {
		t.Errorf("config:config_test - RequestTimeout = %v", cfg.RequestTimeout())
	}
	if cfg.TransportMode != TransportLength || cfg.Codec != "cbor" {
		t.Errorf("config:config_test - transport %q codec %q", cfg.TransportMode, cfg.Codec)
	}
	if cfg.TickInterval != 5*time.Millisecond {
		t.Errorf("config:config_test - TickInterval = %v", cfg.TickInterval)
	}
	if cfg.HTTPAddress() != "" {
		t.Errorf("config:config_test - HTTP server should be disabled, got %q", cfg.HTTPAddress())
	}
	if !cfg.DrainOnPeerClose {
		t.Errorf("config:config_test - DrainOnPeerClose override not applied")
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("config:config_test - bare LOG_LEVEL not honoured, got %q", cfg.LogLevel)
	}
	if err := cfg.ValidateForServe(); err != nil {
		t.Errorf("config:config_test - unexpected validation error: %v", err)
	}
}

func TestLoadConfig_InvalidValue(t *testing.T) {
	clearEnv(t)
	t.Setenv("EDITOR_BRIDGE_PORT", "not-a-port")
	if _, err := LoadConfig(); err == nil {
		t.Fatal("config:config_test - expected error for non-numeric port")
	}
}

func validConfig() *Config {
	return &Config{
		Port:             55557,
		BindAddress:      "127.0.0.1",
		MaxConnections:   32,
		RequestTimeoutMs: 30000,
		TransportMode:    TransportLine,
		Codec:            "json",
		MaxFrameBytes:    1 << 20,
		TickInterval:     16 * time.Millisecond,
		MaxTasksPerTick:  8,
		COMMSSubject:     "editor.bridge.v1.commands",
		HTTPPort:         8080,
		ShutdownTimeout:  10 * time.Second,
		LogLevel:         "info",
	}
}

func TestValidateForServe(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"port zero", func(c *Config) { c.Port = 0 }, "PORT"},
		{"nats ignores port", func(c *Config) { c.TransportMode = TransportNATS; c.COMMSURL = "nats://x:4222"; c.Port = 0 }, ""},
		{"nats needs url", func(c *Config) { c.TransportMode = TransportNATS }, "COMMS_URL"},
		{"unknown transport", func(c *Config) { c.TransportMode = "udp" }, "TRANSPORT_MODE"},
		{"cbor over lines", func(c *Config) { c.Codec = "cbor" }, "cbor"},
		{"cbor over length", func(c *Config) { c.Codec = "cbor"; c.TransportMode = TransportLength }, ""},
		{"unknown codec", func(c *Config) { c.Codec = "xml" }, "CODEC"},
		{"no timeout", func(c *Config) { c.RequestTimeoutMs = 0 }, "REQUEST_TIMEOUT_MS"},
		{"no connections", func(c *Config) { c.MaxConnections = 0 }, "MAX_CONNECTIONS"},
		{"no tick", func(c *Config) { c.TickInterval = 0 }, "TICK_INTERVAL"},
		{"bad log level", func(c *Config) { c.LogLevel = "trace" }, "LOG_LEVEL"},
		{"http port range", func(c *Config) { c.HTTPPort = 70000 }, "HTTP_PORT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			err := c.ValidateForServe()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("config:config_test - unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("config:config_test - expected error mentioning %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidateForJournal(t *testing.T) {
	c := validConfig()
	if err := c.ValidateForJournal(); err == nil {
		t.Fatal("config:config_test - expected error without JOURNAL_DATABASE_URL")
	}
	c.JournalDatabaseURL = "postgres://localhost/editor"
	if err := c.ValidateForJournal(); err != nil {
		t.Fatalf("config:config_test - unexpected error: %v", err)
	}
}
