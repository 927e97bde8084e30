// Package config handles configuration loading, validation, and
// persistence for the frostbay backend emulator.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/frostbay-project/frostbay/internal/protocol/fesl"
	"github.com/frostbay-project/frostbay/internal/util"
)

const (
	DefaultConfigDir  = "config"
	DefaultConfigFile = "config.json"

	DefaultFeslPort    = 18300
	DefaultGameSpyPort = 28910
	DefaultAPIPort     = 5000
)

// Config is the root configuration structure for frostbay.
type Config struct {
	mu   sync.RWMutex
	path string

	Backend     BackendData     `json:"backend"`
	ApplicationData ApplicationData `json:"application"`
}

// BackendData contains the emulated backend's listener configuration.
type BackendData struct {
	// Listeners
	FeslAddress    string `json:"fesl_address"`
	FeslPort       int    `json:"fesl_port"`
	GameSpyAddress string `json:"gamespy_address"`
	GameSpyPort    int    `json:"gamespy_port"`

	// Identity presented to clients
	Name   string `json:"svr_name"`
	Region string `json:"svr_region"`
	Theme  string `json:"svr_theme"`

	// Wire-level limits. MaxMessageBytes caps the declared length of a
	// FESL frame before the body is read; MaxPacketBytes caps GameSpy
	// packet accumulation.
	MaxMessageBytes int `json:"max_message_bytes"`
	MaxPacketBytes  int `json:"max_packet_bytes"`

	// Seconds of silence before a connection is considered stale.
	IdleTimeoutSec int `json:"idle_timeout_sec"`

	// Seconds without a heartbeat before a game server is delisted.
	HeartbeatTimeoutSec int `json:"heartbeat_timeout_sec"`
}

// ApplicationData contains emulator application configuration.
type ApplicationData struct {
	APIPort      int            `json:"api_port"`
	DatabasePath string         `json:"database_path"`
	MQTT         MQTTConfig     `json:"mqtt"`
	Logging      util.LogConfig `json:"logging"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled   bool   `json:"enabled"`
	BrokerURL string `json:"broker_url"`
	Port      int    `json:"port"`
	ClientID  string `json:"client_id"`
	UseTLS    bool   `json:"use_tls"`
	CertFile  string `json:"cert_file"`
	KeyFile   string `json:"key_file"`
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Backend: BackendData{
			FeslAddress:         "0.0.0.0",
			FeslPort:            DefaultFeslPort,
			GameSpyAddress:      "0.0.0.0",
			GameSpyPort:         DefaultGameSpyPort,
			Name:                "frostbay",
			Region:              "EU",
			Theme:               "NAM",
			MaxMessageBytes:     1024 * 1024,
			MaxPacketBytes:      64 * 1024,
			IdleTimeoutSec:      300,
			HeartbeatTimeoutSec: 120,
		},
		ApplicationData: ApplicationData{
			APIPort:      DefaultAPIPort,
			DatabasePath: filepath.Join(DefaultConfigDir, "frostbay.db"),
			MQTT: MQTTConfig{
				Enabled: false,
				Port:    8883,
			},
			Logging: util.DefaultLogConfig(),
		},
	}
}

// Load reads the configuration from the given directory, creating it
// with defaults if no file exists yet.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, DefaultConfigFile)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		cfg := Default()
		cfg.path = path
		if err := cfg.Save(); err != nil {
			return nil, fmt.Errorf("failed to write default config: %w", err)
		}
		log.Info().Str("path", path).Msg("created default configuration")
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	cfg.path = path

	log.Info().Str("path", path).Msg("configuration loaded")
	return cfg, nil
}

// Save writes the configuration back to its file.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config %s: %w", c.path, err)
	}
	return nil
}

// GetBackend returns a copy of the backend section.
func (c *Config) GetBackend() BackendData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Backend
}

// ValidationIssue describes a single configuration problem.
type ValidationIssue struct {
	Field   string
	Message string
}

// ValidationResult aggregates errors and warnings from Validate.
type ValidationResult struct {
	Errors   []ValidationIssue
	Warnings []ValidationIssue
}

// IsValid reports whether the configuration has no hard errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// Validate checks the configuration for inconsistencies. Zero limit
// fields are errors: the wire caps exist to bound memory against
// hostile peers and must never be disabled.
func Validate(c *Config) *ValidationResult {
	result := &ValidationResult{}

	checkPort := func(field string, port int) {
		if port <= 0 || port > 65535 {
			result.Errors = append(result.Errors, ValidationIssue{
				Field:   field,
				Message: fmt.Sprintf("port %d outside valid range", port),
			})
		}
	}

	checkPort("backend.fesl_port", c.Backend.FeslPort)
	checkPort("backend.gamespy_port", c.Backend.GameSpyPort)
	checkPort("application.api_port", c.ApplicationData.APIPort)

	if c.Backend.FeslPort == c.Backend.GameSpyPort {
		result.Errors = append(result.Errors, ValidationIssue{
			Field:   "backend.gamespy_port",
			Message: "FESL and GameSpy listeners cannot share a port",
		})
	}

	if c.Backend.MaxMessageBytes <= 0 {
		result.Errors = append(result.Errors, ValidationIssue{
			Field:   "backend.max_message_bytes",
			Message: "message size cap must be positive",
		})
	} else if c.Backend.MaxMessageBytes > fesl.MaxMessageSize {
		result.Warnings = append(result.Warnings, ValidationIssue{
			Field:   "backend.max_message_bytes",
			Message: fmt.Sprintf("cap above the %d byte protocol maximum is clamped", fesl.MaxMessageSize),
		})
	}
	if c.Backend.MaxPacketBytes <= 0 {
		result.Errors = append(result.Errors, ValidationIssue{
			Field:   "backend.max_packet_bytes",
			Message: "packet size cap must be positive",
		})
	}

	if c.ApplicationData.MQTT.Enabled && c.ApplicationData.MQTT.BrokerURL == "" {
		result.Errors = append(result.Errors, ValidationIssue{
			Field:   "application.mqtt.broker_url",
			Message: "MQTT enabled but no broker configured",
		})
	}

	if c.Backend.HeartbeatTimeoutSec < 60 {
		result.Warnings = append(result.Warnings, ValidationIssue{
			Field:   "backend.heartbeat_timeout_sec",
			Message: "heartbeat timeout below 60s will delist healthy servers",
		})
	}

	return result
}
