// Package config handles configuration loading, validation, and persistence
// for rconsole: named server profiles plus application-level settings for
// logging, the REST API, telemetry, and the history store.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rconsole-project/rconsole/internal/rcon"
)

const (
	DefaultConfigDir  = "config"
	DefaultConfigFile = "config.json"
	DefaultAPIPort    = 5800
)

// Config is the root configuration structure for rconsole.
type Config struct {
	mu   sync.RWMutex
	path string

	Profiles    []Profile       `json:"profiles"`
	Application ApplicationData `json:"application_data"`
}

// Profile is a stored credential descriptor for one game server. It maps
// 1:1 onto the client configuration of the protocol engines.
type Profile struct {
	Name      string `json:"name"`
	Protocol  string `json:"protocol"` // "source" or "battleye"
	Host      string `json:"host"`
	Port      uint16 `json:"port"`
	Password  string `json:"password"`
	TimeoutMS int    `json:"timeout_ms"`
	Debug     bool   `json:"debug"`
	AllowIPv6 bool   `json:"allow_ipv6"`
}

// ClientConfig maps the profile onto the engine configuration. Zero-valued
// fields stay zero; the engines substitute protocol defaults.
func (p Profile) ClientConfig() rcon.ClientConfig {
	timeout := time.Duration(p.TimeoutMS) * time.Millisecond
	return rcon.ClientConfig{
		Host:           p.Host,
		Port:           p.Port,
		Password:       p.Password,
		ConnectTimeout: timeout,
		IOTimeout:      timeout,
		Debug:          p.Debug,
		AllowIPv6:      p.AllowIPv6,
	}
}

// ProtocolKind returns the typed protocol of the profile, defaulting to
// Source when the field is empty.
func (p Profile) ProtocolKind() rcon.Protocol {
	if p.Protocol == string(rcon.ProtocolBattlEye) {
		return rcon.ProtocolBattlEye
	}
	return rcon.ProtocolSource
}

// ApplicationData contains application-level configuration.
type ApplicationData struct {
	Logging LoggingConfig `json:"logging"`
	API     APIConfig     `json:"api"`
	MQTT    MQTTConfig    `json:"mqtt"`
	History HistoryConfig `json:"history"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxBackups int    `json:"max_backups"`
	Console    bool   `json:"console"`
}

// APIConfig holds REST API settings.
type APIConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port"`
	Token   string `json:"token"` // empty disables bearer auth
}

// MQTTConfig holds telemetry broker settings.
type MQTTConfig struct {
	Enabled   bool   `json:"enabled"`
	BrokerURL string `json:"broker_url"`
	Port      int    `json:"port"`
	ClientID  string `json:"client_id"`
	UseTLS    bool   `json:"use_tls"`
	CertFile  string `json:"cert_file"`
	KeyFile   string `json:"key_file"`
}

// HistoryConfig holds command history store settings.
type HistoryConfig struct {
	Path          string `json:"path"`
	RetentionDays int    `json:"retention_days"`
}

// DefaultConfig returns a configuration populated with defaults.
func DefaultConfig() *Config {
	return &Config{
		Profiles: []Profile{},
		Application: ApplicationData{
			Logging: LoggingConfig{
				Level:      "info",
				Directory:  "logs",
				MaxBackups: 5,
				Console:    true,
			},
			API: APIConfig{
				Enabled: true,
				Port:    DefaultAPIPort,
			},
			MQTT: MQTTConfig{
				Enabled: false,
				Port:    8883,
			},
			History: HistoryConfig{
				Path:          "config/history.db",
				RetentionDays: 90,
			},
		},
	}
}

// Load reads the configuration from dir, creating it with defaults when the
// file does not exist yet.
func Load(dir string) (*Config, error) {
	configPath := filepath.Join(dir, DefaultConfigFile)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.path = configPath
		if err := cfg.Save(); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		log.Info().Str("path", configPath).Msg("created default configuration")
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig() // Start with defaults, then overlay
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	cfg.path = configPath
	log.Info().Str("path", configPath).Int("profiles", len(cfg.Profiles)).
		Msg("configuration loaded")

	// Re-save config to persist any new default fields added in code
	// updates, so config.json always reflects the complete set of options.
	if saveErr := cfg.Save(); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
	}

	return cfg, nil
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// GetProfile returns the named profile.
func (c *Config) GetProfile(name string) (Profile, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, p := range c.Profiles {
		if p.Name == name {
			return p, true
		}
	}
	return Profile{}, false
}

// GetProfiles returns a copy of all profiles.
func (c *Config) GetProfiles() []Profile {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Profile, len(c.Profiles))
	copy(out, c.Profiles)
	return out
}

// SetProfile adds or replaces a profile by name.
func (c *Config) SetProfile(p Profile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.Profiles {
		if c.Profiles[i].Name == p.Name {
			c.Profiles[i] = p
			return
		}
	}
	c.Profiles = append(c.Profiles, p)
}

// RemoveProfile deletes a profile by name.
func (c *Config) RemoveProfile(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.Profiles {
		if c.Profiles[i].Name == name {
			c.Profiles = append(c.Profiles[:i], c.Profiles[i+1:]...)
			return true
		}
	}
	return false
}

// GetApplicationData returns a copy of the application configuration.
func (c *Config) GetApplicationData() ApplicationData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Application
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}
