// Package config loads, defaults and validates the server and client
// configuration. Configuration sources, in order of precedence:
//
//  1. CLI flags (highest priority, bound by cmd/netstate)
//  2. Environment variables (NET_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// ServerConfig is the static configuration of a NetServer process.
//
// Per-component ingress validators are code, not data: they are registered
// on the server after construction via netserver.Server.Validate and have
// no representation here.
type ServerConfig struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Metrics contains Prometheus metrics server configuration
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Port is the transport listen port
	Port uint16 `mapstructure:"port" validate:"required,min=1" yaml:"port"`

	// ReconnectWindow is the grace period a disconnected client has to
	// rebind its logical session with a valid token. 0 disables reconnect:
	// a transport close retires the session immediately.
	// Default: 30s
	ReconnectWindow time.Duration `mapstructure:"reconnect_window" yaml:"reconnect_window"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	// Default: 10s
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// OwnerComponent enables ownership validation of inbound client deltas
	// when non-nil: the named field of the named component must equal the
	// sending client's logical id for a change to be accepted.
	OwnerComponent *OwnerComponentConfig `mapstructure:"owner_component" yaml:"owner_component,omitempty"`

	// Transport tunes the websocket transport
	Transport TransportConfig `mapstructure:"transport" yaml:"transport"`
}

// ClientConfig is the static configuration of a NetClient.
type ClientConfig struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// OwnerComponent enables ownedEntities derivation and the per-tick
	// owned-component diff when non-nil.
	OwnerComponent *OwnerComponentConfig `mapstructure:"owner_component" yaml:"owner_component,omitempty"`

	// BurstThreshold is the buffered MSG_DELTA count beyond which the
	// client discards its backlog and requests a full resync.
	// Default: 0 (disabled)
	BurstThreshold uint32 `mapstructure:"burst_threshold" yaml:"burst_threshold"`
}

// OwnerComponentConfig names the component and field that carry an
// entity's owning client id.
type OwnerComponentConfig struct {
	// Component is the registered component name carrying ownership
	Component string `mapstructure:"component" validate:"required" yaml:"component"`

	// ClientIDField is the field within Component holding the owning
	// logical client id (wire type u16)
	ClientIDField string `mapstructure:"client_id_field" validate:"required" yaml:"client_id_field"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// MetricsConfig configures the Prometheus metrics HTTP server.
// When Enabled is false, no metrics are collected (zero overhead).
type MetricsConfig struct {
	// Enabled controls whether metrics collection and HTTP server are enabled
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port for the metrics endpoint
	// Default: 9090
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// TransportConfig tunes the websocket transport.
type TransportConfig struct {
	// SendBuffer is the per-connection outbound queue depth before the
	// slow-client policy closes the connection.
	// Default: 256
	SendBuffer int `mapstructure:"send_buffer" validate:"omitempty,min=1" yaml:"send_buffer"`

	// HandshakeTimeout bounds the websocket upgrade handshake.
	// Default: 10s
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout" yaml:"handshake_timeout"`
}

// Load loads the server configuration from file, environment, and defaults.
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *ServerConfig: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*ServerConfig, error) {
	v := viper.New()

	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	if !configFileFound {
		cfg := GetDefaultServerConfig()
		return cfg, nil
	}

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// An absent reconnect_window gets the default; an explicit 0 is kept
	// and disables reconnect.
	if !v.IsSet("reconnect_window") {
		cfg.ReconnectWindow = DefaultReconnectWindow
	}

	ApplyServerDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages.
// It checks if the config file exists and provides user-friendly
// instructions if not.
func MustLoad(configPath string) (*ServerConfig, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  netstate init\n\n"+
				"Or specify a custom config file:\n"+
				"  netstate <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s\n\n"+
				"Please create the configuration file:\n"+
				"  netstate init --config %s",
				configPath, configPath)
		}
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to the specified file path in YAML
// format.
func SaveConfig(cfg *ServerConfig, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setupViper configures viper with environment variables and config file
// settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use NET_ prefix and underscores
	// Example: NET_LOGGING_LEVEL=DEBUG, NET_RECONNECT_WINDOW=10s
	v.SetEnvPrefix("NET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/netstate/config.yaml
		configDir := getConfigDir()
		v.AddConfigPath(configDir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error) where fileFound indicates if a config file was
// found.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}

	return true, nil
}

// configDecodeHooks returns a combined decode hook for all custom types.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
	)
}

// durationDecodeHook returns a mapstructure decode hook that converts
// strings to time.Duration. This enables config files to use human-readable
// durations like "30s", "5m", "1h".
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			// Raw integers are taken as nanoseconds, time.Duration's own
			// unit. yaml.Marshal writes a time.Duration in string form
			// ("30s", "500ms"), which the string case above parses.
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to
// current directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "netstate")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "netstate")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default
// location.
func DefaultConfigExists() bool {
	path := GetDefaultConfigPath()
	_, err := os.Stat(path)
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for the
// init command).
func GetConfigDir() string {
	return getConfigDir()
}
