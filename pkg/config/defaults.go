package config

import "time"

// Default values applied to any unspecified configuration fields.
const (
	DefaultLogLevel  = "INFO"
	DefaultLogFormat = "text"
	DefaultLogOutput = "stdout"

	DefaultPort            uint16 = 4000
	DefaultReconnectWindow        = 30 * time.Second
	DefaultShutdownTimeout        = 10 * time.Second

	DefaultMetricsPort = 9090

	DefaultSendBuffer       = 256
	DefaultHandshakeTimeout = 10 * time.Second
)

// ApplyServerDefaults sets default values for any unspecified server
// configuration fields. Zero values (0, "", nil) are replaced with
// defaults; explicit values are preserved.
//
// ReconnectWindow is the one exception to the zero-value rule: 0 is a
// meaningful setting (reconnect disabled), so it is not defaulted here.
// GetDefaultServerConfig sets it, and Load sets it when the config file
// leaves reconnect_window out.
func ApplyServerDefaults(cfg *ServerConfig) {
	applyLoggingDefaults(&cfg.Logging)

	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = DefaultMetricsPort
	}
	if cfg.Transport.SendBuffer == 0 {
		cfg.Transport.SendBuffer = DefaultSendBuffer
	}
	if cfg.Transport.HandshakeTimeout == 0 {
		cfg.Transport.HandshakeTimeout = DefaultHandshakeTimeout
	}
}

// ApplyClientDefaults sets default values for any unspecified client
// configuration fields. BurstThreshold 0 means disabled and is the default.
func ApplyClientDefaults(cfg *ClientConfig) {
	applyLoggingDefaults(&cfg.Logging)
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = DefaultLogLevel
	}
	if cfg.Format == "" {
		cfg.Format = DefaultLogFormat
	}
	if cfg.Output == "" {
		cfg.Output = DefaultLogOutput
	}
}

// GetDefaultServerConfig returns a fully populated server configuration
// with every field at its default value.
func GetDefaultServerConfig() *ServerConfig {
	cfg := &ServerConfig{
		ReconnectWindow: DefaultReconnectWindow,
	}
	ApplyServerDefaults(cfg)
	return cfg
}

// GetDefaultClientConfig returns a fully populated client configuration
// with every field at its default value.
func GetDefaultClientConfig() *ClientConfig {
	cfg := &ClientConfig{}
	ApplyClientDefaults(cfg)
	return cfg
}
