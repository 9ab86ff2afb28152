package config

import "testing"

func TestGetDefaultServerConfig(t *testing.T) {
	cfg := GetDefaultServerConfig()

	if cfg.Port != DefaultPort {
		t.Errorf("expected port %d, got %d", DefaultPort, cfg.Port)
	}
	if cfg.ReconnectWindow != DefaultReconnectWindow {
		t.Errorf("expected reconnect window %v, got %v", DefaultReconnectWindow, cfg.ReconnectWindow)
	}
	if cfg.Logging.Level != DefaultLogLevel {
		t.Errorf("expected log level %q, got %q", DefaultLogLevel, cfg.Logging.Level)
	}
	if cfg.Transport.SendBuffer != DefaultSendBuffer {
		t.Errorf("expected send buffer %d, got %d", DefaultSendBuffer, cfg.Transport.SendBuffer)
	}
}

func TestApplyServerDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := &ServerConfig{Port: 9999}
	cfg.Logging.Level = "ERROR"

	ApplyServerDefaults(cfg)

	if cfg.Port != 9999 {
		t.Errorf("explicit port overwritten: %d", cfg.Port)
	}
	if cfg.Logging.Level != "ERROR" {
		t.Errorf("explicit log level overwritten: %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != DefaultLogFormat {
		t.Errorf("missing format not defaulted: %q", cfg.Logging.Format)
	}
}

func TestApplyServerDefaults_MetricsPortOnlyWhenEnabled(t *testing.T) {
	cfg := &ServerConfig{}
	ApplyServerDefaults(cfg)
	if cfg.Metrics.Port != 0 {
		t.Errorf("metrics port defaulted while disabled: %d", cfg.Metrics.Port)
	}

	cfg = &ServerConfig{Metrics: MetricsConfig{Enabled: true}}
	ApplyServerDefaults(cfg)
	if cfg.Metrics.Port != DefaultMetricsPort {
		t.Errorf("expected metrics port %d, got %d", DefaultMetricsPort, cfg.Metrics.Port)
	}
}

func TestGetDefaultClientConfig(t *testing.T) {
	cfg := GetDefaultClientConfig()

	if cfg.BurstThreshold != 0 {
		t.Errorf("burst threshold should default to disabled, got %d", cfg.BurstThreshold)
	}
	if cfg.Logging.Level != DefaultLogLevel {
		t.Errorf("expected log level %q, got %q", DefaultLogLevel, cfg.Logging.Level)
	}
}
