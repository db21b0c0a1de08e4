// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the logship daemon.
type Config struct {
	Log             LogConfig       `yaml:"log"`
	Buffer          BufferConfig    `yaml:"buffer"`
	Dispatch        DispatchConfig  `yaml:"dispatch"`
	Delivery        DeliveryConfig  `yaml:"delivery"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout"`
	Telemetry       TelemetryConfig `yaml:"telemetry"`
	Sinks           SinksConfig     `yaml:"sinks"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// BufferConfig holds event buffer settings.
type BufferConfig struct {
	// Size is the event count that triggers a size-threshold flush.
	Size int `yaml:"size"`

	// FlushInterval is the time-threshold flush trigger; 0 disables
	// periodic flushing.
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// DispatchConfig holds chunk dispatch settings.
type DispatchConfig struct {
	// MaxInFlightChunks bounds chunks dispatched but not yet completed.
	MaxInFlightChunks int `yaml:"max_in_flight_chunks"`
}

// DeliveryConfig holds worker pool and retry settings.
type DeliveryConfig struct {
	MaxConcurrency    int           `yaml:"max_concurrency"`
	QueueSize         int           `yaml:"queue_size"`
	AttemptTimeout    time.Duration `yaml:"attempt_timeout"`
	MaxRetries        int           `yaml:"max_retries"`
	BackoffInitial    time.Duration `yaml:"backoff_initial"`
	BackoffMax        time.Duration `yaml:"backoff_max"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// TelemetryConfig holds OpenTelemetry configuration.
type TelemetryConfig struct {
	Enabled        bool    `yaml:"enabled"`
	Endpoint       string  `yaml:"endpoint"`
	ServiceName    string  `yaml:"service_name"`
	ServiceVersion string  `yaml:"service_version"`
	TracesEnabled  bool    `yaml:"traces_enabled"`
	SampleRate     float64 `yaml:"sample_rate"` // 0.0 to 1.0
}

// SinksConfig holds per-sink configuration.
type SinksConfig struct {
	HTTP      HTTPSinkConfig      `yaml:"http"`
	Badger    BadgerSinkConfig    `yaml:"badger"`
	WebSocket WebSocketSinkConfig `yaml:"websocket"`
}

// HTTPSinkConfig configures the HTTP batch sink.
type HTTPSinkConfig struct {
	Enabled   bool              `yaml:"enabled"`
	URL       string            `yaml:"url"`
	Headers   map[string]string `yaml:"headers"`
	Timeout   time.Duration     `yaml:"timeout"`
	Compress  bool              `yaml:"compress"`
	ExpectAck bool              `yaml:"expect_ack"`
	RateLimit float64           `yaml:"rate_limit"` // sends per second, 0 = unlimited
	RateBurst int               `yaml:"rate_burst"`
	Breaker   BreakerConfig     `yaml:"breaker"`
}

// BreakerConfig holds circuit breaker configuration.
type BreakerConfig struct {
	FailureThreshold uint32        `yaml:"failure_threshold"`
	ResetTimeout     time.Duration `yaml:"reset_timeout"`
}

// BadgerSinkConfig configures the durable BadgerDB sink.
type BadgerSinkConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

// WebSocketSinkConfig configures the WebSocket sink.
type WebSocketSinkConfig struct {
	Enabled      bool          `yaml:"enabled"`
	URL          string        `yaml:"url"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Buffer: BufferConfig{
			Size:          100,
			FlushInterval: 10 * time.Second,
		},
		Dispatch: DispatchConfig{
			MaxInFlightChunks: 4,
		},
		Delivery: DeliveryConfig{
			MaxConcurrency:    3,
			QueueSize:         256,
			AttemptTimeout:    30 * time.Second,
			MaxRetries:        5,
			BackoffInitial:    1 * time.Second,
			BackoffMax:        30 * time.Second,
			BackoffMultiplier: 2.0,
		},
		ShutdownTimeout: 30 * time.Second,
		Telemetry: TelemetryConfig{
			Enabled:        false,
			Endpoint:       "localhost:4317",
			ServiceName:    "logship",
			ServiceVersion: "0.1.0",
			TracesEnabled:  false,
			SampleRate:     0.1,
		},
		Sinks: SinksConfig{
			HTTP: HTTPSinkConfig{
				Enabled:  false,
				Timeout:  10 * time.Second,
				Compress: true,
				Breaker: BreakerConfig{
					FailureThreshold: 5,
					ResetTimeout:     60 * time.Second,
				},
			},
			Badger: BadgerSinkConfig{
				Enabled: false,
				Dir:     "/tmp/logship/data",
			},
			WebSocket: WebSocketSinkConfig{
				Enabled:      false,
				WriteTimeout: 10 * time.Second,
			},
		},
	}
}

// Load loads configuration from a YAML file.
// If the file doesn't exist, returns default configuration.
func Load(filename string) (*Config, error) {
	if filename == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("log.format must be one of: text, json")
	}

	if c.Buffer.Size < 1 {
		return fmt.Errorf("buffer.size must be at least 1")
	}
	if c.Buffer.FlushInterval < 0 {
		return fmt.Errorf("buffer.flush_interval cannot be negative")
	}

	if c.Dispatch.MaxInFlightChunks < 1 {
		return fmt.Errorf("dispatch.max_in_flight_chunks must be at least 1")
	}

	if c.Delivery.MaxConcurrency < 1 {
		return fmt.Errorf("delivery.max_concurrency must be at least 1")
	}
	if c.Delivery.QueueSize < 1 {
		return fmt.Errorf("delivery.queue_size must be at least 1")
	}
	if c.Delivery.MaxRetries < 1 {
		return fmt.Errorf("delivery.max_retries must be at least 1")
	}
	if c.Delivery.BackoffInitial <= 0 {
		return fmt.Errorf("delivery.backoff_initial must be positive")
	}
	if c.Delivery.BackoffMax < c.Delivery.BackoffInitial {
		return fmt.Errorf("delivery.backoff_max must be at least backoff_initial")
	}
	if c.Delivery.BackoffMultiplier < 1.0 {
		return fmt.Errorf("delivery.backoff_multiplier must be at least 1.0")
	}

	if c.ShutdownTimeout < time.Second {
		return fmt.Errorf("shutdown_timeout must be at least 1 second")
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.Endpoint == "" {
			return fmt.Errorf("telemetry.endpoint cannot be empty when telemetry is enabled")
		}
		if c.Telemetry.ServiceName == "" {
			return fmt.Errorf("telemetry.service_name cannot be empty when telemetry is enabled")
		}
		if c.Telemetry.SampleRate < 0.0 || c.Telemetry.SampleRate > 1.0 {
			return fmt.Errorf("telemetry.sample_rate must be between 0.0 and 1.0")
		}
	}

	if c.Sinks.HTTP.Enabled {
		if c.Sinks.HTTP.URL == "" {
			return fmt.Errorf("sinks.http.url cannot be empty when the HTTP sink is enabled")
		}
		if c.Sinks.HTTP.Timeout < time.Second {
			return fmt.Errorf("sinks.http.timeout must be at least 1 second")
		}
		if c.Sinks.HTTP.RateLimit < 0 {
			return fmt.Errorf("sinks.http.rate_limit cannot be negative")
		}
		if c.Sinks.HTTP.Breaker.FailureThreshold < 1 {
			return fmt.Errorf("sinks.http.breaker.failure_threshold must be at least 1")
		}
	}

	if c.Sinks.Badger.Enabled && c.Sinks.Badger.Dir == "" {
		return fmt.Errorf("sinks.badger.dir cannot be empty when the badger sink is enabled")
	}

	if c.Sinks.WebSocket.Enabled {
		if c.Sinks.WebSocket.URL == "" {
			return fmt.Errorf("sinks.websocket.url cannot be empty when the websocket sink is enabled")
		}
		if c.Sinks.WebSocket.WriteTimeout < time.Second {
			return fmt.Errorf("sinks.websocket.write_timeout must be at least 1 second")
		}
	}

	return nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
