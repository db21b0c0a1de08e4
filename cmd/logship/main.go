// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Command logship reads JSON-lines log events from stdin and ships them
// through one delivery pipeline per enabled sink.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lognova/logship/config"
	"github.com/lognova/logship/event"
	"github.com/lognova/logship/observe"
	"github.com/lognova/logship/pipeline"
	"github.com/lognova/logship/sink/badgersink"
	"github.com/lognova/logship/sink/httpsink"
	"github.com/lognova/logship/sink/wssink"
)

// inputLine is the accepted stdin record shape.
type inputLine struct {
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Fields  map[string]any `json:"fields"`
}

func main() {
	configFile := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup logging
	logLevel := slog.LevelInfo
	switch cfg.Log.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	slog.Info("Starting logship", "version", "0.1.0")

	// Telemetry
	var metrics *observe.Metrics
	if cfg.Telemetry.Enabled {
		hostname, _ := os.Hostname()
		shutdownTelemetry, err := observe.InitProvider(observe.Config{
			Endpoint:       cfg.Telemetry.Endpoint,
			ServiceName:    cfg.Telemetry.ServiceName,
			ServiceVersion: cfg.Telemetry.ServiceVersion,
			TracesEnabled:  cfg.Telemetry.TracesEnabled,
			SampleRate:     cfg.Telemetry.SampleRate,
		}, hostname)
		if err != nil {
			slog.Error("Failed to initialize telemetry", "error", err)
			os.Exit(1)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := shutdownTelemetry(ctx); err != nil {
				slog.Error("Telemetry shutdown failed", "error", err)
			}
		}()

		metrics, err = observe.NewMetrics()
		if err != nil {
			slog.Error("Failed to create metrics", "error", err)
			os.Exit(1)
		}
	}

	hostname, _ := os.Hostname()
	formatter := &event.JSONFormatter{Source: hostname}

	pipeCfg := pipeline.Config{
		BufferSize:        cfg.Buffer.Size,
		FlushInterval:     cfg.Buffer.FlushInterval,
		MaxInFlightChunks: cfg.Dispatch.MaxInFlightChunks,
	}
	pipeCfg.Executor.MaxConcurrency = cfg.Delivery.MaxConcurrency
	pipeCfg.Executor.QueueSize = cfg.Delivery.QueueSize
	pipeCfg.Executor.AttemptTimeout = cfg.Delivery.AttemptTimeout
	pipeCfg.Policy.MaxRetries = cfg.Delivery.MaxRetries
	pipeCfg.Policy.InitialInterval = cfg.Delivery.BackoffInitial
	pipeCfg.Policy.MaxInterval = cfg.Delivery.BackoffMax
	pipeCfg.Policy.Multiplier = cfg.Delivery.BackoffMultiplier

	// Partial failure is normal, reportable output; the daemon logs it.
	complete := func(c *pipeline.Chunk, res pipeline.AggregateResult) {
		if res.Status == pipeline.AllSucceeded {
			return
		}
		slog.Warn("chunk delivery incomplete",
			"chunk_id", c.ID,
			"status", string(res.Status),
			"failed_events", len(res.FailedEvents))
	}

	var pipelines []*pipeline.Pipeline

	if cfg.Sinks.HTTP.Enabled {
		s, err := httpsink.New(httpsink.Config{
			URL:       cfg.Sinks.HTTP.URL,
			Headers:   cfg.Sinks.HTTP.Headers,
			Timeout:   cfg.Sinks.HTTP.Timeout,
			Compress:  cfg.Sinks.HTTP.Compress,
			ExpectAck: cfg.Sinks.HTTP.ExpectAck,
			RateLimit: cfg.Sinks.HTTP.RateLimit,
			RateBurst: cfg.Sinks.HTTP.RateBurst,
			Breaker: httpsink.BreakerConfig{
				FailureThreshold: cfg.Sinks.HTTP.Breaker.FailureThreshold,
				ResetTimeout:     cfg.Sinks.HTTP.Breaker.ResetTimeout,
			},
		}, formatter, logger)
		if err != nil {
			slog.Error("Failed to create HTTP sink", "error", err)
			os.Exit(1)
		}
		p, err := pipeline.New(pipeCfg, s, complete, metrics, logger)
		if err != nil {
			slog.Error("Failed to create HTTP pipeline", "error", err)
			os.Exit(1)
		}
		pipelines = append(pipelines, p)
	}

	if cfg.Sinks.Badger.Enabled {
		s, err := badgersink.New(badgersink.Config{Dir: cfg.Sinks.Badger.Dir}, formatter, logger)
		if err != nil {
			slog.Error("Failed to create badger sink", "error", err)
			os.Exit(1)
		}
		p, err := pipeline.New(pipeCfg, s, complete, metrics, logger)
		if err != nil {
			slog.Error("Failed to create badger pipeline", "error", err)
			os.Exit(1)
		}
		pipelines = append(pipelines, p)
	}

	if cfg.Sinks.WebSocket.Enabled {
		s, err := wssink.New(wssink.Config{
			URL:          cfg.Sinks.WebSocket.URL,
			WriteTimeout: cfg.Sinks.WebSocket.WriteTimeout,
		}, formatter, logger)
		if err != nil {
			slog.Error("Failed to create websocket sink", "error", err)
			os.Exit(1)
		}
		p, err := pipeline.New(pipeCfg, s, complete, metrics, logger)
		if err != nil {
			slog.Error("Failed to create websocket pipeline", "error", err)
			os.Exit(1)
		}
		pipelines = append(pipelines, p)
	}

	if len(pipelines) == 0 {
		slog.Error("No sinks enabled; nothing to do")
		os.Exit(1)
	}

	for _, p := range pipelines {
		p.Start()
	}

	// Read events from stdin until EOF or a shutdown signal.
	stdinDone := make(chan struct{})
	go func() {
		defer close(stdinDone)
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}

			var in inputLine
			if err := json.Unmarshal(line, &in); err != nil {
				// Not JSON: ship the raw line as the message.
				in = inputLine{Level: string(event.LevelInfo), Message: string(line)}
			}
			if in.Level == "" {
				in.Level = string(event.LevelInfo)
			}

			e := event.Event{
				Time:    time.Now(),
				Level:   event.Level(in.Level),
				Message: in.Message,
				Fields:  in.Fields,
			}
			for _, p := range pipelines {
				p.Append(e)
			}
		}
		if err := scanner.Err(); err != nil {
			slog.Error("stdin read failed", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("Received signal, shutting down", "signal", sig.String())
	case <-stdinDone:
		slog.Info("Input drained, shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	for _, p := range pipelines {
		if err := p.Shutdown(ctx); err != nil {
			slog.Warn("Pipeline shutdown incomplete", "error", err)
		}
	}
	slog.Info("logship stopped")
}
