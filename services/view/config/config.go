// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the graph view configuration from YAML or JSON,
// applies environment overrides and validates the result.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/GraphView/services/view/cluster"
	"github.com/AleutianAI/GraphView/services/view/engine"
	"github.com/AleutianAI/GraphView/services/view/graph"
	"github.com/AleutianAI/GraphView/services/view/telemetry"
)

// ErrInvalidConfig is returned when a loaded configuration fails validation.
var ErrInvalidConfig = errors.New("invalid config")

// validate is shared by all Validate calls.
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Config is the top-level configuration.
//
// Thread Safety: Safe to read concurrently. Not safe to modify after creation.
type Config struct {
	View      ViewConfig       `json:"view" yaml:"view"`
	Oracle    OracleConfig     `json:"oracle" yaml:"oracle"`
	Logging   LoggingConfig    `json:"logging" yaml:"logging"`
	Telemetry telemetry.Config `json:"telemetry" yaml:"telemetry"`
}

// ViewConfig sizes the view.
type ViewConfig struct {
	NodeLimit    int      `json:"node_limit" yaml:"node_limit" validate:"gte=1"`
	ChildLimit   int      `json:"child_limit" yaml:"child_limit" validate:"gte=1"`
	Width        float64  `json:"width" yaml:"width" validate:"gt=0"`
	Height       float64  `json:"height" yaml:"height" validate:"gt=0"`
	PriorityList []string `json:"priority_list" yaml:"priority_list" validate:"dive,required"`

	// Seed fixes initial node positions. Zero seeds from the clock.
	Seed int64 `json:"seed" yaml:"seed" validate:"gte=0"`
}

// OracleConfig tunes the in-process clustering worker.
type OracleConfig struct {
	MailboxSize          int     `json:"mailbox_size" yaml:"mailbox_size" validate:"gte=1"`
	MaxIterations        int     `json:"max_iterations" yaml:"max_iterations" validate:"gte=1"`
	Resolution           float64 `json:"resolution" yaml:"resolution" validate:"gt=0"`
	MaxRequestsPerSecond float64 `json:"max_requests_per_second" yaml:"max_requests_per_second" validate:"gte=0"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level string `json:"level" yaml:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `json:"json" yaml:"json"`
	Dir   string `json:"dir" yaml:"dir"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		View: ViewConfig{
			NodeLimit:  engine.DefaultNodeLimit,
			ChildLimit: engine.DefaultChildLimit,
			Width:      graph.DefaultWidth,
			Height:     graph.DefaultHeight,
		},
		Oracle: OracleConfig{
			MailboxSize:   cluster.DefaultMailboxSize,
			MaxIterations: cluster.DefaultMaxIterations,
			Resolution:    cluster.DefaultResolution,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Telemetry: telemetry.DefaultConfig(),
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates.
//
// Inputs:
//
//	path - YAML or JSON file. Empty or missing means defaults only.
//
// Outputs:
//
//	Config - The merged configuration.
//	error - Parse errors, or ErrInvalidConfig.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Parse decodes data over the defaults without reading the environment.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := decode(data, &cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return decode(data, cfg)
}

// decode tries YAML first, then JSON.
func decode(data []byte, cfg *Config) error {
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			return fmt.Errorf("parse config (tried YAML and JSON): YAML error: %v, JSON error: %w", err, jsonErr)
		}
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("GRAPHVIEW_NODE_LIMIT"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.View.NodeLimit = i
		}
	}
	if v := os.Getenv("GRAPHVIEW_CHILD_LIMIT"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.View.ChildLimit = i
		}
	}
	if v := os.Getenv("GRAPHVIEW_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks struct tags on every section.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Settings returns the engine settings.
func (c Config) Settings() engine.Settings {
	return engine.Settings{
		NodeLimit:    c.View.NodeLimit,
		ChildLimit:   c.View.ChildLimit,
		PriorityList: append([]string(nil), c.View.PriorityList...),
	}
}

// EngineOptions returns the engine options implied by the view and oracle
// sections.
func (c Config) EngineOptions() []engine.Option {
	return []engine.Option{
		engine.WithViewport(c.View.Width, c.View.Height),
		engine.WithSeed(uint64(c.View.Seed)),
		engine.WithRateLimit(c.Oracle.MaxRequestsPerSecond),
	}
}

// WorkerConfig returns the oracle worker configuration.
func (c Config) WorkerConfig() cluster.WorkerConfig {
	return cluster.WorkerConfig{
		MailboxSize: c.Oracle.MailboxSize,
		Leiden: cluster.LeidenOptions{
			MaxIterations: c.Oracle.MaxIterations,
			Resolution:    c.Oracle.Resolution,
		},
	}
}
