// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the engine's on-disk YAML configuration, every
// knob carrying a documented default and an environment-variable
// override, and watches the file for hot-reloadable changes.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	// Global is the process-wide singleton, populated by Load.
	Global Config
	once   sync.Once
)

// Config mirrors spec.md §6's enumerated configuration knobs.
type Config struct {
	Storage    StorageConfig    `yaml:"storage"`
	Compute    ComputeConfig    `yaml:"compute"`
	System     SystemConfig     `yaml:"system"`
	Validation ValidationConfig `yaml:"validation"`
}

type StorageConfig struct {
	KVPath             string        `yaml:"kv_path"`
	SQLPath            string        `yaml:"sql_path"`
	CacheCapacityBytes int64         `yaml:"cache_capacity_bytes"`
	BackupInterval     time.Duration `yaml:"backup_interval"`
}

type ComputeConfig struct {
	// WorkerCount defaults to the host's physical core count when zero.
	WorkerCount        int           `yaml:"worker_count"`
	TaskQueueCapacity  int           `yaml:"task_queue_capacity"`
	TaskResultTTL      time.Duration `yaml:"task_result_ttl"`
	PromotionThreshold time.Duration `yaml:"promotion_threshold"`
}

type SystemConfig struct {
	MaxComponents      int `yaml:"max_components"`
	MaxRelationships   int `yaml:"max_relationships"`
	StateHistoryLength int `yaml:"state_history_length"`
}

// ValidationLevel is the engine-wide strictness knob, mirrored from
// validation.Level so this package does not need to import validation.
type ValidationLevel string

const (
	LevelStrict     ValidationLevel = "Strict"
	LevelNormal     ValidationLevel = "Normal"
	LevelPermissive ValidationLevel = "Permissive"
)

type ValidationConfig struct {
	Level ValidationLevel `yaml:"level"`
}

// Load ensures the config is loaded into the Global singleton, reading
// from path if given or from the default location otherwise.
func Load(path string) error {
	var err error
	once.Do(func() {
		err = loadInternal(path)
	})
	return err
}

func loadInternal(path string) error {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("could not find the user's home directory: %w", err)
		}
		path = filepath.Join(home, ".csaengine", "csaengine.yaml")
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := createDefault(path); err != nil {
			return err
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	applyEnvOverrides(&cfg)
	Global = cfg
	return nil
}

func createDefault(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// DefaultConfig returns the documented defaults for every knob.
func DefaultConfig() Config {
	return Config{
		Storage: StorageConfig{
			KVPath:             "",
			SQLPath:            "",
			CacheCapacityBytes: 64 << 20,
			BackupInterval:     15 * time.Minute,
		},
		Compute: ComputeConfig{
			WorkerCount:        0,
			TaskQueueCapacity:  256,
			TaskResultTTL:      10 * time.Minute,
			PromotionThreshold: 5 * time.Second,
		},
		System: SystemConfig{
			MaxComponents:      0,
			MaxRelationships:   0,
			StateHistoryLength: 256,
		},
		Validation: ValidationConfig{
			Level: LevelNormal,
		},
	}
}

// applyEnvOverrides mirrors telemetry.DefaultConfig's getEnvOr pattern:
// CSA_-prefixed environment variables take precedence over the YAML file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CSA_STORAGE_KV_PATH"); v != "" {
		cfg.Storage.KVPath = v
	}
	if v := os.Getenv("CSA_STORAGE_SQL_PATH"); v != "" {
		cfg.Storage.SQLPath = v
	}
	if v := os.Getenv("CSA_STORAGE_CACHE_CAPACITY_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Storage.CacheCapacityBytes = n
		}
	}
	if v := os.Getenv("CSA_STORAGE_BACKUP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Storage.BackupInterval = d
		}
	}
	if v := os.Getenv("CSA_COMPUTE_WORKER_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Compute.WorkerCount = n
		}
	}
	if v := os.Getenv("CSA_COMPUTE_TASK_QUEUE_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Compute.TaskQueueCapacity = n
		}
	}
	if v := os.Getenv("CSA_COMPUTE_TASK_RESULT_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Compute.TaskResultTTL = d
		}
	}
	if v := os.Getenv("CSA_COMPUTE_PROMOTION_THRESHOLD"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Compute.PromotionThreshold = d
		}
	}
	if v := os.Getenv("CSA_SYSTEM_MAX_COMPONENTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.System.MaxComponents = n
		}
	}
	if v := os.Getenv("CSA_SYSTEM_MAX_RELATIONSHIPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.System.MaxRelationships = n
		}
	}
	if v := os.Getenv("CSA_SYSTEM_STATE_HISTORY_LENGTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.System.StateHistoryLength = n
		}
	}
	if v := os.Getenv("CSA_VALIDATION_LEVEL"); v != "" {
		cfg.Validation.Level = ValidationLevel(v)
	}
}
