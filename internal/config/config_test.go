// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDefaultConfigMatchesDocumentedDefaults(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, int64(64<<20), cfg.Storage.CacheCapacityBytes)
	assert.Equal(t, 256, cfg.Compute.TaskQueueCapacity)
	assert.Equal(t, 256, cfg.System.StateHistoryLength)
	assert.Equal(t, LevelNormal, cfg.Validation.Level)
}

func TestLoadInternalCreatesDefaultFileWhenMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "csaengine.yaml")
	require.NoError(t, loadInternal(path))

	_, err := os.Stat(path)
	require.NoError(t, err, "loadInternal should create the default file on first run")
	assert.Equal(t, DefaultConfig(), Global)
}

func TestLoadInternalReadsExistingOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "csaengine.yaml")
	custom := DefaultConfig()
	custom.Compute.WorkerCount = 7
	custom.System.MaxComponents = 1000
	data, err := yaml.Marshal(custom)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0644))

	require.NoError(t, loadInternal(path))
	assert.Equal(t, 7, Global.Compute.WorkerCount)
	assert.Equal(t, 1000, Global.System.MaxComponents)
}

func TestApplyEnvOverridesTakePrecedenceOverFile(t *testing.T) {
	t.Setenv("CSA_COMPUTE_WORKER_COUNT", "4")
	t.Setenv("CSA_VALIDATION_LEVEL", "Strict")
	t.Setenv("CSA_STORAGE_CACHE_CAPACITY_BYTES", "1024")

	cfg := DefaultConfig()
	applyEnvOverrides(&cfg)

	assert.Equal(t, 4, cfg.Compute.WorkerCount)
	assert.Equal(t, LevelStrict, cfg.Validation.Level)
	assert.Equal(t, int64(1024), cfg.Storage.CacheCapacityBytes)
}

func TestApplyEnvOverridesIgnoresUnparseableValues(t *testing.T) {
	t.Setenv("CSA_COMPUTE_WORKER_COUNT", "not-a-number")
	cfg := DefaultConfig()
	cfg.Compute.WorkerCount = 3
	applyEnvOverrides(&cfg)
	assert.Equal(t, 3, cfg.Compute.WorkerCount, "an unparseable override should leave the existing value untouched")
}
