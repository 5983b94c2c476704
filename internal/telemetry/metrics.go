// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the engine's pre-defined counters, histograms, and gauges,
// all prefixed "csa_" for consistent naming.
type Metrics struct {
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram
	HTTPActiveRequests  metric.Int64UpDownCounter

	TasksSubmittedTotal metric.Int64Counter
	TasksCompletedTotal metric.Int64Counter
	TaskQueueDepth      metric.Int64ObservableGauge
	TaskRunDuration     metric.Float64Histogram

	StorageWritesTotal metric.Int64Counter
	StorageReadsTotal  metric.Int64Counter
	CacheHitsTotal     metric.Int64Counter
	CacheMissesTotal   metric.Int64Counter

	ValidationRunsTotal   metric.Int64Counter
	ValidationErrorsTotal metric.Int64Counter

	ErrorsTotal metric.Int64Counter
}

// NewMetrics registers every metric with meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.HTTPRequestsTotal, err = meter.Int64Counter(
		"csa_http_requests_total",
		metric.WithDescription("Total HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_requests_total: %w", err)
	}

	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"csa_http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_request_duration: %w", err)
	}

	m.HTTPActiveRequests, err = meter.Int64UpDownCounter(
		"csa_http_active_requests",
		metric.WithDescription("Currently active HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_active_requests: %w", err)
	}

	m.TasksSubmittedTotal, err = meter.Int64Counter(
		"csa_tasks_submitted_total",
		metric.WithDescription("Total analysis tasks submitted to the scheduler"),
		metric.WithUnit("{task}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create tasks_submitted_total: %w", err)
	}

	m.TasksCompletedTotal, err = meter.Int64Counter(
		"csa_tasks_completed_total",
		metric.WithDescription("Total analysis tasks reaching a terminal status"),
		metric.WithUnit("{task}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create tasks_completed_total: %w", err)
	}

	m.TaskRunDuration, err = meter.Float64Histogram(
		"csa_task_run_duration_seconds",
		metric.WithDescription("Analysis task execution duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 120),
	)
	if err != nil {
		return nil, fmt.Errorf("create task_run_duration: %w", err)
	}

	m.StorageWritesTotal, err = meter.Int64Counter(
		"csa_storage_writes_total",
		metric.WithDescription("Total storage writes by backend"),
		metric.WithUnit("{write}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create storage_writes_total: %w", err)
	}

	m.StorageReadsTotal, err = meter.Int64Counter(
		"csa_storage_reads_total",
		metric.WithDescription("Total storage reads by backend"),
		metric.WithUnit("{read}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create storage_reads_total: %w", err)
	}

	m.CacheHitsTotal, err = meter.Int64Counter(
		"csa_cache_hits_total",
		metric.WithDescription("Total cache hits"),
		metric.WithUnit("{hit}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create cache_hits_total: %w", err)
	}

	m.CacheMissesTotal, err = meter.Int64Counter(
		"csa_cache_misses_total",
		metric.WithDescription("Total cache misses"),
		metric.WithUnit("{miss}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create cache_misses_total: %w", err)
	}

	m.ValidationRunsTotal, err = meter.Int64Counter(
		"csa_validation_runs_total",
		metric.WithDescription("Total validation passes run over a system"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create validation_runs_total: %w", err)
	}

	m.ValidationErrorsTotal, err = meter.Int64Counter(
		"csa_validation_errors_total",
		metric.WithDescription("Total validation rule violations found"),
		metric.WithUnit("{violation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create validation_errors_total: %w", err)
	}

	m.ErrorsTotal, err = meter.Int64Counter(
		"csa_errors_total",
		metric.WithDescription("Total errors by kind and component"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create errors_total: %w", err)
	}

	return m, nil
}

// RegisterTaskQueueDepth registers an observable gauge reporting the
// scheduler's current combined queue depth.
func (m *Metrics) RegisterTaskQueueDepth(meter metric.Meter, depthFunc func() int64) (metric.Registration, error) {
	var err error
	m.TaskQueueDepth, err = meter.Int64ObservableGauge(
		"csa_task_queue_depth",
		metric.WithDescription("Current combined pending task count across all priority queues"),
		metric.WithUnit("{task}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create task_queue_depth: %w", err)
	}
	return meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(m.TaskQueueDepth, depthFunc())
		return nil
	}, m.TaskQueueDepth)
}
