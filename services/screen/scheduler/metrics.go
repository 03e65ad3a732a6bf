// Copyright (C) 2025 The xtalpipe authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package scheduler

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xtalpipe/xtalpipe/services/screen/score"
)

// Package-level tracer and meter for trial scheduling.
var (
	tracer = otel.Tracer("xtalpipe.scheduler")
	meter  = otel.Meter("xtalpipe.scheduler")
)

var (
	chunkDuration    metric.Float64Histogram
	trialsDispatched metric.Int64Counter
	trialsSucceeded  metric.Int64Counter
	trialsFailed     metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		chunkDuration, err = meter.Float64Histogram(
			"scheduler_chunk_duration_seconds",
			metric.WithDescription("Wall time per scheduled chunk"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		trialsDispatched, err = meter.Int64Counter(
			"scheduler_trials_dispatched_total",
			metric.WithDescription("Trials handed to the runner"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		trialsSucceeded, err = meter.Int64Counter(
			"scheduler_trials_succeeded_total",
			metric.WithDescription("Trials whose score crossed the stage threshold"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		trialsFailed, err = meter.Int64Counter(
			"scheduler_trials_failed_total",
			metric.WithDescription("Trials that crashed, timed out or produced no log"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// startChunkSpan creates a span for one chunk of trials.
func startChunkSpan(ctx context.Context, stage score.Kind, index, size int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Scheduler.RunChunk",
		trace.WithAttributes(
			attribute.String("scheduler.stage", stage.String()),
			attribute.Int("scheduler.chunk", index),
			attribute.Int("scheduler.chunk_size", size),
		),
	)
}

// recordChunkMetrics records metrics for a completed chunk.
func recordChunkMetrics(ctx context.Context, stage score.Kind, elapsed time.Duration, dispatched, succeeded, failed int) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("stage", stage.String()))
	chunkDuration.Record(ctx, elapsed.Seconds(), attrs)
	trialsDispatched.Add(ctx, int64(dispatched), attrs)
	trialsSucceeded.Add(ctx, int64(succeeded), attrs)
	trialsFailed.Add(ctx, int64(failed), attrs)
}
