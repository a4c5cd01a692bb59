// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry records service-level metrics for the copilot.
package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("aleutian.copilot")

var (
	turnsTotal   metric.Int64Counter
	casesCreated metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes metrics.
func initMetrics() error {
	metricsOnce.Do(func() {
		turnsTotal, metricsErr = meter.Int64Counter(
			"oncall_turns_total",
			metric.WithDescription("Processed turns by outcome"),
		)
		if metricsErr != nil {
			return
		}
		casesCreated, metricsErr = meter.Int64Counter(
			"oncall_cases_created_total",
			metric.WithDescription("Cases created by mode"),
		)
	})
	return metricsErr
}

// RecordTurn records one processed turn.
func RecordTurn(ctx context.Context, outcome string) {
	if err := initMetrics(); err != nil {
		return
	}
	turnsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordCaseCreated records a case creation.
func RecordCaseCreated(ctx context.Context, mode string) {
	if err := initMetrics(); err != nil {
		return
	}
	casesCreated.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", mode)))
}
