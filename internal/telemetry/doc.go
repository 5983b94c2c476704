// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry provides OpenTelemetry-based observability for the
// complex systems analyzer engine.
//
// Be opinionated about the API, flexible about the backend. OpenTelemetry IS
// the abstraction layer; users swap backends via exporter configuration, not
// code.
//
// Logging uses slog. Metrics default to Prometheus, exposed for scraping at
// /metrics. Traces default to the stdout exporter; OTEL_TRACES_EXPORTER
// selects another (e.g. otlp).
package telemetry
