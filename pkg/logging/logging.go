// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging builds the structured logger for Aleutian Oncall.
//
// Output goes to stderr by default, optionally teeing into a JSON log
// file. Enterprise deployments can additionally attach a LogExporter
// that receives every record asynchronously.
//
// This package does NOT redact sensitive data; callers must keep
// tokens, keys, and operator PII out of log attributes.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config configures the logger.
type Config struct {
	// Level is the minimum severity: debug, info, warn, error.
	// Default: info.
	Level string

	// File enables JSON file logging at the given path. The parent
	// directory is created if missing. Empty disables file output.
	File string

	// Service tags every record with the emitting component.
	Service string

	// Exporter receives records for external shipping. Optional.
	Exporter LogExporter
}

// LogEntry is the flattened record handed to exporters.
type LogEntry struct {
	Time    time.Time         `json:"time"`
	Level   string            `json:"level"`
	Message string            `json:"message"`
	Service string            `json:"service"`
	Attrs   map[string]string `json:"attrs,omitempty"`
}

// LogExporter ships log entries to an external system.
//
// Export is called synchronously on the logging path; implementations
// must buffer internally and never block.
type LogExporter interface {
	Export(entry LogEntry)
}

// New builds the process logger.
//
// Outputs:
//
//	*slog.Logger - Never nil; a bad file path degrades to stderr-only
//	with a warning rather than failing startup.
func New(config Config) *slog.Logger {
	level := parseLevel(config.Level)

	writers := []io.Writer{os.Stderr}
	if config.File != "" {
		if f, err := openLogFile(config.File); err != nil {
			fmt.Fprintf(os.Stderr, "logging: file output disabled: %v\n", err)
		} else {
			writers = append(writers, f)
		}
	}

	var handler slog.Handler = slog.NewJSONHandler(io.MultiWriter(writers...), &slog.HandlerOptions{
		Level: level,
	})
	if config.Exporter != nil {
		handler = &exportHandler{next: handler, exporter: config.Exporter, service: config.Service}
	}

	logger := slog.New(handler)
	if config.Service != "" {
		logger = logger.With("service", config.Service)
	}
	return logger
}

// parseLevel maps a level name onto slog levels, defaulting to info.
func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// openLogFile opens the log file for append, creating its directory.
func openLogFile(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

// exportHandler tees records into a LogExporter after the wrapped
// handler processed them.
type exportHandler struct {
	next     slog.Handler
	exporter LogExporter
	service  string
}

func (h *exportHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *exportHandler) Handle(ctx context.Context, record slog.Record) error {
	entry := LogEntry{
		Time:    record.Time,
		Level:   record.Level.String(),
		Message: record.Message,
		Service: h.service,
	}
	if record.NumAttrs() > 0 {
		entry.Attrs = make(map[string]string, record.NumAttrs())
		record.Attrs(func(a slog.Attr) bool {
			entry.Attrs[a.Key] = a.Value.String()
			return true
		})
	}
	h.exporter.Export(entry)
	return h.next.Handle(ctx, record)
}

func (h *exportHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &exportHandler{next: h.next.WithAttrs(attrs), exporter: h.exporter, service: h.service}
}

func (h *exportHandler) WithGroup(name string) slog.Handler {
	return &exportHandler{next: h.next.WithGroup(name), exporter: h.exporter, service: h.service}
}
