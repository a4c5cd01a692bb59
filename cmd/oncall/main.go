// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command oncall starts the Aleutian Oncall copilot HTTP server.
//
// It reads configuration from environment variables and serves the
// investigation API under /v1/oncall.
//
// # Environment Variables
//
//   - ONCALL_PORT: HTTP server port (default: 12300)
//   - ONCALL_DATA_DIR: case store directory (default: ./data/oncall)
//   - ONCALL_STORE: "badger" or "memory" (default: badger)
//   - OPENAI_API_KEY: model provider key (or /run/secrets/openai_api_key)
//   - ONCALL_MODEL: model name override
//   - WEAVIATE_HOST: knowledge backend host (optional; empty disables
//     retrieval)
//   - WEAVIATE_SCHEME: http or https (default: http)
//
// # Usage
//
//	go build -o oncall ./cmd/oncall
//	./oncall
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianOncall/pkg/logging"
	"github.com/AleutianAI/AleutianOncall/services/copilot/knowledge"
	"github.com/AleutianAI/AleutianOncall/services/copilot/model"
	"github.com/AleutianAI/AleutianOncall/services/copilot/server"
	"github.com/AleutianAI/AleutianOncall/services/copilot/store"
)

func main() {
	logger := logging.New(logging.Config{
		Level:   getEnvString("ONCALL_LOG_LEVEL", "info"),
		File:    os.Getenv("ONCALL_LOG_FILE"),
		Service: "oncall",
	})
	slog.SetDefault(logger)

	port := getEnvInt("ONCALL_PORT", 12300)

	st, err := buildStore(logger)
	if err != nil {
		log.Fatalf("Failed to open case store: %v", err)
	}
	defer st.Close()

	client, err := model.NewOpenAIClient(model.OpenAIConfig{
		Model: os.Getenv("ONCALL_MODEL"),
	})
	if err != nil {
		log.Fatalf("Failed to create model client: %v", err)
	}

	retriever := buildRetriever(logger)

	svc, err := server.NewService(client, st, retriever, server.DefaultConfig(), logger)
	if err != nil {
		log.Fatalf("Failed to create service: %v", err)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	server.RegisterRoutes(router.Group("/v1/oncall"), server.NewHandlers(svc, logger))

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("Starting oncall copilot", "port", port, "model", client.Name())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Shutdown error", "error", err)
	}
}

// buildStore opens the configured case store.
func buildStore(logger *slog.Logger) (store.Store, error) {
	if getEnvString("ONCALL_STORE", "badger") == "memory" {
		return store.NewMemoryStore(), nil
	}
	cfg := store.DefaultBadgerConfig(getEnvString("ONCALL_DATA_DIR", "./data/oncall"))
	cfg.Logger = logger
	return store.NewBadgerStore(cfg)
}

// buildRetriever connects the optional knowledge backend.
func buildRetriever(logger *slog.Logger) knowledge.Retriever {
	host := os.Getenv("WEAVIATE_HOST")
	if host == "" {
		return knowledge.NoopRetriever{}
	}
	cfg := knowledge.DefaultWeaviateConfig()
	cfg.Host = host
	cfg.Scheme = getEnvString("WEAVIATE_SCHEME", "http")

	ret, err := knowledge.NewWeaviateRetriever(cfg, logger)
	if err != nil {
		slog.Warn("Knowledge backend unavailable, continuing without retrieval", "error", err)
		return knowledge.NoopRetriever{}
	}
	return ret
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
