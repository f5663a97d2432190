// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command askgraph starts the feedback-graph question answering server.
//
// The server answers natural-language questions about a product-feedback
// graph stored in Neo4j. Translation escalates through three strategies:
// embedding similarity against curated query templates, keyword intent
// rules, and schema-grounded LLM generation.
//
// Usage:
//
//	go run ./cmd/askgraph
//	go run ./cmd/askgraph -port 9090
//
// With a local Ollama provider (the default):
//
//	NEO4J_URI=neo4j://localhost:7687 NEO4J_PASSWORD=secret go run ./cmd/askgraph
//
// With OpenAI:
//
//	LLM_PROVIDER=openai OPENAI_API_KEY=sk-... go run ./cmd/askgraph
//
// Example requests:
//
//	# Readiness (503 until schema discovery completes)
//	curl http://localhost:8080/v1/ask/ready
//
//	# Ask a question
//	curl -X POST http://localhost:8080/v1/ask/query \
//	  -H "Content-Type: application/json" \
//	  -d '{"question": "who are the top 5 contributors?"}'
//
//	# Inspect the discovered schema
//	curl http://localhost:8080/v1/ask/schema | jq
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/signalpath/feedbackgraph/services/askgraph"
	"github.com/signalpath/feedbackgraph/services/askgraph/config"
	"github.com/signalpath/feedbackgraph/services/askgraph/executor"
	"github.com/signalpath/feedbackgraph/services/askgraph/graphstore"
	"github.com/signalpath/feedbackgraph/services/askgraph/providers"
	"github.com/signalpath/feedbackgraph/services/askgraph/schema"
	"github.com/signalpath/feedbackgraph/services/askgraph/session"
	badgerstore "github.com/signalpath/feedbackgraph/services/askgraph/storage/badger"
	"github.com/signalpath/feedbackgraph/services/askgraph/synthesizer"
	"github.com/signalpath/feedbackgraph/services/askgraph/translator"
)

// envOr returns the environment variable's value or a default.
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	port := flag.Int("port", 8080, "Port to listen on")
	debug := flag.Bool("debug", false, "Enable debug mode")
	sweepInterval := flag.Duration("session-sweep", 5*time.Minute, "Idle session sweep interval")
	flag.Parse()

	if *debug {
		gin.SetMode(gin.DebugMode)
		slog.SetLogLoggerLevel(slog.LevelDebug)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	logger := slog.Default()

	// W3C TraceContext propagation so trace IDs flow in from callers.
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	// Graph store. Connectivity is verified up front; a wrong URI or bad
	// credentials should fail the process, not every request.
	startupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := graphstore.NewClient(startupCtx, graphstore.Config{
		URI:      envOr("NEO4J_URI", "neo4j://localhost:7687"),
		Username: envOr("NEO4J_USERNAME", "neo4j"),
		Password: os.Getenv("NEO4J_PASSWORD"),
		Database: os.Getenv("NEO4J_DATABASE"),
	}, logger)
	if err != nil {
		slog.Error("Failed to connect to the graph store", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// LLM provider. Ollama by default; OpenAI when selected.
	chat, embedder, err := providers.NewProvider(providers.FactoryConfig{
		Provider:   os.Getenv("LLM_PROVIDER"),
		BaseURL:    os.Getenv("LLM_BASE_URL"),
		APIKey:     envOr("LLM_API_KEY", os.Getenv("OPENAI_API_KEY")),
		ChatModel:  envOr("LLM_CHAT_MODEL", "llama3.1"),
		EmbedModel: envOr("LLM_EMBED_MODEL", "nomic-embed-text"),
	}, logger)
	if err != nil {
		slog.Error("Failed to configure the LLM provider", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Template embedding cache BadgerDB. Graceful degradation: when
	// unavailable, templates are re-embedded on every start.
	var templateStore translator.TemplateCacheStore
	cacheDir := os.Getenv("TEMPLATE_CACHE_DIR")
	if cacheDir == "" {
		if home, homeErr := os.UserHomeDir(); homeErr == nil {
			cacheDir = filepath.Join(home, ".feedbackgraph", "cache", "templates")
		}
	}
	var templateDB *badgerstore.DB
	if cacheDir != "" {
		db, dbErr := badgerstore.Open(cacheDir, logger)
		if dbErr != nil {
			slog.Warn("Template cache BadgerDB unavailable, embedding persistence disabled",
				slog.String("path", cacheDir),
				slog.String("error", dbErr.Error()))
		} else {
			templateDB = db
			templateStore = translator.NewBadgerTemplateCacheStore(db, 0, logger)
			slog.Info("Template cache BadgerDB opened", slog.String("path", cacheDir))
		}
	}

	// Translation pipeline.
	templateCatalog, err := config.GetTemplateCatalog(startupCtx)
	if err != nil {
		slog.Error("Failed to load the template catalog", slog.String("error", err.Error()))
		os.Exit(1)
	}
	intentCatalog, err := config.GetIntentCatalog(startupCtx)
	if err != nil {
		slog.Error("Failed to load the intent catalog", slog.String("error", err.Error()))
		os.Exit(1)
	}

	embedModel := envOr("LLM_EMBED_MODEL", "nomic-embed-text")
	templates := translator.NewTemplateMatcher(templateCatalog, embedder, embedModel, templateStore, logger)
	intents := translator.NewIntentClassifier(intentCatalog, logger)
	generative := translator.NewGenerativeTranslator(chat, logger)
	trans := translator.NewEscalatingTranslator(templates, intents, generative, logger)

	// Warm template embeddings in the background. Failure degrades matching
	// to the intent and generative strategies.
	go func() {
		warmCtx, warmCancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer warmCancel()
		if warmErr := templates.Warm(warmCtx); warmErr != nil {
			slog.Warn("Template embedding warmup failed, template matching disabled",
				slog.String("error", warmErr.Error()))
			return
		}
		slog.Info("Template embeddings warmed")
	}()

	// Schema discovery. Eagerly triggered so the first question does not pay
	// the discovery cost; failures retry on the next request.
	discoverer := schema.NewDiscoverer(store, logger)
	schemaCache := schema.NewCache(discoverer)
	go func() {
		discCtx, discCancel := context.WithTimeout(context.Background(), time.Minute)
		defer discCancel()
		if _, discErr := schemaCache.Get(discCtx); discErr != nil {
			slog.Warn("Eager schema discovery failed, will retry on first request",
				slog.String("error", discErr.Error()))
			return
		}
		slog.Info("Graph schema discovered")
	}()

	// Sessions, with a periodic idle sweep.
	sessions := session.NewManager(0)
	go func() {
		ticker := time.NewTicker(*sweepInterval)
		defer ticker.Stop()
		for range ticker.C {
			if removed := sessions.Sweep(); removed > 0 {
				slog.Debug("Swept idle sessions", slog.Int("removed", removed))
			}
		}
	}()

	exec := executor.New(store, chat, logger)
	synth := synthesizer.New(chat, logger)
	svc := askgraph.NewService(schemaCache, trans, exec, synth, sessions, logger)
	handlers := askgraph.NewHandlers(svc)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("feedbackgraph-askgraph"))
	if *debug {
		router.Use(gin.Logger())
	}

	v1 := router.Group("/v1")
	askgraph.RegisterRoutes(v1, handlers)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Graceful shutdown: close the embed cache and the store driver.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		slog.Info("Shutting down askgraph server")
		if templateDB != nil {
			if closeErr := templateDB.Close(); closeErr != nil {
				slog.Warn("Failed to close template cache BadgerDB", slog.String("error", closeErr.Error()))
			}
		}
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer closeCancel()
		if closeErr := store.Close(closeCtx); closeErr != nil {
			slog.Warn("Failed to close the graph store driver", slog.String("error", closeErr.Error()))
		}
		os.Exit(0)
	}()

	addr := fmt.Sprintf(":%d", *port)
	slog.Info("Starting askgraph server", slog.String("address", addr))
	if err := router.Run(addr); err != nil {
		slog.Error("Failed to start server", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
