// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package providers

import (
	"fmt"
	"log/slog"
)

// FactoryConfig selects and configures a provider backend.
type FactoryConfig struct {
	// Provider is "openai" or "ollama".
	Provider string

	// BaseURL overrides the provider's default endpoint. Optional.
	BaseURL string

	// APIKey authenticates against cloud endpoints. Ignored by Ollama.
	APIKey string

	// ChatModel is the model used for chat requests.
	ChatModel string

	// EmbedModel is the model used for embedding requests.
	EmbedModel string
}

// NewProvider constructs the chat client and embedder for the configured
// backend, both wrapped with metrics and tracing.
//
// Description:
//
//	The single concrete provider instance backs both interfaces so HTTP
//	client state (connection pool, timeout) is shared between chat and
//	embedding traffic.
//
// Outputs:
//   - ChatClient: Instrumented chat client.
//   - Embedder: Instrumented embedder.
//   - error: Non-nil for unknown provider names or missing required config.
func NewProvider(cfg FactoryConfig, logger *slog.Logger) (ChatClient, Embedder, error) {
	switch cfg.Provider {
	case "openai":
		if cfg.APIKey == "" && cfg.BaseURL == "" {
			return nil, nil, fmt.Errorf("providers: openai requires an API key or a gateway base URL")
		}
		p := NewOpenAIProvider(cfg.APIKey, cfg.ChatModel, cfg.EmbedModel, cfg.BaseURL, logger)
		return NewInstrumentedChat(p, "openai"), NewInstrumentedEmbedder(p, "openai"), nil

	case "ollama", "":
		p := NewOllamaProvider(cfg.ChatModel, cfg.EmbedModel, cfg.BaseURL, logger)
		return NewInstrumentedChat(p, "ollama"), NewInstrumentedEmbedder(p, "ollama"), nil

	default:
		return nil, nil, fmt.Errorf("providers: unknown provider %q (expected openai or ollama)", cfg.Provider)
	}
}
