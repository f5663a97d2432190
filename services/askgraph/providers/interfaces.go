// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package providers defines provider-agnostic chat and embedding interfaces
// plus the concrete backends (OpenAI-compatible, Ollama) that the translator,
// executor, and synthesizer depend on.
//
// Thread Safety:
//
//	All interfaces in this package must be implemented as safe for concurrent use.
package providers

import "context"

// Message is one turn of a chat conversation.
type Message struct {
	// Role is "system", "user", or "assistant".
	Role string `json:"role"`

	// Content is the message text.
	Content string `json:"content"`
}

// ChatClient is the minimal chat interface used across the pipeline.
//
// Description:
//
//	Translation, repair, and synthesis only need simple text-in/text-out
//	chat (no tool calls, no streaming). This minimal interface keeps
//	adapters trivial for any backend.
//
// Thread Safety: Implementations must be safe for concurrent use.
type ChatClient interface {
	// Chat sends messages and returns the assistant's response text.
	//
	// Inputs:
	//   - ctx: Context for cancellation and timeout.
	//   - messages: Conversation messages (system, user, assistant).
	//   - opts: Provider-agnostic chat options.
	//
	// Outputs:
	//   - string: The assistant's response text.
	//   - error: Non-nil on failure.
	Chat(ctx context.Context, messages []Message, opts ChatOptions) (string, error)
}

// Embedder produces a vector embedding for one text.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Embedder interface {
	// Embed returns the embedding vector for the given text.
	//
	// Outputs:
	//   - []float32: The embedding. Never empty on success.
	//   - error: Non-nil on failure.
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ChatOptions holds provider-agnostic options for a chat request.
type ChatOptions struct {
	// Temperature controls randomness. The zero value is treated as an
	// explicit "most deterministic" setting, which is what every caller in
	// this pipeline wants.
	Temperature float64

	// MaxTokens limits the response length. Zero means provider default.
	MaxTokens int

	// Model overrides the model set at client construction. Usually empty.
	Model string
}
