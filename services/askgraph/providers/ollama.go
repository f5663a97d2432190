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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// =============================================================================
// Ollama Wire Types
// =============================================================================

const defaultOllamaBaseURL = "http://localhost:11434"

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  ollamaOptions   `json:"options"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
	Error   string        `json:"error,omitempty"`
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error,omitempty"`
}

// =============================================================================
// Client Implementation
// =============================================================================

// OllamaProvider implements ChatClient and Embedder against a local Ollama
// server using raw net/http.
//
// Thread Safety: OllamaProvider is safe for concurrent use.
type OllamaProvider struct {
	httpClient *http.Client
	chatModel  string
	embedModel string
	baseURL    string
	logger     *slog.Logger
}

// NewOllamaProvider creates an OllamaProvider.
//
// Inputs:
//   - chatModel: Model for chat requests (e.g., "llama3.1:8b").
//   - embedModel: Model for embedding requests (e.g., "nomic-embed-text").
//   - baseURL: Server base URL. Empty selects http://localhost:11434.
//
// Outputs:
//   - *OllamaProvider: The configured client.
func NewOllamaProvider(chatModel, embedModel, baseURL string, logger *slog.Logger) *OllamaProvider {
	if baseURL == "" {
		baseURL = defaultOllamaBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OllamaProvider{
		httpClient: &http.Client{Timeout: 300 * time.Second},
		chatModel:  chatModel,
		embedModel: embedModel,
		baseURL:    baseURL,
		logger:     logger,
	}
}

// Chat implements ChatClient using Ollama's /api/chat endpoint.
//
// Thread Safety: This method is safe for concurrent use.
func (o *OllamaProvider) Chat(ctx context.Context, messages []Message, opts ChatOptions) (string, error) {
	model := o.chatModel
	if opts.Model != "" {
		model = opts.Model
	}
	o.logger.Debug("chat via ollama", slog.String("model", model), slog.Int("messages", len(messages)))

	msgs := make([]ollamaMessage, 0, len(messages))
	for _, m := range messages {
		msgs = append(msgs, ollamaMessage{Role: m.Role, Content: m.Content})
	}

	reqPayload := ollamaChatRequest{
		Model:    model,
		Messages: msgs,
		Stream:   false,
		Options: ollamaOptions{
			Temperature: opts.Temperature,
			NumPredict:  opts.MaxTokens,
		},
	}

	bodyBytes, err := o.post(ctx, o.baseURL+"/api/chat", reqPayload)
	if err != nil {
		return "", err
	}

	var apiResp ollamaChatResponse
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		return "", fmt.Errorf("ollama: parsing response JSON: %w", err)
	}
	if apiResp.Error != "" {
		return "", fmt.Errorf("ollama: API error: %s", apiResp.Error)
	}
	return apiResp.Message.Content, nil
}

// Embed implements Embedder using Ollama's /api/embed endpoint.
//
// Thread Safety: This method is safe for concurrent use.
func (o *OllamaProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	reqPayload := ollamaEmbedRequest{Model: o.embedModel, Input: []string{text}}

	bodyBytes, err := o.post(ctx, o.baseURL+"/api/embed", reqPayload)
	if err != nil {
		return nil, err
	}

	var apiResp ollamaEmbedResponse
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		return nil, fmt.Errorf("ollama: parsing embedding JSON: %w", err)
	}
	if apiResp.Error != "" {
		return nil, fmt.Errorf("ollama: API error: %s", apiResp.Error)
	}
	if len(apiResp.Embeddings) == 0 || len(apiResp.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("ollama: returned no embedding")
	}
	return apiResp.Embeddings[0], nil
}

// post sends a JSON request and returns the raw response body.
func (o *OllamaProvider) post(ctx context.Context, url string, payload any) ([]byte, error) {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("ollama: marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("ollama: creating HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama: HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("ollama: reading response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama: API returned %d: %s", resp.StatusCode, truncateBody(bodyBytes))
	}
	return bodyBytes, nil
}
