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
// OpenAI Wire Types
// =============================================================================

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

type openaiChatRequest struct {
	Model               string          `json:"model"`
	Messages            []openaiMessage `json:"messages"`
	Temperature         *float64        `json:"temperature,omitempty"`
	MaxCompletionTokens *int            `json:"max_completion_tokens,omitempty"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiChatResponse struct {
	Choices []openaiChoice `json:"choices"`
	Error   *openaiError   `json:"error,omitempty"`
}

type openaiChoice struct {
	Message      openaiMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type openaiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type openaiEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openaiEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *openaiError `json:"error,omitempty"`
}

// =============================================================================
// Client Implementation
// =============================================================================

// OpenAIProvider implements ChatClient and Embedder against any
// OpenAI-compatible API using raw net/http.
//
// Description:
//
//	Talks to the Chat Completions and Embeddings REST endpoints directly,
//	without third-party SDKs. Works with api.openai.com and any
//	OpenAI-compatible gateway (vLLM, LiteLLM) by overriding the base URL.
//
// Thread Safety: OpenAIProvider is safe for concurrent use.
type OpenAIProvider struct {
	httpClient *http.Client
	apiKey     string
	chatModel  string
	embedModel string
	baseURL    string
	logger     *slog.Logger
}

// NewOpenAIProvider creates an OpenAIProvider with explicit configuration.
//
// Inputs:
//   - apiKey: The API key. Must not be empty for api.openai.com; gateways
//     may accept any value.
//   - chatModel: Model for chat requests (e.g., "gpt-4o-mini").
//   - embedModel: Model for embedding requests (e.g., "text-embedding-3-small").
//   - baseURL: API base URL ending before "/chat/completions". Empty selects
//     the public OpenAI endpoint.
//
// Outputs:
//   - *OpenAIProvider: The configured client.
func NewOpenAIProvider(apiKey, chatModel, embedModel, baseURL string, logger *slog.Logger) *OpenAIProvider {
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAIProvider{
		httpClient: &http.Client{Timeout: 120 * time.Second},
		apiKey:     apiKey,
		chatModel:  chatModel,
		embedModel: embedModel,
		baseURL:    baseURL,
		logger:     logger,
	}
}

// Chat implements ChatClient using the chat completions endpoint.
//
// Thread Safety: This method is safe for concurrent use.
func (o *OpenAIProvider) Chat(ctx context.Context, messages []Message, opts ChatOptions) (string, error) {
	model := o.chatModel
	if opts.Model != "" {
		model = opts.Model
	}
	o.logger.Debug("chat via openai", slog.String("model", model), slog.Int("messages", len(messages)))

	oaiMessages := make([]openaiMessage, 0, len(messages))
	for _, msg := range messages {
		role := msg.Role
		switch role {
		case "system", "user", "assistant":
			// valid roles, keep as-is
		default:
			o.logger.Warn("openai: unknown message role, mapping to user", slog.String("unknown_role", role))
			role = "user"
		}
		oaiMessages = append(oaiMessages, openaiMessage{Role: role, Content: msg.Content})
	}

	reqPayload := openaiChatRequest{
		Model:       model,
		Messages:    oaiMessages,
		Temperature: &opts.Temperature,
	}
	if opts.MaxTokens > 0 {
		reqPayload.MaxCompletionTokens = &opts.MaxTokens
	}

	bodyBytes, err := o.post(ctx, o.baseURL+"/chat/completions", reqPayload)
	if err != nil {
		return "", err
	}

	var apiResp openaiChatResponse
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		return "", fmt.Errorf("openai: parsing response JSON: %w", err)
	}
	if apiResp.Error != nil {
		return "", fmt.Errorf("openai: API error: %s - %s", apiResp.Error.Type, apiResp.Error.Message)
	}
	if len(apiResp.Choices) == 0 {
		return "", fmt.Errorf("openai: returned no choices")
	}
	return apiResp.Choices[0].Message.Content, nil
}

// Embed implements Embedder using the embeddings endpoint.
//
// Thread Safety: This method is safe for concurrent use.
func (o *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	reqPayload := openaiEmbedRequest{Model: o.embedModel, Input: []string{text}}

	bodyBytes, err := o.post(ctx, o.baseURL+"/embeddings", reqPayload)
	if err != nil {
		return nil, err
	}

	var apiResp openaiEmbedResponse
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		return nil, fmt.Errorf("openai: parsing embedding JSON: %w", err)
	}
	if apiResp.Error != nil {
		return nil, fmt.Errorf("openai: API error: %s - %s", apiResp.Error.Type, apiResp.Error.Message)
	}
	if len(apiResp.Data) == 0 || len(apiResp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("openai: returned no embedding")
	}
	return apiResp.Data[0].Embedding, nil
}

// post sends a JSON request and returns the raw response body, mapping
// non-200 statuses to errors that carry the status code for classification.
func (o *OpenAIProvider) post(ctx context.Context, url string, payload any) ([]byte, error) {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("openai: marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("openai: creating HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if o.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)
	}

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai: HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("openai: reading response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("openai: API returned %d: %s", resp.StatusCode, truncateBody(bodyBytes))
	}
	return bodyBytes, nil
}

// truncateBody bounds error-message payloads so provider errors stay loggable.
func truncateBody(b []byte) string {
	const max = 512
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
