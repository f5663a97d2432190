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
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOpenAIProvider_Chat(t *testing.T) {
	var gotReq openaiChatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(openaiChatResponse{
			Choices: []openaiChoice{{Message: openaiMessage{Role: "assistant", Content: "MATCH (n) RETURN n LIMIT 1"}}},
		})
	}))
	defer server.Close()

	p := NewOpenAIProvider("test-key", "gpt-4o-mini", "text-embedding-3-small", server.URL, nil)
	resp, err := p.Chat(context.Background(), []Message{
		{Role: "system", Content: "translate"},
		{Role: "user", Content: "how many users?"},
	}, ChatOptions{MaxTokens: 256})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp != "MATCH (n) RETURN n LIMIT 1" {
		t.Errorf("unexpected response %q", resp)
	}
	if gotReq.Model != "gpt-4o-mini" {
		t.Errorf("unexpected model %q", gotReq.Model)
	}
	if gotReq.Temperature == nil || *gotReq.Temperature != 0 {
		t.Error("expected explicit zero temperature")
	}
	if gotReq.MaxCompletionTokens == nil || *gotReq.MaxCompletionTokens != 256 {
		t.Error("expected max_completion_tokens 256")
	}
}

func TestOpenAIProvider_ChatUnknownRoleMapsToUser(t *testing.T) {
	var gotReq openaiChatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotReq)
		json.NewEncoder(w).Encode(openaiChatResponse{
			Choices: []openaiChoice{{Message: openaiMessage{Content: "ok"}}},
		})
	}))
	defer server.Close()

	p := NewOpenAIProvider("k", "m", "e", server.URL, nil)
	if _, err := p.Chat(context.Background(), []Message{{Role: "tool", Content: "x"}}, ChatOptions{}); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if gotReq.Messages[0].Role != "user" {
		t.Errorf("expected unknown role mapped to user, got %q", gotReq.Messages[0].Role)
	}
}

func TestOpenAIProvider_Embed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"embedding": []float32{0.1, 0.2, 0.3}}},
		})
	}))
	defer server.Close()

	p := NewOpenAIProvider("k", "m", "text-embedding-3-small", server.URL, nil)
	vec, err := p.Embed(context.Background(), "severity of crashes")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 {
		t.Errorf("expected 3-dim vector, got %d", len(vec))
	}
}

func TestOpenAIProvider_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"type":"rate_limit","message":"slow down"}}`))
	}))
	defer server.Close()

	p := NewOpenAIProvider("k", "m", "e", server.URL, nil)
	_, err := p.Chat(context.Background(), []Message{{Role: "user", Content: "q"}}, ChatOptions{})
	if err == nil {
		t.Fatal("expected error")
	}
	if got := classifyProviderError(err); got != "rate_limit" {
		t.Errorf("expected rate_limit classification, got %q", got)
	}
}

func TestOllamaProvider_Chat(t *testing.T) {
	var gotReq ollamaChatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&gotReq)
		json.NewEncoder(w).Encode(ollamaChatResponse{
			Message: ollamaMessage{Role: "assistant", Content: "answer"},
			Done:    true,
		})
	}))
	defer server.Close()

	p := NewOllamaProvider("llama3.1:8b", "nomic-embed-text", server.URL, nil)
	resp, err := p.Chat(context.Background(), []Message{{Role: "user", Content: "q"}}, ChatOptions{MaxTokens: 128})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp != "answer" {
		t.Errorf("unexpected response %q", resp)
	}
	if gotReq.Stream {
		t.Error("expected stream disabled")
	}
	if gotReq.Options.NumPredict != 128 {
		t.Errorf("expected num_predict 128, got %d", gotReq.Options.NumPredict)
	}
}

func TestOllamaProvider_Embed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(ollamaEmbedResponse{Embeddings: [][]float32{{0.5, 0.5}}})
	}))
	defer server.Close()

	p := NewOllamaProvider("m", "nomic-embed-text", server.URL, nil)
	vec, err := p.Embed(context.Background(), "text")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 2 {
		t.Errorf("expected 2-dim vector, got %d", len(vec))
	}
}

func TestOllamaProvider_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ollamaChatResponse{Error: "model not found"})
	}))
	defer server.Close()

	p := NewOllamaProvider("missing", "e", server.URL, nil)
	if _, err := p.Chat(context.Background(), []Message{{Role: "user", Content: "q"}}, ChatOptions{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestClassifyProviderError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"timeout", errors.New("context deadline exceeded"), "timeout"},
		{"auth", errors.New("openai: API returned 401: unauthorized"), "auth"},
		{"rate limit", errors.New("openai: API returned 429: too many requests"), "rate_limit"},
		{"server", errors.New("ollama: API returned 503: overloaded"), "server"},
		{"unknown", errors.New("something odd"), "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyProviderError(tt.err); got != tt.want {
				t.Errorf("classifyProviderError(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestNewProvider_UnknownBackend(t *testing.T) {
	_, _, err := NewProvider(FactoryConfig{Provider: "gemini"}, nil)
	if err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestNewProvider_Ollama(t *testing.T) {
	chat, embed, err := NewProvider(FactoryConfig{Provider: "ollama", ChatModel: "m", EmbedModel: "e"}, nil)
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	if chat == nil || embed == nil {
		t.Fatal("expected non-nil chat client and embedder")
	}
}
