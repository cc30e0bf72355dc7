// Copyright (c) 2025 Driftchat Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		typ     Type
		framing Framing
		auth    AuthStyle
	}{
		{TypeOllama, FramingNDJSON, AuthNone},
		{TypeOpenAI, FramingSSE, AuthBearer},
		{TypeAnthropic, FramingSSE, AuthAPIKey},
	}

	for _, tc := range tests {
		t.Run(string(tc.typ), func(t *testing.T) {
			ep, err := Resolve(tc.typ)
			if err != nil {
				t.Fatalf("Resolve(%q): %v", tc.typ, err)
			}
			if ep.Framing != tc.framing {
				t.Errorf("Framing = %v, want %v", ep.Framing, tc.framing)
			}
			if ep.Auth != tc.auth {
				t.Errorf("Auth = %v, want %v", ep.Auth, tc.auth)
			}
			if ep.BaseURL == "" || ep.ChatPath == "" {
				t.Error("endpoint missing BaseURL or ChatPath")
			}
		})
	}
}

func TestResolveUnknown(t *testing.T) {
	_, err := Resolve("mystery")
	if !errors.Is(err, ErrUnknownProvider) {
		t.Errorf("err = %v, want ErrUnknownProvider", err)
	}
}

func TestBuildRequestBodyNDJSON(t *testing.T) {
	ep, _ := Resolve(TypeOllama)
	body, err := BuildRequestBody(ep, "qwen2.5:7b", []ChatMessage{NewUserMessage("hi")}, Params{
		Temperature: 0.5,
		TopP:        0.8,
		MaxTokens:   MaxTokensDefault,
	})
	if err != nil {
		t.Fatalf("BuildRequestBody: %v", err)
	}

	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if parsed["stream"] != true {
		t.Error("stream should be true")
	}
	opts, ok := parsed["options"].(map[string]any)
	if !ok {
		t.Fatal("options object missing")
	}
	if _, present := opts["num_predict"]; present {
		t.Error("num_predict should be omitted for MaxTokensDefault")
	}
	if opts["temperature"] != 0.5 {
		t.Errorf("temperature = %v, want 0.5", opts["temperature"])
	}
}

func TestBuildRequestBodySSE(t *testing.T) {
	ep, _ := Resolve(TypeOpenAI)

	// Explicit unlimited is sent verbatim, unlike the omitted default.
	body, err := BuildRequestBody(ep, "gpt-4o", nil, Params{
		Temperature: 0.7,
		TopP:        0.9,
		MaxTokens:   MaxTokensUnlimited,
	})
	if err != nil {
		t.Fatalf("BuildRequestBody: %v", err)
	}

	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if parsed["max_tokens"] != float64(-1) {
		t.Errorf("max_tokens = %v, want -1", parsed["max_tokens"])
	}
	if parsed["model"] != "gpt-4o" {
		t.Errorf("model = %v, want gpt-4o", parsed["model"])
	}
}

func TestApplyAuth(t *testing.T) {
	tests := []struct {
		name   string
		typ    Type
		key    string
		header string
		want   string
	}{
		{"bearer", TypeOpenAI, "sk-test", "Authorization", "Bearer sk-test"},
		{"api key", TypeAnthropic, "ak-test", "x-api-key", "ak-test"},
		{"none", TypeOllama, "ignored", "Authorization", ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ep, _ := Resolve(tc.typ)
			req, _ := http.NewRequest(http.MethodPost, ep.BaseURL+ep.ChatPath, strings.NewReader("{}"))
			ApplyAuth(req, ep, tc.key)

			if got := req.Header.Get(tc.header); got != tc.want {
				t.Errorf("%s = %q, want %q", tc.header, got, tc.want)
			}
			if req.Header.Get("Content-Type") != "application/json" {
				t.Error("Content-Type not set")
			}
		})
	}
}

func TestApplyAuthAnthropicVersion(t *testing.T) {
	ep, _ := Resolve(TypeAnthropic)
	req, _ := http.NewRequest(http.MethodPost, ep.BaseURL+ep.ChatPath, nil)
	ApplyAuth(req, ep, "ak")

	if req.Header.Get("anthropic-version") == "" {
		t.Error("anthropic-version header missing")
	}
}

func TestProviderErrorTruncation(t *testing.T) {
	long := strings.Repeat("x", 2000)
	err := NewError(500, long)
	if len(err.Body) > 512 {
		t.Errorf("body length = %d, want <= 512", len(err.Body))
	}
	if !strings.Contains(err.Error(), "HTTP 500") {
		t.Errorf("Error() = %q, want HTTP status included", err.Error())
	}
}

func TestListModelsOllama(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Errorf("path = %q, want /api/tags", r.URL.Path)
		}
		w.Write([]byte(`{"models":[{"name":"llama3.2"},{"name":"qwen2.5:7b"}]}`))
	}))
	defer srv.Close()

	ep, err := Resolve(TypeOllama)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	models, err := ListModels(context.Background(), srv.Client(), ep, srv.URL, "")
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(models) != 2 {
		t.Fatalf("got %d models, want 2", len(models))
	}
	if models[0].ID != "llama3.2" || models[1].ID != "qwen2.5:7b" {
		t.Errorf("models = %v", models)
	}
}

func TestListModelsOpenAIAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q, want bearer token", got)
		}
		w.Write([]byte(`{"data":[{"id":"gpt-4o-mini"}]}`))
	}))
	defer srv.Close()

	ep, err := Resolve(TypeOpenAI)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	models, err := ListModels(context.Background(), srv.Client(), ep, srv.URL, "sk-test")
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(models) != 1 || models[0].ID != "gpt-4o-mini" {
		t.Errorf("models = %v", models)
	}
}

func TestListModelsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	ep, _ := Resolve(TypeOpenAI)
	_, err := ListModels(context.Background(), srv.Client(), ep, srv.URL, "bad")
	var pe *Error
	if !errors.As(err, &pe) {
		t.Fatalf("error = %v, want *Error", err)
	}
	if pe.Status != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", pe.Status)
	}
}
