// Copyright (c) 2025 Driftchat Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

// ErrListingUnsupported is returned when a provider has no model catalog.
var ErrListingUnsupported = errors.New("provider does not support model listing")

// ModelInfo describes one model offered by a provider.
type ModelInfo struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// ollamaTagsResponse is the /api/tags payload.
type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// openAIModelsResponse is the /models payload.
type openAIModelsResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// ListModels fetches the model catalog for providers that expose one.
// baseURL overrides the endpoint default when non-empty (a conversation's
// pinned base URL).
func ListModels(ctx context.Context, client *http.Client, ep Endpoint, baseURL, apiKey string) ([]ModelInfo, error) {
	if !ep.SupportsModelListing {
		return nil, ErrListingUnsupported
	}
	if baseURL == "" {
		baseURL = ep.BaseURL
	}

	var path string
	switch ep.Type {
	case TypeOllama:
		path = "/api/tags"
	default:
		path = "/models"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	ApplyAuth(req, ep, apiKey)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, NewError(resp.StatusCode, string(body))
	}

	switch ep.Type {
	case TypeOllama:
		var tags ollamaTagsResponse
		if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
			return nil, err
		}
		models := make([]ModelInfo, 0, len(tags.Models))
		for _, m := range tags.Models {
			models = append(models, ModelInfo{ID: m.Name, Name: m.Name})
		}
		return models, nil
	default:
		var list openAIModelsResponse
		if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
			return nil, err
		}
		models := make([]ModelInfo, 0, len(list.Data))
		for _, m := range list.Data {
			models = append(models, ModelInfo{ID: m.ID})
		}
		return models, nil
	}
}
