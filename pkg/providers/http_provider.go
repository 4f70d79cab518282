// WakeGate - Group-chat wake decision gateway
// License: MIT
//
// Copyright (c) 2026 WakeGate contributors

package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dotsetgreg/wakegate/pkg/config"
)

const (
	defaultOpenRouterAPIBase = "https://openrouter.ai/api/v1"
	defaultModel             = "openai/gpt-5.2"
)

type HTTPProvider struct {
	apiKey     string
	apiBase    string
	model      string
	httpClient *http.Client
}

func NewHTTPProvider(apiKey, apiBase, model, proxy string) *HTTPProvider {
	client := &http.Client{Timeout: 60 * time.Second}

	if proxy != "" {
		proxyURL, err := url.Parse(proxy)
		if err == nil {
			client.Transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
		}
	}

	if strings.TrimSpace(model) == "" {
		model = defaultModel
	}

	return &HTTPProvider{
		apiKey:     apiKey,
		apiBase:    strings.TrimRight(apiBase, "/"),
		model:      model,
		httpClient: client,
	}
}

func (p *HTTPProvider) Chat(ctx context.Context, messages []Message, model string) (string, error) {
	if p.apiBase == "" {
		return "", fmt.Errorf("OpenRouter API base not configured")
	}

	model = strings.TrimSpace(model)
	if model == "" {
		model = p.model
	}

	requestBody := map[string]interface{}{
		"model":    model,
		"messages": messages,
	}

	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiBase+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("OpenRouter API request failed:\n  Status: %d\n  Body:   %s", resp.StatusCode, string(body))
	}

	return parseResponse(body)
}

func parseResponse(body []byte) (string, error) {
	var apiResponse struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}

	if err := json.Unmarshal(body, &apiResponse); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if len(apiResponse.Choices) == 0 {
		return "", nil
	}

	return strings.TrimSpace(apiResponse.Choices[0].Message.Content), nil
}

func CreateProvider(cfg *config.Config) (LLMProvider, error) {
	apiKey := strings.TrimSpace(cfg.Providers.OpenRouter.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("OpenRouter API key is required (set providers.openrouter.api_key or WAKEGATE_PROVIDERS_OPENROUTER_API_KEY)")
	}

	apiBase := strings.TrimSpace(cfg.Providers.OpenRouter.APIBase)
	if apiBase == "" {
		apiBase = defaultOpenRouterAPIBase
	}

	return NewHTTPProvider(apiKey, apiBase, cfg.Providers.Model, strings.TrimSpace(cfg.Providers.OpenRouter.Proxy)), nil
}
