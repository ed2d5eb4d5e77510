// Convo - conversational session gateway
// License: MIT
//
// Copyright (c) 2026 Convo contributors

package gateway

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

	"github.com/dotsetgreg/convo/pkg/history"
)

// Gateway sends one query plus ordered history to the remote LLM service and
// returns its answer. An empty answer with a nil error means the backend had
// nothing to say; transport or protocol failures wrap ErrBackendUnavailable.
// Retries and reconnection live below this boundary.
type Gateway interface {
	Ask(ctx context.Context, query string, turns []history.ChatTurn) (string, error)
	Label() string
}

type HTTPGateway struct {
	label      string
	apiKey     string
	apiBase    string
	model      string
	httpClient *http.Client
}

type wireTurn struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

func NewHTTPGateway(label, apiKey, apiBase, model, proxy string, timeout time.Duration) *HTTPGateway {
	client := &http.Client{Timeout: timeout}

	if proxy != "" {
		proxyURL, err := url.Parse(proxy)
		if err == nil {
			client.Transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
		}
	}

	return &HTTPGateway{
		label:      label,
		apiKey:     apiKey,
		apiBase:    strings.TrimRight(apiBase, "/"),
		model:      model,
		httpClient: client,
	}
}

func (g *HTTPGateway) Label() string {
	return g.label
}

func (g *HTTPGateway) Ask(ctx context.Context, query string, turns []history.ChatTurn) (string, error) {
	if g.apiBase == "" {
		return "", fmt.Errorf("%w: API base not configured", ErrBackendUnavailable)
	}

	wireHistory := make([]wireTurn, 0, len(turns))
	for _, t := range turns {
		wireHistory = append(wireHistory, wireTurn{Speaker: string(t.Speaker), Text: t.Text})
	}

	requestBody := map[string]interface{}{
		"query":   query,
		"history": wireHistory,
	}
	if g.model != "" {
		requestBody["model"] = g.model
	}

	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.apiBase+"/llm", bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", ErrBackendUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d: %s", ErrBackendUnavailable, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return parseResponse(body)
}

func parseResponse(body []byte) (string, error) {
	var apiResponse struct {
		Response string `json:"response"`
	}

	if err := json.Unmarshal(body, &apiResponse); err != nil {
		return "", fmt.Errorf("%w: malformed response: %v", ErrBackendUnavailable, err)
	}

	// Absent or empty response means "no answer", not a failure.
	return apiResponse.Response, nil
}
