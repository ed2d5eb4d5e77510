package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dotsetgreg/convo/pkg/config"
	"github.com/dotsetgreg/convo/pkg/history"
)

func TestAskSendsQueryAndHistory(t *testing.T) {
	var captured struct {
		Query   string `json:"query"`
		History []struct {
			Speaker string `json:"speaker"`
			Text    string `json:"text"`
		} `json:"history"`
		Model string `json:"model"`
	}
	var gotAuth, gotPath string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"response": "Ganymede"})
	}))
	defer server.Close()

	gw := NewHTTPGateway("Chat GPT", "secret", server.URL, "openai/gpt-5.2", "", 5*time.Second)
	turns := []history.ChatTurn{
		{Speaker: history.SpeakerUser, Text: "hello"},
		{Speaker: history.SpeakerLLM, Text: "hi"},
	}

	answer, err := gw.Ask(context.Background(), "largest moon?", turns)
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if answer != "Ganymede" {
		t.Fatalf("expected answer %q, got %q", "Ganymede", answer)
	}

	if gotPath != "/llm" {
		t.Fatalf("expected POST to /llm, got %s", gotPath)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("expected bearer auth, got %q", gotAuth)
	}
	if captured.Query != "largest moon?" {
		t.Fatalf("unexpected query %q", captured.Query)
	}
	if captured.Model != "openai/gpt-5.2" {
		t.Fatalf("unexpected model %q", captured.Model)
	}
	if len(captured.History) != 2 || captured.History[0].Speaker != "user" || captured.History[1].Speaker != "llm" {
		t.Fatalf("unexpected history payload: %+v", captured.History)
	}
}

func TestAskEmptyResponseIsNotAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"response": ""})
	}))
	defer server.Close()

	gw := NewHTTPGateway("Chat GPT", "", server.URL, "", "", 5*time.Second)
	answer, err := gw.Ask(context.Background(), "anything", nil)
	if err != nil {
		t.Fatalf("expected nil error for empty response, got %v", err)
	}
	if answer != "" {
		t.Fatalf("expected empty answer, got %q", answer)
	}
}

func TestAskServerErrorWrapsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	gw := NewHTTPGateway("Chat GPT", "", server.URL, "", "", 5*time.Second)
	_, err := gw.Ask(context.Background(), "anything", nil)
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
}

func TestAskUnreachableHostWrapsUnavailable(t *testing.T) {
	gw := NewHTTPGateway("Chat GPT", "", "http://127.0.0.1:1", "", "", time.Second)
	_, err := gw.Ask(context.Background(), "anything", nil)
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
}

func TestAskMalformedResponseWrapsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer server.Close()

	gw := NewHTTPGateway("Chat GPT", "", server.URL, "", "", 5*time.Second)
	_, err := gw.Ask(context.Background(), "anything", nil)
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
}

func TestAskWithoutAPIBase(t *testing.T) {
	gw := NewHTTPGateway("Chat GPT", "", "", "", "", time.Second)
	_, err := gw.Ask(context.Background(), "anything", nil)
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
}

func TestBuildGateways(t *testing.T) {
	cfg := config.BackendConfig{
		DefaultVariant: "ChatGPT",
		TimeoutSeconds: 10,
		Variants: map[string]config.VariantConfig{
			"ChatGPT":  {Label: "Chat GPT", APIBase: "https://example.com"},
			"deepseek": {APIBase: "https://example.org"},
		},
	}

	gateways, err := BuildGateways(cfg)
	if err != nil {
		t.Fatalf("BuildGateways: %v", err)
	}
	if len(gateways) != 2 {
		t.Fatalf("expected 2 gateways, got %d", len(gateways))
	}
	// Keys are lowercased; labels fall back to the key.
	if gw, ok := gateways["chatgpt"]; !ok || gw.Label() != "Chat GPT" {
		t.Fatalf("expected chatgpt gateway with configured label")
	}
	if gw, ok := gateways["deepseek"]; !ok || gw.Label() != "deepseek" {
		t.Fatalf("expected deepseek gateway with key label")
	}
}

func TestBuildGatewaysValidation(t *testing.T) {
	if _, err := BuildGateways(config.BackendConfig{DefaultVariant: "chatgpt"}); err == nil {
		t.Fatalf("expected error with no variants")
	}

	cfg := config.BackendConfig{
		DefaultVariant: "missing",
		Variants: map[string]config.VariantConfig{
			"chatgpt": {APIBase: "https://example.com"},
		},
	}
	if _, err := BuildGateways(cfg); err == nil {
		t.Fatalf("expected error when default variant is absent")
	}
}
