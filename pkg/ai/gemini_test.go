package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestGenerateTextReturnsFirstCandidate(t *testing.T) {
	var gotPath string
	var gotReq generateRequest
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if key := r.URL.Query().Get("key"); key != "user-key" {
			t.Errorf("key = %q", key)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{
				{"content": map[string]any{"parts": []map[string]any{{"text": "hello there"}}}},
			},
		})
	}))
	defer upstream.Close()

	c := NewGeminiClient("").WithBaseURL(upstream.URL)
	reply, err := c.GenerateText(context.Background(), "user-key", "say hi", []InlinePart{
		{MIMEType: "image/png", Data: "aGVsbG8="},
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if reply != "hello there" {
		t.Errorf("reply = %q", reply)
	}
	if !strings.Contains(gotPath, DefaultModel+":generateContent") {
		t.Errorf("path = %q", gotPath)
	}
	if len(gotReq.Contents) != 1 || len(gotReq.Contents[0].Parts) != 2 {
		t.Fatalf("request contents = %+v", gotReq.Contents)
	}
	if gotReq.Contents[0].Parts[1].InlineData == nil {
		t.Error("expected the inline attachment to be forwarded")
	}
	if gotReq.GenerationConfig.Temperature != genTemperature || gotReq.GenerationConfig.MaxOutputTokens != genMaxOutputTokens {
		t.Errorf("generation config = %+v", gotReq.GenerationConfig)
	}
}

func TestGenerateTextInvalidAPIKey(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "API key not valid. [API_KEY_INVALID]"},
		})
	}))
	defer upstream.Close()

	c := NewGeminiClient("").WithBaseURL(upstream.URL)
	if _, err := c.GenerateText(context.Background(), "bad-key", "hi", nil); !errors.Is(err, ErrInvalidAPIKey) {
		t.Fatalf("expected ErrInvalidAPIKey, got %v", err)
	}
	if _, err := c.GenerateText(context.Background(), "  ", "hi", nil); !errors.Is(err, ErrInvalidAPIKey) {
		t.Fatalf("blank key: expected ErrInvalidAPIKey, got %v", err)
	}
}

func TestGenerateTextMalformedResponse(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"candidates": []any{}})
	}))
	defer upstream.Close()

	c := NewGeminiClient("").WithBaseURL(upstream.URL)
	if _, err := c.GenerateText(context.Background(), "user-key", "hi", nil); !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("expected ErrMalformedResponse, got %v", err)
	}
}

func TestGenerateTextUpstreamError(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "backend overloaded"},
		})
	}))
	defer upstream.Close()

	c := NewGeminiClient("").WithBaseURL(upstream.URL)
	_, err := c.GenerateText(context.Background(), "user-key", "hi", nil)
	if err == nil || !strings.Contains(err.Error(), "backend overloaded") {
		t.Fatalf("expected the upstream message, got %v", err)
	}
}
