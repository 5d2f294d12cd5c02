package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1"

	// DefaultModel is the assistant model used by the product.
	DefaultModel = "gemini-2.5-flash"
)

// Generation parameters the assistant always sends.
const (
	genTemperature     = 0.9
	genTopK            = 40
	genTopP            = 0.95
	genMaxOutputTokens = 2048
)

// ErrInvalidAPIKey marks an upstream rejection of the user-supplied key.
var ErrInvalidAPIKey = errors.New("invalid api key")

// ErrMalformedResponse marks a 2xx upstream reply missing the expected
// candidate shape.
var ErrMalformedResponse = errors.New("malformed response from gemini")

// InlinePart is a base64-encoded attachment (image, audio) forwarded
// with the prompt.
type InlinePart struct {
	MIMEType string
	Data     string
}

// GeminiClient calls the generative-language generateContent endpoint.
// The API key is supplied per call by the end user and never stored.
type GeminiClient struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewGeminiClient constructs a client for the given model. An empty
// model falls back to DefaultModel.
func NewGeminiClient(model string) *GeminiClient {
	model = strings.TrimSpace(model)
	if model == "" {
		model = DefaultModel
	}
	return &GeminiClient{
		baseURL:    defaultGeminiBaseURL,
		model:      model,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// WithBaseURL overrides the endpoint, for tests.
func (c *GeminiClient) WithBaseURL(baseURL string) *GeminiClient {
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

// GenerateText sends the prompt plus optional inline attachments and
// returns the first candidate's text.
func (c *GeminiClient) GenerateText(ctx context.Context, apiKey, prompt string, files []InlinePart) (string, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return "", ErrInvalidAPIKey
	}
	parts := []part{{Text: prompt}}
	for _, f := range files {
		parts = append(parts, part{InlineData: &inlineData{MIMEType: f.MIMEType, Data: f.Data}})
	}
	reqBody := generateRequest{
		Contents: []content{{Parts: parts}},
		GenerationConfig: generationConfig{
			Temperature:     genTemperature,
			TopK:            genTopK,
			TopP:            genTopP,
			MaxOutputTokens: genMaxOutputTokens,
		},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}
	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, c.model, apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		if resp.StatusCode == http.StatusBadRequest && strings.Contains(errResp.Error.Message, "API_KEY_INVALID") {
			return "", ErrInvalidAPIKey
		}
		if errResp.Error.Message != "" {
			return "", fmt.Errorf("gemini api error: %s", errResp.Error.Message)
		}
		return "", fmt.Errorf("gemini api error: %s", resp.Status)
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return "", ErrMalformedResponse
	}
	return out.Candidates[0].Content.Parts[0].Text, nil
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	TopK            int     `json:"topK"`
	TopP            float64 `json:"topP"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}
