package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://api.elevenlabs.io"

	// DefaultVoiceID is used when the caller does not pick a voice.
	DefaultVoiceID = "21m00Tcm4TlvDq8ikWAM"

	synthesisModel     = "eleven_multilingual_v2"
	transcriptionModel = "scribe_v1"
)

// ErrInvalidAPIKey marks an upstream rejection of the user-supplied key.
var ErrInvalidAPIKey = errors.New("invalid api key")

// Client calls the ElevenLabs speech endpoints. Both operations are
// stateless passthroughs; the API key is supplied per call by the end
// user and never stored.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient constructs a speech client.
func NewClient() *Client {
	return &Client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// WithBaseURL overrides the endpoint, for tests.
func (c *Client) WithBaseURL(baseURL string) *Client {
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

type synthesizeRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// Synthesize converts text to audio with the given voice. It returns
// the audio bytes and their content type.
func (c *Client) Synthesize(ctx context.Context, apiKey, voiceID, text string) ([]byte, string, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, "", ErrInvalidAPIKey
	}
	if strings.TrimSpace(text) == "" {
		return nil, "", errors.New("text required")
	}
	if strings.TrimSpace(voiceID) == "" {
		voiceID = DefaultVoiceID
	}
	body, err := json.Marshal(synthesizeRequest{
		Text:    text,
		ModelID: synthesisModel,
		VoiceSettings: voiceSettings{
			Stability:       0.5,
			SimilarityBoost: 0.75,
		},
	})
	if err != nil {
		return nil, "", err
	}
	url := fmt.Sprintf("%s/v1/text-to-speech/%s", c.baseURL, voiceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", apiKey)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, "", err
	}
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "audio/mpeg"
	}
	return audio, contentType, nil
}

type transcribeResponse struct {
	Text string `json:"text"`
}

// Transcribe uploads audio and returns the recognized transcript.
func (c *Client) Transcribe(ctx context.Context, apiKey, filename string, audio io.Reader) (string, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return "", ErrInvalidAPIKey
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("model_id", transcriptionModel); err != nil {
		return "", err
	}
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(fw, audio); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/speech-to-text", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("xi-api-key", apiKey)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return "", err
	}
	var out transcribeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode transcript: %w", err)
	}
	return out.Text, nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return ErrInvalidAPIKey
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return fmt.Errorf("speech api error: %s", resp.Status)
	}
	return fmt.Errorf("speech api error: %s: %s", resp.Status, msg)
}
