package app

import (
	"context"
	"io"
	"strings"

	"chatwave/pkg/ai"
)

// AskAssistant forwards a prompt, with optional inline attachments, to
// the generation API using the caller's own key. Nothing is persisted.
func (a *App) AskAssistant(ctx context.Context, apiKey, prompt string, files []ai.InlinePart) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", ErrPromptRequired
	}
	return a.gemini.GenerateText(ctx, apiKey, prompt, files)
}

// SynthesizeSpeech converts text to audio via the caller's speech key.
func (a *App) SynthesizeSpeech(ctx context.Context, apiKey, voiceID, text string) ([]byte, string, error) {
	return a.speech.Synthesize(ctx, apiKey, voiceID, text)
}

// TranscribeAudio turns an uploaded recording into text.
func (a *App) TranscribeAudio(ctx context.Context, apiKey, filename string, audio io.Reader) (string, error) {
	return a.speech.Transcribe(ctx, apiKey, filename, audio)
}
