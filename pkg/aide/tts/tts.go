// Package tts synthesizes voice-note audio for auto-replies configured with
// send_as_voice. Uses the OpenAI speech API; the Opus output is what both
// platforms expect for voice notes.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Provider converts text to audio. Returns audio bytes and MIME type.
type Provider interface {
	Synthesize(ctx context.Context, text, voice string) ([]byte, string, error)
}

// Config configures the speech endpoint.
type Config struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	Voice   string `yaml:"voice"`
}

// OpenAIProvider implements Provider via the OpenAI speech API.
type OpenAIProvider struct {
	apiKey       string
	baseURL      string
	model        string
	defaultVoice string
	client       *http.Client
}

// NewOpenAIProvider creates a speech provider from config.
func NewOpenAIProvider(cfg Config) *OpenAIProvider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	model := cfg.Model
	if model == "" {
		model = "tts-1"
	}
	voice := cfg.Voice
	if voice == "" {
		voice = "nova"
	}
	return &OpenAIProvider{
		apiKey:       cfg.APIKey,
		baseURL:      baseURL,
		model:        model,
		defaultVoice: voice,
		client:       &http.Client{Timeout: 30 * time.Second},
	}
}

// Synthesize converts text to Opus audio.
func (p *OpenAIProvider) Synthesize(ctx context.Context, text, voice string) ([]byte, string, error) {
	if voice == "" {
		voice = p.defaultVoice
	}

	// The speech API caps input at 4096 chars.
	if len(text) > 4096 {
		text = text[:4093] + "..."
	}

	payload := map[string]any{
		"model":           p.model,
		"input":           text,
		"voice":           voice,
		"response_format": "opus",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, "", fmt.Errorf("tts: marshal request: %w", err)
	}

	url := p.baseURL + "/audio/speech"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, "", fmt.Errorf("tts: creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("tts: API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, "", fmt.Errorf("tts: API returned %d: %s", resp.StatusCode, string(errBody))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("tts: reading audio: %w", err)
	}

	return audio, "audio/ogg", nil
}
