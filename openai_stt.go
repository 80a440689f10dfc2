package main

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
)

// hostedSTT transcribes through the OpenAI audio API surface. Groq exposes
// the same API, so the two differ only in base URL, key, and model name.
type hostedSTT struct {
	name   string
	client oai.Client
	model  string
	keySet bool
}

func newHostedSTT(name, apiKey, baseURL, model string) *hostedSTT {
	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(baseURL))
	}
	return &hostedSTT{
		name:   name,
		client: oai.NewClient(reqOpts...),
		model:  model,
		keySet: apiKey != "",
	}
}

// Load verifies credentials are present. There is no model to warm up.
func (h *hostedSTT) Load() error {
	if !h.keySet {
		return fmt.Errorf("stt: %s backend selected but no API key in environment", h.name)
	}
	return nil
}

func (h *hostedSTT) Transcribe(ctx context.Context, wav []byte, language, prompt string) (string, error) {
	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(wav), "dictation.wav", "audio/wav"),
		Model: oai.AudioModel(h.model),
	}
	if language != "" && language != "auto" {
		params.Language = param.NewOpt(language)
	}
	if prompt != "" {
		params.Prompt = param.NewOpt(prompt)
	}

	t0 := time.Now()
	resp, err := h.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("stt: %s transcription: %w", h.name, err)
	}
	text := strings.TrimSpace(resp.Text)
	logger.Infow("stt: hosted transcription complete",
		"backend", h.name, "chars", len(text), "latency", time.Since(t0).Round(time.Millisecond))
	return text, nil
}

func (h *hostedSTT) Unload() error { return nil }

func (h *hostedSTT) IsLoaded() bool { return h.keySet }
