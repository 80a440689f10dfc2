package main

import (
	"context"
	"os"
	"path/filepath"
)

// sttBackend is the transcription contract. Load may be slow (model read or
// network warm-up) and is called lazily on first use; Transcribe receives a
// complete WAV container plus optional language hint and priming prompt.
type sttBackend interface {
	Load() error
	Transcribe(ctx context.Context, wav []byte, language, prompt string) (string, error)
	Unload() error
	IsLoaded() bool
}

const groqBaseURL = "https://api.groq.com/openai/v1"

// newSTTBackend maps the configured backend tag to an implementation.
// Unknown tags fall back to the local whisper backend with a warning.
func newSTTBackend(cfg STTConfig) sttBackend {
	switch cfg.Backend {
	case "", "whisper":
		return NewWhisperSTT(whisperModelPath(cfg.Model), cfg.Threads)
	case "openai":
		model := cfg.Model
		if model == "" || model == defaultWhisperModel {
			model = "whisper-1"
		}
		return newHostedSTT("openai", os.Getenv("OPENAI_API_KEY"), "", model)
	case "groq":
		model := cfg.Model
		if model == "" || model == defaultWhisperModel {
			model = "whisper-large-v3"
		}
		return newHostedSTT("groq", os.Getenv("GROQ_API_KEY"), groqBaseURL, model)
	default:
		logger.Warnw("stt: unknown backend, using local whisper", "backend", cfg.Backend)
		return NewWhisperSTT(whisperModelPath(cfg.Model), cfg.Threads)
	}
}

// whisperModelPath resolves a model short name ("base", "small", …) to its
// ggml file under the XDG data dir.
func whisperModelPath(model string) string {
	if model == "" {
		model = defaultWhisperModel
	}
	return filepath.Join(dataDir(), "models", "ggml-"+model+".bin")
}
