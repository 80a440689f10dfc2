package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// ErrModelNotFound is returned when a Whisper ggml model file is missing
// from the models directory.
var ErrModelNotFound = errors.New("whisper model not found")

// whisperBackend abstracts the whisper.cpp bindings.
// Keeps CGo and model loading out of unit tests.
type whisperBackend interface {
	Load(modelPath string, threads int) error
	Transcribe(pcm []float32, language, prompt string) (string, error)
	Close() error
}

// realWhisperBackend wraps github.com/ggerganov/whisper.cpp/bindings/go.
type realWhisperBackend struct {
	model   whisperlib.Model
	context whisperlib.Context
}

func (r *realWhisperBackend) Load(modelPath string, threads int) error {
	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrModelNotFound, modelPath)
	}

	model, err := whisperlib.New(modelPath)
	if err != nil {
		return fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	r.model = model

	ctx, err := model.NewContext()
	if err != nil {
		model.Close() //nolint:errcheck
		return fmt.Errorf("whisper: create context: %w", err)
	}

	if threads <= 0 {
		// Leave headroom for the capture and monitor goroutines.
		threads = runtime.NumCPU() - 2
		if threads < 1 {
			threads = 1
		}
	}
	ctx.SetThreads(uint(threads))
	// Beam size 2 trades a little accuracy for roughly half the decode time
	// of the default 5 — fine for short dictation bursts.
	ctx.SetBeamSize(2)
	// Each utterance is independent; no cross-utterance token context.
	ctx.SetMaxContext(0)

	r.context = ctx
	return nil
}

func (r *realWhisperBackend) Transcribe(pcm []float32, language, prompt string) (string, error) {
	if r.context == nil {
		return "", fmt.Errorf("whisper: not loaded")
	}

	if language != "" && language != "auto" {
		if err := r.context.SetLanguage(language); err != nil {
			logger.Warnw("whisper: invalid language, using auto-detect", "language", language)
		}
	}
	if prompt != "" {
		r.context.SetInitialPrompt(prompt)
	}

	if err := r.context.Process(pcm, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process: %w", err)
	}

	var sb strings.Builder
	for {
		seg, err := r.context.NextSegment()
		if err != nil {
			break // io.EOF — no more segments
		}
		sb.WriteString(seg.Text)
	}
	return sb.String(), nil
}

func (r *realWhisperBackend) Close() error {
	if r.model != nil {
		err := r.model.Close()
		r.model = nil
		r.context = nil
		return err
	}
	return nil
}

// WhisperSTT transcribes locally via whisper.cpp.
type WhisperSTT struct {
	backend   whisperBackend
	modelPath string
	threads   int

	mu     sync.Mutex
	loaded bool
}

// NewWhisperSTT creates a local transcriber for the given ggml model file.
func NewWhisperSTT(modelPath string, threads int) *WhisperSTT {
	return &WhisperSTT{
		backend:   &realWhisperBackend{},
		modelPath: modelPath,
		threads:   threads,
	}
}

// newWhisperSTTWithBackend creates a transcriber with an injected backend
// (tests only).
func newWhisperSTTWithBackend(b whisperBackend, modelPath string) *WhisperSTT {
	return &WhisperSTT{backend: b, modelPath: modelPath}
}

// Load reads the model into memory. Idempotent; returns ErrModelNotFound if
// the ggml file is missing.
func (s *WhisperSTT) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return nil
	}
	if err := s.backend.Load(s.modelPath, s.threads); err != nil {
		return err
	}
	s.loaded = true
	logger.Infow("whisper: model loaded", "path", s.modelPath)
	return nil
}

// Transcribe decodes the WAV container and runs local inference. Known
// hallucination tags produced on silence or noise are filtered to an empty
// result rather than an error.
func (s *WhisperSTT) Transcribe(ctx context.Context, wav []byte, language, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	info, err := decodeWAV(wav)
	if err != nil {
		return "", fmt.Errorf("whisper: %w", err)
	}
	if info.SampleRate != audioSampleRate {
		return "", fmt.Errorf("whisper: sample rate %d, want %d", info.SampleRate, audioSampleRate)
	}

	t0 := time.Now()
	text, err := s.backend.Transcribe(pcmToFloat32(info.Samples), language, prompt)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if isHallucination(text) {
		logger.Debugw("whisper: hallucination tag filtered", "text", text)
		return "", nil
	}
	logger.Infow("whisper: transcribed",
		"chars", len(text), "latency", time.Since(t0).Round(time.Millisecond))
	return text, nil
}

// Unload releases model resources.
func (s *WhisperSTT) Unload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loaded = false
	return s.backend.Close()
}

// IsLoaded reports whether the model is resident.
func (s *WhisperSTT) IsLoaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

// isHallucination reports whether text is a known whisper.cpp artifact
// produced during silence or noise (e.g. "[BLANK_AUDIO]", "(Music)").
func isHallucination(s string) bool {
	if s == "" {
		return false
	}
	tags := []string{
		"[BLANK_AUDIO]",
		"[blank_audio]",
		"(Music)",
		"(music)",
		"(noise)",
		"(Noise)",
		"[MUSIC]",
		"[Music]",
		"(clapping)",
		"(Applause)",
		"[silence]",
	}
	for _, tag := range tags {
		if s == tag {
			return true
		}
	}
	// Variations wrapped in brackets or parens that appear alone.
	return len(s) > 2 && ((s[0] == '[' && s[len(s)-1] == ']') || (s[0] == '(' && s[len(s)-1] == ')'))
}
