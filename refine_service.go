package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"
)

const defaultRefinePrompt = `You clean up dictated text. Fix punctuation, capitalization and obvious speech-to-text errors. Keep the wording and meaning unchanged. Never add commentary. Reply with the corrected text only.`

// llmBackend is a single-turn completion call.
type llmBackend interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// openaiLLM implements llmBackend over the OpenAI chat API (Groq exposes
// the same surface under a different base URL).
type openaiLLM struct {
	client oai.Client
	model  string
}

func newOpenAILLM(apiKey, baseURL, model string) *openaiLLM {
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(baseURL))
	}
	return &openaiLLM{client: oai.NewClient(reqOpts...), model: model}
}

func (o *openaiLLM) Complete(ctx context.Context, system, user string) (string, error) {
	resp, err := o.client.Chat.Completions.New(ctx, oai.ChatCompletionNewParams{
		Model: shared.ChatModel(o.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(system),
			oai.UserMessage(user),
		},
		Temperature: param.NewOpt(0.2),
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty completion")
	}
	return resp.Choices[0].Message.Content, nil
}

// RefineService optionally passes transcriptions through an LLM for
// punctuation and grammar cleanup. Refinement is best-effort: any failure
// returns the original text so injection is never blocked.
type RefineService struct {
	enabled      bool
	backend      llmBackend
	customPrompt string
}

// NewRefineService builds a refiner from config. Disabled or misconfigured
// refinement yields a service whose Refine is the identity function.
func NewRefineService(cfg AIConfig) *RefineService {
	s := &RefineService{customPrompt: cfg.CustomPrompt}
	if !cfg.Enabled {
		return s
	}

	var apiKey, baseURL string
	switch cfg.Backend {
	case "", "openai":
		apiKey = os.Getenv("OPENAI_API_KEY")
	case "groq":
		apiKey = os.Getenv("GROQ_API_KEY")
		baseURL = groqBaseURL
	default:
		logger.Warnw("refine: unknown backend, refinement disabled", "backend", cfg.Backend)
		return s
	}
	if apiKey == "" {
		logger.Warnw("refine: enabled but no API key in environment, refinement disabled",
			"backend", cfg.Backend)
		return s
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	s.enabled = true
	s.backend = newOpenAILLM(apiKey, baseURL, model)
	return s
}

// newRefineServiceWithBackend builds an enabled refiner around an injected
// backend (tests only).
func newRefineServiceWithBackend(b llmBackend, customPrompt string) *RefineService {
	return &RefineService{enabled: true, backend: b, customPrompt: customPrompt}
}

// Enabled reports whether refinement will actually run.
func (s *RefineService) Enabled() bool {
	return s.enabled
}

// Refine cleans up text through the LLM. corrections carries recent
// misrecognition pairs to steer the model. On any error the original text
// is returned unchanged.
func (s *RefineService) Refine(ctx context.Context, text string, corrections map[string]string) string {
	if !s.enabled || strings.TrimSpace(text) == "" {
		return text
	}

	system := defaultRefinePrompt
	if s.customPrompt != "" {
		system = s.customPrompt
	}
	if len(corrections) > 0 {
		var sb strings.Builder
		sb.WriteString("\nKnown misrecognitions to fix when they appear:")
		for wrong, right := range corrections {
			fmt.Fprintf(&sb, "\n- %q should be %q", wrong, right)
		}
		system += sb.String()
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	t0 := time.Now()
	refined, err := s.backend.Complete(ctx, system, text)
	if err != nil {
		logger.Warnw("refine: completion failed, keeping original text", "err", err)
		return text
	}
	refined = strings.TrimSpace(refined)
	if refined == "" {
		return text
	}
	logger.Infow("refine: done", "latency", time.Since(t0).Round(time.Millisecond))
	return refined
}
