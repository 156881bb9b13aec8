package gemini

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"text/template"

	"github.com/phrazzld/scry-genpipe/internal/config"
	"github.com/phrazzld/scry-genpipe/internal/generation"
	"google.golang.org/genai"
)

// DefaultPromptTemplate is used when no template path is configured.
const DefaultPromptTemplate = `You are generating one entry of a batch.
{{- if .Title}}
Title: {{.Title}}
{{- end}}

Respond with a single JSON object and nothing else. Put the most important
fields first.

Request:
{{.Prompt}}
`

// contentStreamer is the part of genai's Models service the generator uses.
type contentStreamer interface {
	GenerateContentStream(
		ctx context.Context,
		model string,
		contents []*genai.Content,
		config *genai.GenerateContentConfig,
	) iter.Seq2[*genai.GenerateContentResponse, error]
}

// GeminiGenerator implements generation.Generator with streamed Gemini
// content calls.
type GeminiGenerator struct {
	logger         *slog.Logger
	models         contentStreamer
	model          string
	promptTemplate *template.Template
}

var _ generation.Generator = (*GeminiGenerator)(nil)

// NewGeminiGenerator creates a genai client from cfg and wraps it.
func NewGeminiGenerator(ctx context.Context, logger *slog.Logger, cfg config.LLMConfig) (*GeminiGenerator, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", generation.ErrInvalidConfig)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v", generation.ErrInvalidConfig, err)
	}

	return newGenerator(logger, client.Models, cfg)
}

func newGenerator(logger *slog.Logger, models contentStreamer, cfg config.LLMConfig) (*GeminiGenerator, error) {
	if cfg.ModelName == "" {
		return nil, fmt.Errorf("%w: model name cannot be empty", generation.ErrInvalidConfig)
	}

	tmpl, err := loadPromptTemplate(cfg.PromptTemplatePath)
	if err != nil {
		return nil, err
	}

	return &GeminiGenerator{
		logger:         logger.With("component", "gemini_generator", "model", cfg.ModelName),
		models:         models,
		model:          cfg.ModelName,
		promptTemplate: tmpl,
	}, nil
}

func loadPromptTemplate(path string) (*template.Template, error) {
	text := DefaultPromptTemplate
	name := "default"
	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to read prompt template from %s: %v",
				generation.ErrInvalidConfig, path, err)
		}
		text = string(content)
		name = path
	}

	tmpl, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse prompt template: %v", generation.ErrInvalidConfig, err)
	}
	return tmpl, nil
}

func (g *GeminiGenerator) createPrompt(req generation.Request) (string, error) {
	if req.Prompt == "" {
		return "", generation.ErrEmptyPrompt
	}

	var buf bytes.Buffer
	if err := g.promptTemplate.Execute(&buf, req); err != nil {
		return "", fmt.Errorf("failed to execute prompt template: %w", err)
	}
	return buf.String(), nil
}

// GenerateStream implements generation.Generator.
func (g *GeminiGenerator) GenerateStream(ctx context.Context, req generation.Request, onText func(string)) error {
	prompt, err := g.createPrompt(req)
	if err != nil {
		return err
	}

	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}
	cfg := &genai.GenerateContentConfig{ResponseMIMEType: "application/json"}

	g.logger.DebugContext(ctx, "starting content stream",
		"title", req.Title,
		"prompt_length", len(prompt))

	chunks := 0
	for resp, err := range g.models.GenerateContentStream(ctx, g.model, contents, cfg) {
		if err != nil {
			return mapAPIError(err)
		}
		if err := checkBlocked(resp); err != nil {
			g.logger.WarnContext(ctx, "response blocked", "title", req.Title, "error", err)
			return err
		}
		for _, text := range responseText(resp) {
			chunks++
			onText(text)
		}
		if hitTokenLimit(resp) {
			g.logger.WarnContext(ctx, "response hit output token limit", "title", req.Title, "chunks", chunks)
			return fmt.Errorf("%w: response truncated at the output token limit", generation.ErrInvalidResponse)
		}
	}

	g.logger.DebugContext(ctx, "content stream finished", "title", req.Title, "chunks", chunks)
	return nil
}

func checkBlocked(resp *genai.GenerateContentResponse) error {
	if resp == nil {
		return nil
	}
	if fb := resp.PromptFeedback; fb != nil && fb.BlockReason != "" && fb.BlockReason != genai.BlockedReasonUnspecified {
		return fmt.Errorf("%w: prompt blocked (%s)", generation.ErrContentBlocked, fb.BlockReason)
	}
	for _, c := range resp.Candidates {
		if c != nil && c.FinishReason == genai.FinishReasonSafety {
			return fmt.Errorf("%w: response stopped by safety filters", generation.ErrContentBlocked)
		}
	}
	return nil
}

func hitTokenLimit(resp *genai.GenerateContentResponse) bool {
	if resp == nil {
		return false
	}
	for _, c := range resp.Candidates {
		if c != nil && c.FinishReason == genai.FinishReasonMaxTokens {
			return true
		}
	}
	return false
}

// responseText returns the text parts of the first candidate, skipping
// model thoughts.
func responseText(resp *genai.GenerateContentResponse) []string {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil
	}
	c := resp.Candidates[0]
	if c == nil || c.Content == nil {
		return nil
	}

	var out []string
	for _, part := range c.Content.Parts {
		if part == nil || part.Thought || part.Text == "" {
			continue
		}
		out = append(out, part.Text)
	}
	return out
}
