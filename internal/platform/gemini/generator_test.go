package gemini

import (
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/phrazzld/scry-genpipe/internal/config"
	"github.com/phrazzld/scry-genpipe/internal/generation"
	"github.com/phrazzld/scry-genpipe/internal/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

type fakeStreamer struct {
	responses []*genai.GenerateContentResponse
	err       error

	model    string
	prompt   string
	mimeType string
}

func (f *fakeStreamer) GenerateContentStream(
	_ context.Context,
	model string,
	contents []*genai.Content,
	cfg *genai.GenerateContentConfig,
) iter.Seq2[*genai.GenerateContentResponse, error] {
	f.model = model
	if len(contents) > 0 && len(contents[0].Parts) > 0 {
		f.prompt = contents[0].Parts[0].Text
	}
	if cfg != nil {
		f.mimeType = cfg.ResponseMIMEType
	}
	return func(yield func(*genai.GenerateContentResponse, error) bool) {
		for _, r := range f.responses {
			if !yield(r, nil) {
				return
			}
		}
		if f.err != nil {
			yield(nil, f.err)
		}
	}
}

func textResponse(parts ...string) *genai.GenerateContentResponse {
	content := &genai.Content{Role: genai.RoleModel}
	for _, p := range parts {
		content.Parts = append(content.Parts, &genai.Part{Text: p})
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: content}},
	}
}

func newTestGenerator(t *testing.T, fake *fakeStreamer, cfg config.LLMConfig) *GeminiGenerator {
	t.Helper()
	if cfg.ModelName == "" {
		cfg.ModelName = "gemini-test"
	}
	g, err := newGenerator(slog.New(slog.NewTextHandler(io.Discard, nil)), fake, cfg)
	require.NoError(t, err)
	return g
}

func collect(t *testing.T, g *GeminiGenerator, req generation.Request) ([]string, error) {
	t.Helper()
	var got []string
	err := g.GenerateStream(context.Background(), req, func(s string) { got = append(got, s) })
	return got, err
}

func TestGenerateStream_DeliversTextInOrder(t *testing.T) {
	t.Parallel()

	thought := textResponse("thinking...")
	thought.Candidates[0].Content.Parts[0].Thought = true

	fake := &fakeStreamer{responses: []*genai.GenerateContentResponse{
		textResponse(`{"title":`),
		thought,
		textResponse(`"Moon"`, `,"body":"ro`),
		{},
		textResponse(`ck"}`),
	}}
	g := newTestGenerator(t, fake, config.LLMConfig{})

	got, err := collect(t, g, generation.Request{Title: "Moon", Prompt: "Describe the moon"})
	require.NoError(t, err)
	assert.Equal(t, []string{`{"title":`, `"Moon"`, `,"body":"ro`, `ck"}`}, got)
	assert.Equal(t, "gemini-test", fake.model)
	assert.Equal(t, "application/json", fake.mimeType)
	assert.Contains(t, fake.prompt, "Title: Moon")
	assert.Contains(t, fake.prompt, "Describe the moon")
}

func TestGenerateStream_EmptyPrompt(t *testing.T) {
	t.Parallel()

	g := newTestGenerator(t, &fakeStreamer{}, config.LLMConfig{})
	_, err := collect(t, g, generation.Request{Title: "x"})
	assert.ErrorIs(t, err, generation.ErrEmptyPrompt)
}

func TestGenerateStream_APIErrorsCarryStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		err   error
		class retry.ErrorClass
	}{
		{"overloaded value", genai.APIError{Code: 503, Status: "UNAVAILABLE", Message: "model is overloaded"}, retry.ClassTransientOverloaded},
		{"rate limited pointer", &genai.APIError{Code: 429, Status: "RESOURCE_EXHAUSTED"}, retry.ClassTransientRateLimited},
		{"auth", genai.APIError{Code: 403, Status: "PERMISSION_DENIED"}, retry.ClassFatalAuth},
		{"bad request", genai.APIError{Code: 400, Status: "INVALID_ARGUMENT"}, retry.ClassFatalOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			fake := &fakeStreamer{
				responses: []*genai.GenerateContentResponse{textResponse(`{"a":1`)},
				err:       tt.err,
			}
			g := newTestGenerator(t, fake, config.LLMConfig{})

			got, err := collect(t, g, generation.Request{Prompt: "p"})
			require.Error(t, err)
			assert.Equal(t, []string{`{"a":1`}, got)

			var statusErr *StatusError
			require.ErrorAs(t, err, &statusErr)
			assert.Equal(t, tt.class, retry.Classify(err))
		})
	}
}

func TestGenerateStream_PlainErrorPassesThrough(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection reset")
	g := newTestGenerator(t, &fakeStreamer{err: cause}, config.LLMConfig{})

	_, err := collect(t, g, generation.Request{Prompt: "p"})
	assert.Same(t, cause, err)
}

func TestGenerateStream_Blocked(t *testing.T) {
	t.Parallel()

	safety := textResponse("partial")
	safety.Candidates[0].FinishReason = genai.FinishReasonSafety

	promptBlocked := &genai.GenerateContentResponse{
		PromptFeedback: &genai.GenerateContentResponsePromptFeedback{BlockReason: genai.BlockedReasonSafety},
	}

	for name, resp := range map[string]*genai.GenerateContentResponse{
		"finish reason": safety,
		"prompt":        promptBlocked,
	} {
		t.Run(name, func(t *testing.T) {
			g := newTestGenerator(t, &fakeStreamer{responses: []*genai.GenerateContentResponse{resp}}, config.LLMConfig{})
			got, err := collect(t, g, generation.Request{Prompt: "p"})
			assert.ErrorIs(t, err, generation.ErrContentBlocked)
			assert.Empty(t, got)
			assert.Equal(t, retry.ClassFatalOther, retry.Classify(err))
		})
	}
}

func TestGenerateStream_TokenLimit(t *testing.T) {
	t.Parallel()

	cut := textResponse(`{"summary": "The war ended in 19`)
	cut.Candidates[0].FinishReason = genai.FinishReasonMaxTokens

	g := newTestGenerator(t, &fakeStreamer{responses: []*genai.GenerateContentResponse{cut}}, config.LLMConfig{})
	got, err := collect(t, g, generation.Request{Prompt: "p"})
	assert.ErrorIs(t, err, generation.ErrInvalidResponse)
	assert.Equal(t, []string{`{"summary": "The war ended in 19`}, got)
}

func TestPromptTemplateFromFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "prompt.tmpl")
	require.NoError(t, os.WriteFile(path, []byte("[{{.Title}}] {{.Prompt}}"), 0o600))

	fake := &fakeStreamer{}
	g := newTestGenerator(t, fake, config.LLMConfig{PromptTemplatePath: path})

	_, err := collect(t, g, generation.Request{Title: "T", Prompt: "P"})
	require.NoError(t, err)
	assert.Equal(t, "[T] P", fake.prompt)
}

func TestNewGenerator_InvalidConfig(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	_, err := newGenerator(logger, &fakeStreamer{}, config.LLMConfig{})
	assert.ErrorIs(t, err, generation.ErrInvalidConfig)

	_, err = newGenerator(logger, &fakeStreamer{}, config.LLMConfig{
		ModelName:          "m",
		PromptTemplatePath: filepath.Join(t.TempDir(), "missing.tmpl"),
	})
	assert.ErrorIs(t, err, generation.ErrInvalidConfig)

	bad := filepath.Join(t.TempDir(), "bad.tmpl")
	require.NoError(t, os.WriteFile(bad, []byte("{{.Prompt"), 0o600))
	_, err = newGenerator(logger, &fakeStreamer{}, config.LLMConfig{ModelName: "m", PromptTemplatePath: bad})
	assert.ErrorIs(t, err, generation.ErrInvalidConfig)

	_, err = NewGeminiGenerator(context.Background(), nil, config.LLMConfig{})
	assert.Error(t, err)
	_, err = NewGeminiGenerator(context.Background(), logger, config.LLMConfig{ModelName: "m"})
	assert.ErrorIs(t, err, generation.ErrInvalidConfig)
}

func TestStatusError_Message(t *testing.T) {
	t.Parallel()

	err := &StatusError{Code: 503, Status: "UNAVAILABLE", Err: errors.New("busy")}
	assert.True(t, strings.HasPrefix(err.Error(), "gemini API error 503 (UNAVAILABLE)"))
	assert.Equal(t, 503, err.StatusCode())
}
