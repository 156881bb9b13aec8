package generation

import "context"

// Request is one unit of work in a batch.
type Request struct {
	Title  string `json:"title" yaml:"title" validate:"max=200"`
	Prompt string `json:"prompt" yaml:"prompt" validate:"required"`
}

// Generator streams a model response for a request.
// This interface serves as a boundary between the application core and
// external AI/LLM services.
type Generator interface {
	// GenerateStream sends the request and calls onText with every text
	// fragment in arrival order. It returns when the response is complete,
	// the stream fails, or ctx is cancelled. Errors carrying a remote status
	// code implement StatusCode() int so the retry classifier can see it.
	GenerateStream(ctx context.Context, req Request, onText func(text string)) error
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, req Request, onText func(text string)) error

// GenerateStream calls f.
func (f GeneratorFunc) GenerateStream(ctx context.Context, req Request, onText func(text string)) error {
	return f(ctx, req, onText)
}
