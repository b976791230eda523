package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// ErrLLMUnavailable signals the answer-synthesis backend could not be
// reached. It is never fatal to a query: callers fall back to snippet-only
// results.
var ErrLLMUnavailable = errors.New("llm backend unavailable")

type LLM struct {
	client *genai.Client
	model  string
}

func NewLLM(ctx context.Context, apiKey, model string) (*LLM, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	return &LLM{client: client, model: model}, nil
}

func (l *LLM) Close() error {
	return l.client.Close()
}

// Generate produces a completion for the prompt and flattens the response
// parts into a single string.
func (l *LLM) Generate(ctx context.Context, prompt string) (string, error) {
	model := l.client.GenerativeModel(l.model)

	res, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrLLMUnavailable, err)
	}
	if len(res.Candidates) == 0 || res.Candidates[0].Content == nil {
		return "", fmt.Errorf("%w: empty response", ErrLLMUnavailable)
	}

	var b strings.Builder
	for _, part := range res.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return b.String(), nil
}
