package llm

import (
	"context"
	"strings"
)

type GenerationParams struct {
	Temperature    *float32 `json:"temperature"`
	MaxTokens      *int     `json:"max_tokens"`
	ResponseFormat string   `json:"response_format"`
}

// ResponseFormatJSON constrains the completion to a single JSON object on
// backends that support it.
const ResponseFormatJSON = "json"

// LLMClient defines the standard interface for any LLM backend.
type LLMClient interface {
	// GenerateJSON produces a JSON-constrained completion for the prompt.
	GenerateJSON(ctx context.Context, prompt string, params GenerationParams) (string, error)

	// ModelName identifies the backing vendor/model, e.g. "OpenAI/gpt-4o-mini".
	ModelName() string
}

// JSONParams returns the default parameter set for classification calls:
// low temperature, bounded output, JSON-only response.
func JSONParams(maxTokens int) GenerationParams {
	temp := float32(0.1)
	return GenerationParams{
		Temperature:    &temp,
		MaxTokens:      &maxTokens,
		ResponseFormat: ResponseFormatJSON,
	}
}

// StripFences removes a surrounding markdown code fence. Some backends wrap
// the object in ```json fences even when asked for a bare JSON response.
func StripFences(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
