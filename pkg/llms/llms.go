package llms

import (
	"context"
)

// ProviderType is the API of a model provider
type ProviderType string

// ProviderGoogleAI is the Gemini API
const ProviderGoogleAI ProviderType = "GOOGLEAI"

// Model is a chat model with function calling.
type Model interface {
	// GetName returns the default model name.
	GetName() string
	// GetProviderType returns the type of provider.
	GetProviderType() ProviderType
	// GenerateContent returns the model reply to the messages. Tool calls
	// requested by the model are returned in ContentChoice.ToolCalls.
	GenerateContent(ctx context.Context, messages []Message, options ...CallOption) (*ContentResponse, error)
}
