// Package googleai implements the llms.Model interface for Gemini
// through the Gemini API. See https://ai.google.dev/ for more details.
package googleai

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpsse/pkg/llms"
	"github.com/effective-security/xlog"
	"google.golang.org/genai"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpsse/pkg/llms", "googleai")

// ErrMissingCredentials is returned when neither an API key nor
// credentials are available.
var ErrMissingCredentials = errors.New("GEMINI_API_KEY is not set")

// GoogleAI is a Gemini API client
type GoogleAI struct {
	client *genai.Client
	opts   Options
}

var _ llms.Model = (*GoogleAI)(nil)

// New returns a client, the API key falls back to GEMINI_API_KEY
// and then GOOGLE_API_KEY.
func New(ctx context.Context, opts ...Option) (*GoogleAI, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	o.apiKeyFromEnv()
	if !o.hasAuth() {
		return nil, errors.WithStack(ErrMissingCredentials)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      o.APIKey,
		Credentials: o.Credentials,
		HTTPClient:  o.HTTPClient,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: o.BaseURL},
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create genai client")
	}

	logger.ContextKV(ctx, xlog.DEBUG,
		"status", "created",
		"model", o.Model,
	)

	return &GoogleAI{client: client, opts: o}, nil
}
