package googleai

import (
	"net/http"
	"os"

	"cloud.google.com/go/auth"
	"github.com/effective-security/mcpsse/pkg/llms"
	"google.golang.org/genai"
)

// DefaultModel is the Gemini model used when none is configured
const DefaultModel = "gemini-2.5-flash"

// apiKeyEnv lists the environment variables checked for an API key, in order
var apiKeyEnv = []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"}

// Options of the GoogleAI client
type Options struct {
	Model string
	// Defaults apply to every call, per call options override them
	Defaults      llms.CallOptions
	HarmThreshold genai.HarmBlockThreshold

	APIKey      string
	Credentials *auth.Credentials
	HTTPClient  *http.Client
	BaseURL     string
}

func defaultOptions() Options {
	return Options{
		Model: DefaultModel,
		Defaults: llms.CallOptions{
			CandidateCount: 1,
			MaxTokens:      8192,
			Temperature:    0.5,
			TopK:           3,
			TopP:           0.95,
		},
		HarmThreshold: genai.HarmBlockThresholdBlockOnlyHigh,
	}
}

func (o *Options) hasAuth() bool {
	return o.APIKey != "" || o.Credentials != nil
}

func (o *Options) apiKeyFromEnv() {
	if o.hasAuth() {
		return
	}
	for _, env := range apiKeyEnv {
		if key := os.Getenv(env); key != "" {
			o.APIKey = key
			return
		}
	}
}

// Option configures the client
type Option func(*Options)

// WithAPIKey sets the Gemini API key
func WithAPIKey(apiKey string) Option {
	return func(o *Options) {
		o.APIKey = apiKey
	}
}

// WithCredentials authenticates with Google credentials instead of an API key,
// nil is ignored.
func WithCredentials(credentials *auth.Credentials) Option {
	return func(o *Options) {
		if credentials != nil {
			o.Credentials = credentials
		}
	}
}

// WithHTTPClient sets the HTTP client used for API calls
func WithHTTPClient(httpClient *http.Client) Option {
	return func(o *Options) {
		o.HTTPClient = httpClient
	}
}

// WithBaseURL overrides the Gemini API endpoint
func WithBaseURL(baseURL string) Option {
	return func(o *Options) {
		o.BaseURL = baseURL
	}
}

// WithDefaultModel sets the model used when a call does not name one,
// empty keeps DefaultModel.
func WithDefaultModel(model string) Option {
	return func(o *Options) {
		if model != "" {
			o.Model = model
		}
	}
}

// WithCallDefaults applies call options to the client defaults
func WithCallDefaults(opts ...llms.CallOption) Option {
	return func(o *Options) {
		for _, opt := range opts {
			opt(&o.Defaults)
		}
	}
}

// WithHarmThreshold sets the block threshold of every harm category
func WithHarmThreshold(ht genai.HarmBlockThreshold) Option {
	return func(o *Options) {
		o.HarmThreshold = ht
	}
}
