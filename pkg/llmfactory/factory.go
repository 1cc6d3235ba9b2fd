package llmfactory

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpsse/pkg/llms"
	"github.com/effective-security/mcpsse/pkg/llms/googleai"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpsse/pkg", "llmfactory")

// NewLLM creates the model client, tests replace it with a mock.
var NewLLM = CreateLLM

// Factory creates model clients from the configured providers
type Factory interface {
	// DefaultModel returns the default model of the default provider
	DefaultModel() (llms.Model, error)
	// Model returns a client for the named model.
	// The provider listing the model in its available models is used,
	// otherwise the default provider serves it.
	// An empty name returns the default model.
	Model(name string) (llms.Model, error)
}

// Load returns the factory for the config file
func Load(location string) (Factory, error) {
	cfg, err := LoadConfig(location)
	if err != nil {
		return nil, err
	}
	return New(cfg), nil
}

type factory struct {
	providers []*ProviderConfig
	def       *ProviderConfig

	lock   sync.Mutex
	models map[string]llms.Model
}

// New creates a new LLM factory
func New(cfg *Config) Factory {
	return &factory{
		providers: cfg.Providers,
		def:       cfg.GetDefaultProvider(),
		models:    make(map[string]llms.Model),
	}
}

// CreateLLM returns the client for the provider,
// an empty model selects the provider default.
func CreateLLM(cfg *ProviderConfig, model string) (llms.Model, error) {
	if model == "" {
		model = cfg.DefaultModel
	}
	switch typ := strings.ToUpper(cfg.APIType); typ {
	case ProviderTypeGoogleAI, "GEMINI":
		opts := []googleai.Option{googleai.WithDefaultModel(model)}
		if cfg.Token != "" {
			opts = append(opts, googleai.WithAPIKey(cfg.Token))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, googleai.WithBaseURL(cfg.BaseURL))
		}
		return googleai.New(context.Background(), opts...)
	default:
		return nil, errors.Errorf("unsupported provider type: %s", typ)
	}
}

func (f *factory) DefaultModel() (llms.Model, error) {
	return f.Model("")
}

func (f *factory) Model(name string) (llms.Model, error) {
	if f.def == nil {
		return nil, errors.New("no providers configured")
	}

	f.lock.Lock()
	defer f.lock.Unlock()

	if m := f.models[name]; m != nil {
		return m, nil
	}

	p := f.providerFor(name)
	m, err := NewLLM(p, name)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to create model %q", name)
	}

	logger.KV(xlog.DEBUG,
		"status", "created_llm",
		"provider", p.Name,
		"model", m.GetName())

	f.models[name] = m
	return m, nil
}

func (f *factory) providerFor(name string) *ProviderConfig {
	if name != "" {
		for _, p := range f.providers {
			if slices.Contains(p.AvailableModels, name) {
				return p
			}
		}
	}
	return f.def
}
