package llmfactory

import (
	"github.com/effective-security/mcpsse/pkg/llms/googleai"
	"github.com/effective-security/x/configloader"
)

// ProviderTypeGoogleAI is the Gemini API provider
const ProviderTypeGoogleAI = "GOOGLEAI"

type Config struct {
	// Providers specifies the list of providers to use
	Providers []*ProviderConfig `json:"providers" yaml:"providers"`
	// DefaultProvider specifies the default provider to use
	DefaultProvider string `json:"default_provider" yaml:"default_provider"`
}

// ProviderConfig for the LLM provider
type ProviderConfig struct {
	Name string `json:"name" yaml:"name"`
	// APIType specifies the type of API to use: GOOGLEAI
	APIType         string   `json:"api_type" yaml:"api_type"`
	Token           string   `json:"token,omitempty" yaml:"token,omitempty"`
	BaseURL         string   `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	DefaultModel    string   `json:"default_model,omitempty" yaml:"default_model,omitempty"`
	AvailableModels []string `json:"available_models,omitempty" yaml:"available_models,omitempty"`
}

// GetDefaultProvider returns the configured default provider,
// or the first one if the default is not found.
func (c *Config) GetDefaultProvider() *ProviderConfig {
	for _, provider := range c.Providers {
		if provider.Name == c.DefaultProvider {
			return provider
		}
	}
	if len(c.Providers) > 0 {
		return c.Providers[0]
	}
	return nil
}

// DefaultConfig returns the config with the Gemini provider,
// the API key is taken from the environment.
func DefaultConfig() *Config {
	return &Config{
		DefaultProvider: "gemini",
		Providers: []*ProviderConfig{
			{
				Name:         "gemini",
				APIType:      ProviderTypeGoogleAI,
				DefaultModel: googleai.DefaultModel,
			},
		},
	}
}

// LoadConfig from file
func LoadConfig(file string) (*Config, error) {
	if file == "" {
		return DefaultConfig(), nil
	}

	cfg := new(Config)
	err := configloader.UnmarshalAndExpand(file, cfg)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}
