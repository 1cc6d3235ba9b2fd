package googleai

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpsse/pkg/llms"
	"github.com/effective-security/mcpsse/pkg/llms/googleai/internal/genaiutils"
	"github.com/effective-security/xlog"
	"google.golang.org/genai"
)

var (
	ErrNoContentInResponse   = errors.New("no content in generation response")
	ErrUnknownPartInResponse = errors.New("unknown part type in generation response")
)

// Gemini content roles
const (
	RoleModel = "model"
	RoleUser  = "user"
)

// GenerationInfo keys of a choice
const (
	CITATIONS = "citations"
	SAFETY    = "safety"
)

var harmCategories = []genai.HarmCategory{
	genai.HarmCategoryDangerousContent,
	genai.HarmCategoryHarassment,
	genai.HarmCategoryHateSpeech,
	genai.HarmCategorySexuallyExplicit,
}

// GetName returns the default model
func (g *GoogleAI) GetName() string {
	return g.opts.Model
}

// GetProviderType returns ProviderGoogleAI
func (g *GoogleAI) GetProviderType() llms.ProviderType {
	return llms.ProviderGoogleAI
}

// GenerateContent sends the conversation to Gemini.
// A system message becomes the system instruction.
func (g *GoogleAI) GenerateContent(ctx context.Context, messages []llms.Message, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := g.opts.Defaults
	opts.Model = g.opts.Model
	for _, opt := range options {
		opt(&opts)
	}

	tools, err := genaiutils.ConvertTools(opts.Tools)
	if err != nil {
		return nil, err
	}

	cfg := &genai.GenerateContentConfig{
		CandidateCount:  int32(opts.CandidateCount),
		MaxOutputTokens: int32(opts.MaxTokens),
		Temperature:     genaiutils.Float32Ptr(float32(opts.Temperature)),
		TopP:            genaiutils.Float32Ptr(float32(opts.TopP)),
		TopK:            genaiutils.Float32Ptr(float32(opts.TopK)),
		Tools:           tools,
		SafetySettings:  make([]*genai.SafetySetting, 0, len(harmCategories)),
	}
	for _, category := range harmCategories {
		cfg.SafetySettings = append(cfg.SafetySettings, &genai.SafetySetting{
			Category:  category,
			Threshold: g.opts.HarmThreshold,
		})
	}

	contents := make([]*genai.Content, 0, len(messages))
	for _, msg := range messages {
		c, err := toContent(msg)
		if err != nil {
			return nil, err
		}
		if msg.Role == llms.RoleSystem {
			cfg.SystemInstruction = c
		} else {
			contents = append(contents, c)
		}
	}

	resp, err := g.client.Models.GenerateContent(ctx, opts.Model, contents, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate content")
	}
	if len(resp.Candidates) == 0 {
		return nil, errors.WithStack(ErrNoContentInResponse)
	}

	logger.ContextKV(ctx, xlog.DEBUG,
		"model", opts.Model,
		"candidates", len(resp.Candidates),
		"finish_reason", resp.Candidates[0].FinishReason,
	)
	return fromCandidates(resp.Candidates, resp.UsageMetadata)
}
