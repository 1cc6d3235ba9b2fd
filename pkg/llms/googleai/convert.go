package googleai

import (
	"encoding/json"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpsse/pkg/llms"
	"google.golang.org/genai"
)

var roles = map[llms.Role]string{
	llms.RoleSystem:  RoleUser,
	llms.RoleHuman:   RoleUser,
	llms.RoleGeneric: RoleUser,
	// function responses are sent by the user
	llms.RoleTool: RoleUser,
	llms.RoleAI:   RoleModel,
}

func toContent(msg llms.Message) (*genai.Content, error) {
	role, ok := roles[msg.Role]
	if !ok {
		return nil, errors.Errorf("role %v not supported", msg.Role)
	}

	c := &genai.Content{
		Role:  role,
		Parts: make([]*genai.Part, 0, len(msg.Parts)),
	}
	for _, part := range msg.Parts {
		p, err := toPart(part)
		if err != nil {
			return nil, err
		}
		c.Parts = append(c.Parts, p)
	}
	return c, nil
}

func toPart(part llms.ContentPart) (*genai.Part, error) {
	switch p := part.(type) {
	case llms.TextContent:
		return &genai.Part{Text: p.Text}, nil
	case llms.ToolCall:
		fc := p.FunctionCall
		if fc == nil {
			return nil, errors.New("tool call without function")
		}
		var args map[string]any
		if fc.Arguments != "" {
			if err := json.Unmarshal([]byte(fc.Arguments), &args); err != nil {
				return nil, errors.Wrapf(err, "invalid arguments for %s", fc.Name)
			}
		}
		return &genai.Part{
			FunctionCall: &genai.FunctionCall{ID: p.ID, Name: fc.Name, Args: args},
		}, nil
	case llms.ToolCallResponse:
		return &genai.Part{
			FunctionResponse: &genai.FunctionResponse{
				ID:       p.ToolCallID,
				Name:     p.Name,
				Response: map[string]any{"content": p.Content},
			},
		}, nil
	}
	return nil, errors.Errorf("unsupported content part %T", part)
}

func fromCandidates(candidates []*genai.Candidate, usage *genai.GenerateContentResponseUsageMetadata) (*llms.ContentResponse, error) {
	resp := &llms.ContentResponse{
		Choices: make([]*llms.ContentChoice, 0, len(candidates)),
	}
	for _, candidate := range candidates {
		choice, err := fromCandidate(candidate)
		if err != nil {
			return nil, err
		}
		addUsage(choice.GenerationInfo, usage)
		resp.Choices = append(resp.Choices, choice)
	}
	return resp, nil
}

func fromCandidate(candidate *genai.Candidate) (*llms.ContentChoice, error) {
	choice := &llms.ContentChoice{
		StopReason: string(candidate.FinishReason),
		GenerationInfo: map[string]any{
			CITATIONS: candidate.CitationMetadata,
			SAFETY:    candidate.SafetyRatings,
		},
	}
	if candidate.Content == nil {
		return choice, nil
	}

	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		switch {
		case part.Thought:
			// thought summaries are not part of the answer
		case part.FunctionCall != nil:
			args, err := json.Marshal(part.FunctionCall.Args)
			if err != nil {
				return nil, errors.Wrap(err, "failed to marshal function call arguments")
			}
			choice.ToolCalls = append(choice.ToolCalls, llms.ToolCall{
				ID:   part.FunctionCall.ID,
				Type: llms.ToolTypeFunction,
				FunctionCall: &llms.FunctionCall{
					Name:      part.FunctionCall.Name,
					Arguments: string(args),
				},
			})
		case part.InlineData != nil, part.FileData != nil:
			return nil, errors.Wrap(ErrUnknownPartInResponse, "not text or tool")
		default:
			text.WriteString(part.Text)
		}
	}
	choice.Content = text.String()
	return choice, nil
}

func addUsage(info map[string]any, usage *genai.GenerateContentResponseUsageMetadata) {
	if usage == nil {
		return
	}
	info["InputTokens"] = usage.PromptTokenCount
	info["CacheReadTokens"] = usage.CachedContentTokenCount
	info["OutputTokens"] = usage.CandidatesTokenCount + usage.ToolUsePromptTokenCount + usage.ThoughtsTokenCount
	info["TotalTokens"] = usage.TotalTokenCount
}
