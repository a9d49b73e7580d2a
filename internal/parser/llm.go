package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
)

// maxInputLen caps the raw text sent to the model.
const maxInputLen = 20000

const extractionPrompt = `You are a work-order intake assistant for a facility-maintenance marketplace.
Extract structured fields from the job description below.

Rules:
- Output valid JSON only. No markdown fences, no commentary.
- trade must be one of: HVAC, Plumbing, Electrical, Handyman, FacilitiesTech, Other.
- urgency must be one of: emergency, same_day, next_day, within_week, flexible.
- scheduled_start must be RFC 3339 or empty.
- budget_min and budget_max are dollar amounts as plain numbers, or empty.
- If a field is not present in the text, use an empty string. Never guess.

Schema:
{"title":"","description":"","trade":"","urgency":"","address":"","scheduled_start":"","budget_min":"","budget_max":"","pay_rate":"","contact_name":"","contact_phone":"","contact_email":""}

Job description:
%s`

// LangChainClient implements LLMClient on top of a langchaingo model.
type LangChainClient struct {
	model llms.Model
}

func NewLangChainClient(model llms.Model) *LangChainClient {
	return &LangChainClient{model: model}
}

func (c *LangChainClient) ExtractFields(ctx context.Context, rawText string) (FieldPayload, error) {
	if len(rawText) > maxInputLen {
		rawText = rawText[:maxInputLen]
	}

	prompt := fmt.Sprintf(extractionPrompt, rawText)
	resp, err := llms.GenerateFromSinglePrompt(ctx, c.model, prompt)
	if err != nil {
		return FieldPayload{}, fmt.Errorf("generate: %w", err)
	}

	var payload FieldPayload
	if err := json.Unmarshal([]byte(stripFences(resp)), &payload); err != nil {
		return FieldPayload{}, fmt.Errorf("decode model output: %w", err)
	}
	return payload, nil
}

// stripFences removes a markdown code fence if the model wrapped its output
// in one despite instructions.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}
