package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"CatalogEnricher/internal/config"
	"CatalogEnricher/internal/domain"
	"CatalogEnricher/internal/ports"
	"CatalogEnricher/internal/prompt"
)

const defaultTimeout = 60 * time.Second

// GeminiClient implements ports.Invoker against the Generative Language
// generateContent REST endpoint.
type GeminiClient struct {
	endpoint     string
	model        string
	apiKey       string
	systemPrompt string
	promptBudget int
	grounding    bool
	http         *http.Client
}

var _ ports.Invoker = (*GeminiClient)(nil)

// NewGeminiClient builds a client from configuration.
func NewGeminiClient(cfg config.InferenceConfig) *GeminiClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &GeminiClient{
		endpoint:     strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/"),
		model:        strings.TrimSpace(cfg.Model),
		apiKey:       strings.TrimSpace(cfg.APIKey),
		systemPrompt: strings.TrimSpace(cfg.SystemPrompt),
		promptBudget: cfg.PromptBudget,
		grounding:    cfg.Grounding,
		http:         &http.Client{Timeout: timeout},
	}
}

// Name identifies the provider inside the registry.
func (c *GeminiClient) Name() string {
	return config.ProviderGemini
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MIMEType string `json:"mimeType"`
	Data     []byte `json:"data"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent   `json:"systemInstruction,omitempty"`
	Contents          []geminiContent  `json:"contents"`
	Tools             []map[string]any `json:"tools,omitempty"`
	GenerationConfig  map[string]any   `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

// Invoke sends one generateContent request. It never retries.
func (c *GeminiClient) Invoke(ctx context.Context, req ports.InferenceRequest) domain.Outcome {
	if c.apiKey == "" || c.endpoint == "" || c.model == "" {
		return domain.Permanent(errors.New("gemini client misconfigured"))
	}

	parts := []geminiPart{{Text: prompt.Truncate(req.Prompt, c.promptBudget)}}
	if req.Asset != nil && len(req.Asset.Data) > 0 {
		parts = append(parts, geminiPart{InlineData: &geminiInlineData{
			MIMEType: req.Asset.MIMEType,
			Data:     req.Asset.Data,
		}})
	}

	payload := geminiRequest{
		Contents:         []geminiContent{{Role: "user", Parts: parts}},
		GenerationConfig: map[string]any{"temperature": 0},
	}
	if c.systemPrompt != "" {
		payload.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: c.systemPrompt}}}
	}
	if c.grounding {
		// Search grounding cannot be combined with JSON mode; the extractor
		// recovers the object from free text instead.
		payload.Tools = []map[string]any{{"google_search": map[string]any{}}}
	} else {
		payload.GenerationConfig["responseMimeType"] = "application/json"
		payload.GenerationConfig["responseSchema"] = geminiSchema(req.Schema)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return domain.Permanent(fmt.Errorf("marshal gemini payload: %w", err))
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", c.endpoint, url.PathEscape(c.model))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.Permanent(fmt.Errorf("new request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return transportFailure(c.Name(), c.http.Timeout, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return classifyResponse(c.Name(), resp)
	}

	var decoded geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return domain.Permanent(fmt.Errorf("decode gemini response: %w", err))
	}

	text, finishReason := decoded.text()
	if text == "" {
		reason := finishReason
		if decoded.PromptFeedback != nil && decoded.PromptFeedback.BlockReason != "" {
			reason = "blocked: " + decoded.PromptFeedback.BlockReason
		}
		return domain.Permanent(fmt.Errorf("gemini returned no content (reason=%q)", reason))
	}
	return domain.Success(text)
}

func (r geminiResponse) text() (string, string) {
	var finishReason string
	for _, candidate := range r.Candidates {
		if finishReason == "" {
			finishReason = candidate.FinishReason
		}
		var b strings.Builder
		for _, part := range candidate.Content.Parts {
			b.WriteString(part.Text)
		}
		if text := strings.TrimSpace(b.String()); text != "" {
			return text, finishReason
		}
	}
	return "", finishReason
}

// geminiSchema converts the output schema into the provider's OpenAPI subset.
// Object and untyped fields are left to the prompt because the provider
// rejects objects without declared properties.
func geminiSchema(schema domain.OutputSchema) map[string]any {
	properties := map[string]any{}
	required := []string{}
	for _, f := range schema.Fields {
		var prop map[string]any
		switch f.Type {
		case domain.FieldString:
			prop = map[string]any{"type": "STRING"}
		case domain.FieldBoolean:
			prop = map[string]any{"type": "BOOLEAN"}
		case domain.FieldNumber:
			prop = map[string]any{"type": "NUMBER"}
		case domain.FieldSequence:
			prop = map[string]any{"type": "ARRAY", "items": map[string]any{"type": "STRING"}}
		default:
			continue
		}
		if f.Description != "" {
			prop["description"] = f.Description
		}
		properties[f.Name] = prop
		required = append(required, f.Name)
	}
	return map[string]any{
		"type":       "OBJECT",
		"properties": properties,
		"required":   required,
	}
}
