package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"CatalogEnricher/internal/config"
	"CatalogEnricher/internal/domain"
	"CatalogEnricher/internal/ports"
	"CatalogEnricher/internal/prompt"
)

// OpenAIClient implements ports.Invoker backed by OpenAI-compatible chat
// completion APIs.
type OpenAIClient struct {
	endpoint     string
	model        string
	apiKey       string
	systemPrompt string
	promptBudget int
	grounding    bool
	httpClient   *http.Client
}

var _ ports.Invoker = (*OpenAIClient)(nil)

// NewOpenAIClient builds a client from configuration.
func NewOpenAIClient(cfg config.InferenceConfig) *OpenAIClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &OpenAIClient{
		endpoint:     strings.TrimSpace(cfg.Endpoint),
		model:        strings.TrimSpace(cfg.Model),
		apiKey:       strings.TrimSpace(cfg.APIKey),
		systemPrompt: cfg.SystemPrompt,
		promptBudget: cfg.PromptBudget,
		grounding:    cfg.Grounding,
		httpClient:   &http.Client{Timeout: timeout},
	}
}

func (c *OpenAIClient) Name() string {
	return config.ProviderOpenAI
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// Invoke posts the prompt (and the asset as a data URL) as a user message.
func (c *OpenAIClient) Invoke(ctx context.Context, req ports.InferenceRequest) domain.Outcome {
	if c.apiKey == "" || c.endpoint == "" || c.model == "" {
		return domain.Permanent(errors.New("openai client misconfigured"))
	}

	content := []map[string]any{
		{"type": "text", "text": prompt.Truncate(req.Prompt, c.promptBudget)},
	}
	if req.Asset != nil && len(req.Asset.Data) > 0 {
		content = append(content, map[string]any{
			"type":      "image_url",
			"image_url": map[string]string{"url": dataURL(*req.Asset)},
		})
	}

	payload := map[string]any{
		"model": c.model,
		"messages": []map[string]any{
			{"role": "system", "content": safePrompt(c.systemPrompt)},
			{"role": "user", "content": content},
		},
		"temperature": 0,
	}
	if !c.grounding {
		payload["response_format"] = map[string]string{"type": "json_object"}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return domain.Permanent(fmt.Errorf("marshal openai payload: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.Permanent(fmt.Errorf("new request: %w", err))
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return transportFailure(c.Name(), c.httpClient.Timeout, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return classifyResponse(c.Name(), resp)
	}

	var decoded chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return domain.Permanent(fmt.Errorf("decode openai response: %w", err))
	}
	if len(decoded.Choices) == 0 || strings.TrimSpace(decoded.Choices[0].Message.Content) == "" {
		return domain.Permanent(errors.New("openai returned no content"))
	}
	return domain.Success(strings.TrimSpace(decoded.Choices[0].Message.Content))
}

func dataURL(asset domain.Asset) string {
	mimeType := asset.MIMEType
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(asset.Data)
}

func safePrompt(prompt string) string {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "You are a music catalog analyst. Reply with a single JSON object and nothing else."
	}
	return prompt
}
