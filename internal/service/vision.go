package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/nadia/gigradar/internal/domain"
	"github.com/nadia/gigradar/internal/prompts"
)

// Verdict is the parsed classifier answer for one image.
type Verdict struct {
	IsEvent    bool           `json:"is_event"`
	Confidence float64        `json:"confidence"`
	Reasons    []string       `json:"reasons"`
	Signals    domain.Signals `json:"signals"`
}

// VisionService calls an OpenAI-compatible vision model and parses its strict
// JSON verdict. The model is chosen per call so the same client serves both the
// cheap triage tier and the escalation tier.
type VisionService struct {
	client   *resty.Client
	endpoint string
}

// VisionServiceConfig holds configuration for the vision classifier client.
type VisionServiceConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// NewVisionService creates a new vision classifier client.
// Parameters:
//   - cfg: API key, base URL, and request timeout.
//
// Returns:
//   - *VisionService: initialized client wrapper.
func NewVisionService(cfg *VisionServiceConfig) *VisionService {
	client := resty.New()
	client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	client.SetHeader("Content-Type", "application/json")
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	client.SetTimeout(timeout)

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	return &VisionService{
		client:   client,
		endpoint: baseURL + "/chat/completions",
	}
}

// OpenAI-compatible Chat Completion API request/response structures
type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	MaxTokens      int            `json:"max_tokens"`
	ResponseFormat responseFormat `json:"response_format"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"` // string for system, []interface{} for user with images
}

type chatTextContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type chatImageContent struct {
	Type     string       `json:"type"`
	ImageURL chatImageURL `json:"image_url"`
}

type chatImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Classify asks the given model whether the image announces an event.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - model: model identifier for this call (triage or escalation tier).
//   - imageURL: accessible image URL (provider CDN or presigned storage URL).
//   - caption: post caption, may be empty.
//
// Returns:
//   - *Verdict: parsed verdict with confidence and supporting signals.
//   - error: non-nil if the API call fails or the answer is not valid JSON.
func (s *VisionService) Classify(ctx context.Context, model, imageURL, caption string) (*Verdict, error) {
	req := chatRequest{
		Model: model,
		Messages: []chatMessage{
			{
				Role:    "system",
				Content: prompts.ClassifySystemPrompt,
			},
			{
				Role: "user",
				Content: []interface{}{
					chatTextContent{
						Type: "text",
						Text: prompts.ClassifyUserPrompt + caption,
					},
					chatImageContent{
						Type: "image_url",
						ImageURL: chatImageURL{
							URL:    imageURL,
							Detail: "auto",
						},
					},
				},
			},
		},
		MaxTokens:      300,
		ResponseFormat: responseFormat{Type: "json_object"},
	}

	content, err := s.complete(ctx, &req)
	if err != nil {
		return nil, err
	}

	var verdict Verdict
	if err := json.Unmarshal([]byte(stripFences(content)), &verdict); err != nil {
		return nil, fmt.Errorf("failed to parse classifier verdict: %w", err)
	}
	if verdict.Confidence < 0 {
		verdict.Confidence = 0
	}
	if verdict.Confidence > 1 {
		verdict.Confidence = 1
	}
	return &verdict, nil
}

func (s *VisionService) complete(ctx context.Context, req *chatRequest) (string, error) {
	var resp chatResponse
	httpResp, err := s.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&resp).
		Post(s.endpoint)

	if err != nil {
		return "", fmt.Errorf("failed to call vision API: %w", err)
	}

	if httpResp.StatusCode() < 200 || httpResp.StatusCode() >= 300 {
		errorMsg := fmt.Sprintf("HTTP %d", httpResp.StatusCode())
		if resp.Error != nil {
			errorMsg = fmt.Sprintf("HTTP %d: %s", httpResp.StatusCode(), resp.Error.Message)
		} else if len(httpResp.Body()) > 0 {
			errorMsg = fmt.Sprintf("HTTP %d: %s", httpResp.StatusCode(), string(httpResp.Body()))
		}
		return "", fmt.Errorf("vision API returned error: %s", errorMsg)
	}

	if resp.Error != nil {
		return "", fmt.Errorf("vision API error: %s", resp.Error.Message)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from vision API (status: %d)", httpResp.StatusCode())
	}

	return resp.Choices[0].Message.Content, nil
}

// stripFences tolerates models that wrap JSON in markdown fences despite the
// response_format instruction.
func stripFences(content string) string {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	return strings.TrimSpace(content)
}
