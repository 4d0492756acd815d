package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/nadia/gigradar/internal/prompts"
)

// ExtractedEvent is the structured detail set pulled from one flyer.
type ExtractedEvent struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	VenueName   string   `json:"venue_name"`
	StartsAt    string   `json:"starts_at"`
	EndsAt      string   `json:"ends_at"`
	Price       string   `json:"price"`
	Tags        []string `json:"tags"`
}

// ParseStartsAt parses the extracted start timestamp, nil when absent or
// unparseable.
func (e *ExtractedEvent) ParseStartsAt() *time.Time {
	return parseEventTime(e.StartsAt)
}

// ParseEndsAt parses the extracted end timestamp, nil when absent or
// unparseable.
func (e *ExtractedEvent) ParseEndsAt() *time.Time {
	return parseEventTime(e.EndsAt)
}

func parseEventTime(s string) *time.Time {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		t = t.UTC()
		return &t
	}
	return nil
}

// ExtractorService pulls structured event fields from flyer images using an
// OpenAI-compatible vision model. It runs only on items the classifier already
// marked as events, so it uses the strong model tier unconditionally.
type ExtractorService struct {
	client   *resty.Client
	endpoint string
	model    string
}

// ExtractorConfig holds configuration for the flyer extractor.
type ExtractorConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// NewExtractorService creates a new flyer extractor.
func NewExtractorService(cfg *ExtractorConfig) *ExtractorService {
	client := resty.New()
	client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	client.SetHeader("Content-Type", "application/json")
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 90 * time.Second
	}
	client.SetTimeout(timeout)

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	return &ExtractorService{
		client:   client,
		endpoint: baseURL + "/chat/completions",
		model:    cfg.Model,
	}
}

// Extract reads the flyer at imageURL and returns its structured event fields.
// The current date is included so relative dates ("this Friday") resolve to the
// next future occurrence.
func (s *ExtractorService) Extract(ctx context.Context, imageURL, caption string) (*ExtractedEvent, error) {
	userText := fmt.Sprintf("Today is %s.\n\n%s%s",
		time.Now().UTC().Format("Monday, 2006-01-02"), prompts.ExtractUserPrompt, caption)

	req := chatRequest{
		Model: s.model,
		Messages: []chatMessage{
			{
				Role:    "system",
				Content: prompts.ExtractSystemPrompt,
			},
			{
				Role: "user",
				Content: []interface{}{
					chatTextContent{
						Type: "text",
						Text: userText,
					},
					chatImageContent{
						Type: "image_url",
						ImageURL: chatImageURL{
							URL:    imageURL,
							Detail: "high",
						},
					},
				},
			},
		},
		MaxTokens:      500,
		ResponseFormat: responseFormat{Type: "json_object"},
	}

	var resp chatResponse
	httpResp, err := s.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&resp).
		Post(s.endpoint)

	if err != nil {
		return nil, fmt.Errorf("failed to call extractor API: %w", err)
	}

	if httpResp.StatusCode() < 200 || httpResp.StatusCode() >= 300 {
		errorMsg := fmt.Sprintf("HTTP %d", httpResp.StatusCode())
		if resp.Error != nil {
			errorMsg = fmt.Sprintf("HTTP %d: %s", httpResp.StatusCode(), resp.Error.Message)
		} else if len(httpResp.Body()) > 0 {
			errorMsg = fmt.Sprintf("HTTP %d: %s", httpResp.StatusCode(), string(httpResp.Body()))
		}
		return nil, fmt.Errorf("extractor API returned error: %s", errorMsg)
	}

	if resp.Error != nil {
		return nil, fmt.Errorf("extractor API error: %s", resp.Error.Message)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from extractor API (status: %d)", httpResp.StatusCode())
	}

	var extracted ExtractedEvent
	if err := json.Unmarshal([]byte(stripFences(resp.Choices[0].Message.Content)), &extracted); err != nil {
		return nil, fmt.Errorf("failed to parse extracted event: %w", err)
	}
	if strings.TrimSpace(extracted.Name) == "" {
		return nil, fmt.Errorf("extractor returned no event name")
	}
	return &extracted, nil
}
