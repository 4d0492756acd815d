package scraper

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// Terminal provider run statuses.
const (
	StatusSucceeded = "SUCCEEDED"
	StatusFailed    = "FAILED"
	StatusAborted   = "ABORTED"
	StatusTimedOut  = "TIMED-OUT"
)

// IsTerminalFailure reports whether a provider status means the run will never
// produce a dataset.
func IsTerminalFailure(status string) bool {
	switch status {
	case StatusFailed, StatusAborted, StatusTimedOut:
		return true
	}
	return false
}

// Config holds configuration for the scrape provider client.
type Config struct {
	BaseURL string
	Token   string
	ActorID string
	Timeout time.Duration
}

// Client talks to the third-party scraping provider's REST API.
type Client struct {
	client  *resty.Client
	actorID string
	token   string
}

// NewClient creates a new scrape provider client.
func NewClient(cfg *Config) *Client {
	client := resty.New()
	client.SetBaseURL(cfg.BaseURL)
	client.SetHeader("Content-Type", "application/json")
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	client.SetTimeout(timeout)

	return &Client{
		client:  client,
		actorID: cfg.ActorID,
		token:   cfg.Token,
	}
}

// StartRunInput is the actor input for one scrape job.
type StartRunInput struct {
	Targets    []string  // Instagram usernames to scrape
	Kind       string    // posts or stories
	OnlyNewer  time.Time // lookback boundary; items older than this are skipped
	WebhookURL string    // completion callback, registered with the job
}

// StartedRun identifies a job the provider accepted.
type StartedRun struct {
	ExternalJobID string
	DatasetRef    string
	Status        string
}

type actorRunInput struct {
	Usernames      []string `json:"usernames"`
	ResultsType    string   `json:"resultsType"`
	OnlyPostsNewer string   `json:"onlyPostsNewerThan,omitempty"`
}

type webhookDefinition struct {
	EventTypes []string `json:"eventTypes"`
	RequestURL string   `json:"requestUrl"`
}

type runEnvelope struct {
	Data struct {
		ID               string `json:"id"`
		Status           string `json:"status"`
		DefaultDatasetID string `json:"defaultDatasetId"`
	} `json:"data"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// StartRun starts an asynchronous scrape job and registers the completion
// webhook with it. The provider calls the webhook for both success and failure
// terminal states.
func (c *Client) StartRun(ctx context.Context, input *StartRunInput) (*StartedRun, error) {
	body := actorRunInput{
		Usernames:   input.Targets,
		ResultsType: input.Kind,
	}
	if !input.OnlyNewer.IsZero() {
		body.OnlyPostsNewer = input.OnlyNewer.UTC().Format(time.RFC3339)
	}

	req := c.client.R().
		SetContext(ctx).
		SetQueryParam("token", c.token).
		SetBody(body)

	if input.WebhookURL != "" {
		hooks := []webhookDefinition{{
			EventTypes: []string{"ACTOR.RUN.SUCCEEDED", "ACTOR.RUN.FAILED", "ACTOR.RUN.ABORTED", "ACTOR.RUN.TIMED_OUT"},
			RequestURL: input.WebhookURL,
		}}
		encoded, err := json.Marshal(hooks)
		if err != nil {
			return nil, fmt.Errorf("failed to encode webhook definitions: %w", err)
		}
		req.SetQueryParam("webhooks", base64.StdEncoding.EncodeToString(encoded))
	}

	var resp runEnvelope
	httpResp, err := req.SetResult(&resp).Post(fmt.Sprintf("/acts/%s/runs", c.actorID))
	if err != nil {
		return nil, fmt.Errorf("failed to start provider run: %w", err)
	}
	if httpResp.StatusCode() < 200 || httpResp.StatusCode() >= 300 {
		if resp.Error != nil {
			return nil, fmt.Errorf("provider rejected run: %s: %s", resp.Error.Type, resp.Error.Message)
		}
		return nil, fmt.Errorf("provider rejected run: HTTP %d: %s", httpResp.StatusCode(), string(httpResp.Body()))
	}
	if resp.Data.ID == "" {
		return nil, fmt.Errorf("provider returned no run id")
	}

	return &StartedRun{
		ExternalJobID: resp.Data.ID,
		DatasetRef:    resp.Data.DefaultDatasetID,
		Status:        resp.Data.Status,
	}, nil
}

// RunStatus queries the provider for a job's current status.
func (c *Client) RunStatus(ctx context.Context, externalJobID string) (string, error) {
	var resp runEnvelope
	httpResp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("token", c.token).
		SetResult(&resp).
		Get(fmt.Sprintf("/actor-runs/%s", externalJobID))
	if err != nil {
		return "", fmt.Errorf("failed to query run status: %w", err)
	}
	if httpResp.StatusCode() < 200 || httpResp.StatusCode() >= 300 {
		return "", fmt.Errorf("run status lookup failed: HTTP %d", httpResp.StatusCode())
	}
	if resp.Data.Status == "" {
		return "", fmt.Errorf("run status lookup returned no status")
	}
	return resp.Data.Status, nil
}

// DatasetItems fetches the raw provider-schema items of a dataset.
func (c *Client) DatasetItems(ctx context.Context, datasetRef string, limit int) ([]map[string]interface{}, error) {
	var items []map[string]interface{}
	req := c.client.R().
		SetContext(ctx).
		SetQueryParam("token", c.token).
		SetQueryParam("format", "json").
		SetResult(&items)
	if limit > 0 {
		req.SetQueryParam("limit", fmt.Sprintf("%d", limit))
	}

	httpResp, err := req.Get(fmt.Sprintf("/datasets/%s/items", datasetRef))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch dataset items: %w", err)
	}
	if httpResp.StatusCode() < 200 || httpResp.StatusCode() >= 300 {
		return nil, fmt.Errorf("dataset fetch failed: HTTP %d", httpResp.StatusCode())
	}
	return items, nil
}

// DeleteDataset removes a consumed dataset at the provider. Callers treat
// failures as non-fatal; the dataset expires on its own eventually.
func (c *Client) DeleteDataset(ctx context.Context, datasetRef string) error {
	httpResp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("token", c.token).
		Delete(fmt.Sprintf("/datasets/%s", datasetRef))
	if err != nil {
		return fmt.Errorf("failed to delete dataset: %w", err)
	}
	if httpResp.StatusCode() < 200 || httpResp.StatusCode() >= 300 {
		return fmt.Errorf("dataset delete failed: HTTP %d", httpResp.StatusCode())
	}
	return nil
}
