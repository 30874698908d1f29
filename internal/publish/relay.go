package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// RelayChannel publishes through a batching intermediary that fans one post
// out to several social networks. The relay requires media to be hosted on
// its side first (async upload job) and uses a nested per-network body shape,
// unlike the flat Telegram form.
type RelayChannel struct {
	baseURL  string
	apiKey   string
	networks []string
	client   *http.Client
}

// RelayOptions configures the channel. BaseURL is overridable for tests.
type RelayOptions struct {
	BaseURL  string
	APIKey   string
	Networks []string
	Timeout  time.Duration
}

func NewRelayChannel(opts RelayOptions) *RelayChannel {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		base = "https://app.ayrshare.com/api"
	}
	networks := opts.Networks
	if len(networks) == 0 {
		networks = []string{"facebook"}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &RelayChannel{
		baseURL:  base,
		apiKey:   strings.TrimSpace(opts.APIKey),
		networks: networks,
		client:   &http.Client{Timeout: timeout},
	}
}

func (c *RelayChannel) Name() string              { return "relay" }
func (c *RelayChannel) RequiresHostedMedia() bool { return true }

type relayUploadRequest struct {
	URL string `json:"url"`
}

type relayJobResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
	Ref    string `json:"ref"`
	Error  string `json:"error"`
}

// UploadMedia starts an upload-from-url job on the relay.
func (c *RelayChannel) UploadMedia(ctx context.Context, mediaURL string) (string, error) {
	var parsed relayJobResponse
	if err := c.doJSON(ctx, http.MethodPost, "/media/uploadFromUrl", relayUploadRequest{URL: mediaURL}, &parsed); err != nil {
		return "", err
	}
	if strings.TrimSpace(parsed.JobID) == "" {
		return "", fmt.Errorf("relay upload response missing job id")
	}
	return parsed.JobID, nil
}

// MediaStatus polls one upload job.
func (c *RelayChannel) MediaStatus(ctx context.Context, jobID string) (JobStatus, string, error) {
	var parsed relayJobResponse
	path := "/media/status?job_id=" + url.QueryEscape(jobID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &parsed); err != nil {
		return StatusFailed, "", err
	}
	return mapRelayStatus(parsed.Status), parsed.Ref, nil
}

// relayPostRequest is the nested per-network body shape the relay expects.
type relayPostRequest struct {
	Post      string                      `json:"post"`
	Platforms []string                    `json:"platforms"`
	MediaURLs []string                    `json:"mediaUrls,omitempty"`
	Networks  map[string]relayNetworkPost `json:"networks,omitempty"`
}

type relayNetworkPost struct {
	Title   string `json:"title,omitempty"`
	LinkURL string `json:"link,omitempty"`
}

func (c *RelayChannel) SubmitPost(ctx context.Context, post Post) (string, error) {
	body := relayPostRequest{
		Post:      post.Headline + "\n\n" + post.Excerpt,
		Platforms: c.networks,
		Networks:  map[string]relayNetworkPost{},
	}
	if post.MediaRef != "" {
		body.MediaURLs = []string{post.MediaRef}
	}
	for _, network := range c.networks {
		body.Networks[network] = relayNetworkPost{
			Title:   post.Headline,
			LinkURL: post.LinkURL,
		}
	}

	var parsed relayJobResponse
	if err := c.doJSON(ctx, http.MethodPost, "/post", body, &parsed); err != nil {
		return "", err
	}
	if strings.TrimSpace(parsed.JobID) == "" {
		return "", fmt.Errorf("relay post response missing id")
	}
	return parsed.JobID, nil
}

// PublishStatus polls the relay until the fan-out finishes.
func (c *RelayChannel) PublishStatus(ctx context.Context, remoteID string) (JobStatus, error) {
	var parsed relayJobResponse
	path := "/post/status?id=" + url.QueryEscape(remoteID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &parsed); err != nil {
		return StatusFailed, err
	}
	return mapRelayStatus(parsed.Status), nil
}

func (c *RelayChannel) doJSON(ctx context.Context, method, path string, payload, out any) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("relay channel is not initialized")
	}
	if c.apiKey == "" {
		return fmt.Errorf("relay channel misconfigured: %w", ErrAuth)
	}

	var reqBody io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal relay request: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("build relay request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return markTransient(fmt.Errorf("relay request failed: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return markTransient(fmt.Errorf("read relay response: %w", err))
	}
	if err := classifyStatus(resp.StatusCode, strings.TrimSpace(string(body))); err != nil {
		return err
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode relay response: %w", err)
		}
	}
	return nil
}

func mapRelayStatus(raw string) JobStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "complete", "completed", "success", "done":
		return StatusComplete
	case "failed", "error":
		return StatusFailed
	case "in_progress", "processing", "running":
		return StatusRunning
	default:
		return StatusPending
	}
}
