package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/aura/api/internal/config"
	"github.com/aura/api/internal/model"
	"github.com/aura/api/internal/retry"
)

// PodcastGenerator defines the operations of the remote podcast generation service
type PodcastGenerator interface {
	GeneratePodcast(ctx context.Context, req *model.PodcastGenerateRequest) (*GenerateResponse, error)
	GetStatus(ctx context.Context, jobID string) (*model.RemoteJobStatus, error)
	GetPodcast(ctx context.Context, jobID string) (*model.PodcastContent, error)
	StreamAudio(ctx context.Context, jobID string) (*AudioStream, error)
	DeletePodcast(ctx context.Context, jobID string) error
}

// BriefingClient implements PodcastGenerator over HTTP/JSON
type BriefingClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// GenerateResponse represents the response of a generation request
type GenerateResponse struct {
	ID string `json:"id"`
}

// AudioStream is an open audio body. Callers must close Body.
type AudioStream struct {
	Body          io.ReadCloser
	ContentType   string
	ContentLength int64
}

// APIError is returned for non-2xx responses
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("briefing API error (status %d): %s", e.StatusCode, e.Body)
}

// Retryable reports whether the status code is worth another attempt
func (e *APIError) Retryable() bool {
	return retry.HTTPRetryableStatus(e.StatusCode)
}

// NewBriefingClient creates a new generation service client
func NewBriefingClient(cfg *config.BriefingConfig) *BriefingClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &BriefingClient{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
	}
}

// GeneratePodcast submits a new generation job
func (c *BriefingClient) GeneratePodcast(ctx context.Context, req *model.PodcastGenerateRequest) (*GenerateResponse, error) {
	var result GenerateResponse
	if err := c.post(ctx, "/generate-podcast", req, &result); err != nil {
		return nil, err
	}
	if result.ID == "" {
		return nil, fmt.Errorf("generation service returned an empty job id")
	}
	return &result, nil
}

// GetStatus retrieves the status of a generation job
func (c *BriefingClient) GetStatus(ctx context.Context, jobID string) (*model.RemoteJobStatus, error) {
	var result model.RemoteJobStatus
	if err := c.get(ctx, "/status/"+url.PathEscape(jobID), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetPodcast retrieves the full content of a completed job
func (c *BriefingClient) GetPodcast(ctx context.Context, jobID string) (*model.PodcastContent, error) {
	var result model.PodcastContent
	if err := c.get(ctx, "/get-podcast/"+url.PathEscape(jobID), &result); err != nil {
		return nil, err
	}
	if result.Topics == nil {
		result.Topics = []string{}
	}
	if result.Questions == nil {
		result.Questions = []model.Question{}
	}
	return &result, nil
}

// StreamAudio opens the binary audio stream of a completed job
func (c *BriefingClient) StreamAudio(ctx context.Context, jobID string) (*AudioStream, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/get-full-audio/"+url.PathEscape(jobID), nil)
	if err != nil {
		return nil, err
	}

	log.Printf("[Briefing API] → %s %s", req.Method, req.URL.String())

	// Streams can outlive the client timeout, so use a client without one.
	streamClient := &http.Client{Transport: c.httpClient.Transport}
	resp, err := streamClient.Do(req)
	if err != nil {
		log.Printf("[Briefing API] ✗ %s %s: request failed: %v", req.Method, req.URL.String(), err)
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	log.Printf("[Briefing API] ← %d %s %s", resp.StatusCode, req.Method, req.URL.String())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "audio/mpeg"
	}

	return &AudioStream{
		Body:          resp.Body,
		ContentType:   contentType,
		ContentLength: resp.ContentLength,
	}, nil
}

// DeletePodcast requests deletion of a job on the generation service
func (c *BriefingClient) DeletePodcast(ctx context.Context, jobID string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, "/podcast/"+url.PathEscape(jobID), nil)
	if err != nil {
		return err
	}
	return c.doRequest(req, nil)
}

// IsConfigured returns true if the client has valid configuration
func (c *BriefingClient) IsConfigured() bool {
	return c.baseURL != ""
}

// post sends a POST request with JSON body
func (c *BriefingClient) post(ctx context.Context, endpoint string, body interface{}, result interface{}) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return err
	}

	return c.doRequest(req, result)
}

// get sends a GET request and parses JSON response
func (c *BriefingClient) get(ctx context.Context, endpoint string, result interface{}) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}

	return c.doRequest(req, result)
}

func (c *BriefingClient) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Request-Id", uuid.New().String())
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	return req, nil
}

// doRequest executes an HTTP request and parses the response into result when non-nil
func (c *BriefingClient) doRequest(req *http.Request, result interface{}) error {
	log.Printf("[Briefing API] → %s %s", req.Method, req.URL.String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("[Briefing API] ✗ %s %s: request failed: %v", req.Method, req.URL.String(), err)
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Printf("[Briefing API] ✗ %s %s: failed to read response: %v", req.Method, req.URL.String(), err)
		return fmt.Errorf("failed to read response: %w", err)
	}

	log.Printf("[Briefing API] ← %d %s %s (%d bytes)", resp.StatusCode, req.Method, req.URL.String(), len(respBody))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if result == nil || len(respBody) == 0 {
		return nil
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		log.Printf("[Briefing API] ✗ unmarshal error for %s %s: %v", req.Method, req.URL.String(), err)
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return nil
}
