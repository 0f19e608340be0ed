package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"melodia/internal/apperr"
	"melodia/internal/config"
	"melodia/internal/model"
)

const defaultTimeout = 30 * time.Second

// JobHandle is the opaque id the provider returns for a submitted job.
type JobHandle string

type Record struct {
	ID         string  `json:"id"`
	AudioURL   string  `json:"audio_url"`
	ImageURL   string  `json:"image_url"`
	Duration   float64 `json:"duration"`
	Title      string  `json:"title"`
	Tags       string  `json:"tags"`
	Model      string  `json:"model"`
	Prompt     string  `json:"prompt"`
	CreateTime string  `json:"create_time,omitempty"`
}

// JobStatus mirrors the last poll response.
type JobStatus struct {
	Status   model.JobStatus `json:"status"`
	Progress string          `json:"progress,omitempty"`
	Records  []Record        `json:"records,omitempty"`
	Reason   string          `json:"reason,omitempty"`
}

type ExtendRequest struct {
	AudioID    string  `json:"audio_id"`
	ContinueAt float64 `json:"continue_at"`
	Prompt     string  `json:"prompt"`
}

type submitResponse struct {
	OK      bool   `json:"ok"`
	JobID   string `json:"jobId"`
	TaskURL string `json:"task_url"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

type taskResponse struct {
	OK       bool     `json:"ok"`
	Status   string   `json:"status"`
	Progress string   `json:"progress"`
	Records  []Record `json:"records"`
	Message  string   `json:"message"`
	Error    string   `json:"error"`
}

// Client talks to the generation provider. API credentials never leave the
// server.
type Client struct {
	client  *http.Client
	baseURL string
	apiKey  string
	logger  *slog.Logger
}

func NewClient(cfg config.Generation, logger *slog.Logger) *Client {
	timeout := time.Duration(cfg.RequestTimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		logger:  logger,
	}
}

func (c *Client) configured() error {
	if c.apiKey == "" || c.baseURL == "" {
		return apperr.New(apperr.KindConfiguration, "generation provider is not configured")
	}
	return nil
}

// Submit sends a validated request and returns the job handle to poll.
func (c *Client) Submit(ctx context.Context, req Request) (JobHandle, error) {
	if err := c.configured(); err != nil {
		return "", err
	}

	body := map[string]any{
		"customMode":   req.CustomMode,
		"instrumental": req.Instrumental,
		"prompt":       req.Prompt,
		"model":        req.Model,
		"negativeTags": req.NegativeTags,
		"style":        req.Style,
		"title":        req.Title,
	}
	return c.submit(ctx, "/ai-music/suno-music", body)
}

// Extend continues an existing track from continueAt seconds.
func (c *Client) Extend(ctx context.Context, req ExtendRequest) (JobHandle, error) {
	if err := c.configured(); err != nil {
		return "", err
	}
	if req.AudioID == "" {
		return "", apperr.Validation("invalid extend request", []string{"audio_id: is required"})
	}
	return c.submit(ctx, "/ai-music/extend-audio", req)
}

func (c *Client) submit(ctx context.Context, endpoint string, body any) (JobHandle, error) {
	status, respBody, err := c.do(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return "", apperr.Wrap(apperr.KindSubmission, err, "failed to reach generation provider")
	}

	var resp submitResponse
	if err := json.Unmarshal(respBody, &resp); err != nil && status < 400 {
		return "", apperr.Wrap(apperr.KindSubmission, err, "unreadable provider response")
	}

	if status >= 400 || !resp.OK {
		return "", apperr.New(apperr.KindSubmission, "provider rejected request: %s", providerMessage(status, resp.Error, resp.Message))
	}

	handle := resp.JobID
	if handle == "" && resp.TaskURL != "" {
		handle = handleFromTaskURL(resp.TaskURL)
	}
	if handle == "" {
		return "", apperr.New(apperr.KindSubmission, "provider response has no job id")
	}

	c.logger.InfoContext(ctx, "Generation job submitted", "jobId", handle)
	return JobHandle(handle), nil
}

// PollOnce queries the job status a single time.
func (c *Client) PollOnce(ctx context.Context, handle JobHandle) (*JobStatus, error) {
	if err := c.configured(); err != nil {
		return nil, err
	}

	status, respBody, err := c.do(ctx, http.MethodGet, "/task/"+url.PathEscape(string(handle)), nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPoll, err, "failed to reach generation provider")
	}

	var resp taskResponse
	decodeErr := json.Unmarshal(respBody, &resp)
	if status >= 400 {
		return nil, apperr.New(apperr.KindPoll, "failed to get task status: %s", providerMessage(status, resp.Error, resp.Message))
	}
	if decodeErr != nil {
		return nil, apperr.Wrap(apperr.KindPoll, decodeErr, "unreadable provider response")
	}

	js := &JobStatus{Status: mapJobStatus(resp.Status), Progress: resp.Progress, Records: resp.Records}
	if js.Status == model.JobFailed {
		js.Reason = providerMessage(status, resp.Error, resp.Message)
	}
	return js, nil
}

// GenerateLyrics returns the provider response unchanged.
func (c *Client) GenerateLyrics(ctx context.Context, prompt string) (json.RawMessage, error) {
	if err := c.configured(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(prompt) == "" {
		return nil, apperr.Validation("invalid lyrics request", []string{"prompt: is required"})
	}
	return c.passthrough(ctx, "/ai-music/generate-lyrics", map[string]string{"prompt": prompt}, "failed to generate lyrics")
}

// ConvertWav requests a WAV rendition of audioID.
func (c *Client) ConvertWav(ctx context.Context, audioID string) (json.RawMessage, error) {
	if err := c.configured(); err != nil {
		return nil, err
	}
	if audioID == "" {
		return nil, apperr.Validation("invalid wav request", []string{"audio_id: is required"})
	}
	return c.passthrough(ctx, "/ai-music/to-wav", map[string]string{"audio_id": audioID}, "failed to convert to wav")
}

func (c *Client) passthrough(ctx context.Context, endpoint string, body any, failure string) (json.RawMessage, error) {
	status, respBody, err := c.do(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindSubmission, err, failure)
	}
	if status >= 400 {
		var resp submitResponse
		_ = json.Unmarshal(respBody, &resp)
		return nil, apperr.New(apperr.KindSubmission, "%s: %s", failure, providerMessage(status, resp.Error, resp.Message))
	}
	if !json.Valid(respBody) {
		return nil, apperr.New(apperr.KindSubmission, "%s: unreadable provider response", failure)
	}
	return json.RawMessage(respBody), nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.ErrorContext(ctx, "Error calling generation provider", "endpoint", endpoint, "error", err)
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}

	if resp.StatusCode >= 400 {
		c.logger.WarnContext(ctx, "Generation provider returned error", "endpoint", endpoint, "status", resp.Status)
	}
	return resp.StatusCode, respBody, nil
}

func mapJobStatus(raw string) model.JobStatus {
	switch raw {
	case "pending":
		return model.JobPending
	case "done", "success", "completed":
		return model.JobDone
	case "error", "failed":
		return model.JobFailed
	default:
		return model.JobProcessing
	}
}

func handleFromTaskURL(taskURL string) string {
	u, err := url.Parse(taskURL)
	if err != nil {
		return ""
	}
	id := path.Base(u.Path)
	if id == "." || id == "/" {
		return ""
	}
	return id
}

func providerMessage(status int, errMsg, msg string) string {
	switch {
	case errMsg != "":
		return errMsg
	case msg != "":
		return msg
	default:
		return fmt.Sprintf("status %d", status)
	}
}
