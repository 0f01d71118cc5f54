package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Client talks to the extraction service over HTTP.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithRateLimit throttles outbound calls. rps <= 0 disables throttling.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// NewClient creates a new extraction client.
func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 360 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Parse sends a raw file to /v1/parse and returns its text segments.
func (c *Client) Parse(ctx context.Context, filePath string) (*ParseResult, error) {
	body, err := c.postForm(ctx, "parse", "/v1/parse?metadata=true", nil, filePath)
	if err != nil {
		return nil, err
	}

	var out ParseResult
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &Error{Kind: KindTransient, Op: "parse", Message: "invalid response", Err: err}
	}
	return &out, nil
}

// Extract runs field extraction over a file or pre-selected text.
func (c *Client) Extract(ctx context.Context, req ExtractRequest) (*ExtractResult, error) {
	fields := map[string]string{"fields": string(req.Fields)}
	filePath := req.FilePath
	if req.Content != "" {
		fields["pdf_content"] = req.Content
		filePath = ""
	}

	body, err := c.postForm(ctx, "extract", "/v1/extract?references=true", fields, filePath)
	if err != nil {
		return nil, err
	}

	var out ExtractResult
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &Error{Kind: KindTransient, Op: "extract", Message: "invalid response", Err: err}
	}
	return &out, nil
}

// Summarize produces an extractive summary of a file or text.
func (c *Client) Summarize(ctx context.Context, req SummaryRequest) (*SummaryResult, error) {
	fields := map[string]string{"config": string(req.Config)}
	filePath := req.FilePath
	if req.Content != "" {
		fields["content"] = req.Content
		filePath = ""
	}

	body, err := c.postForm(ctx, "summarize", "/v1/extract/summary", fields, filePath)
	if err != nil {
		return nil, err
	}

	var out SummaryResult
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &Error{Kind: KindTransient, Op: "summarize", Message: "invalid response", Err: err}
	}
	return &out, nil
}

// SummarizeSummaries condenses per-document summaries into one, guided by prompt.
func (c *Client) SummarizeSummaries(ctx context.Context, summaries []string, prompt string) (string, error) {
	payload, err := json.Marshal(map[string]any{"summaries": summaries, "prompt": prompt})
	if err != nil {
		return "", &Error{Kind: KindInvalidInput, Op: "summarize_summaries", Err: err}
	}

	body, err := c.do(ctx, "summarize_summaries", "/v1/extract/summary-of-summaries", "application/json", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}

	var out struct {
		Summary string `json:"summary"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", &Error{Kind: KindTransient, Op: "summarize_summaries", Message: "invalid response", Err: err}
	}
	return out.Summary, nil
}

// HighlightPDF highlights sentences in a PDF and writes the result to outputPath.
func (c *Client) HighlightPDF(ctx context.Context, sentences []string, filePath, outputPath string) error {
	encoded, err := json.Marshal(sentences)
	if err != nil {
		return &Error{Kind: KindInvalidInput, Op: "highlight_pdf", Err: err}
	}

	body, err := c.postForm(ctx, "highlight_pdf", "/v1/extract/highlight-pdf",
		map[string]string{"sentences": string(encoded)}, filePath)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	if err := os.WriteFile(outputPath, body, 0o644); err != nil {
		return fmt.Errorf("failed to write highlighted pdf: %w", err)
	}
	return nil
}

// postForm sends a multipart form with optional file part.
func (c *Client) postForm(ctx context.Context, op, path string, fields map[string]string, filePath string) ([]byte, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, &Error{Kind: KindInvalidInput, Op: op, Err: err}
		}
	}

	if filePath != "" {
		f, err := os.Open(filePath)
		if err != nil {
			return nil, &Error{Kind: KindInvalidInput, Op: op, Message: "file not found: " + filePath, Err: err}
		}
		defer f.Close()

		part, err := w.CreateFormFile("file", filepath.Base(filePath))
		if err != nil {
			return nil, &Error{Kind: KindInvalidInput, Op: op, Err: err}
		}
		if _, err := io.Copy(part, f); err != nil {
			return nil, &Error{Kind: KindInvalidInput, Op: op, Err: err}
		}
	}

	if err := w.Close(); err != nil {
		return nil, &Error{Kind: KindInvalidInput, Op: op, Err: err}
	}

	return c.do(ctx, op, path, w.FormDataContentType(), &buf)
}

func (c *Client) do(ctx context.Context, op, path, contentType string, body io.Reader) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return nil, &Error{Kind: KindInvalidInput, Op: op, Err: err}
	}
	req.Header.Set("x-authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindTransient, Op: op, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: KindTransient, Op: op, StatusCode: resp.StatusCode, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		return respBody, nil
	case resp.StatusCode == http.StatusPaymentRequired:
		return nil, &Error{Kind: KindCreditLimit, Op: op, StatusCode: resp.StatusCode, Message: detail(respBody, "Credit limit exceeded!")}
	default:
		return nil, &Error{Kind: KindTransient, Op: op, StatusCode: resp.StatusCode, Message: detail(respBody, string(respBody))}
	}
}

// detail pulls the "detail" field out of an error body.
func detail(body []byte, fallback string) string {
	var e struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.Detail != "" {
		return e.Detail
	}
	return fallback
}
