package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"time"

	"docplane/pkg/api"

	"github.com/spf13/cobra"
)

// ProcessClient handles API calls to the docplane controller.
type ProcessClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewProcessClient creates a new client with the given base URL.
func NewProcessClient(baseURL string) *ProcessClient {
	return &ProcessClient{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError represents an error response from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// CreateProcess sends POST /projects/{id}/processes.
func (c *ProcessClient) CreateProcess(projectID string, req api.CreateProcessRequest) (*api.CreateProcessResponse, error) {
	var result api.CreateProcessResponse
	if err := c.do(http.MethodPost, "/projects/"+projectID+"/processes", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetProcess sends GET /processes/{id}.
func (c *ProcessClient) GetProcess(processID string) (*api.ProcessResponse, error) {
	var result api.ProcessResponse
	if err := c.do(http.MethodGet, "/processes/"+processID, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListSteps sends GET /processes/{id}/steps.
func (c *ProcessClient) ListSteps(processID string) ([]api.StepResponse, error) {
	var result []api.StepResponse
	if err := c.do(http.MethodGet, "/processes/"+processID+"/steps", nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// StopProcess sends POST /processes/{id}/stop.
func (c *ProcessClient) StopProcess(processID string) (*api.CreateProcessResponse, error) {
	var result api.CreateProcessResponse
	if err := c.do(http.MethodPost, "/processes/"+processID+"/stop", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ResumeProcess sends POST /processes/{id}/resume.
func (c *ProcessClient) ResumeProcess(processID string) (*api.CreateProcessResponse, error) {
	var result api.CreateProcessResponse
	if err := c.do(http.MethodPost, "/processes/"+processID+"/resume", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// PreprocessAsset sends POST /assets/{id}/preprocess.
func (c *ProcessClient) PreprocessAsset(assetID string) (*api.PreprocessResponse, error) {
	var result api.PreprocessResponse
	if err := c.do(http.MethodPost, "/assets/"+assetID+"/preprocess", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *ProcessClient) do(method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(bodyBytes)
	}

	httpReq, err := http.NewRequest(method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Add("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if !slices.Contains([]int{http.StatusOK, http.StatusCreated, http.StatusAccepted}, resp.StatusCode) {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(respBody)}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// errorMessage prefers the error field of a JSON error body.
func errorMessage(body []byte) string {
	var e api.ErrorResponse
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return e.Error
	}
	return string(bytes.TrimSpace(body))
}

func printAPIError(cmd *cobra.Command, action string, err error) {
	if apiErr, ok := err.(*APIError); ok {
		cmd.Printf("%s failed (%d): %s\n", action, apiErr.StatusCode, apiErr.Message)
		return
	}
	cmd.Printf("%s failed: %v\n", action, err)
}
