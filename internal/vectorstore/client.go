package vectorstore

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

const (
	defaultBatchSize = 50
	// DefaultDistanceThreshold drops hits farther than this from the query.
	DefaultDistanceThreshold = 3.0
)

// Client talks to the search service's JSON API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	threshold  float64
	batchSize  int
}

// NewClient creates a search client. threshold <= 0 uses DefaultDistanceThreshold.
func NewClient(baseURL string, threshold float64) *Client {
	if threshold <= 0 {
		threshold = DefaultDistanceThreshold
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		threshold:  threshold,
		batchSize:  defaultBatchSize,
	}
}

type queryRequest struct {
	QueryTexts []string `json:"query_texts"`
	NResults   int      `json:"n_results"`
	Where      Filter   `json:"where,omitempty"`
	Include    []string `json:"include"`
}

type queryResponse struct {
	IDs       [][]string   `json:"ids"`
	Documents [][]string   `json:"documents"`
	Metadatas [][]Metadata `json:"metadatas"`
	Distances [][]float64  `json:"distances"`
}

// Query returns hits closer than the distance threshold, nearest first.
func (c *Client) Query(ctx context.Context, collection, text string, where Filter, k int) ([]Match, error) {
	var resp queryResponse
	err := c.post(ctx, collection, "query", queryRequest{
		QueryTexts: []string{text},
		NResults:   k,
		Where:      where,
		Include:    []string{"metadatas", "documents", "distances"},
	}, &resp)
	if err != nil {
		return nil, err
	}

	if len(resp.Documents) == 0 {
		return nil, nil
	}

	var matches []Match
	for i, doc := range resp.Documents[0] {
		m := Match{Document: Document{Text: doc}}
		if len(resp.IDs) > 0 && i < len(resp.IDs[0]) {
			m.ID = resp.IDs[0][i]
		}
		if len(resp.Metadatas) > 0 && i < len(resp.Metadatas[0]) {
			m.Metadata = resp.Metadatas[0][i]
		}
		if len(resp.Distances) > 0 && i < len(resp.Distances[0]) {
			m.Distance = resp.Distances[0][i]
		}
		if m.Distance >= c.threshold {
			continue
		}
		matches = append(matches, m)
	}
	return matches, nil
}

type getRequest struct {
	IDs     []string `json:"ids"`
	Include []string `json:"include"`
}

type getResponse struct {
	IDs       []string   `json:"ids"`
	Documents []string   `json:"documents"`
	Metadatas []Metadata `json:"metadatas"`
}

// Get fetches documents by ID.
func (c *Client) Get(ctx context.Context, collection string, ids []string) ([]Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var resp getResponse
	if err := c.post(ctx, collection, "get", getRequest{IDs: ids, Include: []string{"metadatas", "documents"}}, &resp); err != nil {
		return nil, err
	}

	docs := make([]Document, 0, len(resp.Documents))
	for i, text := range resp.Documents {
		d := Document{Text: text}
		if i < len(resp.IDs) {
			d.ID = resp.IDs[i]
		}
		if i < len(resp.Metadatas) {
			d.Metadata = resp.Metadatas[i]
		}
		docs = append(docs, d)
	}
	return docs, nil
}

type addRequest struct {
	IDs       []string   `json:"ids"`
	Documents []string   `json:"documents"`
	Metadatas []Metadata `json:"metadatas"`
}

// Add indexes docs in batches. Documents without an ID get a generated one.
func (c *Client) Add(ctx context.Context, collection string, docs []Document) ([]string, error) {
	ids := make([]string, len(docs))
	for i := range docs {
		if docs[i].ID == "" {
			docs[i].ID = fmt.Sprintf("%s-%d-%d", collection, time.Now().UnixNano(), i)
		}
		ids[i] = docs[i].ID
	}

	for start := 0; start < len(docs); start += c.batchSize {
		end := min(start+c.batchSize, len(docs))

		req := addRequest{}
		for _, d := range docs[start:end] {
			req.IDs = append(req.IDs, d.ID)
			req.Documents = append(req.Documents, d.Text)
			req.Metadatas = append(req.Metadatas, d.Metadata)
		}
		if err := c.post(ctx, collection, "add", req, nil); err != nil {
			return nil, fmt.Errorf("failed to add batch %d-%d: %w", start, end, err)
		}
	}
	return ids, nil
}

// Delete removes documents matching where.
func (c *Client) Delete(ctx context.Context, collection string, where Filter) error {
	return c.post(ctx, collection, "delete", map[string]any{"where": where}, nil)
}

func (c *Client) post(ctx context.Context, collection, action string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", action, err)
	}

	endpoint := fmt.Sprintf("%s/api/collections/%s/%s", c.baseURL, url.PathEscape(collection), action)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", action, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("vector store %s returned status %d: %s", action, resp.StatusCode, string(respBody))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse %s response: %w", action, err)
	}
	return nil
}
