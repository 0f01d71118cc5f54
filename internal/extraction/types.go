// Package extraction is the client for the remote extraction, summarization
// and parsing service, plus the retry policy every call goes through.
package extraction

import (
	"context"
	"encoding/json"
)

// Service is the remote extraction API consumed by the processing pipeline.
type Service interface {
	Parse(ctx context.Context, filePath string) (*ParseResult, error)
	Extract(ctx context.Context, req ExtractRequest) (*ExtractResult, error)
	Summarize(ctx context.Context, req SummaryRequest) (*SummaryResult, error)
	SummarizeSummaries(ctx context.Context, summaries []string, prompt string) (string, error)
	HighlightPDF(ctx context.Context, sentences []string, filePath, outputPath string) error
}

// ParseResult is the parsed text of an uploaded file.
type ParseResult struct {
	WordCount int       `json:"word_count"`
	Content   []Segment `json:"content"`
	Lang      string    `json:"lang,omitempty"`
}

// Segment is one parsed span with service-provided metadata.
type Segment struct {
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ExtractRequest carries the field configuration and exactly one input:
// Content when non-empty, otherwise the file at FilePath.
type ExtractRequest struct {
	Fields   json.RawMessage
	FilePath string
	Content  string
}

// ExtractResult holds the extracted fields and the citations backing them.
type ExtractResult struct {
	Fields     json.RawMessage `json:"fields"`
	References [][]Reference   `json:"references"`
}

// Reference groups the source citations for one extracted field.
type Reference struct {
	Name        string   `json:"name"`
	Sources     []string `json:"sources"`
	PageNumbers []int    `json:"page_numbers,omitempty"`
}

// SummaryRequest carries the summary configuration and one input, like ExtractRequest.
type SummaryRequest struct {
	Config   json.RawMessage
	FilePath string
	Content  string
}

// SummaryResult is a document summary and the sentences it was built from.
type SummaryResult struct {
	Summary          string   `json:"summary"`
	SummarySentences []string `json:"summary_sentences"`
}
