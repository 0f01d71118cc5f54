// Package vectorstore is the client for the similarity search service that
// indexes asset segments and extraction references.
package vectorstore

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// Metadata keys written alongside every indexed segment.
const (
	KeyAssetID    = "asset_id"
	KeyProjectID  = "project_id"
	KeyFilename   = "filename"
	KeyPageNumber = "page_number"
	KeyPrevID     = "previous_sentence_id"
	KeyNextID     = "next_sentence_id"
	KeyStepID     = "process_step_id"
	KeyReference  = "reference"

	// noNeighbor marks the first and last segment of a document.
	noNeighbor = -1
)

// Store is the similarity search service.
type Store interface {
	// Query returns up to k documents closest to text that match where.
	Query(ctx context.Context, collection, text string, where Filter, k int) ([]Match, error)

	// Get returns documents by ID. Unknown IDs are skipped.
	Get(ctx context.Context, collection string, ids []string) ([]Document, error)

	// Add indexes documents and returns their IDs.
	Add(ctx context.Context, collection string, docs []Document) ([]string, error)

	// Delete removes every document matching where.
	Delete(ctx context.Context, collection string, where Filter) error
}

// Document is one indexed text span.
type Document struct {
	ID       string
	Text     string
	Metadata Metadata
}

// Match is a query hit and its distance from the query.
type Match struct {
	Document
	Distance float64
}

// Filter is a metadata filter in the service's where syntax.
type Filter map[string]any

// ScopeFilter restricts a query to one asset of one project.
func ScopeFilter(assetID, projectID uuid.UUID) Filter {
	return Filter{"$and": []Filter{
		{KeyAssetID: assetID.String()},
		{KeyProjectID: projectID.String()},
	}}
}

// DocsCollection names the collection holding a project's asset segments.
func DocsCollection(projectID uuid.UUID) string {
	return fmt.Sprintf("docplane-%s", projectID)
}

// ProcessesCollection names the collection holding a project's extraction references.
func ProcessesCollection(projectID uuid.UUID) string {
	return fmt.Sprintf("docplane-%s-processes", projectID)
}

// Metadata is the free-form metadata of a document. Values decoded from JSON
// are float64 for numbers, so accessors accept both numeric and string forms.
type Metadata map[string]any

// PageNumber returns the page the segment came from.
func (m Metadata) PageNumber() (int, bool) {
	return intValue(m[KeyPageNumber])
}

// PreviousID returns the ID of the preceding segment, or "" at the start.
func (m Metadata) PreviousID() string {
	return neighbor(m[KeyPrevID])
}

// NextID returns the ID of the following segment, or "" at the end.
func (m Metadata) NextID() string {
	return neighbor(m[KeyNextID])
}

// LinkNeighbors assigns missing IDs and records each document's previous and
// next sibling so context around a hit can be fetched later.
func LinkNeighbors(docs []Document) {
	for i := range docs {
		if docs[i].ID == "" {
			docs[i].ID = uuid.NewString() + "-docs"
		}
		if docs[i].Metadata == nil {
			docs[i].Metadata = Metadata{}
		}
	}
	for i := range docs {
		docs[i].Metadata[KeyPrevID] = noNeighbor
		docs[i].Metadata[KeyNextID] = noNeighbor
		if i > 0 {
			docs[i].Metadata[KeyPrevID] = docs[i-1].ID
		}
		if i < len(docs)-1 {
			docs[i].Metadata[KeyNextID] = docs[i+1].ID
		}
	}
}

func neighbor(v any) string {
	switch t := v.(type) {
	case string:
		if t == "" || t == "-1" {
			return ""
		}
		return t
	default:
		return ""
	}
}

func intValue(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		return int(t), true
	case string:
		n, err := strconv.Atoi(t)
		return n, err == nil
	default:
		return 0, false
	}
}
