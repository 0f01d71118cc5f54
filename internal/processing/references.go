package processing

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"docplane/internal/extraction"
	"docplane/internal/vectorstore"
)

const (
	// Citations shorter than this are matched by word overlap against the
	// passages already fetched for the step before a fresh search.
	shortReferenceLength = 30
	shortMatchThreshold  = 0.8
	referenceSearchK     = 5
)

// PassageMatch is a passage a citation was matched to.
type PassageMatch struct {
	Text       string
	PageNumber int
	HasPage    bool
}

// BestShortMatch returns the candidate with the highest word-set Jaccard
// similarity to source, provided it is at least 0.8. Nil means no candidate
// was close enough.
func BestShortMatch(source string, candidates []vectorstore.Match) *PassageMatch {
	words := wordSet(source)

	var (
		best      *vectorstore.Match
		bestScore float64
	)
	for i := range candidates {
		score := jaccard(words, wordSet(candidates[i].Text))
		if score > bestScore {
			best, bestScore = &candidates[i], score
		}
	}
	if best == nil || bestScore < shortMatchThreshold {
		return nil
	}
	return passageOf(best.Document)
}

func passageOf(d vectorstore.Document) *PassageMatch {
	page, ok := d.Metadata.PageNumber()
	return &PassageMatch{Text: d.Text, PageNumber: page, HasPage: ok}
}

// Scope identifies where a step's passages are indexed.
type Scope struct {
	Collection string
	Filter     vectorstore.Filter
}

// ReferenceResolver maps citations returned by the extraction service back to
// indexed passages so each can carry a page number.
type ReferenceResolver struct {
	vectors vectorstore.Store
	logger  *slog.Logger
}

func NewReferenceResolver(vectors vectorstore.Store, logger *slog.Logger) *ReferenceResolver {
	return &ReferenceResolver{vectors: vectors, logger: logger}
}

// Resolve finds the passage behind one citation. Short citations are first
// matched against candidates. Otherwise a similarity search is run and a
// passage containing the cleaned citation wins. Long citations with no exact
// hit fall back to the nearest passage; short ones return nil.
func (r *ReferenceResolver) Resolve(ctx context.Context, source string, candidates []vectorstore.Match, scope Scope) (*PassageMatch, error) {
	short := utf8.RuneCountInString(source) < shortReferenceLength
	if short {
		if m := BestShortMatch(source, candidates); m != nil {
			return m, nil
		}
	}

	hits, err := r.vectors.Query(ctx, scope.Collection, source, scope.Filter, referenceSearchK)
	if err != nil {
		return nil, fmt.Errorf("failed to search for reference: %w", err)
	}
	if len(hits) == 0 {
		return nil, nil
	}

	needle := cleanText(source)
	for _, h := range hits {
		if needle != "" && strings.Contains(cleanText(h.Text), needle) {
			m := passageOf(h.Document)
			// The citation already quotes the passage; keep its wording.
			m.Text = source
			return m, nil
		}
	}

	if short {
		return nil, nil
	}
	return passageOf(hits[0].Document), nil
}

// ResolveAll rewrites every citation in refs in place: sources are replaced
// by the matched passage text and each reference collects the page numbers
// of its matched sources. Unmatched sources are left as returned.
func (r *ReferenceResolver) ResolveAll(ctx context.Context, refs [][]extraction.Reference, candidates []vectorstore.Match, scope Scope) error {
	for _, group := range refs {
		for i := range group {
			ref := &group[i]
			pages := []int{}
			for j, src := range ref.Sources {
				m, err := r.Resolve(ctx, src, candidates, scope)
				if err != nil {
					return err
				}
				if m == nil {
					r.logger.Debug("No passage matched reference", "name", ref.Name)
					continue
				}
				ref.Sources[j] = m.Text
				if m.HasPage {
					pages = append(pages, m.PageNumber)
				}
			}
			ref.PageNumbers = pages
		}
	}
	return nil
}
