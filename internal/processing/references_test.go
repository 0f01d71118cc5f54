package processing

import (
	"context"
	"testing"

	"docplane/internal/extraction"
	"docplane/internal/vectorstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func match(text string, page any) vectorstore.Match {
	md := vectorstore.Metadata{}
	if page != nil {
		md[vectorstore.KeyPageNumber] = page
	}
	return vectorstore.Match{Document: vectorstore.Document{ID: text, Text: text, Metadata: md}}
}

func TestCleanText(t *testing.T) {
	assert.Equal(t, "total 100 usd", cleanText("Total:\n100 USD."))
	assert.Equal(t, "", cleanText("!?,"))
}

func TestWordSet_Unicode(t *testing.T) {
	assert.Equal(t, map[string]struct{}{"prüfgebühr": {}, "für": {}, "50": {}}, wordSet("Prüfgebühr für 50 €"))
}

func TestJaccard(t *testing.T) {
	assert.Equal(t, 0.0, jaccard(wordSet(""), wordSet("")))
	assert.Equal(t, 1.0, jaccard(wordSet("Net Amount"), wordSet("amount net")))
	assert.Equal(t, 0.25, jaccard(wordSet("a b"), wordSet("b c d")))
}

func TestBestShortMatch(t *testing.T) {
	candidates := []vectorstore.Match{
		match("invoice number and date", 1),
		match("Total amount due", 4),
	}

	tests := []struct {
		name       string
		source     string
		candidates []vectorstore.Match
		want       *PassageMatch
	}{
		{"exact word set", "total amount due", candidates, &PassageMatch{Text: "Total amount due", PageNumber: 4, HasPage: true}},
		{"below threshold", "amount due today", candidates, nil},
		{"no candidates", "total amount due", nil, nil},
		{"empty source", "", candidates, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BestShortMatch(tt.source, tt.candidates))
		})
	}
}

func TestResolve_ShortUsesCandidatesFirst(t *testing.T) {
	vectors := newFakeVectors()
	r := NewReferenceResolver(vectors, discardLogger())

	m, err := r.Resolve(context.Background(), "amount due total", []vectorstore.Match{match("Total amount due", 2)}, Scope{Collection: "c"})
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "Total amount due", m.Text)
	assert.Equal(t, 2, m.PageNumber)
	assert.Empty(t, vectors.queries, "no search when a candidate matched")
}

func TestResolve_ShortCountsCharactersNotBytes(t *testing.T) {
	// 27 characters, 33 bytes.
	source := "Prüfgebühr für Müller: 50 €"
	vectors := newFakeVectors()
	r := NewReferenceResolver(vectors, discardLogger())

	m, err := r.Resolve(context.Background(), source, []vectorstore.Match{match("50 € Prüfgebühr für Müller", 4)}, Scope{Collection: "c"})
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, 4, m.PageNumber)
	assert.Empty(t, vectors.queries, "matched as a short citation")
}

func TestResolve_ExactSubstringKeepsSource(t *testing.T) {
	vectors := newFakeVectors()
	_, _ = vectors.Add(context.Background(), "c", []vectorstore.Document{
		{ID: "1", Text: "Something unrelated about usd", Metadata: vectorstore.Metadata{vectorstore.KeyPageNumber: 1}},
		{ID: "2", Text: "Total:\n100 USD, due in 30 days", Metadata: vectorstore.Metadata{vectorstore.KeyPageNumber: float64(3)}},
	})
	r := NewReferenceResolver(vectors, discardLogger())

	m, err := r.Resolve(context.Background(), "100 USD", nil, Scope{Collection: "c"})
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "100 USD", m.Text)
	assert.Equal(t, 3, m.PageNumber)
}

func TestResolve_LongFallsBackToTopCandidate(t *testing.T) {
	vectors := newFakeVectors()
	_, _ = vectors.Add(context.Background(), "c", []vectorstore.Document{
		{ID: "1", Text: "The payment shall be made within thirty days", Metadata: vectorstore.Metadata{vectorstore.KeyPageNumber: 7}},
	})
	r := NewReferenceResolver(vectors, discardLogger())

	source := "payment must be made within a period of thirty days"
	m, err := r.Resolve(context.Background(), source, nil, Scope{Collection: "c"})
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "The payment shall be made within thirty days", m.Text)
	assert.Equal(t, 7, m.PageNumber)
}

func TestResolve_ShortWithoutMatchReturnsNil(t *testing.T) {
	vectors := newFakeVectors()
	_, _ = vectors.Add(context.Background(), "c", []vectorstore.Document{{ID: "1", Text: "Total due"}})
	r := NewReferenceResolver(vectors, discardLogger())

	m, err := r.Resolve(context.Background(), "total paid", nil, Scope{Collection: "c"})
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestResolve_EmptySearch(t *testing.T) {
	r := NewReferenceResolver(newFakeVectors(), discardLogger())

	m, err := r.Resolve(context.Background(), "a reasonably long citation that matches nothing", nil, Scope{Collection: "empty"})
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestResolveAll_AccumulatesPages(t *testing.T) {
	vectors := newFakeVectors()
	_, _ = vectors.Add(context.Background(), "c", []vectorstore.Document{
		{ID: "1", Text: "Invoice number INV-1", Metadata: vectorstore.Metadata{vectorstore.KeyPageNumber: 1}},
		{ID: "2", Text: "Total 100 USD", Metadata: vectorstore.Metadata{vectorstore.KeyPageNumber: 2}},
		{ID: "3", Text: "Tax 20 EUR"}, // no page metadata
	})
	r := NewReferenceResolver(vectors, discardLogger())

	refs := [][]extraction.Reference{
		{
			{Name: "total", Sources: []string{"Total 100 USD", "Tax 20 EUR"}},
			{Name: "invoice", Sources: []string{"INV-1"}},
		},
		{
			{Name: "empty", Sources: nil},
		},
	}

	require.NoError(t, r.ResolveAll(context.Background(), refs, nil, Scope{Collection: "c"}))
	assert.Equal(t, []int{2}, refs[0][0].PageNumbers)
	assert.Equal(t, []int{1}, refs[0][1].PageNumbers)
	assert.Equal(t, []int{}, refs[1][0].PageNumbers)
}
