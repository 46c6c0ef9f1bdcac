package services

import (
	"context"
	"strings"
	"testing"

	"financerag/internal/store"
	"financerag/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func retrieved(docID string, texts ...string) []models.RetrievedChunk {
	out := make([]models.RetrievedChunk, len(texts))
	for i, t := range texts {
		out[i] = models.RetrievedChunk{
			ChunkID:    docID + "-" + string(rune('a'+i)),
			DocumentID: docID,
			Kind:       models.SourcePDF,
			Origin:     docID + ".pdf",
			Index:      i,
			Text:       t,
			Score:      1 - float64(i)/10,
		}
	}
	return out
}

func newTestSynthesizer(llm Completer) *Synthesizer {
	return NewSynthesizer(llm, NewSettingsService(store.NewMemory(), testDefaults(), 20), SynthesizerConfig{Temperature: 0.2, MaxTokens: 512})
}

func TestSynthesizeWithoutContext(t *testing.T) {
	llm := &fakeCompleter{reply: "unused"}
	s := newTestSynthesizer(llm)

	answer, err := s.Synthesize(context.Background(), models.Query{Question: "What?"}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, NoContextAnswer, answer.Text)
	assert.False(t, answer.ContextFound)
	assert.Empty(t, answer.Sources)
	assert.NotNil(t, answer.Sources)
	assert.Zero(t, llm.calls)
}

func TestSynthesizeOrdersSourcesByFirstCitation(t *testing.T) {
	llm := &fakeCompleter{reply: "Costs rose [3], driven by wages [1]. Again [3]. Ignored [9]."}
	s := newTestSynthesizer(llm)
	chunks := retrieved("doc", "wages", "rent", "costs")

	answer, err := s.Synthesize(context.Background(), models.Query{Question: "Costs?", CompanyName: "Acme"}, chunks, nil)
	require.NoError(t, err)
	require.Len(t, answer.Sources, 2)
	assert.Equal(t, chunks[2].ChunkID, answer.Sources[0].ChunkID)
	assert.Equal(t, chunks[0].ChunkID, answer.Sources[1].ChunkID)
	assert.Equal(t, float32(0.2), llm.last.Temperature)
	assert.Equal(t, 512, llm.last.MaxTokens)
	assert.Equal(t, "google", llm.last.Provider)
}

func TestSynthesizeWithoutCitationsCitesEverything(t *testing.T) {
	s := newTestSynthesizer(&fakeCompleter{reply: "Revenue was flat."})
	chunks := retrieved("doc", "one", "two")

	answer, err := s.Synthesize(context.Background(), models.Query{Question: "Revenue?"}, chunks, nil)
	require.NoError(t, err)
	assert.Len(t, answer.Sources, 2)
	assert.True(t, answer.ContextFound)
}

func TestSynthesizeFiltersTablesToCitedDocuments(t *testing.T) {
	s := newTestSynthesizer(&fakeCompleter{reply: "See [2]."})
	chunks := append(retrieved("a", "alpha"), retrieved("b", "beta")...)
	tables := []models.Table{
		{DocumentID: "a", Title: "A table"},
		{DocumentID: "b", Title: "B table"},
	}

	answer, err := s.Synthesize(context.Background(), models.Query{Question: "?"}, chunks, tables)
	require.NoError(t, err)
	require.Len(t, answer.Tables, 1)
	assert.Equal(t, "B table", answer.Tables[0].Title)
}

func TestSynthesizeHonorsModelOverride(t *testing.T) {
	llm := &fakeCompleter{reply: "ok [1]"}
	s := newTestSynthesizer(llm)

	answer, err := s.Synthesize(context.Background(), models.Query{Question: "?", Model: "openai:gpt-4o-mini"}, retrieved("d", "x"), nil)
	require.NoError(t, err)
	assert.Equal(t, "openai", llm.last.Provider)
	assert.Equal(t, "gpt-4o-mini", llm.last.Model)
	assert.Equal(t, "openai:gpt-4o-mini", answer.Model)
}

func TestSynthesizeFailureCarriesRetrieval(t *testing.T) {
	s := newTestSynthesizer(&fakeCompleter{err: errLLMDown})
	chunks := retrieved("doc", "text")

	_, err := s.Synthesize(context.Background(), models.Query{Question: "?"}, chunks, nil)
	var synthErr *models.SynthesisError
	require.ErrorAs(t, err, &synthErr)
	assert.Equal(t, chunks, synthErr.Retrieved)
	assert.ErrorIs(t, err, errLLMDown)
}

func TestBuildPromptNumbersBlocks(t *testing.T) {
	rows := make([][]string, maxTableRows+3)
	for i := range rows {
		rows[i] = []string{"r"}
	}
	prompt := buildPrompt(models.Query{Question: "Growth?", CompanyName: "Acme"},
		retrieved("doc", "first", "second"),
		[]models.Table{{Title: "Big", Header: []string{"h"}, Rows: rows}})

	assert.Contains(t, prompt, "[1] (source: doc.pdf)\nfirst")
	assert.Contains(t, prompt, "[2] (source: doc.pdf)\nsecond")
	assert.Contains(t, prompt, "| h |")
	assert.Equal(t, maxTableRows, strings.Count(prompt, "| r |"))
	assert.Contains(t, prompt, "| ... |")
	assert.True(t, strings.HasSuffix(prompt, "Question: Growth? for Acme\n"))
}

func TestSnippetTruncatesRunes(t *testing.T) {
	short := strings.Repeat("é", snippetRunes)
	assert.Equal(t, short, snippet(short))

	long := strings.Repeat("é", snippetRunes+5)
	got := snippet(long)
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.Equal(t, snippetRunes+3, len([]rune(got)))
}

func TestKeywordClassifier(t *testing.T) {
	c := NewKeywordClassifier()
	cases := []struct {
		question string
		want     string
	}{
		{"What was total revenue in 2023?", models.CategoryRevenue},
		{"How much did operating expenses and costs rise?", models.CategoryExpenses},
		{"What litigation risks does the company face?", models.CategoryRisks},
		{"Did EBITDA margin improve year over year?", models.CategoryPerformance},
		{"Who is the CEO?", models.CategoryGeneral},
		{"Revenue, sales and income vs. cost", models.CategoryRevenue},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, c.Classify(tc.question, ""), tc.question)
	}
}
