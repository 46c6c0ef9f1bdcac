package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"financerag/internal/ai"
	"financerag/internal/telemetry"
	"financerag/models"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// NoContextAnswer is returned without calling the LLM when nothing relevant
// was retrieved.
const NoContextAnswer = "I couldn't find relevant information to answer your question."

const (
	snippetRunes    = 300
	maxPromptTables = 5
	maxTableRows    = 20
)

var citationPattern = regexp.MustCompile(`\[(\d+)\]`)

var errEmptyCompletion = errors.New("llm returned an empty answer")

// Completer is the text generation the synthesizer needs; *ai.Guarded
// implements it.
type Completer interface {
	Complete(ctx context.Context, req ai.Request) (string, error)
}

type SynthesizerConfig struct {
	Temperature float32
	MaxTokens   int
}

// Synthesizer turns retrieved chunks into a cited answer.
type Synthesizer struct {
	llm      Completer
	settings *SettingsService
	cfg      SynthesizerConfig
}

func NewSynthesizer(llm Completer, settings *SettingsService, cfg SynthesizerConfig) *Synthesizer {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	return &Synthesizer{llm: llm, settings: settings, cfg: cfg}
}

// Synthesize answers q from chunks. Sources follow the order in which the
// answer first cites them; an answer citing nothing cites every chunk.
func (s *Synthesizer) Synthesize(ctx context.Context, q models.Query, chunks []models.RetrievedChunk, tables []models.Table) (*models.Answer, error) {
	started := time.Now()
	answer := &models.Answer{
		ID:        uuid.NewString(),
		Query:     q,
		Sources:   []models.Source{},
		Tables:    []models.Table{},
		CreatedAt: time.Now().UTC(),
	}
	if len(chunks) == 0 {
		answer.Text = NoContextAnswer
		answer.ResponseTimeMS = time.Since(started).Milliseconds()
		return answer, nil
	}

	st, err := s.settings.Current(ctx)
	if err != nil {
		return nil, err
	}
	ref := ai.ModelRef{Provider: st.LLMProvider, Model: st.LLMModel}
	if q.Model != "" {
		ref = ai.ParseModelRef(q.Model)
	}

	ctx, span := telemetry.StartSpan(ctx, "synthesizer.synthesize",
		attribute.String("llm.model", ref.String()),
		attribute.Int("synthesizer.chunks", len(chunks)),
	)
	defer span.End()

	text, err := s.llm.Complete(ctx, ai.Request{
		Provider:    ref.Provider,
		Model:       ref.Model,
		System:      systemPrompt(q.CompanyName),
		Prompt:      buildPrompt(q, chunks, tables),
		Temperature: s.cfg.Temperature,
		MaxTokens:   s.cfg.MaxTokens,
	})
	if err == nil && strings.TrimSpace(text) == "" {
		err = errEmptyCompletion
	}
	if err != nil {
		telemetry.RecordSpanError(span, err)
		return nil, &models.SynthesisError{Err: err, Retrieved: chunks}
	}

	answer.Text = strings.TrimSpace(text)
	answer.ContextFound = true
	answer.Model = ref.String()

	cited := citedChunks(answer.Text, len(chunks))
	docs := make(map[string]bool)
	for _, i := range cited {
		c := chunks[i]
		docs[c.DocumentID] = true
		answer.Sources = append(answer.Sources, models.Source{
			DocumentID: c.DocumentID,
			ChunkID:    c.ChunkID,
			Kind:       c.Kind,
			Title:      c.Origin,
			Snippet:    snippet(c.Text),
			Origin:     c.Origin,
			Score:      c.Score,
		})
	}
	for _, t := range tables {
		if docs[t.DocumentID] {
			answer.Tables = append(answer.Tables, t)
		}
	}
	answer.ResponseTimeMS = time.Since(started).Milliseconds()
	return answer, nil
}

func systemPrompt(company string) string {
	if company == "" {
		company = "the company"
	}
	return fmt.Sprintf("You are a financial analyst. Analyze the data for %s and answer strictly from the numbered context blocks. "+
		"Cite every block you rely on as [n]. If the context does not contain the answer, say so.", company)
}

func buildPrompt(q models.Query, chunks []models.RetrievedChunk, tables []models.Table) string {
	var b strings.Builder
	b.WriteString("Context:\n\n")
	for i, c := range chunks {
		fmt.Fprintf(&b, "[%d] (source: %s)\n%s\n\n", i+1, c.Origin, c.Text)
	}

	n := 0
	for _, t := range tables {
		if n == maxPromptTables {
			break
		}
		if n == 0 {
			b.WriteString("Tables:\n\n")
		}
		writeTable(&b, t)
		n++
	}

	fmt.Fprintf(&b, "Question: %s", q.Question)
	if q.CompanyName != "" {
		fmt.Fprintf(&b, " for %s", q.CompanyName)
	}
	b.WriteString("\n")
	return b.String()
}

func writeTable(b *strings.Builder, t models.Table) {
	fmt.Fprintf(b, "%s\n", t.Title)
	if len(t.Header) > 0 {
		fmt.Fprintf(b, "| %s |\n", strings.Join(t.Header, " | "))
	}
	for i, row := range t.Rows {
		if i == maxTableRows {
			b.WriteString("| ... |\n")
			break
		}
		fmt.Fprintf(b, "| %s |\n", strings.Join(row, " | "))
	}
	b.WriteString("\n")
}

// citedChunks returns the zero-based chunk indexes cited in text, in order
// of first reference. Out-of-range citations are ignored.
func citedChunks(text string, n int) []int {
	seen := make(map[int]bool)
	var out []int
	for _, m := range citationPattern.FindAllStringSubmatch(text, -1) {
		i, err := strconv.Atoi(m[1])
		if err != nil || i < 1 || i > n || seen[i-1] {
			continue
		}
		seen[i-1] = true
		out = append(out, i-1)
	}
	if len(out) == 0 {
		for i := 0; i < n; i++ {
			out = append(out, i)
		}
	}
	return out
}

func snippet(text string) string {
	r := []rune(text)
	if len(r) <= snippetRunes {
		return text
	}
	return string(r[:snippetRunes]) + "..."
}
