package ai

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Provider names
const (
	ProviderGoogle = "google"
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
	ProviderHash   = "hash"
)

// Embedder turns texts into vectors with a named model. The output has one
// vector per input, in input order.
type Embedder interface {
	Embed(ctx context.Context, model string, texts []string) ([][]float32, error)
}

// ModelRef identifies an embedding model together with its provider.
type ModelRef struct {
	Provider string
	Model    string
}

func (r ModelRef) String() string {
	return r.Provider + ":" + r.Model
}

// IsZero reports whether the ref is unset.
func (r ModelRef) IsZero() bool {
	return r.Provider == "" && r.Model == ""
}

// ParseModelRef parses "provider:model". A bare model name is assumed to be
// a Google model.
func ParseModelRef(s string) ModelRef {
	if provider, model, ok := strings.Cut(s, ":"); ok {
		return ModelRef{Provider: provider, Model: model}
	}
	return ModelRef{Provider: ProviderGoogle, Model: s}
}

// Credentials configures the provider clients.
type Credentials struct {
	GeminiAPIKey  string
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OllamaHost    string
	HashDimension int
}

// Providers lazily creates one client per provider and shares it.
type Providers struct {
	creds Credentials

	mu     sync.Mutex
	gemini *GeminiClient
	openai *OpenAIClient
	ollama *OpenAIClient
	hash   *HashEmbedder
}

// NewProviders creates an empty provider set.
func NewProviders(creds Credentials) *Providers {
	return &Providers{creds: creds}
}

// Embedder returns the embedding client of the named provider.
func (p *Providers) Embedder(ctx context.Context, provider string) (Embedder, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch provider {
	case ProviderGoogle, "":
		return p.geminiLocked(ctx)
	case ProviderOpenAI:
		return p.openaiLocked()
	case ProviderOllama:
		return p.ollamaLocked(), nil
	case ProviderHash:
		if p.hash == nil {
			p.hash = NewHashEmbedder(p.creds.HashDimension)
		}
		return p.hash, nil
	default:
		return nil, fmt.Errorf("unknown embeddings provider: %s", provider)
	}
}

// Completer returns the text completion client of the named provider.
func (p *Providers) Completer(ctx context.Context, provider string) (Completer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch provider {
	case ProviderGoogle, "":
		return p.geminiLocked(ctx)
	case ProviderOpenAI:
		return p.openaiLocked()
	case ProviderOllama:
		return p.ollamaLocked(), nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", provider)
	}
}

func (p *Providers) geminiLocked(ctx context.Context) (*GeminiClient, error) {
	if p.gemini != nil {
		return p.gemini, nil
	}
	if p.creds.GeminiAPIKey == "" {
		return nil, fmt.Errorf("missing GEMINI_API_KEY for google provider")
	}
	c, err := NewGeminiClient(ctx, p.creds.GeminiAPIKey)
	if err != nil {
		return nil, err
	}
	p.gemini = c
	return c, nil
}

func (p *Providers) openaiLocked() (*OpenAIClient, error) {
	if p.openai != nil {
		return p.openai, nil
	}
	if p.creds.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY for openai provider")
	}
	p.openai = NewOpenAIClient(p.creds.OpenAIAPIKey, p.creds.OpenAIBaseURL)
	return p.openai, nil
}

func (p *Providers) ollamaLocked() *OpenAIClient {
	if p.ollama == nil {
		p.ollama = NewOllamaClient(p.creds.OllamaHost)
	}
	return p.ollama
}

// Close releases provider connections.
func (p *Providers) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gemini != nil {
		return p.gemini.Close()
	}
	return nil
}
