package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"financerag/internal/logger"
	"financerag/internal/retry"
	"financerag/internal/telemetry"
	"financerag/models"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
)

// ErrLLMUnavailable is returned while the circuit breaker is open.
var ErrLLMUnavailable = errors.New("llm temporarily unavailable")

// Request is one text completion call.
type Request struct {
	Provider    string
	Model       string
	System      string
	Prompt      string
	Temperature float32
	MaxTokens   int
}

// Completer produces text for a prompt.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// CompleterSource resolves a provider name to its completer.
type CompleterSource interface {
	Completer(ctx context.Context, provider string) (Completer, error)
}

// GuardConfig tunes the protection around LLM calls.
type GuardConfig struct {
	RequestsPerMinute int
	BreakerTimeout    time.Duration
	Policy            retry.Policy
}

// Guarded routes requests to their provider behind a rate limiter, the retry
// policy and a circuit breaker.
type Guarded struct {
	source  CompleterSource
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	policy  retry.Policy
}

func NewGuarded(source CompleterSource, cfg GuardConfig, metrics *telemetry.Metrics) *Guarded {
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 60
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 60 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "LLM",
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		IsSuccessful: func(err error) bool {
			// only provider-side failures count against the breaker
			return err == nil || !models.IsTransient(err)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
			metrics.RecordCircuitBreakerState(name, to.String())
		},
	})

	burst := max(cfg.RequestsPerMinute/10, 1)
	return &Guarded{
		source:  source,
		breaker: breaker,
		limiter: rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), burst),
		policy:  cfg.Policy,
	}
}

func (g *Guarded) Complete(ctx context.Context, req Request) (string, error) {
	ctx, span := telemetry.StartSpan(ctx, "llm.complete",
		attribute.String("llm.provider", req.Provider),
		attribute.String("llm.model", req.Model),
		attribute.Int("llm.prompt_chars", len(req.Prompt)),
	)
	defer span.End()

	completer, err := g.source.Completer(ctx, req.Provider)
	if err != nil {
		telemetry.RecordSpanError(span, err)
		return "", err
	}

	text, err := retry.Do(ctx, g.policy, "llm", func(ctx context.Context) (string, error) {
		if err := g.limiter.Wait(ctx); err != nil {
			return "", err
		}
		out, err := g.breaker.Execute(func() (interface{}, error) {
			return completer.Complete(ctx, req)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				span.SetAttributes(attribute.Bool("llm.circuit_breaker_open", true))
				return "", fmt.Errorf("%w: %v", ErrLLMUnavailable, err)
			}
			return "", err
		}
		return out.(string), nil
	})
	if err != nil {
		telemetry.RecordSpanError(span, err)
		return "", err
	}
	span.SetAttributes(attribute.Int("llm.response_chars", len(text)))
	return text, nil
}

// State reports the breaker state, for status endpoints.
func (g *Guarded) State() string {
	return g.breaker.State().String()
}
