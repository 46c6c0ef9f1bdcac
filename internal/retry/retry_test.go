package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"financerag/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fast = Policy{
	MaxAttempts:     3,
	InitialInterval: time.Millisecond,
	MaxInterval:     2 * time.Millisecond,
	Multiplier:      2,
}

func TestDo_RetriesTransient(t *testing.T) {
	calls := 0
	v, err := Do(context.Background(), fast, "embed", func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, models.Transient("embed", errors.New("503"))
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 3, calls)
}

func TestDo_StopsOnPermanent(t *testing.T) {
	calls := 0
	perm := &models.ParseError{Kind: models.SourcePDF, Reason: "not a pdf"}
	_, err := Do(context.Background(), fast, "parse", func(context.Context) (int, error) {
		calls++
		return 0, perm
	})
	assert.Equal(t, 1, calls)

	var pe *models.ParseError
	assert.ErrorAs(t, err, &pe)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Run(context.Background(), fast, "index", func(context.Context) error {
		calls++
		return models.Transient("index", errors.New("timeout"))
	})
	require.Error(t, err)
	assert.True(t, models.IsTransient(err))
	assert.Equal(t, 3, calls)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Run(ctx, Policy{MaxAttempts: 5, InitialInterval: time.Second}, "embed", func(context.Context) error {
		calls++
		return models.Transient("embed", errors.New("reset"))
	})
	require.Error(t, err)
	assert.LessOrEqual(t, calls, 1)
}

func TestPolicyDefaults(t *testing.T) {
	p := Policy{}.withDefaults()
	assert.Equal(t, DefaultPolicy, p)
}
