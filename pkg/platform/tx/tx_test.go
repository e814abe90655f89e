package tx

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEmptyContext(t *testing.T) {
	_, ok := From(context.Background())
	assert.False(t, ok)
}

func TestWithTxNilIsNoOp(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, ctx, WithTx(ctx, nil))
}

func TestPassthroughRunsOnAmbientContext(t *testing.T) {
	type ctxKey struct{}
	ctx := context.WithValue(context.Background(), ctxKey{}, "marker")

	var ran bool
	err := Passthrough{}.RunInTx(ctx, func(inner context.Context) error {
		ran = true
		assert.Equal(t, "marker", inner.Value(ctxKey{}))
		_, ok := From(inner)
		assert.False(t, ok, "passthrough must not fabricate a transaction")
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestPassthroughPropagatesError(t *testing.T) {
	boom := errors.New("boom")
	err := Passthrough{}.RunInTx(context.Background(), func(context.Context) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
}
