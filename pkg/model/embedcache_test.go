package model_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Koko12137/tasking-community-sub000/pkg/message"
	"github.com/Koko12137/tasking-community-sub000/pkg/model"
	"github.com/Koko12137/tasking-community-sub000/pkg/queue"
)

type countingEmbedder struct {
	calls int
	vec   []float64
}

func (c *countingEmbedder) Complete(context.Context, model.Request) (message.Message, error) {
	return message.Message{}, nil
}

func (c *countingEmbedder) Stream(context.Context, model.Request, *queue.Queue[message.Message]) (message.Message, error) {
	return message.Message{}, nil
}

func (c *countingEmbedder) Embed(context.Context, []message.Block, int) ([]float64, error) {
	c.calls++
	return c.vec, nil
}

func (c *countingEmbedder) EmbedBatch(_ context.Context, contents [][]message.Block, _ int) ([][]float64, error) {
	c.calls++
	out := make([][]float64, len(contents))
	for i := range contents {
		out[i] = c.vec
	}
	return out, nil
}

func TestEmbedCacheReturnsCachedResultOnRepeatedContent(t *testing.T) {
	inner := &countingEmbedder{vec: []float64{1, 2, 3}}
	cached := model.NewEmbedCache(inner, 8, time.Minute)

	content := []message.Block{message.TextBlock{Text: "hello world"}}
	v1, err := cached.Embed(context.Background(), content, 3)
	require.NoError(t, err)
	v2, err := cached.Embed(context.Background(), content, 3)
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Equal(t, 1, inner.calls)
}

func TestEmbedCacheDistinguishesDifferentContent(t *testing.T) {
	inner := &countingEmbedder{vec: []float64{1, 2, 3}}
	cached := model.NewEmbedCache(inner, 8, time.Minute)

	_, err := cached.Embed(context.Background(), []message.Block{message.TextBlock{Text: "a"}}, 3)
	require.NoError(t, err)
	_, err = cached.Embed(context.Background(), []message.Block{message.TextBlock{Text: "b"}}, 3)
	require.NoError(t, err)

	assert.Equal(t, 2, inner.calls)
}

func TestEmbedCacheZeroSizeDisablesCaching(t *testing.T) {
	inner := &countingEmbedder{vec: []float64{1}}
	client := model.NewEmbedCache(inner, 0, time.Minute)
	assert.Same(t, inner, client)
}

func TestEmbedCacheBatchOnlyCallsUnderlyingForMisses(t *testing.T) {
	inner := &countingEmbedder{vec: []float64{1, 2}}
	cached := model.NewEmbedCache(inner, 8, time.Minute)

	contents := [][]message.Block{
		{message.TextBlock{Text: "a"}},
		{message.TextBlock{Text: "b"}},
	}
	_, err := cached.EmbedBatch(context.Background(), contents, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, inner.calls)

	vecs, err := cached.EmbedBatch(context.Background(), contents, 2)
	require.NoError(t, err)
	assert.Len(t, vecs, 2)
	assert.Equal(t, 1, inner.calls)
}
