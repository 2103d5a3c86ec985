package model_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Koko12137/tasking-community-sub000/pkg/message"
	"github.com/Koko12137/tasking-community-sub000/pkg/model"
	"github.com/Koko12137/tasking-community-sub000/pkg/queue"
)

type fakeClient struct {
	completeErr error
}

func (f *fakeClient) Complete(context.Context, model.Request) (message.Message, error) {
	return message.Message{}, f.completeErr
}

func (f *fakeClient) Stream(context.Context, model.Request, *queue.Queue[message.Message]) (message.Message, error) {
	return message.Message{}, f.completeErr
}

func (f *fakeClient) Embed(context.Context, []message.Block, int) ([]float64, error) {
	return nil, f.completeErr
}

func (f *fakeClient) EmbedBatch(context.Context, [][]message.Block, int) ([][]float64, error) {
	return nil, f.completeErr
}

func TestAdaptiveRateLimiterBacksOffOnRateLimited(t *testing.T) {
	limiter := model.NewAdaptiveRateLimiter(60000, 60000)
	initial := limiter.CurrentTPM()

	wrapped := limiter.Wrap(&fakeClient{completeErr: model.ErrRateLimited})
	_, err := wrapped.Complete(context.Background(), model.Request{
		Messages: []message.Message{{Content: []message.Block{message.TextBlock{Text: "hello"}}}},
	})

	require.ErrorIs(t, err, model.ErrRateLimited)
	assert.Less(t, limiter.CurrentTPM(), initial)
}

func TestAdaptiveRateLimiterProbesOnSuccess(t *testing.T) {
	limiter := model.NewAdaptiveRateLimiter(60000, 120000)
	initial := limiter.CurrentTPM()

	wrapped := limiter.Wrap(&fakeClient{})
	_, err := wrapped.Complete(context.Background(), model.Request{
		Messages: []message.Message{{Content: []message.Block{message.TextBlock{Text: "hello"}}}},
	})

	require.NoError(t, err)
	assert.Greater(t, limiter.CurrentTPM(), initial)
}

func TestAdaptiveRateLimiterWrapNilIsNil(t *testing.T) {
	limiter := model.NewAdaptiveRateLimiter(100, 100)
	assert.Nil(t, limiter.Wrap(nil))
}
