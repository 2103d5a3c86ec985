package bus_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Koko12137/tasking-community-sub000/pkg/bus"
)

func TestPublishDeliversInRegistrationOrder(t *testing.T) {
	b := bus.New[string]()
	var order []string
	b.Register(bus.SubscriberFunc[string](func(ctx context.Context, e string) error {
		order = append(order, "first:"+e)
		return nil
	}))
	b.Register(bus.SubscriberFunc[string](func(ctx context.Context, e string) error {
		order = append(order, "second:"+e)
		return nil
	}))

	require.NoError(t, b.Publish(context.Background(), "hello"))
	assert.Equal(t, []string{"first:hello", "second:hello"}, order)
}

func TestPublishStopsOnFirstError(t *testing.T) {
	b := bus.New[string]()
	boom := errors.New("boom")
	var secondCalled bool
	b.Register(bus.SubscriberFunc[string](func(ctx context.Context, e string) error {
		return boom
	}))
	b.Register(bus.SubscriberFunc[string](func(ctx context.Context, e string) error {
		secondCalled = true
		return nil
	}))

	err := b.Publish(context.Background(), "x")
	assert.ErrorIs(t, err, boom)
	assert.False(t, secondCalled)
}

func TestCancelSubscriptionStopsDelivery(t *testing.T) {
	b := bus.New[string]()
	var called bool
	sub := b.Register(bus.SubscriberFunc[string](func(ctx context.Context, e string) error {
		called = true
		return nil
	}))
	sub.Cancel()

	require.NoError(t, b.Publish(context.Background(), "x"))
	assert.False(t, called)
}

func TestCloseMakesPublishNoOp(t *testing.T) {
	b := bus.New[string]()
	var called bool
	b.Register(bus.SubscriberFunc[string](func(ctx context.Context, e string) error {
		called = true
		return nil
	}))
	b.Close()
	assert.NotPanics(t, func() { b.Close() })

	require.NoError(t, b.Publish(context.Background(), "x"))
	assert.False(t, called)
}
