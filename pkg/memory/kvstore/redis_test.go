package kvstore

import (
	"testing"

	"github.com/redis/go-redis/v9"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequiresRedisClient(t *testing.T) {
	_, err := New(nil, "")
	assert.Error(t, err)
}

func TestKeyAppliesPrefixWhenSet(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()

	store, err := New(client, "")
	require.NoError(t, err)
	assert.Equal(t, "foo", store.key("foo"))

	prefixed, err := New(client, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "run-1:foo", prefixed.key("foo"))
}
