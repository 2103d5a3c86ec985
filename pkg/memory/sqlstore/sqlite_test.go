package sqlstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenRequiresDSN(t *testing.T) {
	_, err := Open("")
	assert.Error(t, err)
}

func TestNewRequiresDB(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}

func TestOpenAppliesPragmasAndRoundTrips(t *testing.T) {
	store, err := Open(":memory:")
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	_, err = store.ExecContext(ctx, `CREATE TABLE widgets (id INTEGER PRIMARY KEY, name TEXT)`)
	require.NoError(t, err)

	_, err = store.ExecContext(ctx, `INSERT INTO widgets (id, name) VALUES (1, 'gear')`)
	require.NoError(t, err)

	var name string
	err = store.QueryRowContext(ctx, `SELECT name FROM widgets WHERE id = ?`, 1).Scan(&name)
	require.NoError(t, err)
	assert.Equal(t, "gear", name)

	rows, err := store.QueryContext(ctx, `SELECT id, name FROM widgets`)
	require.NoError(t, err)
	defer rows.Close()

	count := 0
	for rows.Next() {
		count++
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, 1, count)
}
