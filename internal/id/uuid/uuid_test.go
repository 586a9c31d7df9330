// Package uuid includes tests for the UUID generator wrapper.
package uuid

import (
	"testing"

	goUUID "github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// TestGeneratorNewID ensures generated IDs are unique and valid UUIDs.
func TestGeneratorNewID(t *testing.T) {
	t.Parallel()

	gen := New()
	id1, err := gen.NewID()
	require.NoError(t, err)
	id2, err := gen.NewID()
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)

	_, err = goUUID.Parse(id1)
	require.NoError(t, err)
	_, err = goUUID.Parse(id2)
	require.NoError(t, err)
}

// TestGeneratorIDsSortByCreation checks v7 IDs preserve generation order.
func TestGeneratorIDsSortByCreation(t *testing.T) {
	t.Parallel()

	gen := New()
	prev, err := gen.NewID()
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		next, err := gen.NewID()
		require.NoError(t, err)
		require.LessOrEqual(t, prev, next)
		prev = next
	}
}
