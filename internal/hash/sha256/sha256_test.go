package sha256

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHasherHashDeterministic(t *testing.T) {
	t.Parallel()

	h := New()
	got, err := h.Hash([]byte("hello world"))
	require.NoError(t, err)
	require.Equal(t, "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9", got)
}

func TestHasherHashJSONIgnoresMapOrder(t *testing.T) {
	t.Parallel()

	h := New()
	a, err := h.HashJSON(map[string]any{"codigo": "EC0001", "nivel": 2})
	require.NoError(t, err)
	b, err := h.HashJSON(map[string]any{"nivel": 2, "codigo": "EC0001"})
	require.NoError(t, err)
	require.Equal(t, a, b)

	c, err := h.HashJSON(map[string]any{"codigo": "EC0001", "nivel": 3})
	require.NoError(t, err)
	require.NotEqual(t, a, c)

	_, err = h.HashJSON(make(chan int))
	require.Error(t, err)
}
