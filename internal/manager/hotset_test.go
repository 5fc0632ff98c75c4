package manager

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHotSetMarkAndDrain(t *testing.T) {
	var h hotSet
	h.mark("a")
	h.mark("b")
	h.mark("a")

	drained := h.drain()
	sort.Strings(drained)
	require.Equal(t, []string{"a", "b"}, drained)
}

func TestHotSetDrainIsDestructive(t *testing.T) {
	var h hotSet
	h.mark("a")
	h.drain()

	require.Empty(t, h.drain())
}

func TestHotSetDrainEmpty(t *testing.T) {
	var h hotSet
	require.Empty(t, h.drain())
}
