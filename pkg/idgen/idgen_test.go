package idgen

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithPrefixUnique(t *testing.T) {
	require.NoError(t, Init(1))

	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id := WithPrefix("LIQ")
		assert.True(t, strings.HasPrefix(id, "LIQ-"))
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %s", id)
		seen[id] = struct{}{}
	}
}
