package codec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doc struct {
	Name  string             `json:"name"`
	Items map[string]float64 `json:"items"`
}

func TestMarshalIsDeterministic(t *testing.T) {
	d := doc{Name: "x", Items: map[string]float64{"b": 2, "a": 1, "c": 3}}
	a, err := Marshal(d)
	require.NoError(t, err)
	b, err := Marshal(d)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	var out doc
	require.NoError(t, Unmarshal(a, &out))
	assert.Equal(t, d, out)
}

func TestUnmarshalRejectsGarbage(t *testing.T) {
	var out doc
	assert.Error(t, Unmarshal([]byte("not zstd"), &out))
}

func TestStreamDecoder(t *testing.T) {
	b, err := Marshal([]int{1, 2, 3})
	require.NoError(t, err)

	dec, closeFn, err := NewStreamDecoder(bytes.NewReader(b))
	require.NoError(t, err)
	defer closeFn()

	var got []int
	require.NoError(t, dec.Decode(&got))
	assert.Equal(t, []int{1, 2, 3}, got)
}
