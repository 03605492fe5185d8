package pagination

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode(t *testing.T) {
	key := "0193b7a2-5e1c-7c3a-9f00-2b8e6a4d1f01"

	cursor := Encode(key)
	assert.NotContains(t, cursor, key, "cursor is opaque")

	got, err := Decode(cursor)
	require.NoError(t, err)
	assert.Equal(t, key, got)
}

func TestDecode_Empty(t *testing.T) {
	got, err := Decode("")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDecode_Invalid(t *testing.T) {
	for _, s := range []string{"!!!", "bm9wcmVmaXg", Encode("")} {
		_, err := Decode(s)
		assert.ErrorIs(t, err, ErrInvalidCursor, s)
	}
}

func TestComputePage(t *testing.T) {
	ids := []string{"a", "b", "c", "d"}
	id := func(s string) string { return s }

	page, next := ComputePage(ids, 3, id)
	assert.Equal(t, []string{"a", "b", "c"}, page)
	key, err := Decode(next)
	require.NoError(t, err)
	assert.Equal(t, "c", key)

	page, next = ComputePage(ids[:3], 3, id)
	assert.Len(t, page, 3)
	assert.Empty(t, next, "no next page when not over the limit")
}
