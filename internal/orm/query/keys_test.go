package query

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyString(t *testing.T) {
	for _, v := range []interface{}{"7", []byte("7"), 7, int32(7), int64(7), uint64(7), float64(7)} {
		s, err := KeyString(v)
		require.NoError(t, err)
		assert.Equal(t, "7", s, "%T", v)
	}

	id := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	s, err := KeyString(id)
	require.NoError(t, err)
	assert.Equal(t, id.String(), s)

	for _, v := range []interface{}{nil, true, map[string]interface{}{"id": 1}, []interface{}{1}, struct{}{}} {
		_, err := KeyString(v)
		assert.ErrorIs(t, err, ErrInvalidKey, "%T", v)
	}
}
