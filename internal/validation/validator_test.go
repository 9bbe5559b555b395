package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string `json:"name" validate:"required"`
	Count int    `json:"count" validate:"gte=1,lte=10"`
	Inner string `validate:"omitempty,oneof=a b"`
}

func TestValidate(t *testing.T) {
	t.Parallel()

	v := NewValidator()
	require.NoError(t, v.Validate(sample{Name: "x", Count: 3}))

	err := v.Validate(sample{Count: 11, Inner: "c"})
	require.Error(t, err)
	fields := Fields(err)
	require.Len(t, fields, 3)
	assert.True(t, fields.Has("name"))
	assert.True(t, fields.Has("count"))
	assert.True(t, fields.Has("Inner"))
	assert.False(t, fields.Has("missing"))
	assert.Contains(t, err.Error(), "count failed lte=10")
}

func TestValidateNonStruct(t *testing.T) {
	t.Parallel()

	err := NewValidator().Validate(42)
	require.Error(t, err)
	assert.Nil(t, Fields(err))
}
