package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type request struct {
	Name  string   `json:"name" validate:"required"`
	Note  string   `json:"note" validate:"omitempty,min=3,max=5"`
	IDs   []string `json:"ids" validate:"omitempty,min=2,unique"`
	Level string   `json:"level" validate:"omitempty,oneof=low high"`
	Inner string   `validate:"omitempty,max=1"`
}

func TestStruct(t *testing.T) {
	v := New()

	t.Run("valid", func(t *testing.T) {
		err := Struct(v, request{Name: "x", Note: "abcd", IDs: []string{"a", "b"}, Level: "low"})
		assert.NoError(t, err.OrNil())
	})

	t.Run("field messages use json names", func(t *testing.T) {
		err := Struct(v, request{Note: "ab", IDs: []string{"a", "a"}, Level: "mid", Inner: "xx"})
		require.Error(t, err.OrNil())

		assert.Equal(t, "name is required", err.Fields["name"])
		assert.Equal(t, "note must be at least 3 characters long", err.Fields["note"])
		assert.Equal(t, "ids must not contain duplicates", err.Fields["ids"])
		assert.Equal(t, "level must be one of: low high", err.Fields["level"])
		assert.Equal(t, "Inner must be at most 1 characters long", err.Fields["Inner"])
	})

	t.Run("slice length", func(t *testing.T) {
		err := Struct(v, request{Name: "x", IDs: []string{"a"}})
		assert.Equal(t, "ids must contain at least 2 items", err.Fields["ids"])
	})
}

func TestErrorAdd(t *testing.T) {
	var e Error
	assert.NoError(t, e.OrNil())

	e.Add("b", "second")
	e.Add("a", "first")
	e.Add("a", "ignored")

	assert.Equal(t, "first", e.Fields["a"])
	assert.Equal(t, "validation failed: a: first; b: second", e.Error())
}
