package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type named interface{ Name() string }

type thing struct{ name string }

func (t thing) Name() string { return t.name }

func TestRegistry_BindLookup(t *testing.T) {
	r := NewRegistry()
	require.ErrorIs(t, r.Bind("", thing{}), ErrInvalidBinding)
	require.ErrorIs(t, r.Bind("x", nil), ErrInvalidBinding)

	require.NoError(t, r.Bind("b", thing{"b"}))
	require.NoError(t, r.Bind("a", 42))
	assert.Equal(t, []string{"a", "b"}, r.Names())

	v, ok := r.Lookup("a")
	require.True(t, ok)
	assert.Equal(t, 42, v)

	r.Unbind("a")
	_, ok = r.Lookup("a")
	assert.False(t, ok)
}

func TestRegistry_TypedLookups(t *testing.T) {
	r := NewRegistry()
	_, err := FindSingleByType[named](r)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, r.Bind("one", thing{"one"}))
	require.NoError(t, r.Bind("num", 1))
	got, err := FindSingleByType[named](r)
	require.NoError(t, err)
	assert.Equal(t, "one", got.Name())

	require.NoError(t, r.Bind("two", thing{"two"}))
	_, err = FindSingleByType[named](r)
	require.ErrorIs(t, err, ErrAmbiguous)
	assert.Len(t, FindByType[named](r), 2)

	got, err = LookupByNameAndType[named](r, "two")
	require.NoError(t, err)
	assert.Equal(t, "two", got.Name())

	_, err = LookupByNameAndType[named](r, "num")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = LookupByNameAndType[named](r, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}
