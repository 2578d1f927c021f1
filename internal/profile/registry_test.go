package profile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewRegistry_Builtins verifies both builtin profiles are registered
func TestNewRegistry_Builtins(t *testing.T) {
	r := NewRegistry()

	assert.Equal(t, []string{"vfp", "wfp"}, r.List())

	vfp, err := r.Get("vfp")
	require.NoError(t, err)
	assert.Equal(t, "ALLOW", vfp.AllowToken)
	assert.Equal(t, "BLOCK", vfp.BlockToken)
	assert.NotEmpty(t, vfp.Providers)

	wfp, err := r.Get("wfp")
	require.NoError(t, err)
	assert.Equal(t, "PERMIT", wfp.AllowToken)
	assert.Equal(t, "DROP", wfp.BlockToken)
}

// TestRegistry_GetUnknown verifies lookup of a missing profile fails
func TestRegistry_GetUnknown(t *testing.T) {
	r := NewRegistry()

	_, err := r.Get("nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")
}

// TestRegistry_RegisterReplaces verifies re-registering an ID overwrites it
func TestRegistry_RegisterReplaces(t *testing.T) {
	r := NewRegistryWithProfiles(Profile{ID: "x", AllowToken: "A"})
	r.Register(Profile{ID: "x", AllowToken: "B"})

	p, err := r.Get("x")
	require.NoError(t, err)
	assert.Equal(t, "B", p.AllowToken)
	assert.Equal(t, []string{"x"}, r.List())
}
