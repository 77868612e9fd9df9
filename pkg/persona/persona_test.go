package persona

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCharacters() []Character {
	return []Character{
		{Name: "aria", AutoRespond: true},
		{Name: "atlas", AutoRespond: true, ToolEnabled: true},
		{Name: "scribe"},
	}
}

func TestNewRegistry(t *testing.T) {
	reg, err := NewRegistry(testCharacters())
	require.NoError(t, err)
	assert.True(t, reg.Has("aria"))
	assert.True(t, reg.Has("atlas"))
	assert.False(t, reg.Has("nobody"))
	assert.Equal(t, "aria", reg.Default().Name)
}

func TestNewRegistryRejectsEmpty(t *testing.T) {
	_, err := NewRegistry(nil)
	require.Error(t, err)
}

func TestNewRegistryRejectsDuplicates(t *testing.T) {
	_, err := NewRegistry([]Character{{Name: "aria"}, {Name: "aria"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestNewRegistryRejectsEmptyName(t *testing.T) {
	_, err := NewRegistry([]Character{{Name: ""}})
	require.Error(t, err)
}

func TestGetFallsBackToDefault(t *testing.T) {
	reg, err := NewRegistry(testCharacters())
	require.NoError(t, err)

	got := reg.Get("atlas")
	assert.True(t, got.ToolEnabled)

	// Unknown names resolve to the default persona, never an error.
	got = reg.Get("nobody")
	assert.Equal(t, "aria", got.Name)
}

func TestNamesSorted(t *testing.T) {
	reg, err := NewRegistry(testCharacters())
	require.NoError(t, err)
	assert.Equal(t, []string{"aria", "atlas", "scribe"}, reg.Names())
}
