package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(t.TempDir(), nil)
	require.NoError(t, err)
	return store
}

func TestWriteAndTryRead(t *testing.T) {
	store := newStore(t)

	in := map[string]interface{}{"brightness": 50, "color": "warm_white"}
	require.NoError(t, store.Write(in, "Components", "lamp.1", SettingsFilename))

	var out map[string]interface{}
	found, err := store.TryRead(&out, "Components", "lamp.1", SettingsFilename)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, map[string]interface{}{"brightness": float64(50), "color": "warm_white"}, out)
}

func TestTryReadMissingIsNotAnError(t *testing.T) {
	store := newStore(t)

	var out map[string]interface{}
	found, err := store.TryRead(&out, "Components", "ghost", SettingsFilename)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestWriteReplacesAtomically(t *testing.T) {
	store := newStore(t)

	require.NoError(t, store.Write(map[string]int{"v": 1}, "doc.json"))
	require.NoError(t, store.Write(map[string]int{"v": 2}, "doc.json"))

	var out map[string]int
	found, err := store.TryRead(&out, "doc.json")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 2, out["v"])

	// No temp files left behind.
	entries, err := os.ReadDir(store.Root())
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".wirehome-")
	}
}

func TestEnumerateDirectories(t *testing.T) {
	store := newStore(t)

	require.NoError(t, store.Write(map[string]int{}, "Components", "lamp.1", SettingsFilename))
	require.NoError(t, store.Write(map[string]int{}, "Components", "lamp.2", SettingsFilename))
	require.NoError(t, store.Write(map[string]int{}, "Components", "motion.hall", SettingsFilename))
	// Plain files are not directories and must not be listed.
	require.NoError(t, store.Write(map[string]int{}, "Components", "stray.json"))

	all, err := store.EnumerateDirectories("*", "Components")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"lamp.1", "lamp.2", "motion.hall"}, all)

	lamps, err := store.EnumerateDirectories("lamp.*", "Components")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"lamp.1", "lamp.2"}, lamps)

	none, err := store.EnumerateDirectories("*", "DoesNotExist")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestDeleteDirectory(t *testing.T) {
	store := newStore(t)
	require.NoError(t, store.Write(map[string]int{}, "Components", "lamp.1", SettingsFilename))

	require.NoError(t, store.DeleteDirectory("Components", "lamp.1"))
	_, err := os.Stat(filepath.Join(store.Root(), "Components", "lamp.1"))
	assert.True(t, os.IsNotExist(err))

	// Deleting again is a no-op.
	require.NoError(t, store.DeleteDirectory("Components", "lamp.1"))
}

func TestDeleteFile(t *testing.T) {
	store := newStore(t)
	require.NoError(t, store.Write(map[string]int{}, "doc.json"))
	require.NoError(t, store.DeleteFile("doc.json"))
	require.NoError(t, store.DeleteFile("doc.json"))

	var out map[string]int
	found, err := store.TryRead(&out, "doc.json")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestPathTraversalIsRejected(t *testing.T) {
	store := newStore(t)

	err := store.Write(map[string]int{}, "..", "escape.json")
	assert.ErrorIs(t, err, ErrPathEscapesRoot)

	_, err = store.TryRead(&struct{}{}, "Components", "..", "..", "escape.json")
	assert.ErrorIs(t, err, ErrPathEscapesRoot)

	err = store.Write(map[string]int{})
	assert.ErrorIs(t, err, ErrEmptyPath)

	err = store.Write(map[string]int{}, "Components", "", SettingsFilename)
	assert.ErrorIs(t, err, ErrEmptyPath)
}

func TestRoundTripNestedValues(t *testing.T) {
	store := newStore(t)

	in := map[string]interface{}{
		"settings": map[string]interface{}{
			"color":   []interface{}{float64(255), float64(128), float64(0)},
			"enabled": true,
			"name":    "Kitchen Lamp",
			"power":   nil,
		},
	}
	require.NoError(t, store.Write(in, "ComponentGroups", "room.kitchen", ConfigurationFilename))

	var out map[string]interface{}
	found, err := store.TryRead(&out, "ComponentGroups", "room.kitchen", ConfigurationFilename)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, in, out)
}
