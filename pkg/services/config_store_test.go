package services

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testDefaults = CouncilConfig{
	Provider:      "openrouter",
	CouncilModels: []string{"a/one", "b/two"},
	ChairmanModel: "c/chair",
}

func newTestConfigStore(t *testing.T) (*ConfigStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	s, err := NewConfigStore(path, testDefaults)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func TestConfigStoreWritesDefaults(t *testing.T) {
	s, path := newTestConfigStore(t)

	assert.Equal(t, testDefaults, s.Get())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var onDisk CouncilConfig
	require.NoError(t, json.Unmarshal(data, &onDisk))
	assert.Equal(t, testDefaults, onDisk)
}

func TestConfigStoreLoadsExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path,
		[]byte(`{"provider":"ollama","council_models":["gemma3"],"chairman_model":"gemma3"}`), 0o644))

	s, err := NewConfigStore(path, testDefaults)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, "ollama", s.Provider())
	assert.Equal(t, []string{"gemma3"}, s.CouncilModels())
	assert.Equal(t, "gemma3", s.ChairmanModel())
}

func TestConfigStoreSetMergesFields(t *testing.T) {
	s, _ := newTestConfigStore(t)

	updated, err := s.Set(CouncilConfig{Provider: "ollama"})
	require.NoError(t, err)
	assert.Equal(t, "ollama", updated.Provider)
	// Untouched fields survive a partial update.
	assert.Equal(t, testDefaults.CouncilModels, updated.CouncilModels)
	assert.Equal(t, testDefaults.ChairmanModel, updated.ChairmanModel)

	updated, err = s.Set(CouncilConfig{CouncilModels: []string{"x/only"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"x/only"}, updated.CouncilModels)
	assert.Equal(t, "ollama", updated.Provider)
}

func TestConfigStoreGetReturnsCopy(t *testing.T) {
	s, _ := newTestConfigStore(t)

	cfg := s.Get()
	cfg.CouncilModels[0] = "mutated"
	assert.Equal(t, "a/one", s.CouncilModels()[0])
}

func TestConfigStorePicksUpExternalEdit(t *testing.T) {
	s, path := newTestConfigStore(t)

	require.NoError(t, os.WriteFile(path,
		[]byte(`{"provider":"ollama","council_models":["edited"],"chairman_model":"edited"}`), 0o644))

	assert.Eventually(t, func() bool {
		return s.Provider() == "ollama" && s.ChairmanModel() == "edited"
	}, 2*time.Second, 10*time.Millisecond)
}
