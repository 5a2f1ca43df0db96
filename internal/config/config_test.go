package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/BurntSushi/toml"
	"github.com/stretchr/testify/require"
)

func TestLoadServerWritesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg, err := LoadServer(path)
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.ListenAddress)
	require.FileExists(t, path)

	reloaded, err := LoadServer(path)
	require.NoError(t, err)
	require.Equal(t, cfg, reloaded)
}

func TestLoadServerRejectsEmptyDataDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, toml.NewEncoder(f).Encode(Server{ListenAddress: ":8080"}))
	require.NoError(t, f.Close())

	_, err = LoadServer(path)
	require.Error(t, err)
}

func TestLoadWorkspaceDefaultsWhenAbsent(t *testing.T) {
	cfg, err := LoadWorkspace(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, "main", cfg.Scope)
	require.Equal(t, "dev-intake", cfg.Gate)
}

func TestWorkspaceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "workspace.yaml")
	cfg := Workspace{RemoteURL: "https://example.com", RepoID: "demo", Scope: "main", Gate: "dev-intake", ChunkThreshold: 1024, ChunkSize: 256}

	require.NoError(t, WriteWorkspace(path, cfg))
	loaded, err := LoadWorkspace(path)
	require.NoError(t, err)
	require.Equal(t, cfg, loaded)
}

func TestWorkspaceValidateRejectsZeroChunkSize(t *testing.T) {
	cfg := defaultWorkspace()
	cfg.ChunkSize = 0
	require.Error(t, cfg.Validate())
}
