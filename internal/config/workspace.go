package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Workspace is the per-working-directory client config, checked in (or at
// least kept alongside a workspace) as YAML, adapted from the teacher's
// gateway/config YAML shape. It never carries the bearer token — that lives
// only in the local store's index (stored by internal/localstore's
// KV.SetRemote alongside the RemoteConfig).
type Workspace struct {
	RemoteURL         string `yaml:"remoteUrl"`
	RepoID            string `yaml:"repoId"`
	Scope             string `yaml:"scope"`
	Gate              string `yaml:"gate"`
	ChunkThreshold    int64  `yaml:"chunkThreshold"`
	ChunkSize         int64  `yaml:"chunkSize"`
	MetadataOnly      bool   `yaml:"metadataOnly"`
	AllowMissingBlobs bool   `yaml:"allowMissingBlobs"`
}

func defaultWorkspace() Workspace {
	return Workspace{
		Scope:          "main",
		Gate:           "dev-intake",
		ChunkThreshold: 4 << 20,
		ChunkSize:      1 << 20,
	}
}

// LoadWorkspace reads a workspace config file, returning defaults if it
// does not exist.
func LoadWorkspace(path string) (Workspace, error) {
	cfg := defaultWorkspace()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return Workspace{}, fmt.Errorf("read workspace config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Workspace{}, fmt.Errorf("decode workspace config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Workspace{}, err
	}
	return cfg, nil
}

// WriteWorkspace persists the workspace config as YAML.
func WriteWorkspace(path string, cfg Workspace) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode workspace config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write workspace config: %w", err)
	}
	return nil
}

// Validate rejects workspace configs with non-positive chunk parameters.
func (w Workspace) Validate() error {
	if w.ChunkThreshold <= 0 {
		return fmt.Errorf("chunkThreshold must be > 0")
	}
	if w.ChunkSize <= 0 {
		return fmt.Errorf("chunkSize must be > 0")
	}
	return nil
}
