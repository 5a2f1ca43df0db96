// Package config loads the server's TOML configuration and the CLI
// workspace's YAML configuration, adapted from the teacher's config.Load
// (TOML, server daemon) and gateway/config.Load (YAML, client-facing)
// patterns.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Server is the converge server daemon's configuration, loaded from a TOML
// file following the teacher's cmd/consensusd config.toml convention.
type Server struct {
	ListenAddress      string        `toml:"ListenAddress"`
	DataDir            string        `toml:"DataDir"`
	BootstrapToken     string        `toml:"BootstrapToken"`
	GateGraphSeedFile  string        `toml:"GateGraphSeedFile"`
	ReadTimeout        time.Duration `toml:"ReadTimeout"`
	WriteTimeout       time.Duration `toml:"WriteTimeout"`
	IdleTimeout        time.Duration `toml:"IdleTimeout"`
	GCDryRunDefault    bool          `toml:"GCDryRunDefault"`
	GCKeepLastReleases int           `toml:"GCKeepLastReleases"`
	RateLimitPerSecond float64       `toml:"RateLimitPerSecond"`
	RateLimitBurst     int           `toml:"RateLimitBurst"`
}

func defaultServer() Server {
	return Server{
		ListenAddress:      ":8080",
		DataDir:            "./converge-data",
		ReadTimeout:        30 * time.Second,
		WriteTimeout:       30 * time.Second,
		IdleTimeout:        120 * time.Second,
		GCKeepLastReleases: 0,
		RateLimitPerSecond: 20,
		RateLimitBurst:     40,
	}
}

// LoadServer loads the server config from path, falling back to defaults
// (and writing them out) if the file does not yet exist.
func LoadServer(path string) (Server, error) {
	cfg := defaultServer()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefaultServer(path, cfg)
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Server{}, fmt.Errorf("decode server config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Server{}, err
	}
	return cfg, nil
}

func createDefaultServer(path string, cfg Server) (Server, error) {
	f, err := os.Create(path)
	if err != nil {
		return Server{}, fmt.Errorf("create default server config: %w", err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return Server{}, fmt.Errorf("write default server config: %w", err)
	}
	return cfg, nil
}

// Validate rejects configurations that would silently misbehave.
func (s Server) Validate() error {
	if s.DataDir == "" {
		return fmt.Errorf("DataDir must not be empty")
	}
	if s.ListenAddress == "" {
		return fmt.Errorf("ListenAddress must not be empty")
	}
	if s.GCKeepLastReleases < 0 {
		return fmt.Errorf("GCKeepLastReleases must be >= 0")
	}
	return nil
}
