package main

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ChristianMct/ecd/fhe"
	"github.com/ChristianMct/ecd/objectstore"
	"github.com/ChristianMct/ecd/services/compute"
)

const (
	transportHTTP = "http"
	transportGRPC = "grpc"
)

// serverConfig is the configuration of a compute boundary.
type serverConfig struct {
	Transport string
	Address   string
	// MaxConns bounds the concurrent HTTP connections. Zero means no bound.
	MaxConns int
	LogLevel string
	Store    objectstore.Config
	Service  compute.ServiceConfig
}

func defaultServerConfig() serverConfig {
	return serverConfig{
		Transport: transportHTTP,
		Address:   ":8080",
		LogLevel:  "info",
		Store:     objectstore.Config{BackendName: objectstore.BackendMem},
	}
}

// computed config.toml key mapping to the server settings.
type fileConfig struct {
	Transport  string   `toml:"transport"`
	Address    string   `toml:"address"`
	MaxConns   int      `toml:"max_conns"`
	LogLevel   string   `toml:"log_level"`
	Operations []string `toml:"operations"`

	Store objectstore.Config `toml:"store"`
}

func loadServerConfig(path string) (serverConfig, error) {
	cfg := defaultServerConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return serverConfig{}, fmt.Errorf("load computed config: %w", err)
	}

	if meta.IsDefined("transport") {
		cfg.Transport = strings.TrimSpace(raw.Transport)
	}
	if meta.IsDefined("address") {
		cfg.Address = strings.TrimSpace(raw.Address)
	}
	if meta.IsDefined("max_conns") {
		cfg.MaxConns = raw.MaxConns
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("operations") {
		for _, name := range raw.Operations {
			op, err := fhe.ParseOperation(strings.TrimSpace(name))
			if err != nil {
				return serverConfig{}, fmt.Errorf("parse operations: %w", err)
			}
			cfg.Service.Operations = append(cfg.Service.Operations, op)
		}
	}
	if meta.IsDefined("store", "backend") {
		cfg.Store.BackendName = strings.TrimSpace(raw.Store.BackendName)
	}
	if meta.IsDefined("store", "db_path") {
		cfg.Store.DBPath = strings.TrimSpace(raw.Store.DBPath)
	}

	if cfg.Transport != transportHTTP && cfg.Transport != transportGRPC {
		return serverConfig{}, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
	if cfg.MaxConns < 0 {
		return serverConfig{}, fmt.Errorf("max_conns must not be negative, got %d", cfg.MaxConns)
	}
	return cfg, nil
}
