package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ChristianMct/ecd/fhe"
	"github.com/ChristianMct/ecd/objectstore"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "computed.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadServerConfig(t *testing.T) {
	cfg, err := loadServerConfig(writeConfig(t, `
transport = "grpc"
address = "127.0.0.1:40000"
operations = ["add_plain", " multiply_plain "]

[store]
backend = "hybrid"
db_path = "/var/lib/computed"
`))
	require.NoError(t, err)
	require.Equal(t, transportGRPC, cfg.Transport)
	require.Equal(t, "127.0.0.1:40000", cfg.Address)
	require.Equal(t, []fhe.Operation{fhe.AddPlain, fhe.MultiplyPlain}, cfg.Service.Operations)
	require.Equal(t, objectstore.Config{BackendName: objectstore.BackendHybrid, DBPath: "/var/lib/computed"}, cfg.Store)
	require.Equal(t, "info", cfg.LogLevel)
	require.Zero(t, cfg.MaxConns)
}

func TestLoadServerConfigDefaults(t *testing.T) {
	cfg, err := loadServerConfig(writeConfig(t, ""))
	require.NoError(t, err)
	require.Equal(t, defaultServerConfig(), cfg)
}

func TestLoadServerConfigErrors(t *testing.T) {
	for name, content := range map[string]string{
		"Syntax":           `transport = `,
		"UnknownTransport": `transport = "udp"`,
		"UnknownOperation": `operations = ["rotate"]`,
		"NegativeMaxConns": `max_conns = -1`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := loadServerConfig(writeConfig(t, content))
			require.Error(t, err)
		})
	}
}
