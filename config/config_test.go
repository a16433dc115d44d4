package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/TheusHen/meshcrypt/meshcrypt/capture"
	"github.com/TheusHen/meshcrypt/meshcrypt/transport"
)

const nodeConfig = `
[Logging]
  Level = "debug"

[Node]
  Server = 1

[Handshake]
  PollTimeout = 250
  MaxAttempts = 10
  BaseDelay = 100
  MaxDelay = 1000
  Jitter = 0.2

[Link]
  Listen = "127.0.0.1:7405"
  Gateway = "127.0.0.1:7400"

  [[Link.Routes]]
    Address = 1
    Host = "127.0.0.1:7400"

[Capture]
  File = "node.cap"
  Compression = "best"
`

func TestLoadNode(t *testing.T) {
	require := require.New(t)

	cfg, err := Load([]byte(nodeConfig))
	require.NoError(err)
	require.Equal("DEBUG", cfg.Logging.Level)
	require.EqualValues(0, cfg.Node.Address)
	require.False(cfg.Node.IsServer)

	p := cfg.Handshake.Policy()
	require.Equal(4, p.Polls)
	require.Equal(250*time.Millisecond, p.PollTimeout)
	require.Equal(10, p.MaxAttempts)
	require.Equal(100*time.Millisecond, p.BaseDelay)
	require.Equal(time.Second, p.MaxDelay)
	require.InDelta(0.2, p.Jitter, 1e-9)

	require.Equal(2000, cfg.Link.AckTimeout)
	require.Equal(map[transport.Address]string{1: "127.0.0.1:7400"}, cfg.Link.RouteMap())
	require.Equal(BackendMemory, cfg.Registry.Backend)

	lvl, err := cfg.Capture.Level()
	require.NoError(err)
	require.Equal(capture.CompressionBest, lvl)
}

func TestLoadServerDefaults(t *testing.T) {
	require := require.New(t)

	cfg, err := Load([]byte(`
[Node]
  Address = 1
  IsServer = true

[Registry]
  Backend = "bolt"
`))
	require.NoError(err)
	require.Equal(defaultLogLevel, cfg.Logging.Level)
	require.EqualValues(1, cfg.Node.Server)
	require.Equal(defaultRegistryDB, cfg.Registry.File)
	require.Equal(defaultListen, cfg.Link.Listen)
	require.Equal(defaultPolls, cfg.Handshake.Policy().Polls)
	require.Equal(500*time.Millisecond, cfg.Handshake.Policy().PollTimeout)
	require.Zero(cfg.Handshake.Policy().MaxAttempts)
}

func TestLoadRejects(t *testing.T) {
	for name, body := range map[string]string{
		"no node":         `[Logging]`,
		"bad level":       "[Node]\n[Logging]\nLevel = \"LOUD\"",
		"broadcast":       "[Node]\nAddress = 255",
		"server no addr":  "[Node]\nIsServer = true",
		"server mismatch": "[Node]\nAddress = 3\nServer = 1\nIsServer = true",
		"bad seed":        "[Node]\nSeed = \"abcd\"",
		"negative polls":  "[Node]\n[Handshake]\nPolls = -1",
		"jitter":          "[Node]\n[Handshake]\nJitter = 1.5",
		"max below base":  "[Node]\n[Handshake]\nBaseDelay = 100\nMaxDelay = 50",
		"bad listen":      "[Node]\n[Link]\nListen = \"nope\"",
		"reserved route":  "[Node]\n[Link]\n[[Link.Routes]]\nAddress = 0\nHost = \"127.0.0.1:1\"",
		"duplicate route": "[Node]\n[Link]\n[[Link.Routes]]\nAddress = 2\nHost = \"127.0.0.1:1\"\n[[Link.Routes]]\nAddress = 2\nHost = \"127.0.0.1:2\"",
		"bad backend":     "[Node]\nAddress = 1\nIsServer = true\n[Registry]\nBackend = \"sql\"",
		"bolt on a node":  "[Node]\n[Registry]\nBackend = \"bolt\"",
		"bad compression": "[Node]\n[Capture]\nCompression = \"max\"",
		"unknown key":     "[Node]\nColour = \"red\"",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Load([]byte(body))
			require.Error(t, err)
		})
	}

	_, err := Load(nil)
	require.Error(t, err)
}

func TestSeed(t *testing.T) {
	require := require.New(t)

	cfg, err := Load([]byte("[Node]\nSeed = \"0101010101010101010101010101010101010101010101010101010101010101\""))
	require.NoError(err)
	seed, err := cfg.Node.SeedBytes()
	require.NoError(err)
	require.Equal(byte(1), seed[31])
}

func TestLoadFile(t *testing.T) {
	require := require.New(t)

	f := filepath.Join(t.TempDir(), "meshcrypt.toml")
	require.NoError(os.WriteFile(f, []byte(nodeConfig), 0600))
	cfg, err := LoadFile(f)
	require.NoError(err)
	require.Equal("node.cap", cfg.Capture.File)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(err)
}
