package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.Len(t, cfg.Bootstrap, 2)
	for _, p := range cfg.Bootstrap {
		_, err := p.Key()
		require.NoError(t, err)
	}
	o := cfg.Options()
	require.True(t, o.UDPEnabled)
	require.EqualValues(t, 33445, o.StartPort)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "toxnode.toml")
	body := `
[node]
udp = false
local_discovery = false
dht_announcements = false

[logging]
level = "debug"

[[relay]]
host = "relay.example.org"
port = 443
public_key = "10C00EB250C3233E343E2AEBA07115A5C28920E9C8D29492F6D00B29049EDC7E"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.False(t, cfg.Node.UDP)
	require.True(t, cfg.Node.IPv6)
	require.Len(t, cfg.Relays, 1)
	require.Len(t, cfg.Bootstrap, 2)
	require.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadRejects(t *testing.T) {
	cases := map[string]string{
		"unknown key": "[node]\nudpp = true\n",
		"bad level":   "[logging]\nlevel = \"loud\"\n",
		"bad key":     "[[bootstrap]]\nhost = \"a\"\nport = 1\npublic_key = \"zz\"\n",
		"bad port":    "[node]\nstart_port = 70000\n",
		"syntax":      "[node\n",
	}
	for name, body := range cases {
		path := filepath.Join(t.TempDir(), "c.toml")
		require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
		_, err := Load(path)
		require.Error(t, err, name)
	}
}

func TestWriteRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, Default()))

	path := filepath.Join(t.TempDir(), "c.toml")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, Default().Node, cfg.Node)
	require.Equal(t, Default().State, cfg.State)
	require.Equal(t, Default().Bootstrap, cfg.Bootstrap)
}
