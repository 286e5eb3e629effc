package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWhenNoFileOrFlags(t *testing.T) {
	cfg, err := Load(nil, "")
	require.NoError(t, err)
	require.Equal(t, Default().BindPort, cfg.BindPort)
	require.NotZero(t, cfg.ServerGUID) // randomized since default is 0
}

func TestLoadAppliesYAMLOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "raknetd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server_name: custom-name\nbind_port: 30000\n"), 0o644))

	cfg, err := Load(nil, path)
	require.NoError(t, err)
	require.Equal(t, "custom-name", cfg.ServerName)
	require.Equal(t, uint16(30000), cfg.BindPort)
}

func TestFlagsOverrideYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "raknetd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("bind_port: 30000\n"), 0o644))

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(fs)
	require.NoError(t, fs.Parse([]string{"--bind-port=40000"}))

	cfg, err := Load(fs, path)
	require.NoError(t, err)
	require.Equal(t, uint16(40000), cfg.BindPort)
}

func TestServerGUIDIsStableWhenExplicitlySet(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(fs)
	require.NoError(t, fs.Parse([]string{"--server-guid=12345"}))

	cfg, err := Load(fs, "")
	require.NoError(t, err)
	require.Equal(t, uint64(12345), cfg.ServerGUID)
}
