package config

import (
	"context"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tuleapsync/internal/client"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default("https://tuleap.example")
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 30*time.Second, cfg.HTTP.Timeout)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "/v0", cfg.Serve.BasePath)
}

func TestFromYAMLFillsDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte("repository:\n  url: https://tuleap.example\n  api_version: v1\nhttp:\n  page_size: 25\n"))
	require.NoError(t, err)
	assert.Equal(t, "v1", cfg.Repository.APIVersion)
	assert.Equal(t, 25, cfg.HTTP.PageSize)
	assert.Equal(t, 30*time.Second, cfg.HTTP.Timeout)
	assert.Equal(t, "127.0.0.1:8787", cfg.Serve.Addr)

	cc := cfg.ClientConfig()
	assert.Equal(t, "https://tuleap.example", cc.ServerURL)
	assert.Equal(t, 25, cc.PageSize)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"missing url":  "repository:\n  url: \"\"\n",
		"ftp url":      "repository:\n  url: ftp://tuleap.example\n",
		"bad level":    "repository:\n  url: https://x.example\nlog:\n  level: loud\n",
		"bad format":   "repository:\n  url: https://x.example\nlog:\n  format: xml\n",
		"neg pagesize": "repository:\n  url: https://x.example\nhttp:\n  page_size: -1\n",
		"bad yaml":     "repository: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestWriteAndLoad(t *testing.T) {
	dir := t.TempDir()
	missing, err := LoadOptional(dir)
	require.NoError(t, err)
	assert.Nil(t, missing)
	_, err = Load(dir)
	assert.ErrorContains(t, err, "not found")

	cfg := Default("https://tuleap.example")
	cfg.Repository.Username = "alice"
	path, err := Write(dir, cfg, false)
	require.NoError(t, err)
	assert.Equal(t, Path(dir), path)

	_, err = Write(dir, cfg, false)
	assert.ErrorContains(t, err, "already exists")

	loaded, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestEnvCredentials(t *testing.T) {
	v := viper.New()
	creds := EnvCredentials{V: v, Username: "alice"}

	_, err := creds.Credentials(context.Background())
	assert.ErrorIs(t, err, client.ErrNoCredentials)

	v.Set("password", "secret")
	got, err := creds.Credentials(context.Background())
	require.NoError(t, err)
	assert.Equal(t, client.Credentials{Username: "alice", Password: "secret"}, got)

	v.Set("username", "bob")
	got, err = creds.Credentials(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "bob", got.Username)
}
