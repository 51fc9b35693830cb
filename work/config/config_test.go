package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExampleConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vodgate.json")
	require.NoError(t, CreateExampleConfig(path))

	cfg, err := loadFromFile(path)
	require.NoError(t, err)
	validateAndSetDefaults(cfg)

	assert.Equal(t, "/content/vod", cfg.ContentRoot)
	assert.Equal(t, 20*time.Second, cfg.RunTimeout)
	assert.Equal(t, 30*time.Second, cfg.StreamIdleTimeout)
	assert.Equal(t, 2*time.Minute, cfg.StreamMinTimeout)
	assert.Equal(t, 30*time.Minute, cfg.ProbeCacheDuration)
	require.Len(t, cfg.Hosts, 1)
	assert.Equal(t, "media1", cfg.Hosts[0].ID)
	assert.Equal(t, 22, cfg.Hosts[0].Port)
}

func TestLoadFromFileRejectsBadDuration(t *testing.T) {
	cf := &ConfigFile{
		RunTimeout:         "not-a-duration",
		StreamIdleTimeout:  "30s",
		StreamMinTimeout:   "2m",
		ProbeCacheDuration: "30m",
	}
	_, err := convertFromFile(cf)
	assert.ErrorContains(t, err, "runTimeout")
}

func TestValidateFillsDefaults(t *testing.T) {
	cfg := &Config{}
	validateAndSetDefaults(cfg)

	assert.Equal(t, 8080, cfg.ListenPort)
	assert.Equal(t, "/content", cfg.ContentRoot)
	assert.Equal(t, int64(2500), cfg.BitrateCeilingKbps)
	assert.Equal(t, int64(1<<20), cfg.SmallWindowBytes)
	assert.Equal(t, 4, cfg.WorkerThreads)
	assert.NotNil(t, cfg.NamespaceHosts)
}

func TestValidateTrimsContentRoot(t *testing.T) {
	cfg := &Config{ContentRoot: "/content/vod/"}
	validateAndSetDefaults(cfg)
	assert.Equal(t, "/content/vod", cfg.ContentRoot)
}

func TestValidateHostDefaults(t *testing.T) {
	cfg := &Config{Hosts: []HostConfig{{ID: "m1", Address: "10.0.0.5"}}}
	validateAndSetDefaults(cfg)

	h := cfg.GetHost("m1")
	require.NotNil(t, h)
	assert.Equal(t, 22, h.Port)
	assert.Greater(t, h.MaxSessions, 0)
	assert.Greater(t, h.MaxConversions, 0)
	assert.Greater(t, h.LaunchRate, 0)
	assert.Equal(t, "m1", cfg.DefaultHost, "first host becomes the default")
}

func TestGetHostUnknown(t *testing.T) {
	cfg := &Config{Hosts: []HostConfig{{ID: "m1"}}}
	assert.Nil(t, cfg.GetHost("nope"))
}

func TestHostForNamespace(t *testing.T) {
	cfg := &Config{
		DefaultHost:    "m1",
		NamespaceHosts: map[string]string{"bob": "m2"},
	}
	assert.Equal(t, "m2", cfg.HostForNamespace("bob"))
	assert.Equal(t, "m1", cfg.HostForNamespace("alice"))
}
