package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dashjay/s3_replication/pkg/blacklist"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "s3-assets", cfg.Replication.SkipCheckMarker)
	assert.Equal(t, blacklist.DefaultEntries(), cfg.Replication.Blacklist)
	assert.False(t, cfg.Replication.DecodeKeys)
	assert.Empty(t, cfg.Replication.DestinationBucket)
	assert.Equal(t, "us-east-1", cfg.S3.Region)
	assert.NoError(t, cfg.Validate())
}

func TestLoadWithoutFile(t *testing.T) {
	t.Setenv(EnvConfigFile, "")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replicator.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
replication:
  destinationBucket: mirror
  blacklist: [scratch, "shops/migrations"]
  decodeKeys: true
s3:
  endpoint: http://localhost:8000
  pathStyle: true
log:
  format: json
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "mirror", cfg.Replication.DestinationBucket)
	assert.Equal(t, []string{"scratch", "shops/migrations"}, cfg.Replication.Blacklist)
	assert.True(t, cfg.Replication.DecodeKeys)
	assert.Equal(t, "s3-assets", cfg.Replication.SkipCheckMarker)
	assert.Equal(t, "http://localhost:8000", cfg.S3.Endpoint)
	assert.True(t, cfg.S3.PathStyle)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "info", cfg.Log.Level)

	set := cfg.BlacklistSet()
	assert.True(t, set.Check("shops/migrations/1.sql").Blacklisted)
	assert.False(t, set.Check("images/a.png").Blacklisted)
}

func TestLoadFromEnvPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replicator.yaml")
	require.NoError(t, os.WriteFile(path, []byte("replication:\n  skipCheckMarker: -mirror\n"), 0644))
	t.Setenv(EnvConfigFile, path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "-mirror", cfg.Replication.SkipCheckMarker)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv(EnvConfigFile, "")
	t.Setenv("REPLICATOR_DESTINATION_BUCKET", "mirror")
	t.Setenv("REPLICATOR_SKIP_CHECK_MARKER", "")
	t.Setenv("REPLICATOR_BLACKLIST", " public, scratch ,,")
	t.Setenv("REPLICATOR_DECODE_KEYS", "true")
	t.Setenv("REPLICATOR_S3_PATH_STYLE", "true")
	t.Setenv("REPLICATOR_S3_ACCESS_KEY", "AKID")
	t.Setenv("REPLICATOR_S3_SECRET_KEY", "secret")
	t.Setenv("REPLICATOR_LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "mirror", cfg.Replication.DestinationBucket)
	assert.Empty(t, cfg.Replication.SkipCheckMarker)
	assert.Equal(t, []string{"public", "scratch"}, cfg.Replication.Blacklist)
	assert.True(t, cfg.Replication.DecodeKeys)
	assert.True(t, cfg.S3.PathStyle)
	assert.Equal(t, "AKID", cfg.S3.AccessKey)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadErrors(t *testing.T) {
	t.Setenv(EnvConfigFile, "")

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("replication: [\n"), 0644))
	_, err = Load(bad)
	assert.Error(t, err)

	t.Setenv("REPLICATOR_DECODE_KEYS", "maybe")
	_, err = Load("")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.S3.AccessKey = "AKID"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Log.Format = "xml"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Log.Level = ""
	assert.Error(t, cfg.Validate())
}
