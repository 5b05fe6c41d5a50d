// Package config loads replicator configuration from an optional YAML file
// with REPLICATOR_* environment overrides.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/dashjay/s3_replication/pkg/blacklist"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// EnvConfigFile names the YAML file Load falls back to when called with an
// empty path.
const EnvConfigFile = "REPLICATOR_CONFIG"

type Config struct {
	Replication ReplicationConfig `yaml:"replication"`
	S3          S3Config          `yaml:"s3"`
	Log         LogConfig         `yaml:"log"`
	Gateway     GatewayConfig     `yaml:"gateway"`
}

type ReplicationConfig struct {
	// DestinationBucket overrides the bucket named by the function identity.
	DestinationBucket string   `yaml:"destinationBucket" env:"REPLICATOR_DESTINATION_BUCKET"`
	SkipCheckMarker   string   `yaml:"skipCheckMarker" env:"REPLICATOR_SKIP_CHECK_MARKER"`
	Blacklist         []string `yaml:"blacklist" env:"REPLICATOR_BLACKLIST"`
	DecodeKeys        bool     `yaml:"decodeKeys" env:"REPLICATOR_DECODE_KEYS"`
}

type S3Config struct {
	Region    string `yaml:"region" env:"REPLICATOR_S3_REGION"`
	Endpoint  string `yaml:"endpoint" env:"REPLICATOR_S3_ENDPOINT"`
	AccessKey string `yaml:"accessKey" env:"REPLICATOR_S3_ACCESS_KEY"`
	SecretKey string `yaml:"secretKey" env:"REPLICATOR_S3_SECRET_KEY"`
	PathStyle bool   `yaml:"pathStyle" env:"REPLICATOR_S3_PATH_STYLE"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"REPLICATOR_LOG_LEVEL"`
	Format string `yaml:"format" env:"REPLICATOR_LOG_FORMAT"`
}

type GatewayConfig struct {
	ListenAddr string `yaml:"listenAddr" env:"REPLICATOR_GATEWAY_ADDR"`
	Database   string `yaml:"database" env:"REPLICATOR_GATEWAY_DB"`
}

func Default() *Config {
	return &Config{
		Replication: ReplicationConfig{
			SkipCheckMarker: "s3-assets",
			Blacklist:       blacklist.DefaultEntries(),
		},
		S3: S3Config{
			Region: "us-east-1",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Gateway: GatewayConfig{
			ListenAddr: ":8000",
			Database:   "gateway.db",
		},
	}
}

// Load reads path (or $REPLICATOR_CONFIG when path is empty) over the
// defaults, applies environment overrides and validates the result. No
// file at all is fine; a named file that cannot be read is not.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv(EnvConfigFile)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read config file")
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrap(err, "failed to parse config file")
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, into *string) {
		if v, ok := lookup(name); ok {
			*into = v
		}
	}
	boolean := func(name string, into *bool) error {
		v, ok := lookup(name)
		if !ok {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return errors.Wrapf(err, "parse %s", name)
		}
		*into = b
		return nil
	}

	str("REPLICATOR_DESTINATION_BUCKET", &c.Replication.DestinationBucket)
	str("REPLICATOR_SKIP_CHECK_MARKER", &c.Replication.SkipCheckMarker)
	if v, ok := lookup("REPLICATOR_BLACKLIST"); ok {
		c.Replication.Blacklist = splitList(v)
	}
	if err := boolean("REPLICATOR_DECODE_KEYS", &c.Replication.DecodeKeys); err != nil {
		return err
	}
	str("REPLICATOR_S3_REGION", &c.S3.Region)
	str("REPLICATOR_S3_ENDPOINT", &c.S3.Endpoint)
	str("REPLICATOR_S3_ACCESS_KEY", &c.S3.AccessKey)
	str("REPLICATOR_S3_SECRET_KEY", &c.S3.SecretKey)
	if err := boolean("REPLICATOR_S3_PATH_STYLE", &c.S3.PathStyle); err != nil {
		return err
	}
	str("REPLICATOR_LOG_LEVEL", &c.Log.Level)
	str("REPLICATOR_LOG_FORMAT", &c.Log.Format)
	str("REPLICATOR_GATEWAY_ADDR", &c.Gateway.ListenAddr)
	str("REPLICATOR_GATEWAY_DB", &c.Gateway.Database)
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func (c *Config) Validate() error {
	if (c.S3.AccessKey == "") != (c.S3.SecretKey == "") {
		return errors.New("s3 access key and secret key must be set together")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return errors.Errorf("unknown log format %q", c.Log.Format)
	}
	if c.Log.Level == "" {
		return errors.New("log level is required")
	}
	return nil
}

// BlacklistSet builds the immutable checker set for the configured entries.
func (c *Config) BlacklistSet() *blacklist.Set {
	return blacklist.New(c.Replication.Blacklist...)
}
