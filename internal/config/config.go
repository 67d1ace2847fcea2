// Package config loads entitygraph settings from YAML and ENTITYGRAPH_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"

	yaml "gopkg.in/yaml.v2"

	"entitygraph/internal/blob"
	"entitygraph/internal/core"
	"entitygraph/internal/fixtures"
	"entitygraph/internal/persistence"
)

// JournalNone disables the transaction journal.
const JournalNone = "none"

type StorageConfig struct {
	Driver      string `yaml:"driver"`
	SQLitePath  string `yaml:"sqlitePath"`
	PostgresDSN string `yaml:"postgresDSN"`

	// Fixture names the bundled schema applied on open ("library", "shop").
	Fixture string `yaml:"fixture"`
}

type SessionConfig struct {
	ForceEntityConstructor bool `yaml:"forceEntityConstructor"`
	AllowGlobalContext     bool `yaml:"allowGlobalContext"`
	DisableIdentityMap     bool `yaml:"disableIdentityMap"`
}

type S3Config struct {
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	PathStyle bool   `yaml:"pathStyle"`
}

type JournalConfig struct {
	Driver string   `yaml:"driver"`
	FSRoot string   `yaml:"fsRoot"`
	Prefix string   `yaml:"prefix"`
	S3     S3Config `yaml:"s3"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	Namespace string `yaml:"namespace"`
}

// Config is the complete settings tree.
type Config struct {
	Storage StorageConfig `yaml:"storage"`
	Session SessionConfig `yaml:"session"`
	Journal JournalConfig `yaml:"journal"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// Default returns the settings used when nothing overrides them.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{Driver: string(persistence.DriverSQLite), SQLitePath: "entitygraph.db", Fixture: "library"},
		Journal: JournalConfig{Driver: JournalNone, FSRoot: "./journal", Prefix: "journal"},
		Log:     LogConfig{Level: "info", Format: "text"},
		Metrics: MetricsConfig{Namespace: "entitygraph"},
	}
}

// Load overlays the YAML document in data on Default.
func Load(data io.Reader) (*Config, error) {
	buf, err := io.ReadAll(data)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(buf, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// LoadFile loads path, or returns Default when path is empty.
func LoadFile(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	f, err := os.Open(path) // #nosec G304 -- operator supplied config path
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return Load(f)
}

// ApplyEnv overrides settings from ENTITYGRAPH_* variables found by lookup
// (os.LookupEnv when nil).
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	strs := map[string]*string{
		persistence.EnvDriver:             &c.Storage.Driver,
		persistence.EnvSQLitePath:         &c.Storage.SQLitePath,
		persistence.EnvPostgresDSN:        &c.Storage.PostgresDSN,
		"ENTITYGRAPH_FIXTURE":             &c.Storage.Fixture,
		"ENTITYGRAPH_JOURNAL_DRIVER":      &c.Journal.Driver,
		"ENTITYGRAPH_JOURNAL_FS_ROOT":     &c.Journal.FSRoot,
		"ENTITYGRAPH_JOURNAL_PREFIX":      &c.Journal.Prefix,
		"ENTITYGRAPH_JOURNAL_S3_BUCKET":   &c.Journal.S3.Bucket,
		"ENTITYGRAPH_JOURNAL_S3_REGION":   &c.Journal.S3.Region,
		"ENTITYGRAPH_JOURNAL_S3_ENDPOINT": &c.Journal.S3.Endpoint,
		"ENTITYGRAPH_LOG_LEVEL":           &c.Log.Level,
		"ENTITYGRAPH_LOG_FORMAT":          &c.Log.Format,
		"ENTITYGRAPH_METRICS_NAMESPACE":   &c.Metrics.Namespace,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	bools := map[string]*bool{
		"ENTITYGRAPH_FORCE_ENTITY_CONSTRUCTOR": &c.Session.ForceEntityConstructor,
		"ENTITYGRAPH_ALLOW_GLOBAL_CONTEXT":     &c.Session.AllowGlobalContext,
		"ENTITYGRAPH_DISABLE_IDENTITY_MAP":     &c.Session.DisableIdentityMap,
		"ENTITYGRAPH_JOURNAL_S3_PATH_STYLE":    &c.Journal.S3.PathStyle,
	}
	var errs []error
	for key, dst := range bools {
		v, ok := lookup(key)
		if !ok {
			continue
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			continue
		}
		*dst = b
	}
	return errors.Join(errs...)
}

// Validate reports every inconsistent setting.
func (c *Config) Validate() error {
	var errs []error
	switch persistence.Driver(c.Storage.Driver) {
	case persistence.DriverMemory, persistence.DriverSQLite:
	case persistence.DriverPostgres:
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("storage.postgresDSN required for postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.Storage.Driver))
	}
	if !slices.Contains(fixtures.Sets(), c.Storage.Fixture) {
		errs = append(errs, fmt.Errorf("unknown fixture %q", c.Storage.Fixture))
	}
	switch c.Journal.Driver {
	case JournalNone, string(blob.DriverMemory), string(blob.DriverFilesystem):
	case string(blob.DriverS3):
		if c.Journal.S3.Bucket == "" {
			errs = append(errs, errors.New("journal.s3.bucket required for s3 driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown journal driver %q", c.Journal.Driver))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log level %q", c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// SessionOptions maps the session toggles onto core.Config.
func (c *Config) SessionOptions() core.Config {
	return core.Config{
		ForceEntityConstructor: c.Session.ForceEntityConstructor,
		AllowGlobalContext:     c.Session.AllowGlobalContext,
		DisableIdentityMap:     c.Session.DisableIdentityMap,
	}
}

// PersistenceOptions returns the store selection with ddl applied on open.
func (c *Config) PersistenceOptions(ddl string) persistence.Options {
	return persistence.Options{
		Driver:      persistence.Driver(c.Storage.Driver),
		SQLitePath:  c.Storage.SQLitePath,
		PostgresDSN: c.Storage.PostgresDSN,
		DDL:         ddl,
	}
}

// JournalEnabled reports whether a journal driver is configured.
func (c *Config) JournalEnabled() bool {
	return c.Journal.Driver != "" && c.Journal.Driver != JournalNone
}

// BlobOptions returns the journal archive backend selection.
func (c *Config) BlobOptions() blob.Options {
	return blob.Options{
		Driver: blob.Driver(c.Journal.Driver),
		FSRoot: c.Journal.FSRoot,
		S3: blob.S3Options{
			Bucket:    c.Journal.S3.Bucket,
			Region:    c.Journal.S3.Region,
			Endpoint:  c.Journal.S3.Endpoint,
			PathStyle: c.Journal.S3.PathStyle,
		},
	}
}
