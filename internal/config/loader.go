package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// envPrefix is the environment variable prefix used by all searchdb settings.
const envPrefix = "SEARCHDB"

// configName is the base name looked up in the search paths.
const configName = "searchdb"

// DefaultSearchPaths lists the directories probed for searchdb.yaml when no
// explicit file is given.
func DefaultSearchPaths() []string {
	paths := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".searchdb"))
	}
	return append(paths, "/etc/searchdb")
}

var (
	globalMu  sync.RWMutex
	globalCfg *Config
)

// Get returns the Config produced by the last successful Load, or nil.
func Get() *Config {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalCfg
}

func setGlobal(cfg *Config) {
	globalMu.Lock()
	globalCfg = cfg
	globalMu.Unlock()
}

// LoadOption customises a Load call.
type LoadOption func(*loadOptions)

type loadOptions struct {
	configPath  string
	searchPaths []string
	flags       *pflag.FlagSet
	flagKeys    map[string]string
	overrides   map[string]interface{}
}

// WithConfigPath reads exactly this file.  A missing file is an error.
func WithConfigPath(path string) LoadOption {
	return func(o *loadOptions) { o.configPath = path }
}

// WithSearchPaths replaces the default search directories.  Each directory is
// probed for searchdb.yaml and config.yaml; finding none is not an error.
func WithSearchPaths(paths ...string) LoadOption {
	return func(o *loadOptions) { o.searchPaths = paths }
}

// WithFlags binds command-line flags to configuration keys.  keys maps a flag
// name to its dotted key; only flags the user actually set take precedence
// over environment and file values.
func WithFlags(fs *pflag.FlagSet, keys map[string]string) LoadOption {
	return func(o *loadOptions) {
		o.flags = fs
		o.flagKeys = keys
	}
}

// WithOverrides sets keys with the highest precedence.
func WithOverrides(values map[string]interface{}) LoadOption {
	return func(o *loadOptions) { o.overrides = values }
}

// newViper builds a pre-configured Viper instance: YAML file type, SEARCHDB_
// env prefix, automatic env binding and a "." → "_" key replacer so that
// "database.host" resolves to SEARCHDB_DATABASE_HOST.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	bindEnvKeys(v)
	return v
}

// bindEnvKeys registers every known key so that Unmarshal sees environment
// values even when the key appears in no config file.
func bindEnvKeys(v *viper.Viper) {
	for _, key := range knownKeys() {
		_ = v.BindEnv(key)
	}
}

// Load resolves the configuration with precedence
// overrides > flags > SEARCHDB_* env > file > defaults, then validates it.
func Load(opts ...LoadOption) (*Config, error) {
	o := &loadOptions{}
	for _, opt := range opts {
		opt(o)
	}

	v := newViper()
	if err := readConfigFile(v, o); err != nil {
		return nil, err
	}

	if o.flags != nil {
		for name, key := range o.flagKeys {
			f := o.flags.Lookup(name)
			if f == nil || !f.Changed {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("config: failed to bind flag %q: %w", name, err)
			}
		}
	}
	for k, val := range o.overrides {
		v.Set(k, val)
	}

	cfg, err := unmarshalAndFinalize(v)
	if err != nil {
		return nil, err
	}
	setGlobal(cfg)
	return cfg, nil
}

func readConfigFile(v *viper.Viper, o *loadOptions) error {
	if o.configPath != "" {
		v.SetConfigFile(o.configPath)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("config: failed to read config file %q: %w", o.configPath, err)
		}
		return nil
	}

	paths := o.searchPaths
	if paths == nil {
		paths = DefaultSearchPaths()
	}
	for _, dir := range paths {
		for _, name := range []string{configName + ".yaml", "config.yaml"} {
			candidate := filepath.Join(dir, name)
			if _, err := os.Stat(candidate); err != nil {
				continue
			}
			v.SetConfigFile(candidate)
			if err := v.ReadInConfig(); err != nil {
				return fmt.Errorf("config: failed to read config file %q: %w", candidate, err)
			}
			return nil
		}
	}
	return nil
}

// LoadFromFile is shorthand for Load(WithConfigPath(path)).
func LoadFromFile(path string) (*Config, error) {
	return Load(WithConfigPath(path))
}

// LoadFromEnv builds a Config from SEARCHDB_* environment variables and
// defaults only, without probing any config file.
//
//	SEARCHDB_<SECTION>_<FIELD>   e.g.  SEARCHDB_DATABASE_HOST, SEARCHDB_SEARCH_TOP_N
func LoadFromEnv() (*Config, error) {
	return Load(WithSearchPaths())
}

// MustLoad is Load that panics on error.
func MustLoad(opts ...LoadOption) *Config {
	cfg, err := Load(opts...)
	if err != nil {
		panic(fmt.Sprintf("config: MustLoad failed: %v", err))
	}
	return cfg
}

// unmarshalAndFinalize unmarshals viper state into a Config struct, applies
// defaults, and validates the result.
func unmarshalAndFinalize(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal configuration: %w", err)
	}

	ApplyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}
	return cfg, nil
}

func knownKeys() []string {
	return []string{
		"database.driver", "database.host", "database.port", "database.user", "database.password",
		"database.db_name", "database.ssl_mode", "database.max_open_conns", "database.max_idle_conns",
		"database.conn_max_lifetime", "database.conn_max_idle_time", "database.connect_timeout",
		"database.statement_timeout",

		"search.mol_db_name", "search.mol_table_name", "search.mol_id_name",
		"search.pair_db_name", "search.pair_table_name", "search.pair_col_name",
		"search.torsions_db_name", "search.torsions_table_name", "search.torsions_col_name",
		"search.fp_db_name", "search.fp_table_name", "search.layered_table_name", "search.fp_col_name",
		"search.morgan_fp_db_name", "search.morgan_fp_table_name", "search.morgan_fp_col_name",
		"search.pharm2d_table_name", "search.gobbi2d_table_name",
		"search.output_delim", "search.top_n", "search.out_file", "search.transpose", "search.mol_format",
		"search.name_prop", "search.smarts_query", "search.smiles_query", "search.negate_query",
		"search.prop_query", "search.sdf_out", "search.smiles_out", "search.nonchiral_smiles",
		"search.silent", "search.zip_mols", "search.similarity_type", "search.cache",

		"fingerprints.rdk_min_path", "fingerprints.rdk_max_path", "fingerprints.rdk_num_bits",
		"fingerprints.morgan_radius", "fingerprints.count_size", "fingerprints.atom_pair_max_dist",
		"fingerprints.layered_max_path", "fingerprints.layered_num_bits",

		"redis.addr", "redis.password", "redis.db", "redis.pool_size", "redis.dial_timeout",
		"redis.read_timeout", "redis.write_timeout", "redis.default_ttl", "redis.key_prefix",

		"minio.endpoint", "minio.access_key", "minio.secret_key", "minio.use_ssl", "minio.region",

		"kafka.brokers", "kafka.topic", "kafka.batch_size", "kafka.batch_timeout",
		"kafka.write_timeout", "kafka.required_acks",

		"metrics.namespace", "metrics.pushgateway_url", "metrics.job",

		"log.level", "log.format",
	}
}
