// Package config defines the configuration structures for searchdb.  No I/O
// or parsing logic lives here, only plain data types and validation.
package config

import (
	"fmt"
	"strings"
	"time"
)

// ─────────────────────────────────────────────────────────────────────────────
// Sub-configuration structs
// ─────────────────────────────────────────────────────────────────────────────

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	// Driver selects the database/sql driver: "postgres" (lib/pq) or "pgx".
	Driver           string        `mapstructure:"driver"`
	Host             string        `mapstructure:"host"`
	Port             int           `mapstructure:"port"`
	User             string        `mapstructure:"user"`
	Password         string        `mapstructure:"password"`
	DBName           string        `mapstructure:"db_name"`
	SSLMode          string        `mapstructure:"ssl_mode"`
	MaxOpenConns     int           `mapstructure:"max_open_conns"`
	MaxIdleConns     int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime  time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime  time.Duration `mapstructure:"conn_max_idle_time"`
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout"`
	StatementTimeout time.Duration `mapstructure:"statement_timeout"`
}

// SearchConfig carries every option of a search run.  The "db names" are
// PostgreSQL schema names.
type SearchConfig struct {
	MolDBName    string `mapstructure:"mol_db_name"`
	MolTableName string `mapstructure:"mol_table_name"`
	MolIDName    string `mapstructure:"mol_id_name"`

	PairDBName    string `mapstructure:"pair_db_name"`
	PairTableName string `mapstructure:"pair_table_name"`
	PairColName   string `mapstructure:"pair_col_name"`

	TorsionsDBName    string `mapstructure:"torsions_db_name"`
	TorsionsTableName string `mapstructure:"torsions_table_name"`
	TorsionsColName   string `mapstructure:"torsions_col_name"`

	FpDBName         string `mapstructure:"fp_db_name"`
	FpTableName      string `mapstructure:"fp_table_name"`
	LayeredTableName string `mapstructure:"layered_table_name"`
	FpColName        string `mapstructure:"fp_col_name"`

	MorganFpDBName    string `mapstructure:"morgan_fp_db_name"`
	MorganFpTableName string `mapstructure:"morgan_fp_table_name"`
	MorganFpColName   string `mapstructure:"morgan_fp_col_name"`

	Pharm2DTableName string `mapstructure:"pharm2d_table_name"`
	Gobbi2DTableName string `mapstructure:"gobbi2d_table_name"`

	OutputDelim     string `mapstructure:"output_delim"`
	TopN            int    `mapstructure:"top_n"`
	OutFile         string `mapstructure:"out_file"`
	Transpose       bool   `mapstructure:"transpose"`
	MolFormat       string `mapstructure:"mol_format"`
	NameProp        string `mapstructure:"name_prop"`
	SmartsQuery     string `mapstructure:"smarts_query"`
	SmilesQuery     string `mapstructure:"smiles_query"`
	NegateQuery     bool   `mapstructure:"negate_query"`
	PropQuery       string `mapstructure:"prop_query"`
	SDFOut          string `mapstructure:"sdf_out"`
	SmilesOut       string `mapstructure:"smiles_out"`
	NonChiralSmiles bool   `mapstructure:"nonchiral_smiles"`
	Silent          bool   `mapstructure:"silent"`
	ZipMols         bool   `mapstructure:"zip_mols"`
	SimilarityType  string `mapstructure:"similarity_type"`

	// Cache stores substructure and property hit lists in Redis.
	Cache bool `mapstructure:"cache"`
}

// FingerprintConfig holds the parameters of the built-in fingerprint
// builders.  Query-side fingerprints must be built with the parameters that
// filled the database.
type FingerprintConfig struct {
	RDKMinPath      int `mapstructure:"rdk_min_path"`
	RDKMaxPath      int `mapstructure:"rdk_max_path"`
	RDKNumBits      int `mapstructure:"rdk_num_bits"`
	MorganRadius    int `mapstructure:"morgan_radius"`
	CountSize       int `mapstructure:"count_size"`
	AtomPairMaxDist int `mapstructure:"atom_pair_max_dist"`
	LayeredMaxPath  int `mapstructure:"layered_max_path"`
	LayeredNumBits  int `mapstructure:"layered_num_bits"`
}

// RedisConfig holds Redis connection parameters for the hit-list cache.
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	DefaultTTL   time.Duration `mapstructure:"default_ttl"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
}

// MinIOConfig holds MinIO / S3-compatible object-storage parameters used for
// s3:// output paths.
type MinIOConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Region    string `mapstructure:"region"`
}

// KafkaConfig holds the neighbor-list publisher parameters.  Publishing is
// off while Topic is empty.
type KafkaConfig struct {
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	RequiredAcks string        `mapstructure:"required_acks"` // none, one or all
}

// MetricsConfig controls the Prometheus search metrics.
type MetricsConfig struct {
	Namespace      string `mapstructure:"namespace"`
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	Job            string `mapstructure:"job"`
}

// LogConfig holds structured-logging parameters.
type LogConfig struct {
	Level  string `mapstructure:"level"`  // "debug" | "info" | "warn" | "error"
	Format string `mapstructure:"format"` // "json" | "console"
}

// ─────────────────────────────────────────────────────────────────────────────
// Root Config
// ─────────────────────────────────────────────────────────────────────────────

// Config is the root configuration structure.
type Config struct {
	Database     DatabaseConfig    `mapstructure:"database"`
	Search       SearchConfig      `mapstructure:"search"`
	Fingerprints FingerprintConfig `mapstructure:"fingerprints"`
	Redis        RedisConfig       `mapstructure:"redis"`
	MinIO        MinIOConfig       `mapstructure:"minio"`
	Kafka        KafkaConfig       `mapstructure:"kafka"`
	Metrics      MetricsConfig     `mapstructure:"metrics"`
	Log          LogConfig         `mapstructure:"log"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Validation
// ─────────────────────────────────────────────────────────────────────────────

// Validate performs semantic validation of the fully-populated Config and
// returns the first problem found.
func (c *Config) Validate() error {
	// Database
	switch c.Database.Driver {
	case "postgres", "pgx":
	default:
		return fmt.Errorf("config: database.driver %q is invalid; expected postgres|pgx", c.Database.Driver)
	}
	if c.Database.Host == "" {
		return fmt.Errorf("config: database.host is required")
	}
	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("config: database.port %d is out of range [1, 65535]", c.Database.Port)
	}
	if c.Database.DBName == "" {
		return fmt.Errorf("config: database.db_name is required")
	}
	if c.Database.MaxOpenConns < 1 {
		return fmt.Errorf("config: database.max_open_conns must be ≥ 1, got %d", c.Database.MaxOpenConns)
	}

	// Search
	s := c.Search
	if s.TopN < 1 {
		return fmt.Errorf("config: search.top_n must be ≥ 1, got %d", s.TopN)
	}
	switch s.MolFormat {
	case "sdf", "smiles":
	default:
		return fmt.Errorf("config: search.mol_format %q is invalid; expected sdf|smiles", s.MolFormat)
	}
	if s.OutputDelim == "" {
		return fmt.Errorf("config: search.output_delim must not be empty")
	}
	if s.MolIDName == "" {
		return fmt.Errorf("config: search.mol_id_name is required")
	}
	if s.SmilesQuery != "" && s.SmartsQuery != "" {
		return fmt.Errorf("config: search.smiles_query and search.smarts_query are mutually exclusive")
	}
	if !isSimilarityType(s.SimilarityType) {
		return fmt.Errorf("config: search.similarity_type %q is invalid; expected one of %s",
			s.SimilarityType, strings.Join(SimilarityTypes, "|"))
	}

	// Fingerprints
	f := c.Fingerprints
	if f.RDKMinPath < 1 || f.RDKMaxPath < f.RDKMinPath {
		return fmt.Errorf("config: fingerprints.rdk_min_path/rdk_max_path %d/%d are invalid", f.RDKMinPath, f.RDKMaxPath)
	}
	if f.RDKNumBits < 1 || f.CountSize < 1 || f.LayeredNumBits < 1 {
		return fmt.Errorf("config: fingerprint sizes must be ≥ 1")
	}

	// Redis
	if c.Search.Cache && c.Redis.Addr == "" {
		return fmt.Errorf("config: redis.addr is required when search.cache is enabled")
	}
	if c.Redis.DB < 0 {
		return fmt.Errorf("config: redis.db must be ≥ 0, got %d", c.Redis.DB)
	}

	// Kafka
	if c.Kafka.Topic != "" && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("config: kafka.brokers must contain at least one broker when kafka.topic is set")
	}
	switch c.Kafka.RequiredAcks {
	case "none", "one", "all":
	default:
		return fmt.Errorf("config: kafka.required_acks %q is invalid; expected none|one|all", c.Kafka.RequiredAcks)
	}

	// Log
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: log.level %q is invalid; expected debug|info|warn|error", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("config: log.format %q is invalid; expected json|console", c.Log.Format)
	}

	return nil
}

// SimilarityTypes lists the recognised values of search.similarity_type.
var SimilarityTypes = []string{"AtomPairs", "TopologicalTorsions", "RDK", "Pharm2D", "Gobbi2D", "Morgan"}

func isSimilarityType(s string) bool {
	for _, t := range SimilarityTypes {
		if t == s {
			return true
		}
	}
	return false
}
