package config

import "time"

// ─────────────────────────────────────────────────────────────────────────────
// Default value constants
// ─────────────────────────────────────────────────────────────────────────────

const (
	DefaultDBDriver       = "postgres"
	DefaultDBHost         = "localhost"
	DefaultDBPort         = 5432
	DefaultDBName         = "rdk_db"
	DefaultDBMaxOpenConns = 4

	DefaultMolDBName         = "compounds"
	DefaultMolTableName      = "molecules"
	DefaultMolIDName         = "compound_id"
	DefaultPairDBName        = "atompairs"
	DefaultPairTableName     = "atompairs"
	DefaultPairColName       = "atompairfp"
	DefaultTorsionsColName   = "torsionfp"
	DefaultFpDBName          = "fingerprints"
	DefaultFpTableName       = "rdkitfps"
	DefaultLayeredTableName  = "layeredfps"
	DefaultMorganFpTableName = "morganfps"
	DefaultMorganFpColName   = "morganfp"
	DefaultPharm2DTableName  = "pharm2dfps"
	DefaultGobbi2DTableName  = "gobbi2dfps"

	DefaultOutputDelim    = ","
	DefaultTopN           = 20
	DefaultOutFile        = "-"
	DefaultMolFormat      = "sdf"
	DefaultNameProp       = "_Name"
	DefaultSimilarityType = "RDK"

	DefaultRedisAddr   = "localhost:6379"
	DefaultRedisTTL    = time.Hour
	DefaultRedisPrefix = "searchdb:"

	DefaultMetricsNamespace = "searchdb"
	DefaultMetricsJob       = "searchdb"

	DefaultLogLevel  = "info"
	DefaultLogFormat = "console"
)

// ApplyDefaults fills every zero-value field in cfg with its default.  Fields
// already set (non-zero) are left unchanged so that explicit configuration
// always wins.  Booleans default to false and are not touched.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}

	// ── Database ──────────────────────────────────────────────────────────────
	db := &cfg.Database
	setString(&db.Driver, DefaultDBDriver)
	setString(&db.Host, DefaultDBHost)
	setInt(&db.Port, DefaultDBPort)
	setString(&db.DBName, DefaultDBName)
	setString(&db.SSLMode, "disable")
	setInt(&db.MaxOpenConns, DefaultDBMaxOpenConns)
	setInt(&db.MaxIdleConns, 2)
	setDuration(&db.ConnMaxLifetime, 30*time.Minute)
	setDuration(&db.ConnectTimeout, 10*time.Second)

	// ── Search ────────────────────────────────────────────────────────────────
	s := &cfg.Search
	setString(&s.MolDBName, DefaultMolDBName)
	setString(&s.MolTableName, DefaultMolTableName)
	setString(&s.MolIDName, DefaultMolIDName)
	setString(&s.PairDBName, DefaultPairDBName)
	setString(&s.PairTableName, DefaultPairTableName)
	setString(&s.PairColName, DefaultPairColName)
	setString(&s.TorsionsDBName, DefaultPairDBName)
	setString(&s.TorsionsTableName, DefaultPairTableName)
	setString(&s.TorsionsColName, DefaultTorsionsColName)
	setString(&s.FpDBName, DefaultFpDBName)
	setString(&s.FpTableName, DefaultFpTableName)
	setString(&s.LayeredTableName, DefaultLayeredTableName)
	setString(&s.MorganFpDBName, DefaultFpDBName)
	setString(&s.MorganFpTableName, DefaultMorganFpTableName)
	setString(&s.MorganFpColName, DefaultMorganFpColName)
	setString(&s.Pharm2DTableName, DefaultPharm2DTableName)
	setString(&s.Gobbi2DTableName, DefaultGobbi2DTableName)
	setString(&s.OutputDelim, DefaultOutputDelim)
	setInt(&s.TopN, DefaultTopN)
	setString(&s.OutFile, DefaultOutFile)
	setString(&s.MolFormat, DefaultMolFormat)
	setString(&s.NameProp, DefaultNameProp)
	setString(&s.SimilarityType, DefaultSimilarityType)
	// FpColName stays empty: its default depends on the similarity type.

	// ── Fingerprints ──────────────────────────────────────────────────────────
	f := &cfg.Fingerprints
	setInt(&f.RDKMinPath, 1)
	setInt(&f.RDKMaxPath, 7)
	setInt(&f.RDKNumBits, 2048)
	setInt(&f.MorganRadius, 2)
	setInt(&f.CountSize, 2048)
	setInt(&f.AtomPairMaxDist, 30)
	setInt(&f.LayeredMaxPath, 5)
	setInt(&f.LayeredNumBits, 2048)

	// ── Redis ─────────────────────────────────────────────────────────────────
	setString(&cfg.Redis.Addr, DefaultRedisAddr)
	setDuration(&cfg.Redis.DefaultTTL, DefaultRedisTTL)
	setString(&cfg.Redis.KeyPrefix, DefaultRedisPrefix)
	setDuration(&cfg.Redis.DialTimeout, 5*time.Second)

	// ── Kafka ─────────────────────────────────────────────────────────────────
	setInt(&cfg.Kafka.BatchSize, 100)
	setDuration(&cfg.Kafka.BatchTimeout, time.Second)
	setDuration(&cfg.Kafka.WriteTimeout, 10*time.Second)
	setString(&cfg.Kafka.RequiredAcks, "one")

	// ── Metrics ───────────────────────────────────────────────────────────────
	setString(&cfg.Metrics.Namespace, DefaultMetricsNamespace)
	setString(&cfg.Metrics.Job, DefaultMetricsJob)

	// ── Log ───────────────────────────────────────────────────────────────────
	setString(&cfg.Log.Level, DefaultLogLevel)
	setString(&cfg.Log.Format, DefaultLogFormat)
}

// NewDefaultConfig returns a Config populated only with defaults.
func NewDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

func setString(p *string, v string) {
	if *p == "" {
		*p = v
	}
}

func setInt(p *int, v int) {
	if *p == 0 {
		*p = v
	}
}

func setDuration(p *time.Duration, v time.Duration) {
	if *p == 0 {
		*p = v
	}
}
