package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyDefaults_ZeroConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "compounds", cfg.Search.MolDBName)
	assert.Equal(t, "molecules", cfg.Search.MolTableName)
	assert.Equal(t, "compound_id", cfg.Search.MolIDName)
	assert.Equal(t, "atompairs", cfg.Search.TorsionsTableName)
	assert.Equal(t, "torsionfp", cfg.Search.TorsionsColName)
	assert.Equal(t, "rdkitfps", cfg.Search.FpTableName)
	assert.Equal(t, "layeredfps", cfg.Search.LayeredTableName)
	assert.Empty(t, cfg.Search.FpColName)
	assert.Equal(t, "morganfps", cfg.Search.MorganFpTableName)
	assert.Equal(t, ",", cfg.Search.OutputDelim)
	assert.Equal(t, 20, cfg.Search.TopN)
	assert.Equal(t, "-", cfg.Search.OutFile)
	assert.Equal(t, "sdf", cfg.Search.MolFormat)
	assert.Equal(t, "_Name", cfg.Search.NameProp)
	assert.Equal(t, "RDK", cfg.Search.SimilarityType)
	assert.False(t, cfg.Search.NonChiralSmiles)
	assert.Equal(t, 7, cfg.Fingerprints.RDKMaxPath)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, "one", cfg.Kafka.RequiredAcks)
	require.NoError(t, cfg.Validate())
}

func TestApplyDefaults_KeepsExplicitValues(t *testing.T) {
	cfg := &Config{}
	cfg.Search.TopN = 5
	cfg.Search.OutputDelim = "\t"
	cfg.Database.Driver = "pgx"
	ApplyDefaults(cfg)

	assert.Equal(t, 5, cfg.Search.TopN)
	assert.Equal(t, "\t", cfg.Search.OutputDelim)
	assert.Equal(t, "pgx", cfg.Database.Driver)
}

func TestApplyDefaults_Nil(t *testing.T) {
	assert.NotPanics(t, func() { ApplyDefaults(nil) })
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"bad driver", func(c *Config) { c.Database.Driver = "mysql" }, "database.driver"},
		{"bad port", func(c *Config) { c.Database.Port = 70000 }, "database.port"},
		{"top_n zero", func(c *Config) { c.Search.TopN = -1 }, "search.top_n"},
		{"bad mol format", func(c *Config) { c.Search.MolFormat = "mol2" }, "search.mol_format"},
		{"both queries", func(c *Config) {
			c.Search.SmilesQuery = "CC"
			c.Search.SmartsQuery = "[#6]"
		}, "mutually exclusive"},
		{"bad similarity", func(c *Config) { c.Search.SimilarityType = "MACCS" }, "search.similarity_type"},
		{"pharm2d accepted", func(c *Config) { c.Search.SimilarityType = "Pharm2D" }, ""},
		{"bad rdk path", func(c *Config) { c.Fingerprints.RDKMaxPath = 0; c.Fingerprints.RDKMinPath = 3 }, "rdk_min_path"},
		{"cache needs redis", func(c *Config) {
			c.Search.Cache = true
			c.Redis.Addr = ""
		}, "redis.addr"},
		{"kafka topic without brokers", func(c *Config) { c.Kafka.Topic = "neighbors" }, "kafka.brokers"},
		{"kafka acks none accepted", func(c *Config) { c.Kafka.RequiredAcks = "none" }, ""},
		{"bad kafka acks", func(c *Config) { c.Kafka.RequiredAcks = "0" }, "kafka.required_acks"},
		{"bad log level", func(c *Config) { c.Log.Level = "trace" }, "log.level"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
