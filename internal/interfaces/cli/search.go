package cli

import (
	"context"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/GUI0609/rdkit/internal/application/search"
	"github.com/GUI0609/rdkit/internal/config"
	"github.com/GUI0609/rdkit/internal/infrastructure/database/postgres"
	"github.com/GUI0609/rdkit/internal/infrastructure/database/postgres/repositories"
	"github.com/GUI0609/rdkit/internal/infrastructure/database/redis"
	"github.com/GUI0609/rdkit/internal/infrastructure/messaging/kafka"
	"github.com/GUI0609/rdkit/internal/infrastructure/monitoring/logging"
	"github.com/GUI0609/rdkit/internal/infrastructure/monitoring/prometheus"
	"github.com/GUI0609/rdkit/internal/infrastructure/storage/minio"
)

// searchFlagKeys maps each search flag to its configuration key.
var searchFlagKeys = map[string]string{
	"mol-db-name":          "search.mol_db_name",
	"mol-table-name":       "search.mol_table_name",
	"mol-id-name":          "search.mol_id_name",
	"pair-db-name":         "search.pair_db_name",
	"pair-table-name":      "search.pair_table_name",
	"pair-col-name":        "search.pair_col_name",
	"torsions-db-name":     "search.torsions_db_name",
	"torsions-table-name":  "search.torsions_table_name",
	"torsions-col-name":    "search.torsions_col_name",
	"fp-db-name":           "search.fp_db_name",
	"fp-table-name":        "search.fp_table_name",
	"layered-table-name":   "search.layered_table_name",
	"fp-col-name":          "search.fp_col_name",
	"morgan-fp-db-name":    "search.morgan_fp_db_name",
	"morgan-fp-table-name": "search.morgan_fp_table_name",
	"morgan-fp-col-name":   "search.morgan_fp_col_name",
	"pharm2d-table-name":   "search.pharm2d_table_name",
	"gobbi2d-table-name":   "search.gobbi2d_table_name",
	"output-delim":         "search.output_delim",
	"top-n":                "search.top_n",
	"out-file":             "search.out_file",
	"transpose":            "search.transpose",
	"mol-format":           "search.mol_format",
	"name-prop":            "search.name_prop",
	"smarts-query":         "search.smarts_query",
	"smiles-query":         "search.smiles_query",
	"negate-query":         "search.negate_query",
	"prop-query":           "search.prop_query",
	"sdf-out":              "search.sdf_out",
	"smiles-out":           "search.smiles_out",
	"nonchiral-smiles":     "search.nonchiral_smiles",
	"silent":               "search.silent",
	"zip-mols":             "search.zip_mols",
	"similarity-type":      "search.similarity_type",
	"cache":                "search.cache",
}

// searchFlagAliases holds the short spellings that do not follow from the
// canonical names.
var searchFlagAliases = map[string]string{
	"regname": "mol-table-name",
	"outf":    "out-file",
	"smarts":  "smarts-query",
	"sma":     "smarts-query",
	"smiles":  "smiles-query",
	"smi":     "smiles-query",
	"negate":  "negate-query",
	"query":   "prop-query",
	"sdout":   "sdf-out",
	"smiout":  "smiles-out",
	"zip":     "zip-mols",
	"simtype": "similarity-type",
	"sim":     "similarity-type",
}

func flagKey(name string) string {
	return strings.ToLower(strings.NewReplacer("-", "", "_", "").Replace(name))
}

// normalizeSearchFlag accepts every flag in kebab or camel case (--top-n,
// --topN) plus the aliases above.
func normalizeSearchFlag(_ *pflag.FlagSet, name string) pflag.NormalizedName {
	key := flagKey(name)
	if canonical, ok := searchFlagAliases[key]; ok {
		return pflag.NormalizedName(canonical)
	}
	for canonical := range searchFlagKeys {
		if flagKey(canonical) == key {
			return pflag.NormalizedName(canonical)
		}
	}
	return pflag.NormalizedName(name)
}

// searchApp is a wired search service plus the resources it holds.
type searchApp struct {
	service   search.Service
	collector prometheus.MetricsCollector
	closers   []func() error
}

// Close releases the app's resources in reverse order of acquisition.
func (a *searchApp) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// newSearchApp builds the search service; tests replace it.
var newSearchApp = buildSearchApp

// NewSearchCmd creates the search command.
func NewSearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search [query-file]",
		Short: "Find database neighbors of query molecules or filter the database",
		Long: "Reads query molecules from an SD or SMILES file and reports the top-N most\n" +
			"similar database molecules for each.  A property condition (--query) or a\n" +
			"substructure query (--smarts, --smiles) restricts the searched molecules;\n" +
			"without a query file the matching ids are printed instead.",
		Args: cobra.MaximumNArgs(1),
		RunE: runSearch,
	}

	fs := cmd.Flags()
	fs.SetNormalizeFunc(normalizeSearchFlag)

	fs.String("mol-db-name", config.DefaultMolDBName, "schema of the molecule table")
	fs.String("mol-table-name", config.DefaultMolTableName, "molecule table")
	fs.String("mol-id-name", config.DefaultMolIDName, "molecule id column")
	fs.String("pair-db-name", config.DefaultPairDBName, "schema of the atom-pair table")
	fs.String("pair-table-name", config.DefaultPairTableName, "atom-pair fingerprint table")
	fs.String("pair-col-name", config.DefaultPairColName, "atom-pair fingerprint column")
	fs.String("torsions-db-name", config.DefaultPairDBName, "schema of the torsion table")
	fs.String("torsions-table-name", config.DefaultPairTableName, "topological torsion fingerprint table")
	fs.String("torsions-col-name", config.DefaultTorsionsColName, "topological torsion fingerprint column")
	fs.String("fp-db-name", config.DefaultFpDBName, "schema of the RDK fingerprint tables")
	fs.String("fp-table-name", config.DefaultFpTableName, "RDK fingerprint table")
	fs.String("layered-table-name", config.DefaultLayeredTableName, "layered screen fingerprint table")
	fs.String("fp-col-name", "", "RDK fingerprint column (default rdkfp)")
	fs.String("morgan-fp-db-name", config.DefaultFpDBName, "schema of the Morgan fingerprint table")
	fs.String("morgan-fp-table-name", config.DefaultMorganFpTableName, "Morgan fingerprint table")
	fs.String("morgan-fp-col-name", config.DefaultMorganFpColName, "Morgan fingerprint column")
	fs.String("pharm2d-table-name", config.DefaultPharm2DTableName, "2D pharmacophore fingerprint table")
	fs.String("gobbi2d-table-name", config.DefaultGobbi2DTableName, "Gobbi 2D pharmacophore fingerprint table")

	fs.String("output-delim", config.DefaultOutputDelim, "delimiter for neighbor output")
	fs.Int("top-n", config.DefaultTopN, "number of neighbors to keep per query molecule")
	fs.String("out-file", config.DefaultOutFile, "neighbor output file, - for stdout, s3://bucket/key for object storage")
	fs.Bool("transpose", false, "write one column pair per query molecule")
	fs.String("mol-format", config.DefaultMolFormat, "query file format: sdf or smiles")
	fs.String("name-prop", config.DefaultNameProp, "SD property holding the query name, _Name for the title line")
	fs.String("smarts-query", "", "SMARTS substructure query")
	fs.String("smiles-query", "", "SMILES substructure query")
	fs.Bool("negate-query", false, "keep molecules that do not match the substructure query")
	fs.StringP("prop-query", "q", "", "SQL condition on the molecule table")
	fs.String("sdf-out", "", "write matching molecules to this SD file")
	fs.String("smiles-out", "", "write matching molecules to this SMILES file")
	fs.Bool("nonchiral-smiles", false, "strip stereochemistry from exported SMILES")
	fs.Bool("silent", false, "suppress progress logging")
	fs.Bool("zip-mols", false, "stored molecules are zlib-compressed")
	fs.String("similarity-type", config.DefaultSimilarityType,
		"fingerprint type: "+strings.Join(config.SimilarityTypes, ", "))
	fs.Bool("cache", false, "cache filter hit lists in Redis")

	return cmd
}

func runSearch(cmd *cobra.Command, args []string) error {
	cliCtx, err := GetCLIContext(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := commandContext(cmd, cliCtx)
	defer cancel()
	log := cliCtx.Logger.Named("search")

	var req search.Request
	if len(args) == 1 {
		req.QueryFile = args[0]
	}

	app, err := newSearchApp(ctx, cliCtx.Config, log, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := app.Close(); cerr != nil {
			log.Warn("failed to release search resources", logging.Err(cerr))
		}
	}()

	res, err := app.service.Run(ctx, req)
	pushMetrics(ctx, app.collector, cliCtx.Config.Metrics, log)
	if err != nil {
		return err
	}

	log.Info("search complete",
		logging.String("run_id", res.RunID),
		logging.Int("probes", res.Probes),
		logging.Int("filter_hits", len(res.FilterIDs)),
		logging.Int64("rows_scanned", res.Scan.Rows),
		logging.Int64("rows_degraded", res.Scan.Degraded),
		logging.Int("exported", res.Exported),
		logging.Int("published", res.Published),
		logging.Duration("took", res.Duration))
	return nil
}

// pushMetrics sends the run's metrics to the Pushgateway, if configured.
// A failed push is logged only.
func pushMetrics(ctx context.Context, collector prometheus.MetricsCollector, cfg config.MetricsConfig, log logging.Logger) {
	if collector == nil || cfg.PushgatewayURL == "" {
		return
	}
	if err := collector.Push(ctx, cfg.PushgatewayURL, cfg.Job); err != nil {
		log.Warn("failed to push metrics", logging.String("url", cfg.PushgatewayURL), logging.Err(err))
	}
}

// buildSearchApp connects to every configured backend and wires the search
// service.  Redis, MinIO and Kafka are only contacted when configured.
func buildSearchApp(ctx context.Context, cfg *config.Config, log logging.Logger, stdout io.Writer) (*searchApp, error) {
	app := &searchApp{}
	wired := false
	defer func() {
		if !wired {
			_ = app.Close()
		}
	}()

	collector, err := prometheus.NewMetricsCollector(prometheus.CollectorConfig{Namespace: cfg.Metrics.Namespace}, log)
	if err != nil {
		return nil, err
	}
	app.collector = collector

	conn, err := postgres.NewConnection(ctx, cfg.Database, log)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, conn.Close)

	deps := search.Deps{
		Options:      cfg.Search,
		Fingerprints: cfg.Fingerprints,
		Molecules:    search.NewMoleculeStore(repositories.NewMoleculeRepository(conn, log)),
		Pools:        search.NewFingerprintStore(repositories.NewFingerprintRepository(conn, log)),
		Metrics:      prometheus.NewSearchMetrics(collector),
		Logger:       log,
		Stdout:       stdout,
	}

	if cfg.Search.Cache {
		client, err := redis.NewClient(ctx, cfg.Redis, log)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, client.Close)
		deps.Cache = redis.NewHitListCache(client, log,
			redis.WithPrefix(cfg.Redis.KeyPrefix), redis.WithDefaultTTL(cfg.Redis.DefaultTTL))
	}

	if cfg.MinIO.Endpoint != "" {
		uploader, err := minio.NewUploader(cfg.MinIO, log)
		if err != nil {
			return nil, err
		}
		deps.Uploader = uploader
	}

	if cfg.Kafka.Topic != "" {
		producer, err := kafka.NewProducer(cfg.Kafka, log)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, producer.Close)
		deps.Publisher = producer
	}

	if app.service, err = search.NewService(deps); err != nil {
		return nil, err
	}
	wired = true
	return app, nil
}
