// Command litscout is the CLI entry point for LitScout's ingestion,
// enrichment, embedding, and search operations.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/thisismudith/litscout/internal/config"
	"github.com/thisismudith/litscout/internal/embedpipeline"
	"github.com/thisismudith/litscout/internal/health"
	"github.com/thisismudith/litscout/internal/ingestion"
	"github.com/thisismudith/litscout/internal/observe"
	"github.com/thisismudith/litscout/internal/search"
	"github.com/thisismudith/litscout/pkg/provider/encoder/local"
	"github.com/thisismudith/litscout/pkg/provider/openalex"
	"github.com/thisismudith/litscout/pkg/store/postgres"
	"github.com/thisismudith/litscout/pkg/types"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		usage()
		return 1
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "litscout: %v\n", err)
		return 1
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	shutdown, err := observe.InitProvider(context.Background(), observe.ProviderConfig{ServiceName: "litscout"})
	if err != nil {
		logger.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			logger.Error("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch args[0] {
	case "db":
		return runDB(args[1:])
	case "ingest":
		return runIngest(ctx, cfg, logger, metrics, args[1:])
	case "enrich":
		return runEnrich(ctx, cfg, logger, metrics, args[1:])
	case "embed":
		return runEmbed(ctx, cfg, logger, metrics, args[1:])
	case "search":
		return runSearch(ctx, cfg, logger, args[1:])
	case "doctor":
		return runDoctor(ctx, cfg, logger)
	default:
		fmt.Fprintf(os.Stderr, "litscout: unknown command %q\n", args[0])
		usage()
		return 1
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: litscout <command> [flags]

commands:
  db {start,stop,init}           database lifecycle (managed externally)
  ingest openalex                crawl a single concept's works
  ingest openalex-multi          crawl works for a set of field names
  enrich                         refresh concept/author/paper detail records
  embed {papers,concepts}        materialize embeddings for unembedded rows
  search {papers,concepts,hybrid} run a search query
  doctor                          check store/encoder/provider reachability`)
}

// ── doctor ────────────────────────────────────────────────────────────────

func runDoctor(ctx context.Context, cfg *config.Config, logger *slog.Logger) int {
	enc := newEncoder(cfg)
	st, err := openStore(ctx, cfg, enc)
	if err != nil {
		logger.Error(err.Error())
		return 1
	}
	client := newProviderClient(cfg)

	runner := health.NewRunner(
		health.Checker{Name: "database", Check: st.Ping},
		health.Checker{Name: "encoder", Check: func(ctx context.Context) error {
			_, err := enc.Encode(ctx, "litscout doctor probe")
			return err
		}},
		health.Checker{Name: "provider", Check: func(ctx context.Context) error {
			_, err := client.SearchConcepts(ctx, "machine learning", 1)
			return err
		}},
	)

	report := runner.Run(ctx)
	for _, res := range report.Results {
		if res.OK {
			fmt.Printf("%-10s ok\n", res.Name)
		} else {
			fmt.Printf("%-10s fail: %s\n", res.Name, res.Err)
		}
	}
	if !report.OK {
		return 1
	}
	return 0
}

// ── db ──────────────────────────────────────────────────────────────────────

func runDB(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "litscout: db requires a subcommand: start, stop, init")
		return 1
	}
	switch args[0] {
	case "start", "stop", "init", "init-F":
		fmt.Fprintf(os.Stderr, "litscout: db %s: the database is managed externally; point DB_HOST/DB_PORT at a running PostgreSQL instance\n", args[0])
		return 1
	default:
		fmt.Fprintf(os.Stderr, "litscout: db: unknown subcommand %q\n", args[0])
		return 1
	}
}

// ── shared wiring ─────────────────────────────────────────────────────────

func openStore(ctx context.Context, cfg *config.Config, enc *local.Encoder) (*postgres.Store, error) {
	st, err := postgres.NewStore(ctx, cfg.DSN(), enc.Dimensions())
	if err != nil {
		return nil, fmt.Errorf("litscout: connect to store: %w", err)
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("litscout: migrate store: %w", err)
	}
	return st, nil
}

func newEncoder(cfg *config.Config) *local.Encoder {
	return local.New(cfg.Encoder.BaseURL, cfg.Encoder.ModelLabel)
}

func newProviderClient(cfg *config.Config) *openalex.Client {
	return openalex.New(cfg.Provider.BaseURL)
}

// ── ingest ──────────────────────────────────────────────────────────────────

func runIngest(ctx context.Context, cfg *config.Config, logger *slog.Logger, metrics *observe.Metrics, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "litscout: ingest requires a subcommand: openalex, openalex-multi")
		return 1
	}

	enc := newEncoder(cfg)
	st, err := openStore(ctx, cfg, enc)
	if err != nil {
		logger.Error(err.Error())
		return 1
	}
	client := newProviderClient(cfg)

	switch args[0] {
	case "openalex":
		fs := flag.NewFlagSet("ingest openalex", flag.ExitOnError)
		conceptID := fs.String("concept-id", "", "OpenAlex concept id to crawl")
		pages := fs.Int("pages", 1, "number of work pages to fetch")
		verify := fs.Bool("verify", false, "run an enrichment pass over existing papers after ingesting")
		maxWorkers := fs.Int("max-workers", 0, "worker pool cap (0 = auto)")
		fs.Parse(args[1:])

		if *conceptID == "" {
			fmt.Fprintln(os.Stderr, "litscout: ingest openalex: --concept-id is required")
			return 1
		}

		opts := ingestion.Options{MaxWorkers: *maxWorkers, Metrics: metrics, Logger: logger}
		res, err := ingestion.IngestConcepts(ctx, st, client, []string{*conceptID}, *pages, opts)
		if err != nil {
			logger.Error("ingest openalex failed", "err", err)
			return 1
		}
		printResult("ingest openalex", res)

		if *verify {
			vres, err := ingestion.EnrichPapers(ctx, st, client, nil, opts)
			if err != nil {
				logger.Error("verify pass failed", "err", err)
				return 1
			}
			printResult("ingest openalex --verify", vres)
		}
		return 0

	case "openalex-multi":
		fs := flag.NewFlagSet("ingest openalex-multi", flag.ExitOnError)
		fields := fs.String("fields", "", "comma-separated field names to resolve to concepts")
		pages := fs.Int("pages", 1, "number of work pages to fetch per concept")
		skipExisting := fs.Bool("skip-existing", false, "skip concepts already fully ingested")
		perFieldLimit := fs.Int("per-field-limit", 1, "candidate concepts considered per field before picking the broadest")
		maxWorkers := fs.Int("max-workers", 0, "worker pool cap (0 = auto)")
		fs.Parse(args[1:])

		if *fields == "" {
			fmt.Fprintln(os.Stderr, "litscout: ingest openalex-multi: --fields is required")
			return 1
		}

		conceptIDs, err := ingestion.ResolveConceptsForFields(ctx, client, splitCSV(*fields), *perFieldLimit)
		if err != nil {
			logger.Error("resolve fields to concepts failed", "err", err)
			return 1
		}

		opts := ingestion.Options{MaxWorkers: *maxWorkers, SkipExisting: *skipExisting, Metrics: metrics, Logger: logger}
		res, err := ingestion.IngestConcepts(ctx, st, client, conceptIDs, *pages, opts)
		if err != nil {
			logger.Error("ingest openalex-multi failed", "err", err)
			return 1
		}
		printResult("ingest openalex-multi", res)

		srcOpts := ingestion.Options{MaxWorkers: *maxWorkers, Metrics: metrics, Logger: logger}
		if _, err := ingestion.IngestSourcesFromPapers(ctx, st, client, 200, *maxWorkers, srcOpts); err != nil {
			logger.Error("source backfill failed", "err", err)
			return 1
		}
		if _, err := ingestion.BackfillPaperSources(ctx, st, client, 200, *maxWorkers, srcOpts); err != nil {
			logger.Error("paper source backfill failed", "err", err)
			return 1
		}
		return 0

	default:
		fmt.Fprintf(os.Stderr, "litscout: ingest: unknown subcommand %q\n", args[0])
		return 1
	}
}

// ── enrich ────────────────────────────────────────────────────────────────

func runEnrich(ctx context.Context, cfg *config.Config, logger *slog.Logger, metrics *observe.Metrics, args []string) int {
	fs := flag.NewFlagSet("enrich", flag.ExitOnError)
	authors := fs.Bool("authors", false, "refresh every author's detail record")
	papers := fs.Bool("papers", false, "refresh every paper's title/abstract/concepts")
	concepts := fs.Bool("concepts", false, "refresh every concept's detail record")
	conceptIDs := fs.String("concept-ids", "", "comma-separated concept ids restricting --papers to tagged papers")
	maxWorkers := fs.Int("max-workers", 0, "worker pool cap (0 = auto)")
	fs.Parse(args)

	if !*authors && !*papers && !*concepts {
		fmt.Fprintln(os.Stderr, "litscout: enrich: at least one of --authors, --papers, --concepts is required")
		return 1
	}

	enc := newEncoder(cfg)
	st, err := openStore(ctx, cfg, enc)
	if err != nil {
		logger.Error(err.Error())
		return 1
	}
	client := newProviderClient(cfg)
	opts := ingestion.Options{MaxWorkers: *maxWorkers, Metrics: metrics, Logger: logger}

	if *concepts {
		res, err := ingestion.EnrichConcepts(ctx, st, client, opts)
		if err != nil {
			logger.Error("enrich concepts failed", "err", err)
			return 1
		}
		printResult("enrich --concepts", res)
	}
	if *authors {
		res, err := ingestion.EnrichAuthors(ctx, st, client, opts)
		if err != nil {
			logger.Error("enrich authors failed", "err", err)
			return 1
		}
		printResult("enrich --authors", res)
	}
	if *papers {
		res, err := ingestion.EnrichPapers(ctx, st, client, splitCSV(*conceptIDs), opts)
		if err != nil {
			logger.Error("enrich papers failed", "err", err)
			return 1
		}
		printResult("enrich --papers", res)
	}
	return 0
}

// ── embed ─────────────────────────────────────────────────────────────────

func runEmbed(ctx context.Context, cfg *config.Config, logger *slog.Logger, metrics *observe.Metrics, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "litscout: embed requires a subcommand: papers, concepts")
		return 1
	}

	var kind types.EmbeddingKind
	switch args[0] {
	case "papers":
		kind = types.KindPaper
	case "concepts":
		kind = types.KindConcept
	default:
		fmt.Fprintf(os.Stderr, "litscout: embed: unknown subcommand %q\n", args[0])
		return 1
	}

	fs := flag.NewFlagSet("embed "+args[0], flag.ExitOnError)
	batchSize := fs.Int("batch-size", embedpipeline.DefaultBatchSize, "entities per encoder call")
	limit := fs.Int("limit", 0, "maximum entities to embed (0 = unbounded)")
	fs.Parse(args[1:])

	enc := newEncoder(cfg)
	st, err := openStore(ctx, cfg, enc)
	if err != nil {
		logger.Error(err.Error())
		return 1
	}

	res, err := embedpipeline.EmbedMissing(ctx, st, enc, kind, *batchSize, *limit, embedpipeline.Options{Metrics: metrics, Logger: logger})
	if err != nil {
		logger.Error("embed failed", "err", err)
		return 1
	}
	fmt.Printf("embed %s: embedded=%d failed_batches=%d\n", args[0], res.EmbeddedCount, res.FailedBatches)
	return 0
}

// ── search ────────────────────────────────────────────────────────────────

func runSearch(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "litscout: search requires a subcommand: papers, concepts, hybrid")
		return 1
	}
	mode := args[0]

	fs := flag.NewFlagSet("search "+mode, flag.ExitOnError)
	query := fs.String("query", "", "search query text")
	limit := fs.Int("limit", 10, "maximum results to return")
	offset := fs.Int("offset", 0, "result offset for pagination")
	conceptsLimit := fs.Int("concepts-limit", 0, "number of concepts considered for concept-mediated scoring (0 = default)")
	paperWeight := fs.Float64("paper-weight", 0.4, "direct-paper leg weight for hybrid search")
	conceptWeight := fs.Float64("concept-weight", 0.4, "concept-mediated leg weight for hybrid search")
	fs.Parse(args[1:])

	if *query == "" {
		fmt.Fprintln(os.Stderr, "litscout: search: --query is required")
		return 1
	}

	enc := newEncoder(cfg)
	st, err := openStore(ctx, cfg, enc)
	if err != nil {
		logger.Error(err.Error())
		return 1
	}
	engine := search.NewEngine(st, enc, observe.DefaultMetrics(), logger)

	switch mode {
	case "papers":
		results, err := engine.SearchPapers(ctx, *query, *limit, *offset)
		if err != nil {
			logger.Error("search papers failed", "err", err)
			return 1
		}
		return printJSON(results)

	case "concepts":
		results, err := engine.SearchConcepts(ctx, *query, *limit, *offset)
		if err != nil {
			logger.Error("search concepts failed", "err", err)
			return 1
		}
		return printJSON(results)

	case "hybrid":
		results, err := engine.SearchHybrid(ctx, *query, *limit, *offset, *conceptsLimit, 0, *paperWeight, *conceptWeight)
		if err != nil {
			logger.Error("search hybrid failed", "err", err)
			return 1
		}
		return printJSON(results)

	default:
		fmt.Fprintf(os.Stderr, "litscout: search: unknown subcommand %q\n", mode)
		return 1
	}
}

// ── helpers ───────────────────────────────────────────────────────────────

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func printResult(label string, res ingestion.Result) {
	fmt.Printf("%s: success=%d failed=%d\n", label, res.SuccessCount, res.FailureCount)
	for _, f := range res.Failed {
		fmt.Printf("  failed id=%s err=%s\n", f.ID, f.Error)
	}
}

func printJSON(v any) int {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "litscout: encode results: %v\n", err)
		return 1
	}
	return 0
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
