// Package ingestion drives LitScout's concurrent catalog crawl: resolving
// field names to concept ids, pulling each concept's works through a bounded
// worker pool, and backfilling the source/publisher linkage that OpenAlex
// sometimes omits from a work's initial payload.
//
// Every normalized work is written in its own [store.IngestionTx] so a crash
// mid-crawl leaves the catalog consistent — either a work is fully present
// (paper, authors, concept association) or entirely absent. A concept's
// ingestion cursor is written in a separate transaction after its works.
package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/thisismudith/litscout/internal/observe"
	"github.com/thisismudith/litscout/pkg/provider/openalex"
	"github.com/thisismudith/litscout/pkg/store"
	"github.com/thisismudith/litscout/pkg/types"
)

// maxConcurrentWorkers caps how many goroutines may hit the upstream catalog
// at once, regardless of what the caller requests — a courtesy limit shared
// by every fan-out operation in this package.
const maxConcurrentWorkers = 8

// worksPerPage mirrors the provider client's page size, used only to
// estimate a pages-ingested count for the cursor row since [openalex.
// Client.IterWorks] flattens page boundaries away from its caller.
const worksPerPage = 200

// Options configures the shared behavior of this package's fan-out
// operations: concurrency, idempotency, and observability.
type Options struct {
	// MaxWorkers caps concurrency. Zero or negative means
	// runtime.NumCPU(), itself capped at [maxConcurrentWorkers].
	MaxWorkers int

	// SkipExisting, when true, filters out concepts already recorded as
	// ingested before doing any work.
	SkipExisting bool

	Metrics *observe.Metrics
	Logger  *slog.Logger
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

func (o Options) workerCount(items int) int {
	n := o.MaxWorkers
	if n <= 0 {
		n = runtime.NumCPU()
	}
	if n > maxConcurrentWorkers {
		n = maxConcurrentWorkers
	}
	if n > items {
		n = items
	}
	if n < 1 {
		n = 1
	}
	return n
}

// FailedItem names one unit of work that failed within a fan-out operation,
// together with the error that stopped it.
type FailedItem struct {
	ID    string
	Error string
}

// Result summarizes one fan-out operation's outcome across every item it
// was given.
type Result struct {
	SuccessCount int
	FailureCount int
	Failed       []FailedItem
}

// ResolveConceptsForFields maps each field name to its single
// broadest-coverage concept id (the top result of a works_count-descending
// concept search), deduplicating across fields that resolve to the same
// concept.
func ResolveConceptsForFields(ctx context.Context, client *openalex.Client, fields []string, perFieldLimit int) ([]string, error) {
	seen := make(map[string]bool)
	var out []string

	for _, field := range fields {
		concepts, err := client.SearchConcepts(ctx, field, perFieldLimit)
		if err != nil {
			return nil, fmt.Errorf("ingestion: resolve concept for field %q: %w", field, err)
		}
		if len(concepts) == 0 {
			continue
		}
		top := concepts[0].ID
		if top == "" || seen[top] {
			continue
		}
		seen[top] = true
		out = append(out, top)
	}

	return out, nil
}

// IngestConcepts crawls every concept in conceptIDs through a bounded worker
// pool, each worker pulling up to pagesPerConcept pages of works and writing
// them one normalized work at a time. A single concept's failure does not
// stop the others.
func IngestConcepts(ctx context.Context, st store.Store, client *openalex.Client, conceptIDs []string, pagesPerConcept int, opts Options) (Result, error) {
	logger := opts.logger()

	if opts.SkipExisting {
		ingested, err := st.IsConceptIngested(ctx, conceptIDs)
		if err != nil {
			return Result{}, fmt.Errorf("ingestion: check already-ingested concepts: %w", err)
		}
		filtered := conceptIDs[:0:0]
		for _, id := range conceptIDs {
			if !ingested[id] {
				filtered = append(filtered, id)
			}
		}
		conceptIDs = filtered
	}

	if len(conceptIDs) == 0 {
		return Result{}, nil
	}

	var eg errgroup.Group
	eg.SetLimit(opts.workerCount(len(conceptIDs)))

	var (
		mu  sync.Mutex
		res Result
	)

	for _, conceptID := range conceptIDs {
		conceptID := conceptID
		eg.Go(func() error {
			if opts.Metrics != nil {
				opts.Metrics.ActiveIngestionWorkers.Add(ctx, 1)
			}
			start := time.Now()
			err := ingestOneConcept(ctx, st, client, conceptID, pagesPerConcept, opts, logger)
			if opts.Metrics != nil {
				opts.Metrics.ConceptIngestionDuration.Record(ctx, time.Since(start).Seconds())
				opts.Metrics.ActiveIngestionWorkers.Add(ctx, -1)
				if err != nil {
					opts.Metrics.RecordIngestionFailure(ctx, conceptID)
				}
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.FailureCount++
				res.Failed = append(res.Failed, FailedItem{ID: conceptID, Error: err.Error()})
				logger.Error("ingestion: concept failed", "concept_id", conceptID, "err", err)
			} else {
				res.SuccessCount++
			}
			return nil
		})
	}

	_ = eg.Wait()
	return res, nil
}

// ingestOneConcept pulls every work for conceptID and writes each as its own
// transaction, then records the ingestion cursor in a final transaction of
// its own.
//
// The cursor's pages-ingested count is estimated from the number of works
// seen (worksPerPage per page) rather than fused into the last page's write
// transaction: [openalex.Client.IterWorks] does not expose page boundaries
// to its caller, only a flat sequence of works.
func ingestOneConcept(ctx context.Context, st store.Store, client *openalex.Client, conceptID string, pages int, opts Options, logger *slog.Logger) error {
	var worksSeen int

	for work, err := range client.IterWorks(ctx, conceptID, pages) {
		if err != nil {
			return fmt.Errorf("ingestion: iterate works for concept %s: %w", conceptID, err)
		}
		if err := ingestWork(ctx, st, work); err != nil {
			logger.Warn("ingestion: skipping work that failed to write", "concept_id", conceptID, "work_id", work.ID, "err", err)
			continue
		}
		worksSeen++
	}

	if opts.Metrics != nil && worksSeen > 0 {
		opts.Metrics.RecordWorksIngested(ctx, conceptID, int64(worksSeen))
	}

	pagesIngested := (worksSeen + worksPerPage - 1) / worksPerPage

	tx, err := st.BeginIngestion(ctx)
	if err != nil {
		return fmt.Errorf("ingestion: begin cursor update for concept %s: %w", conceptID, err)
	}
	defer tx.Rollback(ctx)

	if err := tx.MarkConceptIngested(ctx, conceptID, pagesIngested); err != nil {
		return fmt.Errorf("ingestion: mark concept %s ingested: %w", conceptID, err)
	}
	return tx.Commit(ctx)
}

// ingestWork writes one normalized work — its venue, concepts, authors, and
// the paper row itself — as a single transaction.
func ingestWork(ctx context.Context, st store.Store, work types.NormalizedPaper) error {
	tx, err := st.BeginIngestion(ctx)
	if err != nil {
		return fmt.Errorf("begin ingestion tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var venueID, venueInstanceID string
	if work.Venue != nil {
		venueID, err = tx.UpsertVenue(ctx, *work.Venue)
		if err != nil {
			return fmt.Errorf("upsert venue: %w", err)
		}
		if work.VenueInstance != nil {
			venueInstanceID, err = tx.UpsertVenueInstance(ctx, venueID, work.VenueInstance.Year)
			if err != nil {
				return fmt.Errorf("upsert venue instance: %w", err)
			}
		}
	}

	for conceptID, score := range work.Paper.Concepts {
		if err := tx.UpsertConcept(ctx, types.Concept{ID: conceptID, Name: score.Name, Level: score.Level}); err != nil {
			return fmt.Errorf("upsert concept %s: %w", conceptID, err)
		}
	}

	paperID, err := tx.UpsertPaper(ctx, work.Paper, venueID, venueInstanceID)
	if err != nil {
		return fmt.Errorf("upsert paper: %w", err)
	}

	for i, author := range work.Authors {
		authorID, err := tx.UpsertAuthor(ctx, author)
		if err != nil {
			return fmt.Errorf("upsert author %s: %w", author.ID, err)
		}

		order := i + 1
		if i < len(work.AuthorOrder) {
			order = work.AuthorOrder[i]
		}
		corresponding := false
		if i < len(work.IsCorrespondingFlags) {
			corresponding = work.IsCorrespondingFlags[i]
		}

		link := types.PaperAuthor{
			PaperID:         paperID,
			AuthorID:        authorID,
			AuthorOrder:     order,
			IsCorresponding: corresponding,
		}
		if err := tx.InsertPaperAuthor(ctx, link); err != nil {
			return fmt.Errorf("link author %s to paper %s: %w", authorID, paperID, err)
		}
	}

	return tx.Commit(ctx)
}

// IngestSourcesFromPapers resolves every source id referenced by an already-
// ingested paper but missing from the sources table, fetching and upserting
// each one through a bounded worker pool. batchSize is not used: every
// missing source id is fetched as its own task, with no chunking.
func IngestSourcesFromPapers(ctx context.Context, st store.Store, client *openalex.Client, batchSize, maxWorkers int, opts Options) (Result, error) {
	opts.MaxWorkers = maxWorkers

	referenced, err := st.DistinctPaperSourceIDs(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("ingestion: list distinct paper source ids: %w", err)
	}
	missing, err := st.MissingSourceIDs(ctx, referenced)
	if err != nil {
		return Result{}, fmt.Errorf("ingestion: filter missing source ids: %w", err)
	}
	if len(missing) == 0 {
		return Result{}, nil
	}

	return fanOutOverIDs(ctx, missing, opts, func(ctx context.Context, id string) error {
		source, err := client.FetchSource(ctx, id)
		if err != nil {
			return err
		}
		_, err = st.UpsertSource(ctx, source)
		return err
	})
}

// BackfillPaperSources fills in source_id/publisher_id for papers that were
// ingested before their work payload's primary_location.source could be
// resolved (or whose payload never carried host_venue at all), by
// re-fetching those works by id in batches.
func BackfillPaperSources(ctx context.Context, st store.Store, client *openalex.Client, batchSize, maxWorkers int, opts Options) (Result, error) {
	opts.MaxWorkers = maxWorkers
	if batchSize <= 0 {
		batchSize = 50
	}

	refs, err := st.PapersMissingSourceID(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("ingestion: list papers missing source id: %w", err)
	}
	if len(refs) == 0 {
		return Result{}, nil
	}

	byProviderID := make(map[string]string, len(refs))
	providerIDs := make([]string, 0, len(refs))
	for _, ref := range refs {
		if ref.ProviderID == "" {
			continue
		}
		byProviderID[ref.ProviderID] = ref.PaperID
		providerIDs = append(providerIDs, ref.ProviderID)
	}

	chunks := chunkStrings(providerIDs, batchSize)
	chunkLabels := make([]string, len(chunks))
	for i := range chunks {
		chunkLabels[i] = fmt.Sprintf("batch-%d", i)
	}

	return fanOutOverChunks(ctx, chunks, chunkLabels, opts, func(ctx context.Context, chunk []string) error {
		works, err := client.FetchWorksByIDs(ctx, chunk)
		if err != nil {
			return err
		}
		for _, work := range works {
			if work.SourceID == "" {
				continue
			}
			paperID, ok := byProviderID[work.ID]
			if !ok {
				continue
			}
			if _, err := ensureSourceStub(ctx, st, client, work.SourceID); err != nil {
				return fmt.Errorf("ensure source %s exists: %w", work.SourceID, err)
			}
			if err := st.SetPaperSourceAndPublisher(ctx, paperID, work.SourceID, work.PublisherID); err != nil {
				return fmt.Errorf("link paper %s to source %s: %w", paperID, work.SourceID, err)
			}
		}
		return nil
	})
}

// ensureSourceStub fetches and upserts sourceID's full record if the sources
// table doesn't already carry it, so that [store.Store.SetPaperSourceAndPublisher]'s
// foreign key is always satisfiable.
func ensureSourceStub(ctx context.Context, st store.Store, client *openalex.Client, sourceID string) (string, error) {
	existing, err := st.GetSource(ctx, sourceID)
	if err != nil {
		return "", err
	}
	if existing != nil {
		return existing.ID, nil
	}
	source, err := client.FetchSource(ctx, sourceID)
	if err != nil {
		return "", err
	}
	return st.UpsertSource(ctx, source)
}

// fanOutOverIDs runs fn once per id through a bounded worker pool, collecting
// a [Result].
func fanOutOverIDs(ctx context.Context, ids []string, opts Options, fn func(ctx context.Context, id string) error) (Result, error) {
	return fanOutOverChunks(ctx, toSingleChunks(ids), ids, opts, func(ctx context.Context, chunk []string) error {
		return fn(ctx, chunk[0])
	})
}

func toSingleChunks(ids []string) [][]string {
	chunks := make([][]string, len(ids))
	for i, id := range ids {
		chunks[i] = []string{id}
	}
	return chunks
}

// fanOutOverChunks runs fn once per chunk through a bounded worker pool,
// labeling each chunk with the corresponding entry in labels for failure
// reporting.
//
// One chunk failing never aborts the others: fn's error is recorded against
// that chunk's label in the returned [Result] and every other chunk still
// runs to completion, so eg.Go's own closures never return a non-nil error
// and eg.Wait never short-circuits on ctx cancellation.
func fanOutOverChunks(ctx context.Context, chunks [][]string, labels []string, opts Options, fn func(ctx context.Context, chunk []string) error) (Result, error) {
	logger := opts.logger()
	if len(chunks) == 0 {
		return Result{}, nil
	}

	var eg errgroup.Group
	eg.SetLimit(opts.workerCount(len(chunks)))

	var (
		mu  sync.Mutex
		res Result
	)

	for i, chunk := range chunks {
		i, chunk := i, chunk
		eg.Go(func() error {
			err := fn(ctx, chunk)

			label := fmt.Sprintf("chunk-%d", i)
			if i < len(labels) {
				label = labels[i]
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.FailureCount++
				res.Failed = append(res.Failed, FailedItem{ID: label, Error: err.Error()})
				logger.Error("ingestion: chunk failed", "chunk", label, "err", err)
			} else {
				res.SuccessCount++
			}
			return nil
		})
	}

	_ = eg.Wait()
	return res, nil
}

// chunkStrings splits ids into groups of at most size entries each.
func chunkStrings(ids []string, size int) [][]string {
	if size <= 0 {
		size = 50
	}
	var out [][]string
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		out = append(out, ids[start:end])
	}
	return out
}
