package search

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/thisismudith/litscout/internal/observe"
	"github.com/thisismudith/litscout/pkg/provider/encoder"
	"github.com/thisismudith/litscout/pkg/store"
	"github.com/thisismudith/litscout/pkg/types"
)

// DefaultConceptLimit is used when a caller passes kc<=0 to a
// concept-mediated search mode.
const DefaultConceptLimit = 10

// DefaultPerConceptPaperLimit is used when a caller passes kp<=0.
const DefaultPerConceptPaperLimit = 20

// defaultWeight is the legacy hybrid weight both wp and wc default to when a
// caller doesn't override them. Kept so SearchHybrid can recognize and
// correct a weight pair the caller forgot to make sum to 1.
const defaultWeight = 0.4

// venueAggregationLimit bounds how many hybrid-ranked papers SearchVenues
// folds into its source aggregation. It stands in for "every paper the
// query plausibly matches" without an unbounded scan.
const venueAggregationLimit = 5000

// Engine answers search queries against a Store's papers, concepts,
// authors, and sources, encoding query text with an Encoder and tuning its
// own ANN indexes via an Autotuner.
type Engine struct {
	store     store.Store
	encoder   encoder.Encoder
	autotuner *Autotuner

	metrics *observe.Metrics
	logger  *slog.Logger
}

// NewEngine returns an Engine backed by st and enc. metrics and logger may
// be nil; logger defaults to slog.Default().
func NewEngine(st store.Store, enc encoder.Encoder, metrics *observe.Metrics, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:     st,
		encoder:   enc,
		autotuner: NewAutotuner(st),
		metrics:   metrics,
		logger:    logger,
	}
}

// ConceptMediatedResult is the full return of SearchPapersViaConcepts: the
// matched concepts, their individual paper lists (for explaining why a
// paper surfaced), and the paginated flat paper ranking.
type ConceptMediatedResult struct {
	TopConcepts      []types.ConceptSearchResult
	PerConceptPapers map[string][]types.SearchResult
	Papers           []types.SearchResult
}

func normalizeDefaults(kc, kp int) (int, int) {
	if kc <= 0 {
		kc = DefaultConceptLimit
	}
	if kp <= 0 {
		kp = DefaultPerConceptPaperLimit
	}
	return kc, kp
}

// embedQuery encodes query text into a unit-norm vector, matching the
// normalization invariant stored embeddings carry.
func (e *Engine) embedQuery(ctx context.Context, query string) ([]float32, error) {
	vec, err := e.encoder.Encode(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("search: embed query: %w", err)
	}
	return normalizeL2(vec), nil
}

func normalizeL2(v []float32) []float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		return v
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

func similarity(distance float64) float64 {
	return 1 / (1 + distance)
}

func (e *Engine) recordQuery(ctx context.Context, mode string, start time.Time, err error) {
	if err != nil {
		e.logger.Error("search: query failed", "mode", mode, "err", err)
	}
	if e.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	e.metrics.RecordSearchQuery(ctx, mode, status)
	e.metrics.SearchDuration.Record(ctx, time.Since(start).Seconds())
}

// SearchPapers ranks papers directly by embedding distance to query.
func (e *Engine) SearchPapers(ctx context.Context, query string, limit, offset int) (results []types.SearchResult, err error) {
	start := time.Now()
	defer func() { e.recordQuery(ctx, "papers", start, err) }()

	vec, err := e.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	_, probes, err := e.autotuner.Ensure(ctx, types.KindPaper)
	if err != nil {
		return nil, err
	}
	hits, err := e.store.AnnSearch(ctx, types.KindPaper, vec, e.encoder.ModelLabel(), limit, offset, probes, nil)
	if err != nil {
		return nil, fmt.Errorf("search: ann search papers: %w", err)
	}
	return e.hydratePaperHits(ctx, hits)
}

func (e *Engine) hydratePaperHits(ctx context.Context, hits []store.AnnHit) ([]types.SearchResult, error) {
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.EntityID
	}
	papers, err := e.store.GetPapers(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("search: hydrate papers: %w", err)
	}
	results := make([]types.SearchResult, 0, len(hits))
	for _, h := range hits {
		p, ok := papers[h.EntityID]
		if !ok {
			continue
		}
		results = append(results, types.SearchResult{Paper: p, Score: similarity(h.Distance)})
	}
	return results, nil
}

// SearchConcepts ranks concepts directly by embedding distance to query.
func (e *Engine) SearchConcepts(ctx context.Context, query string, limit, offset int) (results []types.ConceptSearchResult, err error) {
	start := time.Now()
	defer func() { e.recordQuery(ctx, "concepts", start, err) }()

	vec, err := e.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	_, probes, err := e.autotuner.Ensure(ctx, types.KindConcept)
	if err != nil {
		return nil, err
	}
	hits, err := e.store.AnnSearch(ctx, types.KindConcept, vec, e.encoder.ModelLabel(), limit, offset, probes, nil)
	if err != nil {
		return nil, fmt.Errorf("search: ann search concepts: %w", err)
	}
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.EntityID
	}
	concepts, err := e.store.GetConcepts(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("search: hydrate concepts: %w", err)
	}
	for _, h := range hits {
		c, ok := concepts[h.EntityID]
		if !ok {
			continue
		}
		results = append(results, types.ConceptSearchResult{Concept: c, Score: similarity(h.Distance)})
	}
	return results, nil
}

// conceptCandidates is the shared pre-stage for every concept-mediated
// search mode: the top concepts for a query and, for each, the papers that
// carry it, pre-weighted into a Kc-normalized total score per paper.
type conceptCandidates struct {
	conceptIDs       []string
	conceptSim       map[string]float64
	concepts         map[string]types.Concept
	matchesByConcept map[string][]store.ConceptPaperMatch
	paperTotals      map[string]float64
}

func (e *Engine) findConceptCandidates(ctx context.Context, vec []float32, kc, kp int) (conceptCandidates, error) {
	kc, kp = normalizeDefaults(kc, kp)

	_, probes, err := e.autotuner.Ensure(ctx, types.KindConcept)
	if err != nil {
		return conceptCandidates{}, err
	}
	hits, err := e.store.AnnSearch(ctx, types.KindConcept, vec, e.encoder.ModelLabel(), kc, 0, probes, nil)
	if err != nil {
		return conceptCandidates{}, fmt.Errorf("search: ann search concepts: %w", err)
	}

	cand := conceptCandidates{
		conceptIDs:       make([]string, 0, len(hits)),
		conceptSim:       make(map[string]float64, len(hits)),
		matchesByConcept: make(map[string][]store.ConceptPaperMatch),
		paperTotals:      make(map[string]float64),
	}
	for _, h := range hits {
		cand.conceptIDs = append(cand.conceptIDs, h.EntityID)
		cand.conceptSim[h.EntityID] = similarity(h.Distance)
	}
	if len(cand.conceptIDs) == 0 {
		cand.concepts = map[string]types.Concept{}
		return cand, nil
	}

	cand.concepts, err = e.store.GetConcepts(ctx, cand.conceptIDs)
	if err != nil {
		return conceptCandidates{}, fmt.Errorf("search: hydrate concepts: %w", err)
	}

	matches, err := e.store.PapersByConcepts(ctx, cand.conceptIDs, kp)
	if err != nil {
		return conceptCandidates{}, fmt.Errorf("search: papers by concepts: %w", err)
	}

	kcActual := float64(len(cand.conceptIDs))
	for _, m := range matches {
		cand.matchesByConcept[m.ConceptID] = append(cand.matchesByConcept[m.ConceptID], m)
		matchingScore := cand.conceptSim[m.ConceptID] * m.ConceptScoreInPaper
		cand.paperTotals[m.PaperID] += matchingScore
	}
	for id, total := range cand.paperTotals {
		cand.paperTotals[id] = total / kcActual
	}
	return cand, nil
}

// SearchPapersViaConcepts ranks papers by first matching the query against
// concepts, then aggregating each concept's papers into a total score per
// paper — surfacing papers the raw paper embedding alone might miss when
// the query names a field rather than describing a specific paper.
func (e *Engine) SearchPapersViaConcepts(ctx context.Context, query string, kc, kp, limit, offset int) (result ConceptMediatedResult, err error) {
	start := time.Now()
	defer func() { e.recordQuery(ctx, "papers_via_concepts", start, err) }()

	vec, err := e.embedQuery(ctx, query)
	if err != nil {
		return ConceptMediatedResult{}, err
	}
	cand, err := e.findConceptCandidates(ctx, vec, kc, kp)
	if err != nil {
		return ConceptMediatedResult{}, err
	}

	allIDs := make([]string, 0, len(cand.paperTotals))
	for id := range cand.paperTotals {
		allIDs = append(allIDs, id)
	}
	papers, err := e.store.GetPapers(ctx, allIDs)
	if err != nil {
		return ConceptMediatedResult{}, fmt.Errorf("search: hydrate papers: %w", err)
	}

	result.TopConcepts = make([]types.ConceptSearchResult, 0, len(cand.conceptIDs))
	for _, cid := range cand.conceptIDs {
		c, ok := cand.concepts[cid]
		if !ok {
			continue
		}
		result.TopConcepts = append(result.TopConcepts, types.ConceptSearchResult{Concept: c, Score: cand.conceptSim[cid]})
	}

	result.PerConceptPapers = make(map[string][]types.SearchResult, len(cand.conceptIDs))
	for cid, matches := range cand.matchesByConcept {
		sim := cand.conceptSim[cid]
		rows := make([]types.SearchResult, 0, len(matches))
		for _, m := range matches {
			p, ok := papers[m.PaperID]
			if !ok {
				continue
			}
			rows = append(rows, types.SearchResult{Paper: p, Score: sim * m.ConceptScoreInPaper})
		}
		result.PerConceptPapers[cid] = rows
	}

	ranked := make([]types.SearchResult, 0, len(cand.paperTotals))
	for id, score := range cand.paperTotals {
		p, ok := papers[id]
		if !ok {
			continue
		}
		ranked = append(ranked, types.SearchResult{Paper: p, Score: score})
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	result.Papers = paginate(ranked, limit, offset)
	return result, nil
}

// renormalizeWeights corrects a hybrid weight pair that doesn't sum to 1.
// A pair already summing to 1 is returned unchanged. Otherwise, if wp still
// carries the legacy default of 0.4 (including when both sides do), wp is
// replaced with 1 - wc; else wc is replaced with 1 - wp. This keeps callers
// who only ever tuned one of the two weights working without them needing
// to recompute the complementary value themselves.
func renormalizeWeights(wp, wc float64) (float64, float64) {
	const epsilon = 1e-9
	if math.Abs((wp+wc)-1) < epsilon {
		return wp, wc
	}
	if math.Abs(wp-defaultWeight) < epsilon {
		return 1 - wc, wc
	}
	return wp, 1 - wp
}

// SearchHybrid blends direct paper-embedding ranking with concept-mediated
// ranking, each paper's two scores combined as wp*paperScore + wc*conceptScore.
// A paper present in only one leg has its missing score filled in rather
// than treated as zero: a paper near in embedding space but absent from the
// concept candidate set gets its concept score computed directly against
// the top concepts, and vice versa via a targeted ANN rescue.
func (e *Engine) SearchHybrid(ctx context.Context, query string, limit, offset, kc, kp int, wp, wc float64) (results []types.SearchResult, err error) {
	start := time.Now()
	defer func() { e.recordQuery(ctx, "hybrid", start, err) }()

	wp, wc = renormalizeWeights(wp, wc)

	vec, err := e.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	n := offset + limit
	if n <= 0 {
		n = limit
	}

	_, probesPaper, err := e.autotuner.Ensure(ctx, types.KindPaper)
	if err != nil {
		return nil, err
	}
	directHits, err := e.store.AnnSearch(ctx, types.KindPaper, vec, e.encoder.ModelLabel(), n, 0, probesPaper, nil)
	if err != nil {
		return nil, fmt.Errorf("search: ann search papers: %w", err)
	}
	paperScore := make(map[string]float64, len(directHits))
	for _, h := range directHits {
		paperScore[h.EntityID] = similarity(h.Distance)
	}

	cand, err := e.findConceptCandidates(ctx, vec, kc, kp)
	if err != nil {
		return nil, err
	}
	conceptScore := topN(cand.paperTotals, n)

	union := make(map[string]struct{}, len(paperScore)+len(conceptScore))
	for id := range paperScore {
		union[id] = struct{}{}
	}
	for id := range conceptScore {
		union[id] = struct{}{}
	}

	missingConceptScore := make([]string, 0)
	for id := range union {
		if _, ok := conceptScore[id]; !ok {
			missingConceptScore = append(missingConceptScore, id)
		}
	}
	if len(missingConceptScore) > 0 && len(cand.conceptIDs) > 0 {
		blob, err := e.store.PapersConceptsBlob(ctx, missingConceptScore)
		if err != nil {
			return nil, fmt.Errorf("search: papers concepts blob: %w", err)
		}
		kcActual := float64(len(cand.conceptIDs))
		for _, id := range missingConceptScore {
			var sum float64
			for _, cid := range cand.conceptIDs {
				if cs, ok := blob[id][cid]; ok {
					sum += cand.conceptSim[cid] * cs.Score
				}
			}
			conceptScore[id] = sum / kcActual
		}
	} else {
		for _, id := range missingConceptScore {
			conceptScore[id] = 0
		}
	}

	missingPaperScore := make([]string, 0)
	for id := range union {
		if _, ok := paperScore[id]; !ok {
			missingPaperScore = append(missingPaperScore, id)
		}
	}
	if len(missingPaperScore) > 0 {
		rescueHits, err := e.store.AnnSearch(ctx, types.KindPaper, vec, e.encoder.ModelLabel(), len(missingPaperScore), 0, probesPaper, missingPaperScore)
		if err != nil {
			return nil, fmt.Errorf("search: targeted ann search papers: %w", err)
		}
		for _, h := range rescueHits {
			paperScore[h.EntityID] = similarity(h.Distance)
		}
	}

	combined := make([]types.SearchResult, 0, len(union))
	ids := make([]string, 0, len(union))
	for id := range union {
		ids = append(ids, id)
	}
	papers, err := e.store.GetPapers(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("search: hydrate papers: %w", err)
	}
	for id := range union {
		p, ok := papers[id]
		if !ok {
			continue
		}
		score := wp*paperScore[id] + wc*conceptScore[id]
		combined = append(combined, types.SearchResult{Paper: p, Score: score})
	}
	sort.Slice(combined, func(i, j int) bool { return combined[i].Score > combined[j].Score })
	return paginate(combined, limit, offset), nil
}

// SearchVenues aggregates hybrid-ranked papers by their source, ranking the
// journals/repositories that most relevantly published matching papers
// rather than the papers themselves.
func (e *Engine) SearchVenues(ctx context.Context, query string, limit, offset, kc, kp int, wp, wc float64) (results []types.SourceSearchResult, err error) {
	start := time.Now()
	defer func() { e.recordQuery(ctx, "venues", start, err) }()

	hybrid, err := e.SearchHybrid(ctx, query, venueAggregationLimit, 0, kc, kp, wp, wc)
	if err != nil {
		return nil, err
	}

	scoreBySource := make(map[string]float64)
	contributing := make(map[string][]string)
	for _, r := range hybrid {
		if r.Paper.SourceID == "" {
			continue
		}
		scoreBySource[r.Paper.SourceID] += r.Score
		contributing[r.Paper.SourceID] = append(contributing[r.Paper.SourceID], r.Paper.ID)
	}

	sourceIDs := make([]string, 0, len(scoreBySource))
	for id := range scoreBySource {
		sourceIDs = append(sourceIDs, id)
	}
	sort.Slice(sourceIDs, func(i, j int) bool { return scoreBySource[sourceIDs[i]] > scoreBySource[sourceIDs[j]] })
	sourceIDs = pageStrings(sourceIDs, limit, offset)

	sources, err := e.store.GetSources(ctx, sourceIDs)
	if err != nil {
		return nil, fmt.Errorf("search: hydrate sources: %w", err)
	}
	for _, id := range sourceIDs {
		src, ok := sources[id]
		if !ok {
			continue
		}
		results = append(results, types.SourceSearchResult{
			Source:               src,
			Score:                scoreBySource[id],
			ContributingPaperIDs: contributing[id],
		})
	}
	return results, nil
}

// SearchAuthors aggregates the concept-mediated candidate set by author,
// splitting each paper's score equally among its listed authors.
func (e *Engine) SearchAuthors(ctx context.Context, query string, limit, offset, kc, kp int) (results []types.AuthorSearchResult, err error) {
	start := time.Now()
	defer func() { e.recordQuery(ctx, "authors", start, err) }()

	vec, err := e.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	cand, err := e.findConceptCandidates(ctx, vec, kc, kp)
	if err != nil {
		return nil, err
	}
	if len(cand.paperTotals) == 0 {
		return nil, nil
	}

	paperIDs := make([]string, 0, len(cand.paperTotals))
	for id := range cand.paperTotals {
		paperIDs = append(paperIDs, id)
	}
	links, err := e.store.PaperAuthorsByPaperIDs(ctx, paperIDs)
	if err != nil {
		return nil, fmt.Errorf("search: paper authors: %w", err)
	}
	authorsByPaper := make(map[string][]types.PaperAuthor)
	for _, l := range links {
		authorsByPaper[l.PaperID] = append(authorsByPaper[l.PaperID], l)
	}

	scoreByAuthor := make(map[string]float64)
	for paperID, score := range cand.paperTotals {
		authors := authorsByPaper[paperID]
		if len(authors) == 0 {
			continue
		}
		share := score / float64(len(authors))
		for _, l := range authors {
			scoreByAuthor[l.AuthorID] += share
		}
	}

	authorIDs := make([]string, 0, len(scoreByAuthor))
	for id := range scoreByAuthor {
		authorIDs = append(authorIDs, id)
	}
	sort.Slice(authorIDs, func(i, j int) bool { return scoreByAuthor[authorIDs[i]] > scoreByAuthor[authorIDs[j]] })
	authorIDs = pageStrings(authorIDs, limit, offset)

	authors, err := e.store.GetAuthors(ctx, authorIDs)
	if err != nil {
		return nil, fmt.Errorf("search: hydrate authors: %w", err)
	}
	for _, id := range authorIDs {
		a, ok := authors[id]
		if !ok {
			continue
		}
		results = append(results, types.AuthorSearchResult{Author: a, Score: scoreByAuthor[id]})
	}
	return results, nil
}

// topN returns the top-n (id, score) pairs of scores, or all of them if
// n<=0 or n exceeds the input size.
func topN(scores map[string]float64, n int) map[string]float64 {
	if n <= 0 || n >= len(scores) {
		out := make(map[string]float64, len(scores))
		for k, v := range scores {
			out[k] = v
		}
		return out
	}
	ids := make([]string, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return scores[ids[i]] > scores[ids[j]] })
	out := make(map[string]float64, n)
	for _, id := range ids[:n] {
		out[id] = scores[id]
	}
	return out
}

func paginate(results []types.SearchResult, limit, offset int) []types.SearchResult {
	if offset >= len(results) {
		return nil
	}
	end := offset + limit
	if limit <= 0 || end > len(results) {
		end = len(results)
	}
	return results[offset:end]
}

func pageStrings(ids []string, limit, offset int) []string {
	if offset >= len(ids) {
		return nil
	}
	end := offset + limit
	if limit <= 0 || end > len(ids) {
		end = len(ids)
	}
	return ids[offset:end]
}
