package ingestion

import (
	"context"
	"fmt"

	"github.com/thisismudith/litscout/pkg/provider/openalex"
	"github.com/thisismudith/litscout/pkg/store"
)

// EnrichConcepts refetches every concept's full detail record (description,
// works_count, cited_by_count, related_concepts) and overwrites it in
// place, grounded on enrich_concepts_chunked/enrich_single_concept.
func EnrichConcepts(ctx context.Context, st store.Store, client *openalex.Client, opts Options) (Result, error) {
	ids, err := st.ListConceptIDs(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("ingestion: list concept ids: %w", err)
	}
	return fanOutOverIDs(ctx, ids, opts, func(ctx context.Context, conceptID string) error {
		concept, err := client.FetchConceptDetail(ctx, conceptID)
		if err != nil {
			return err
		}
		concept.ID = conceptID
		return st.UpdateConceptEnrichment(ctx, concept)
	})
}

// EnrichAuthors refetches every author's full detail record (works_count,
// cited_by_count, affiliations, institutions, topics) and overwrites it in
// place, grounded on enrich_authors_chunked/enrich_single_author.
func EnrichAuthors(ctx context.Context, st store.Store, client *openalex.Client, opts Options) (Result, error) {
	authors, err := st.ListAuthors(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("ingestion: list authors: %w", err)
	}
	ids := make([]string, 0, len(authors))
	providerID := make(map[string]string, len(authors))
	for _, a := range authors {
		ids = append(ids, a.ID)
		providerID[a.ID] = a.ExternalIDs["openalex"]
	}
	return fanOutOverIDs(ctx, ids, opts, func(ctx context.Context, authorID string) error {
		openAlexID := providerID[authorID]
		if openAlexID == "" {
			return fmt.Errorf("ingestion: author %s has no openalex external id", authorID)
		}
		author, err := client.FetchAuthorDetail(ctx, openAlexID)
		if err != nil {
			return err
		}
		author.ID = authorID
		return st.UpdateAuthorEnrichment(ctx, author)
	})
}

// EnrichPapers refetches every paper's title/abstract/concepts from a fresh
// work fetch and overwrites them in place. When conceptIDs is non-empty,
// only papers currently tagged with at least one of those concepts are
// refreshed, grounded on enrich_papers_chunked's optional `concept_ids`
// filter.
func EnrichPapers(ctx context.Context, st store.Store, client *openalex.Client, conceptIDs []string, opts Options) (Result, error) {
	papers, err := st.ListPapersForEnrichment(ctx, conceptIDs)
	if err != nil {
		return Result{}, fmt.Errorf("ingestion: list papers for enrichment: %w", err)
	}
	ids := make([]string, 0, len(papers))
	providerID := make(map[string]string, len(papers))
	for _, p := range papers {
		ids = append(ids, p.ID)
		providerID[p.ID] = p.ExternalIDs["openalex"]
	}
	return fanOutOverIDs(ctx, ids, opts, func(ctx context.Context, paperID string) error {
		openAlexID := providerID[paperID]
		if openAlexID == "" {
			return fmt.Errorf("ingestion: paper %s has no openalex external id", paperID)
		}
		fetched, err := client.FetchWorksByIDs(ctx, []string{openAlexID})
		if err != nil {
			return err
		}
		if len(fetched) == 0 {
			return fmt.Errorf("ingestion: work %s not found upstream", openAlexID)
		}
		refreshed := fetched[0].Paper
		refreshed.ID = paperID
		return st.UpdatePaperEnrichment(ctx, refreshed)
	})
}
