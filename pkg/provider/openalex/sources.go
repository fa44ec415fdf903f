package openalex

import (
	"context"
	"fmt"
	"strings"

	"github.com/thisismudith/litscout/pkg/types"
)

// FetchSource retrieves a single source by its OpenAlex id (e.g. "S123") or
// full URL.
func (c *Client) FetchSource(ctx context.Context, sourceID string) (types.Source, error) {
	path := "/sources/" + sourceID
	if strings.HasPrefix(sourceID, "http") {
		path = "/sources/" + stripID(sourceID)
	}

	var raw rawSource
	if err := c.get(ctx, path, nil, &raw); err != nil {
		return types.Source{}, fmt.Errorf("openalex: fetch source %s: %w", sourceID, err)
	}
	return normalizeSource(raw), nil
}

// FetchConceptDetail retrieves the full concept record for conceptID,
// including the enrichment-only fields (description, works_count,
// cited_by_count, related_concepts) that concept search doesn't return.
func (c *Client) FetchConceptDetail(ctx context.Context, conceptID string) (types.Concept, error) {
	var raw rawConceptDetail
	if err := c.get(ctx, "/concepts/"+conceptID, nil, &raw); err != nil {
		return types.Concept{}, fmt.Errorf("openalex: fetch concept detail %s: %w", conceptID, err)
	}
	return normalizeConceptDetail(raw), nil
}

// FetchAuthorDetail retrieves the full author record for authorID,
// including the enrichment-only fields (works_count, cited_by_count,
// affiliations, institutions, topics) that ingestion's authorship stub
// doesn't carry.
func (c *Client) FetchAuthorDetail(ctx context.Context, authorID string) (types.Author, error) {
	var raw rawAuthorDetail
	if err := c.get(ctx, "/authors/"+authorID, nil, &raw); err != nil {
		return types.Author{}, fmt.Errorf("openalex: fetch author detail %s: %w", authorID, err)
	}
	return normalizeAuthorDetail(raw), nil
}

// maxWorksByIDsBatch is OpenAlex's practical limit on the number of ids
// joined in a single `filter=openalex:ID1|ID2|...` lookup.
const maxWorksByIDsBatch = 50

// FetchWorksByIDs batch-fetches works by their OpenAlex ids, chunking
// requests to stay within OpenAlex's id-list size limit. Used by source/
// publisher backfill to resolve a paper's venue without a full concept
// re-crawl.
func (c *Client) FetchWorksByIDs(ctx context.Context, workIDs []string) ([]types.NormalizedPaper, error) {
	var out []types.NormalizedPaper
	for start := 0; start < len(workIDs); start += maxWorksByIDsBatch {
		end := start + maxWorksByIDsBatch
		if end > len(workIDs) {
			end = len(workIDs)
		}
		chunk := workIDs[start:end]

		var resp worksByIDsPage
		params := map[string][]string{"filter": {"openalex:" + strings.Join(chunk, "|")}}
		if err := c.get(ctx, "/works", params, &resp); err != nil {
			return nil, fmt.Errorf("openalex: fetch works by ids (batch %d-%d): %w", start, end, err)
		}
		for _, w := range resp.Results {
			out = append(out, normalizeWork(w))
		}
	}
	return out, nil
}
