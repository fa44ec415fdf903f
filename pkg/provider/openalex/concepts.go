package openalex

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/thisismudith/litscout/pkg/types"
)

// conceptsPerPage is OpenAlex's per-page result count used for concept
// search, set to OpenAlex's 200-per-page maximum.
const conceptsPerPage = 200

// interPageDelay is a courtesy pause between concept-search pages, carried
// over from the original crawler's rate-limiting etiquette.
const interPageDelay = 200 * time.Millisecond

// SearchConcepts fetches up to limit concepts matching fieldName, sorted by
// works_count descending — the broadest-coverage concepts for a field
// appear first. Pagination continues until limit is reached or a page
// returns no results.
func (c *Client) SearchConcepts(ctx context.Context, fieldName string, limit int) ([]types.Concept, error) {
	if fieldName == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 500
	}

	var concepts []types.Concept
	page := 1

	for len(concepts) < limit {
		params := url.Values{
			"search":   {fieldName},
			"per_page": {strconv.Itoa(conceptsPerPage)},
			"page":     {strconv.Itoa(page)},
			"sort":     {"works_count:desc"},
		}

		var resp conceptsPage
		if err := c.get(ctx, "/concepts", params, &resp); err != nil {
			return nil, fmt.Errorf("openalex: search concepts for field %q: %w", fieldName, err)
		}
		if len(resp.Results) == 0 {
			break
		}

		for _, raw := range resp.Results {
			concepts = append(concepts, normalizeConcept(raw))
			if len(concepts) >= limit {
				break
			}
		}

		page++

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interPageDelay):
		}
	}

	return concepts, nil
}
