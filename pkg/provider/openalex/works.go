package openalex

import (
	"context"
	"fmt"
	"iter"
	"net/url"
	"strconv"

	"github.com/thisismudith/litscout/pkg/types"
)

// worksPerPage is OpenAlex's maximum per-page result count for list
// endpoints.
const worksPerPage = 200

// IterWorks yields normalized works for conceptID across up to pages pages
// of OpenAlex's cursor-based work listing (≈200 works per page).
//
// The sequence stops early — without error — when OpenAlex returns an empty
// results page or omits next_cursor, matching the provider's own end-of-list
// signal. A request error stops iteration and is delivered as the final
// yielded pair's error.
func (c *Client) IterWorks(ctx context.Context, conceptID string, pages int) iter.Seq2[types.NormalizedPaper, error] {
	return func(yield func(types.NormalizedPaper, error) bool) {
		cursor := "*"
		page := 0

		for page < pages {
			params := url.Values{
				"filter":   {"concepts.id:" + conceptID},
				"per-page": {strconv.Itoa(worksPerPage)},
				"cursor":   {cursor},
			}

			var resp worksPage
			if err := c.get(ctx, "/works", params, &resp); err != nil {
				yield(types.NormalizedPaper{}, fmt.Errorf("openalex: iterate works for concept %s: %w", conceptID, err))
				return
			}
			if len(resp.Results) == 0 {
				return
			}

			for _, w := range resp.Results {
				if !yield(normalizeWork(w), nil) {
					return
				}
			}

			if resp.Meta.NextCursor == "" {
				return
			}
			cursor = resp.Meta.NextCursor
			page++
		}
	}
}
