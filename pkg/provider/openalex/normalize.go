package openalex

import (
	"strings"

	"github.com/thisismudith/litscout/pkg/types"
)

// stripID extracts the trailing path segment of an OpenAlex URL id, e.g.
// "https://openalex.org/W123" -> "W123". An already-bare id is returned
// unchanged.
func stripID(openalexURL string) string {
	if openalexURL == "" {
		return ""
	}
	if idx := strings.LastIndex(openalexURL, "/"); idx >= 0 {
		return openalexURL[idx+1:]
	}
	return openalexURL
}

// reconstructAbstract rebuilds plain text from OpenAlex's inverted-index
// abstract representation ({word: [positions...]}).
func reconstructAbstract(inverted map[string][]int) string {
	if len(inverted) == 0 {
		return ""
	}
	maxPos := 0
	for _, positions := range inverted {
		for _, pos := range positions {
			if pos > maxPos {
				maxPos = pos
			}
		}
	}
	tokens := make([]string, maxPos+1)
	for word, positions := range inverted {
		for _, pos := range positions {
			tokens[pos] = word
		}
	}
	parts := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

func venueType(raw string) string {
	switch strings.ToLower(raw) {
	case "journal", "book-series":
		return "journal"
	case "conference", "proceedings":
		return "conference"
	default:
		return "journal"
	}
}

// normalizeWork converts one OpenAlex work into a fully normalized record
// ready for [store.IngestionTx] upsert.
//
// Concept scores are deduplicated by id, keeping the highest-scoring entry
// when the same id appears twice (can happen across OpenAlex concept
// revisions within one work payload).
func normalizeWork(w rawWork) types.NormalizedPaper {
	title := strings.Join(strings.Fields(w.Title), " ")
	if title == "" {
		title = strings.Join(strings.Fields(w.DisplayName), " ")
	}
	if title == "" {
		title = "(untitled)"
	}

	abstract := w.Abstract
	if abstract == "" {
		abstract = reconstructAbstract(w.AbstractInvertedIndex)
	}

	var field string
	if len(w.Concepts) > 0 {
		field = w.Concepts[0].DisplayName
	}

	concepts := make(map[string]types.ConceptScore)
	for _, c := range w.Concepts {
		id := stripID(c.ID)
		if id == "" || c.Score <= 0 {
			continue
		}
		if existing, ok := concepts[id]; !ok || c.Score > existing.Score {
			concepts[id] = types.ConceptScore{Name: c.DisplayName, Level: c.Level, Score: c.Score}
		}
	}

	var venue *types.Venue
	var venueInstance *types.VenueInstance
	if w.HostVenue.DisplayName != "" {
		venue = &types.Venue{
			ID:          stripID(w.HostVenue.ID),
			Name:        w.HostVenue.DisplayName,
			ShortName:   w.HostVenue.AbbreviatedTitle,
			VenueType:   venueType(w.HostVenue.Type),
			HomepageURL: w.HostVenue.HomepageURL,
			ExternalIDs: types.ExternalIDs{"openalex": stripID(w.HostVenue.ID)},
		}
		venueInstance = &types.VenueInstance{Year: w.PublicationYear}
	}

	var authors []types.Author
	var authorOrder []int
	var isCorresponding []bool
	for idx, authorship := range w.Authorships {
		name := strings.TrimSpace(authorship.Author.DisplayName)
		id := stripID(authorship.Author.ID)
		if name == "" || id == "" {
			continue
		}
		authors = append(authors, types.Author{
			ID:          id,
			FullName:    name,
			ORCID:       stripID(authorship.Author.ORCID),
			ExternalIDs: types.ExternalIDs{"openalex": id},
		})
		authorOrder = append(authorOrder, idx+1)
		isCorresponding = append(isCorresponding, false) // OpenAlex exposes no corresponding-author flag
	}

	return types.NormalizedPaper{
		Paper: types.Paper{
			ID:              stripID(w.ID),
			DOI:             w.DOI,
			Year:            w.PublicationYear,
			Title:           title,
			Abstract:        abstract,
			PublicationDate: w.PublicationDate,
			Field:           field,
			Language:        w.Language,
			Concepts:        concepts,
			ReferencedWorks: w.ReferencedWorks,
			RelatedWorks:    w.RelatedWorks,
			SourceID:        stripID(w.PrimaryLocation.Source.ID),
			PublisherID:     stripID(w.PrimaryLocation.Source.HostOrganization),
			ExternalIDs:     types.ExternalIDs{"openalex": stripID(w.ID)},
		},
		Venue:                venue,
		VenueInstance:        venueInstance,
		Authors:              authors,
		AuthorOrder:          authorOrder,
		IsCorrespondingFlags: isCorresponding,
	}
}

// normalizeConcept converts an OpenAlex concept-search hit into a concept
// stub suitable for id resolution; enrichment fields are filled in later by
// concept enrichment, not at this stage.
func normalizeConcept(c rawConcept) types.Concept {
	return types.Concept{
		ID:         stripID(c.ID),
		Name:       c.DisplayName,
		Level:      c.Level,
		WorksCount: c.WorksCount,
	}
}

// normalizeConceptDetail converts a full OpenAlex concept payload into a
// concept enrichment record, filling in the fields [normalizeConcept]
// leaves at their zero value.
func normalizeConceptDetail(c rawConceptDetail) types.Concept {
	related := make([]map[string]any, 0, len(c.RelatedConcepts))
	for _, r := range c.RelatedConcepts {
		related = append(related, map[string]any{
			"id":    stripID(r.ID),
			"name":  r.DisplayName,
			"level": r.Level,
			"score": r.Score,
		})
	}
	return types.Concept{
		ID:              stripID(c.ID),
		Name:            c.DisplayName,
		Level:           c.Level,
		Description:     c.Description,
		WorksCount:      c.WorksCount,
		CitedByCount:    c.CitedByCount,
		RelatedConcepts: related,
	}
}

// normalizeAuthorDetail converts a full OpenAlex author payload into an
// author enrichment record.
func normalizeAuthorDetail(a rawAuthorDetail) types.Author {
	affiliations := make([]map[string]any, 0, len(a.Affiliations))
	for _, aff := range a.Affiliations {
		affiliations = append(affiliations, map[string]any{
			"name":         aff.Institution.DisplayName,
			"id":           stripID(aff.Institution.ID),
			"country_code": aff.Institution.CountryCode,
			"type":         aff.Institution.Type,
			"years":        aff.Years,
		})
	}
	institutions := make([]map[string]any, 0, len(a.LastKnownInstitutions))
	for _, inst := range a.LastKnownInstitutions {
		institutions = append(institutions, map[string]any{
			"name":         inst.DisplayName,
			"id":           stripID(inst.ID),
			"country_code": inst.CountryCode,
			"type":         inst.Type,
		})
	}
	topics := make([]map[string]any, 0, len(a.Topics))
	for _, t := range a.Topics {
		topics = append(topics, map[string]any{"id": stripID(t.ID), "name": t.DisplayName, "score": t.Score})
	}
	topicShares := make([]map[string]any, 0, len(a.TopicShares))
	for _, t := range a.TopicShares {
		topicShares = append(topicShares, map[string]any{"id": stripID(t.ID), "name": t.DisplayName, "score": t.Score})
	}

	externalIDs := make(types.ExternalIDs, len(a.IDs)+1)
	for ns, id := range a.IDs {
		externalIDs[ns] = id
	}
	externalIDs["openalex"] = stripID(a.ID)

	return types.Author{
		ID:                    stripID(a.ID),
		FullName:              a.DisplayName,
		ORCID:                 stripID(a.ORCID),
		WorksCount:            a.WorksCount,
		CitedByCount:          a.CitedByCount,
		Affiliations:          affiliations,
		LastKnownInstitutions: institutions,
		Topics:                topics,
		TopicShares:           topicShares,
		ExternalIDs:           externalIDs,
	}
}

// normalizeSource converts an OpenAlex source payload into LitScout's
// narrower [types.Source] record.
func normalizeSource(s rawSource) types.Source {
	return types.Source{
		ID:          stripID(s.ID),
		Name:        s.DisplayName,
		PublisherID: stripID(s.HostOrganization),
		ExternalIDs: types.ExternalIDs{"openalex": stripID(s.ID)},
	}
}
