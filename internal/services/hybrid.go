package services

import "github.com/temcen/ratingrec/pkg/models"

// MergeHybrid concatenates collaborative then content results, keeps the first occurrence of each
// product and stops at topN. Ranks are reassigned on the merged list.
func MergeHybrid(collab, content []models.RankedItem, topN int) []models.RankedItem {
	if topN < 1 {
		return []models.RankedItem{}
	}

	out := make([]models.RankedItem, 0, min(topN, len(collab)+len(content)))
	seen := make(map[string]struct{}, topN)

	for _, list := range [][]models.RankedItem{collab, content} {
		for _, item := range list {
			if len(out) == topN {
				return out
			}
			if _, dup := seen[item.ProductID]; dup {
				continue
			}
			seen[item.ProductID] = struct{}{}
			item.Rank = len(out) + 1
			out = append(out, item)
		}
	}

	return out
}

func collaborativeItems(recs []models.Recommendation) []models.RankedItem {
	items := make([]models.RankedItem, len(recs))
	for i, r := range recs {
		items[i] = models.RankedItem{
			ProductID: r.ProductID,
			Score:     r.PredictedRating,
			Source:    models.SourceCollaborative,
			Rank:      r.Rank,
		}
	}
	return items
}

func contentItems(similar []models.SimilarProduct) []models.RankedItem {
	items := make([]models.RankedItem, len(similar))
	for i, s := range similar {
		items[i] = models.RankedItem{
			ProductID: s.Product.ID,
			Score:     s.Similarity,
			Source:    models.SourceContent,
			Rank:      s.Rank,
		}
	}
	return items
}
