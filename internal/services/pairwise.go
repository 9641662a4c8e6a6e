package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/temcen/ratingrec/internal/ml"
	"github.com/temcen/ratingrec/pkg/models"
)

const (
	MinPairwiseProducts = 2
	MaxPairwiseProducts = 20
)

// PairwiseSimilarity returns the full similarity matrix of the requested products that exist,
// together with the ids its rows and columns correspond to (request order). Ids that did not
// resolve are listed in Missing.
func PairwiseSimilarity(ctx context.Context, catalog ProductCatalog, maxFeatures int, ids []string) (*models.PairwiseSimilarity, error) {
	requested := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, fmt.Errorf("%w: product ids must not be empty", ErrInvalidArgument)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		requested = append(requested, id)
	}

	if len(requested) < MinPairwiseProducts || len(requested) > MaxPairwiseProducts {
		return nil, fmt.Errorf("%w: between %d and %d distinct product ids required, got %d",
			ErrInvalidArgument, MinPairwiseProducts, MaxPairwiseProducts, len(requested))
	}

	products, err := catalog.GetProducts(ctx, requested)
	if err != nil {
		return nil, classify(err, "load products")
	}

	byID := make(map[string]models.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	result := &models.PairwiseSimilarity{}
	var docs []string
	for _, id := range requested {
		p, ok := byID[id]
		if !ok {
			result.Missing = append(result.Missing, id)
			continue
		}
		result.ProductIDs = append(result.ProductIDs, id)
		docs = append(docs, ml.ProductLabelDocument(p))
	}

	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: none of the requested products exist", ErrNotFound)
	}

	features, err := ml.NewTFIDFVectorizer(maxFeatures).FitTransform(docs)
	if err != nil {
		return nil, classify(err, "vectorize products")
	}

	sim, err := features.Similarity()
	if err != nil {
		return nil, classify(err, "compute similarity")
	}

	n := len(docs)
	result.Matrix = make([][]float64, n)
	for i := 0; i < n; i++ {
		result.Matrix[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			result.Matrix[i][j] = round(sim.At(i, j), 4)
		}
	}

	return result, nil
}
