package services

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/temcen/ratingrec/internal/ml"
	"github.com/temcen/ratingrec/pkg/models"
)

const DefaultContentCandidates = 500

// ContentRecommender finds products whose title, category and price text resemble a target
// product's, within the target's category.
type ContentRecommender struct {
	catalog     ProductCatalog
	cache       *redis.Client
	cacheTTL    time.Duration
	candidates  int
	maxFeatures int
	logger      *logrus.Logger
}

// NewContentRecommender builds a recommender. cache may be nil to disable result caching.
func NewContentRecommender(catalog ProductCatalog, cache *redis.Client, cacheTTL time.Duration, candidates, maxFeatures int, logger *logrus.Logger) *ContentRecommender {
	if candidates <= 0 {
		candidates = DefaultContentCandidates
	}
	return &ContentRecommender{
		catalog:     catalog,
		cache:       cache,
		cacheTTL:    cacheTTL,
		candidates:  candidates,
		maxFeatures: maxFeatures,
		logger:      logger,
	}
}

func (cr *ContentRecommender) SimilarProducts(ctx context.Context, productID string, topN int) ([]models.SimilarProduct, error) {
	if topN < 1 {
		return nil, fmt.Errorf("%w: top_n must be at least 1", ErrInvalidArgument)
	}

	cacheKey := fmt.Sprintf("similar_products:%s:%d", productID, topN)
	if cached, ok := cr.getCached(ctx, cacheKey); ok {
		return cached, nil
	}

	target, err := cr.catalog.GetProduct(ctx, productID)
	if err != nil {
		return nil, classify(err, "resolve product")
	}

	candidates, err := cr.catalog.ListByCategory(ctx, target.CategoryID, productID, cr.candidates)
	if err != nil {
		return nil, classify(err, "load category products")
	}

	targetIdx := slices.IndexFunc(candidates, func(p models.Product) bool { return p.ID == productID })
	if targetIdx < 0 {
		cr.logger.WithFields(logrus.Fields{
			"product_id":  productID,
			"category_id": target.CategoryID,
		}).Warn("Product missing from its own category sample")
		return []models.SimilarProduct{}, nil
	}

	docs := make([]string, len(candidates))
	for i, p := range candidates {
		docs[i] = ml.ProductDocument(p)
	}

	features, err := ml.NewTFIDFVectorizer(cr.maxFeatures).FitTransform(docs)
	if err != nil {
		return nil, classify(err, "vectorize products")
	}

	targetVec := features.Row(targetIdx)
	scored := make([]models.SimilarProduct, 0, len(candidates)-1)
	for i, p := range candidates {
		if i == targetIdx {
			continue
		}
		scored = append(scored, models.SimilarProduct{
			Product:    p,
			Similarity: ml.Cosine(targetVec, features.Row(i)),
		})
	}

	slices.SortFunc(scored, func(a, b models.SimilarProduct) int {
		if c := cmp.Compare(b.Similarity, a.Similarity); c != 0 {
			return c
		}
		return cmp.Compare(a.Product.ID, b.Product.ID)
	})

	if len(scored) > topN {
		scored = scored[:topN]
	}
	for i := range scored {
		scored[i].Rank = i + 1
		scored[i].Similarity = round(scored[i].Similarity, 4)
	}

	cr.setCached(ctx, cacheKey, scored)
	return scored, nil
}

func (cr *ContentRecommender) getCached(ctx context.Context, key string) ([]models.SimilarProduct, bool) {
	if cr.cache == nil {
		return nil, false
	}

	data, err := cr.cache.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			cr.logger.WithError(err).WithField("key", key).Warn("Failed to read similar products cache")
		}
		return nil, false
	}

	var out []models.SimilarProduct
	if err := json.Unmarshal(data, &out); err != nil {
		cr.logger.WithError(err).WithField("key", key).Warn("Discarding corrupt cache entry")
		return nil, false
	}
	return out, true
}

func (cr *ContentRecommender) setCached(ctx context.Context, key string, value []models.SimilarProduct) {
	if cr.cache == nil || cr.cacheTTL <= 0 {
		return
	}

	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := cr.cache.Set(ctx, key, data, cr.cacheTTL).Err(); err != nil {
		cr.logger.WithError(err).WithField("key", key).Warn("Failed to cache similar products")
	}
}
