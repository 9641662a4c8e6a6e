package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentRecommender_SimilarProducts(t *testing.T) {
	cr := NewContentRecommender(sampleCatalog(), nil, 0, 0, 0, testLogger())

	similar, err := cr.SimilarProducts(context.Background(), "p1", 5)
	require.NoError(t, err)
	require.Len(t, similar, 2)

	assert.Equal(t, "p2", similar[0].Product.ID)
	assert.Equal(t, 1, similar[0].Rank)
	assert.Equal(t, "p3", similar[1].Product.ID)
	assert.Equal(t, 2, similar[1].Rank)
	assert.Greater(t, similar[0].Similarity, similar[1].Similarity)

	for _, s := range similar {
		assert.NotEqual(t, "p1", s.Product.ID)
		assert.Equal(t, int64(1), s.Product.CategoryID)
	}
}

func TestContentRecommender_Errors(t *testing.T) {
	cr := NewContentRecommender(sampleCatalog(), nil, 0, 0, 0, testLogger())

	_, err := cr.SimilarProducts(context.Background(), "missing", 5)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = cr.SimilarProducts(context.Background(), "p1", 0)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	broken := NewContentRecommender(&fakeCatalog{err: errors.New("pool closed")}, nil, 0, 0, 0, testLogger())
	_, err = broken.SimilarProducts(context.Background(), "p1", 5)
	assert.ErrorIs(t, err, ErrComputationFailure)
}

func TestContentRecommender_SingleProductCategory(t *testing.T) {
	cr := NewContentRecommender(sampleCatalog(), nil, 0, 0, 0, testLogger())

	similar, err := cr.SimilarProducts(context.Background(), "p4", 5)
	require.NoError(t, err)
	assert.Empty(t, similar)
}

func TestContentRecommender_TargetBeyondCandidateLimit(t *testing.T) {
	// p3 sorts after the two-product sample but is still compared against it.
	cr := NewContentRecommender(sampleCatalog(), nil, 0, 2, 0, testLogger())

	similar, err := cr.SimilarProducts(context.Background(), "p3", 5)
	require.NoError(t, err)
	require.Len(t, similar, 1)
	assert.Equal(t, "p1", similar[0].Product.ID)
}
