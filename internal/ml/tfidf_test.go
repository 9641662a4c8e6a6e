package ml

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"

	"github.com/temcen/ratingrec/pkg/models"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		expected []string
	}{
		{"lower-cases and splits", "Wireless Mouse, BLACK", []string{"wireless", "mouse", "black"}},
		{"drops single characters", "a b cd", []string{"cd"}},
		{"price splits on the dot", "19.99", []string{"19", "99"}},
		{"normalizes full-width", "ＵＳＢ cable", []string{"usb", "cable"}},
		{"keeps underscores", "snake_case", []string{"snake_case"}},
		{"empty", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Tokenize(tt.text))
		})
	}
}

func TestTFIDFVectorizer_FitTransform(t *testing.T) {
	v := NewTFIDFVectorizer(100)

	t.Run("no documents", func(t *testing.T) {
		_, err := v.FitTransform(nil)
		assert.ErrorIs(t, err, ErrNoData)
	})

	t.Run("rows are normalized and stop words removed", func(t *testing.T) {
		fm, err := v.FitTransform([]string{
			"the wireless mouse",
			"wireless keyboard",
			"",
		})
		require.NoError(t, err)

		rows, terms := fm.Dims()
		assert.Equal(t, 3, rows)
		assert.Equal(t, 3, terms)
		assert.Equal(t, []string{"keyboard", "mouse", "wireless"}, fm.Terms)

		assert.InDelta(t, 1, floats.Norm(fm.Row(0), 2), 1e-12)
		assert.InDelta(t, 1, floats.Norm(fm.Row(1), 2), 1e-12)
		assert.Equal(t, 0.0, floats.Norm(fm.Row(2), 2))

		// rarer term weighs more than the shared one
		assert.Greater(t, fm.Row(0)[1], fm.Row(0)[2])
	})

	t.Run("only stop words yields empty vocabulary", func(t *testing.T) {
		fm, err := v.FitTransform([]string{"the and of", "a an"})
		require.NoError(t, err)

		rows, terms := fm.Dims()
		assert.Equal(t, 2, rows)
		assert.Equal(t, 0, terms)
		assert.Empty(t, fm.Row(0))

		sim, err := fm.Similarity()
		require.NoError(t, err)
		assert.Equal(t, 0.0, sim.At(0, 1))
		assert.Equal(t, 0.0, sim.At(0, 0))
	})

	t.Run("vocabulary is capped", func(t *testing.T) {
		docs := make([]string, 0, 150)
		for i := 0; i < 150; i++ {
			docs = append(docs, fmt.Sprintf("term%03d common", i))
		}

		fm, err := NewTFIDFVectorizer(10).FitTransform(docs)
		require.NoError(t, err)

		assert.Len(t, fm.Terms, 10)
		assert.Contains(t, fm.Terms, "common")
	})
}

func TestFeatureMatrix_Similarity(t *testing.T) {
	fm, err := NewTFIDFVectorizer(100).FitTransform([]string{
		"stainless steel water bottle",
		"stainless steel water bottle",
		"leather wallet",
	})
	require.NoError(t, err)

	sim, err := fm.Similarity()
	require.NoError(t, err)

	assert.InDelta(t, 1, sim.At(0, 1), 1e-9)
	assert.InDelta(t, 0, sim.At(0, 2), 1e-9)
	for i := 0; i < 3; i++ {
		assert.InDelta(t, 1, sim.At(i, i), 1e-9)
	}
}

func TestProductDocument(t *testing.T) {
	price := 19.5
	p := models.Product{Title: "Desk Lamp", CategoryName: "Lighting", Price: &price}

	assert.Equal(t, "Desk Lamp Lighting 19.5", ProductDocument(p))
	assert.Equal(t, "Desk Lamp Lighting", ProductLabelDocument(p))

	p.Price = nil
	assert.Equal(t, "Desk Lamp Lighting ", ProductDocument(p))
}
