package ml

import (
	"cmp"
	"math"
	"slices"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/temcen/ratingrec/pkg/models"
)

const DefaultMaxFeatures = 100

// TFIDFVectorizer turns documents into L2-normalized TF-IDF rows. The vocabulary is fitted on every
// call, so rows from two different calls live in different spaces and must not be compared.
type TFIDFVectorizer struct {
	MaxFeatures int
	StopWords   map[string]struct{}
}

func NewTFIDFVectorizer(maxFeatures int) *TFIDFVectorizer {
	if maxFeatures <= 0 {
		maxFeatures = DefaultMaxFeatures
	}
	return &TFIDFVectorizer{
		MaxFeatures: maxFeatures,
		StopWords:   EnglishStopWords,
	}
}

// FitTransform fits the vocabulary on docs and returns one row per document, in input order.
// Documents with no usable tokens get a zero row.
func (v *TFIDFVectorizer) FitTransform(docs []string) (*FeatureMatrix, error) {
	if len(docs) == 0 {
		return nil, ErrNoData
	}

	counts := make([]map[string]int, len(docs))
	corpusFreq := make(map[string]int)
	docFreq := make(map[string]int)

	for i, doc := range docs {
		tf := make(map[string]int)
		for _, tok := range Tokenize(doc) {
			if _, stop := v.StopWords[tok]; stop {
				continue
			}
			tf[tok]++
			corpusFreq[tok]++
		}
		for tok := range tf {
			docFreq[tok]++
		}
		counts[i] = tf
	}

	terms := v.selectVocabulary(corpusFreq)
	fm := &FeatureMatrix{Terms: terms, rows: len(docs)}
	if len(terms) == 0 {
		return fm, nil
	}

	col := make(map[string]int, len(terms))
	idf := make([]float64, len(terms))
	n := float64(len(docs))
	for j, t := range terms {
		col[t] = j
		idf[j] = math.Log((1+n)/(1+float64(docFreq[t]))) + 1
	}

	fm.Values = mat.NewDense(len(docs), len(terms), nil)
	for i, tf := range counts {
		row := fm.Values.RawRowView(i)
		for tok, c := range tf {
			if j, ok := col[tok]; ok {
				row[j] = float64(c) * idf[j]
			}
		}
		if l2 := floats.Norm(row, 2); l2 > 0 {
			floats.Scale(1/l2, row)
		}
	}

	return fm, nil
}

// selectVocabulary keeps the MaxFeatures most frequent terms across the corpus and returns them
// in alphabetical order.
func (v *TFIDFVectorizer) selectVocabulary(corpusFreq map[string]int) []string {
	terms := make([]string, 0, len(corpusFreq))
	for t := range corpusFreq {
		terms = append(terms, t)
	}

	if v.MaxFeatures > 0 && len(terms) > v.MaxFeatures {
		slices.SortFunc(terms, func(a, b string) int {
			if c := cmp.Compare(corpusFreq[b], corpusFreq[a]); c != 0 {
				return c
			}
			return strings.Compare(a, b)
		})
		terms = terms[:v.MaxFeatures]
	}

	slices.Sort(terms)
	return terms
}

// Tokenize lower-cases NFKC-normalized text and splits it into runs of two or more letters, digits
// or underscores. Everything else separates tokens.
func Tokenize(text string) []string {
	text = strings.ToLower(norm.NFKC.String(text))

	var tokens []string
	start := -1
	flush := func(end int) {
		if start >= 0 && utf8.RuneCountInString(text[start:end]) >= 2 {
			tokens = append(tokens, text[start:end])
		}
		start = -1
	}

	for i, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			if start < 0 {
				start = i
			}
			continue
		}
		flush(i)
	}
	flush(len(text))

	return tokens
}

// ProductDocument is the text a product is vectorized from: title, category name and price.
func ProductDocument(p models.Product) string {
	return strings.Join([]string{p.Title, p.CategoryName, FormatPrice(p.Price)}, " ")
}

// ProductLabelDocument leaves the price out. Used for ad hoc similarity matrices.
func ProductLabelDocument(p models.Product) string {
	return p.Title + " " + p.CategoryName
}

func FormatPrice(price *float64) string {
	if price == nil {
		return ""
	}
	return strconv.FormatFloat(*price, 'f', -1, 64)
}
