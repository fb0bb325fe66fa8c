package cache

import (
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// Embedder turns a prompt into a fixed-length vector. Implementations must
// be deterministic for a given input and return L2-normalized vectors so
// inner product equals cosine similarity.
type Embedder interface {
	Embed(text string) []float32
	Dimensions() int
}

// HashingEmbedder is the built-in embedder: a signed feature-hashing
// bag-of-words with bigrams. It needs no model weights and no network,
// which keeps lookups deterministic and cheap; swap in a real embedding
// backend through the Embedder interface when quality matters more than
// portability.
type HashingEmbedder struct {
	dims int
}

// NewHashingEmbedder creates an embedder producing vectors of the given
// dimensionality (384 when dims <= 0).
func NewHashingEmbedder(dims int) *HashingEmbedder {
	if dims <= 0 {
		dims = 384
	}
	return &HashingEmbedder{dims: dims}
}

// Dimensions returns the embedding dimensionality.
func (e *HashingEmbedder) Dimensions() int {
	return e.dims
}

// Embed maps the text into a normalized vector. Unigrams carry weight 1,
// bigrams weight 0.5; each feature is hashed to a bucket with a hash-derived
// sign to reduce collision bias.
func (e *HashingEmbedder) Embed(text string) []float32 {
	vec := make([]float32, e.dims)
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return vec
	}

	for _, tok := range tokens {
		bucket, sign := e.feature(tok)
		vec[bucket] += sign
	}
	for i := 0; i+1 < len(tokens); i++ {
		bucket, sign := e.feature(tokens[i] + " " + tokens[i+1])
		vec[bucket] += sign * 0.5
	}

	return normalize(vec)
}

// feature hashes a token to a bucket index and a +1/-1 sign.
func (e *HashingEmbedder) feature(token string) (int, float32) {
	h := fnv.New64a()
	h.Write([]byte(token))
	sum := h.Sum64()
	bucket := int(sum % uint64(e.dims))
	sign := float32(1)
	if sum&(1<<63) != 0 {
		sign = -1
	}
	return bucket, sign
}

// tokenize lowercases the text and splits on anything that is not a letter
// or digit, so punctuation and spacing differences do not change the vector.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// normalize scales the vector to unit L2 norm. Zero vectors are returned
// unchanged.
func normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vec
	}
	norm := math.Sqrt(sum)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}

// Cosine returns the inner product of two vectors. For the normalized
// vectors produced by an Embedder this is the cosine similarity.
func Cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}
