package ai

import (
	"hash/fnv"
	"math"
	"strings"
)

// Vectorizer embeds short chat utterances into fixed-size feature vectors
// using the hashing trick: each token is hashed into a bucket, no vocabulary
// required. Two texts sharing words land in the same buckets, which makes
// cosine similarity a cheap semantic proximity signal.
type Vectorizer struct {
	size int
}

func NewVectorizer(size int) *Vectorizer {
	return &Vectorizer{size: size}
}

// Features maps text to a fixed-size binary vector. Chat messages are short,
// so word presence is a more stable signal than word counts.
func (v *Vectorizer) Features(text string) []float64 {
	vec := make([]float64, v.size)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(word))
		vec[int(h.Sum32())%v.size] = 1.0
	}
	return vec
}

// Cosine returns the cosine similarity of two equal-length vectors,
// or 0 when either vector is empty or zero.
func Cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
