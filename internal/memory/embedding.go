// Package memory implements the memory tier used by the runtime: a text
// feature extractor, an in-process vector index and a store/recall service
// over a durable key-value store.
package memory

import (
	"math"
	"strings"
)

// Dimension is the length of every feature vector produced by Embed.
const Dimension = 64

// Embed maps text onto a deterministic L2-normalized feature vector. The
// first 64 runes contribute code/256; each word i (up to 32) adds its rune
// sum/1000 at slot 2i and its length/20 at slot 2i+1.
func Embed(text string) []float64 {
	vec := make([]float64, Dimension)

	i := 0
	for _, r := range text {
		if i >= Dimension {
			break
		}
		vec[i] = float64(r) / 256.0
		i++
	}

	for i, word := range strings.Fields(text) {
		if i*2+1 >= Dimension {
			break
		}
		var sum int
		for _, r := range word {
			sum += int(r)
		}
		vec[i*2] += float64(sum) / 1000.0
		vec[i*2+1] += float64(len(word)) / 20.0
	}

	return Normalize(vec)
}

// Normalize scales v to unit length in place and returns it. Zero vectors
// are returned unchanged.
func Normalize(v []float64) []float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	if sum == 0 {
		return v
	}
	norm := math.Sqrt(sum)
	for i := range v {
		v[i] /= norm
	}
	return v
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0
// when the lengths differ or either vector is zero.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
