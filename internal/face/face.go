// Package face implements descriptor comparison for the secondary
// verification factor and the client for the external descriptor service.
package face

import "math"

// DescriptorLength is the fixed length of face descriptor vectors produced
// by the embedding model.
const DescriptorLength = 128

// DefaultMatchThreshold is the Euclidean distance below which two
// descriptors are considered the same person.
const DefaultMatchThreshold = 0.6

// CosineSimilarity returns dot(a,b) / (|a|*|b|) in [-1, 1].
// Returns 0 when either vector is empty, mismatched in length, or has zero
// magnitude.
func CosineSimilarity(a, b []float64) float64 {
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

// EuclideanDistance returns the L2 distance between two descriptors, or
// +Inf when either is empty or the lengths differ.
func EuclideanDistance(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Matches reports whether two descriptors belong to the same person:
// Euclidean distance strictly below threshold. Lower distance means more
// similar, the opposite sense of cosine similarity. Nil, empty or
// mismatched descriptors never match.
func Matches(a, b []float64, threshold float64) bool {
	if threshold <= 0 {
		threshold = DefaultMatchThreshold
	}
	return EuclideanDistance(a, b) < threshold
}
