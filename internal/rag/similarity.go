package rag

import (
	"fmt"
	"math"

	"RAG-Telebot/server/internal/apperr"
)

// NormalizeVector normalizes a vector to unit length. Zero vectors are returned unchanged.
func NormalizeVector(vector []float32) []float32 {
	if len(vector) == 0 {
		return vector
	}

	var norm float64
	for _, v := range vector {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)

	if norm == 0 {
		return vector
	}

	normalized := make([]float32, len(vector))
	for i, v := range vector {
		normalized[i] = float32(float64(v) / norm)
	}
	return normalized
}

// CosineSimilarity calculates cosine similarity between two vectors.
// A zero vector has similarity 0 with everything.
func CosineSimilarity(v1, v2 []float32) (float32, error) {
	if len(v1) != len(v2) {
		return 0, fmt.Errorf("%w: %d vs %d", apperr.ErrDimensionMismatch, len(v1), len(v2))
	}

	var dot, norm1, norm2 float64
	for i := range v1 {
		a, b := float64(v1[i]), float64(v2[i])
		dot += a * b
		norm1 += a * a
		norm2 += b * b
	}

	if norm1 == 0 || norm2 == 0 {
		return 0, nil
	}

	return float32(dot / (math.Sqrt(norm1) * math.Sqrt(norm2))), nil
}

// IsZeroVector reports whether every component is zero
func IsZeroVector(vector []float32) bool {
	for _, v := range vector {
		if v != 0 {
			return false
		}
	}
	return true
}

// IsValidVector checks if a vector is valid (no NaN or Inf values)
func IsValidVector(vector []float32) bool {
	for _, v := range vector {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

// ZeroVector returns a zero-filled vector of the given dimension
func ZeroVector(dim int) []float32 {
	if dim < 0 {
		dim = 0
	}
	return make([]float32, dim)
}
