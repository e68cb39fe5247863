package metric

import (
	"math"

	"github.com/bhakti-db/bhakti/internal/errors"
)

// Distance computes the distance between two equal-length vectors under the
// given metric. Both vectors must have the same length; the caller (the
// engine) guarantees this by validating dimensions at write time.
func Distance(a, b []float64, m Metric) (float64, error) {
	switch m {
	case Cosine:
		return cosineDistance(a, b), nil
	case Euclidean:
		return euclideanDistance(a, b), nil
	case EuclideanL2:
		return euclideanDistance(l2Normalize(a), l2Normalize(b)), nil
	case EuclideanZScore:
		return euclideanDistance(zScoreNormalize(a), zScoreNormalize(b)), nil
	case Chebyshev:
		return chebyshevDistance(a, b), nil
	default:
		return 0, errors.Newf(errors.ErrCodeMetricNotSupported, "metric %q not supported", m)
	}
}

// cosineDistance is 1 - cos(a, b). Zero-norm inputs yield 1 rather than NaN.
func cosineDistance(a, b []float64) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
}

func euclideanDistance(a, b []float64) float64 {
	var sum float64
	for i := range a {
		diff := a[i] - b[i]
		sum += diff * diff
	}
	return math.Sqrt(sum)
}

func chebyshevDistance(a, b []float64) float64 {
	var max float64
	for i := range a {
		if d := math.Abs(a[i] - b[i]); d > max {
			max = d
		}
	}
	return max
}

// l2Normalize scales the vector to unit length. The zero vector is returned
// unchanged.
func l2Normalize(v []float64) []float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return v
	}
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}

// zScoreNormalize centers the vector at zero mean and scales it by the
// population standard deviation. A constant vector is returned centered but
// unscaled.
func zScoreNormalize(v []float64) []float64 {
	if len(v) == 0 {
		return v
	}
	var sum float64
	for _, x := range v {
		sum += x
	}
	mean := sum / float64(len(v))

	var variance float64
	for _, x := range v {
		d := x - mean
		variance += d * d
	}
	stddev := math.Sqrt(variance / float64(len(v)))

	out := make([]float64, len(v))
	for i, x := range v {
		if stddev == 0 {
			out[i] = x - mean
		} else {
			out[i] = (x - mean) / stddev
		}
	}
	return out
}
