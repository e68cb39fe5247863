// Package metric implements the distance functions used for vector queries.
package metric

import (
	"github.com/bhakti-db/bhakti/internal/errors"
)

// Metric names a distance function. Values match the lowercase names used on
// the wire.
type Metric string

const (
	Cosine          Metric = "cosine"
	Euclidean       Metric = "euclidean"
	EuclideanL2     Metric = "euclidean_l2"
	EuclideanZScore Metric = "euclidean_z_score"
	Chebyshev       Metric = "chebyshev"
)

// All lists every supported metric.
var All = []Metric{Cosine, Euclidean, EuclideanL2, EuclideanZScore, Chebyshev}

// Parse resolves a wire-level metric name. Unknown names are an error, never
// a silent default.
func Parse(name string) (Metric, error) {
	for _, m := range All {
		if string(m) == name {
			return m, nil
		}
	}
	return "", errors.Newf(errors.ErrCodeMetricNotSupported, "metric %q not supported", name)
}
