package engine

import (
	"encoding/json"
	"sort"

	"github.com/bhakti-db/bhakti/internal/dsl"
	"github.com/bhakti-db/bhakti/internal/errors"
	"github.com/bhakti-db/bhakti/internal/metric"
)

// Neighbor is one vector query result. It marshals as the wire pair
// [vector, distance].
type Neighbor struct {
	Vector   []float64
	Distance float64
}

// MarshalJSON encodes the neighbor as a two-element array.
func (n Neighbor) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{n.Vector, n.Distance})
}

// DocMatch is one document query result. It marshals as the wire pair
// [document, distance].
type DocMatch struct {
	Document Document
	Distance float64
}

// MarshalJSON encodes the match as a two-element array.
func (m DocMatch) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{m.Document, m.Distance})
}

// candidate carries the document id through scoring so distance ties break
// by insertion order (ids are assigned monotonically).
type candidate struct {
	vk string
	id int64
}

// VectorQuery scores every live vector against the challenger and returns
// the topK nearest, ascending by distance. topK beyond the population is
// clamped. The key set is copied under the vectors lock; scoring runs
// without any lock and tolerates concurrent mutation.
func (d *Dipamkara) VectorQuery(vector []float64, metricName string, topK int) ([]Neighbor, error) {
	m, err := metric.Parse(metricName)
	if err != nil {
		return nil, err
	}
	if _, err := d.key(vector); err != nil {
		return nil, err
	}

	d.muVectors.Lock()
	candidates := make([]candidate, 0, len(d.vectors))
	for vk, id := range d.vectors {
		candidates = append(candidates, candidate{vk: vk, id: id})
	}
	d.muVectors.Unlock()

	return d.score(candidates, vector, m, topK)
}

// IndexedVectorQuery restricts the candidate set with a filter expression
// before scoring. The expression evaluates under the indices lock.
func (d *Dipamkara) IndexedVectorQuery(query string, vector []float64, metricName string, topK int) ([]Neighbor, error) {
	m, err := metric.Parse(metricName)
	if err != nil {
		return nil, err
	}
	if _, err := d.key(vector); err != nil {
		return nil, err
	}

	d.muIndices.Lock()
	matched, err := dsl.Evaluate(query, d.indices)
	d.muIndices.Unlock()
	if err != nil {
		return nil, err
	}

	d.muVectors.Lock()
	candidates := make([]candidate, 0, len(matched))
	for vk := range matched {
		if id, ok := d.vectors[vk]; ok {
			candidates = append(candidates, candidate{vk: vk, id: id})
		}
	}
	d.muVectors.Unlock()

	return d.score(candidates, vector, m, topK)
}

// score computes distances for all candidates and returns the topK nearest.
func (d *Dipamkara) score(candidates []candidate, vector []float64, m metric.Metric, topK int) ([]Neighbor, error) {
	type scored struct {
		candidate
		vec  []float64
		dist float64
	}
	results := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		v, err := d.decodeKey(c.vk)
		if err != nil {
			return nil, err
		}
		dist, err := metric.Distance(v, vector, m)
		if err != nil {
			return nil, err
		}
		results = append(results, scored{candidate: c, vec: v, dist: dist})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].dist != results[j].dist {
			return results[i].dist < results[j].dist
		}
		return results[i].id < results[j].id
	})

	if topK < 0 {
		topK = 0
	}
	if topK > len(results) {
		topK = len(results)
	}
	neighbors := make([]Neighbor, 0, topK)
	for _, r := range results[:topK] {
		neighbors = append(neighbors, Neighbor{Vector: r.vec, Distance: r.dist})
	}
	return neighbors, nil
}

// FindDocuments resolves the topK nearest vectors and returns their
// documents with distances. The cached flag additionally pins the bodies
// read from disk into the document cache.
func (d *Dipamkara) FindDocuments(vector []float64, metricName string, topK int, cached bool) ([]DocMatch, error) {
	neighbors, err := d.VectorQuery(vector, metricName, topK)
	if err != nil {
		return nil, err
	}
	return d.resolveDocuments(neighbors, cached)
}

// FindDocumentsIndexed is FindDocuments over a filtered candidate set.
func (d *Dipamkara) FindDocumentsIndexed(query string, vector []float64, metricName string, topK int, cached bool) ([]DocMatch, error) {
	neighbors, err := d.IndexedVectorQuery(query, vector, metricName, topK)
	if err != nil {
		return nil, err
	}
	return d.resolveDocuments(neighbors, cached)
}

// resolveDocuments maps neighbors to their document bodies. A neighbor
// removed concurrently between scoring and resolution is skipped.
func (d *Dipamkara) resolveDocuments(neighbors []Neighbor, cached bool) ([]DocMatch, error) {
	d.muVectors.Lock()
	defer d.muVectors.Unlock()
	d.muDocuments.Lock()
	defer d.muDocuments.Unlock()

	matches := make([]DocMatch, 0, len(neighbors))
	for _, n := range neighbors {
		vk, err := d.key(n.Vector)
		if err != nil {
			return nil, err
		}
		id, ok := d.vectors[vk]
		if !ok {
			continue
		}
		doc, err := d.findDocument(id, cached)
		if err != nil {
			if errors.GetCode(err) == errors.ErrCodeArchiveIO {
				continue
			}
			return nil, err
		}
		matches = append(matches, DocMatch{Document: doc, Distance: n.Distance})
	}
	return matches, nil
}
