// Package engine implements the Dipamkara storage and query engine: three
// in-memory containers (vectors, inverted indices, document cache) plus a
// monotonic id counter, backed by an archive directory.
//
// Concurrency discipline: four mutexes guard the containers and the counter.
// They are always acquired in the order
//
//	vectors -> indices -> documents -> counter
//
// and an operation takes only the locks it needs, in that order. Queries copy the key set
// they scan under the narrowest possible lock and score without holding any.
package engine

import (
	"encoding/json"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/bhakti-db/bhakti/internal/archive"
	"github.com/bhakti-db/bhakti/internal/errors"
)

// Document is a free-form field map as decoded from JSON.
type Document = map[string]any

// decodedCacheSize bounds the LRU of parsed vector keys. At 1024 dimensions
// times 8 bytes times 4096 entries this stays around 32MB.
const decodedCacheSize = 4096

// Options configures a Dipamkara instance.
type Options struct {
	// Dimension every stored vector must have.
	Dimension int
	// Path is the archive directory.
	Path string
	// Cached loads every document into memory at startup and caches every
	// document read or created afterwards.
	Cached bool
}

// Dipamkara is the storage engine. A single long-lived instance serves all
// connections; tests construct independent instances over distinct paths.
type Dipamkara struct {
	dimension int
	cached    bool
	ar        *archive.Archive

	muVectors   sync.Mutex
	muIndices   sync.Mutex
	muDocuments sync.Mutex
	muCounter   sync.Mutex

	vectors       map[string]int64
	indices       map[string]map[string]any
	documents     map[int64]Document
	autoIncrement int64

	decoded *lru.Cache[string, []float64]
}

// New opens the archive at opts.Path, restores the snapshots, sweeps orphan
// document files and initializes the id counter.
func New(opts Options) (*Dipamkara, error) {
	if opts.Dimension <= 0 {
		return nil, errors.Newf(errors.ErrCodeConfigInvalid, "dimension must be positive, got %d", opts.Dimension)
	}

	ar, err := archive.Open(opts.Path)
	if err != nil {
		return nil, err
	}

	vectors, err := ar.LoadVectors()
	if err != nil {
		_ = ar.Close()
		return nil, err
	}
	indices, err := ar.LoadIndices()
	if err != nil {
		_ = ar.Close()
		return nil, err
	}

	live := make(map[int64]struct{}, len(vectors))
	for _, id := range vectors {
		live[id] = struct{}{}
	}
	removed, err := ar.GarbageCollect(live)
	if err != nil {
		_ = ar.Close()
		return nil, err
	}
	if len(removed) > 0 {
		slog.Warn("swept orphan documents", slog.Int("count", len(removed)))
	}

	var next int64
	for _, id := range vectors {
		if id+1 > next {
			next = id + 1
		}
	}

	decoded, err := lru.New[string, []float64](decodedCacheSize)
	if err != nil {
		_ = ar.Close()
		return nil, errors.Wrap(errors.ErrCodeInternal, err)
	}

	d := &Dipamkara{
		dimension:     opts.Dimension,
		cached:        opts.Cached,
		ar:            ar,
		vectors:       vectors,
		indices:       indices,
		documents:     make(map[int64]Document),
		autoIncrement: next,
		decoded:       decoded,
	}

	if opts.Cached {
		for _, id := range vectors {
			doc, err := ar.ReadDocument(id)
			if err != nil {
				_ = ar.Close()
				return nil, err
			}
			d.documents[id] = doc
		}
	}

	return d, nil
}

// Close releases the archive lock.
func (d *Dipamkara) Close() error {
	return d.ar.Close()
}

// Dimension returns the configured vector dimension.
func (d *Dipamkara) Dimension() int {
	return d.dimension
}

// key validates a vector and returns its canonical textual form, the JSON
// array of its components. NaN and infinite components are rejected since
// they have no JSON encoding.
func (d *Dipamkara) key(vector []float64) (string, error) {
	if len(vector) != d.dimension {
		return "", errors.Newf(errors.ErrCodeVectorShape,
			"vector is %d-dimensional, want %d", len(vector), d.dimension)
	}
	b, err := json.Marshal(vector)
	if err != nil {
		return "", errors.New(errors.ErrCodeVectorShape,
			"vector contains non-finite components", err)
	}
	return string(b), nil
}

// decodeKey parses a canonical vector key back into its components, through
// the LRU so exhaustive scans do not re-parse the same keys every query.
func (d *Dipamkara) decodeKey(vk string) ([]float64, error) {
	if v, ok := d.decoded.Get(vk); ok {
		return v, nil
	}
	var v []float64
	if err := json.Unmarshal([]byte(vk), &v); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err)
	}
	d.decoded.Add(vk, v)
	return v, nil
}

// findDocument returns the document for an id, reading through the cache.
// Caller must hold muDocuments.
func (d *Dipamkara) findDocument(id int64, cache bool) (Document, error) {
	if doc, ok := d.documents[id]; ok {
		return doc, nil
	}
	doc, err := d.ar.ReadDocument(id)
	if err != nil {
		return nil, err
	}
	if d.cached || cache {
		d.documents[id] = doc
	}
	return doc, nil
}

// snapshot writes the .vec and .inv files from the current containers.
// Caller must hold (at least) muVectors and muIndices, or otherwise
// guarantee exclusive access to both maps.
func (d *Dipamkara) snapshot() error {
	if err := d.ar.SnapshotVectors(d.vectors); err != nil {
		return err
	}
	return d.ar.SnapshotIndices(d.indices)
}

// Save flushes the .vec and .inv snapshots. The containers are copied under
// their locks; file writes happen without any lock held.
func (d *Dipamkara) Save() error {
	d.muVectors.Lock()
	vectors := make(map[string]int64, len(d.vectors))
	for vk, id := range d.vectors {
		vectors[vk] = id
	}
	d.muVectors.Unlock()

	d.muIndices.Lock()
	indices := copyIndices(d.indices)
	d.muIndices.Unlock()

	if err := d.ar.SnapshotVectors(vectors); err != nil {
		return err
	}
	return d.ar.SnapshotIndices(indices)
}

// Insight is the meta snapshot returned by the insight operation.
type Insight struct {
	ArchiveDir      string                    `json:"archive_dir"`
	EnableCache     bool                      `json:"enable_cache"`
	AutoIncrement   int64                     `json:"auto_increment"`
	Vectors         map[string]int64          `json:"vectors"`
	InvertedIndices map[string]map[string]any `json:"inverted_indices"`
	CachedDocs      map[int64]Document        `json:"cached_docs"`
}

// Insight reports the engine's meta state: archive path, cache flag, counter
// and copies of all three containers.
func (d *Dipamkara) Insight() Insight {
	d.muVectors.Lock()
	defer d.muVectors.Unlock()
	d.muIndices.Lock()
	defer d.muIndices.Unlock()
	d.muDocuments.Lock()
	defer d.muDocuments.Unlock()

	vectors := make(map[string]int64, len(d.vectors))
	for vk, id := range d.vectors {
		vectors[vk] = id
	}
	docs := make(map[int64]Document, len(d.documents))
	for id, doc := range d.documents {
		docs[id] = doc
	}
	return Insight{
		ArchiveDir:      d.ar.Root(),
		EnableCache:     d.cached,
		AutoIncrement:   d.autoIncrement,
		Vectors:         vectors,
		InvertedIndices: copyIndices(d.indices),
		CachedDocs:      docs,
	}
}

func copyIndices(indices map[string]map[string]any) map[string]map[string]any {
	out := make(map[string]map[string]any, len(indices))
	for name, entries := range indices {
		m := make(map[string]any, len(entries))
		for vk, v := range entries {
			m[vk] = v
		}
		out[name] = m
	}
	return out
}
