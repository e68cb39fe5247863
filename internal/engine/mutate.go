package engine

import (
	"log/slog"

	"github.com/bhakti-db/bhakti/internal/dsl"
	"github.com/bhakti-db/bhakti/internal/errors"
)

// Create stores a new record: the document file is written synchronously and
// verified before any in-memory state changes, and a failed validation,
// document write or index population leaves neither in-memory state nor a
// document file behind.
//
// Requested index names may name existing indices or document fields; a
// field-named index that does not exist yet is created and populated from
// every live document, including this one. Fields matching an existing index
// are indexed regardless of the indices argument.
func (d *Dipamkara) Create(vector []float64, document Document, indexNames []string, cached bool) (bool, error) {
	vk, err := d.key(vector)
	if err != nil {
		return false, err
	}

	d.muVectors.Lock()
	defer d.muVectors.Unlock()
	d.muIndices.Lock()
	defer d.muIndices.Unlock()
	d.muDocuments.Lock()
	defer d.muDocuments.Unlock()

	if _, exists := d.vectors[vk]; exists {
		return false, errors.Newf(errors.ErrCodeVectorExists, "vector %s already exists", vk)
	}
	for _, name := range indexNames {
		if dsl.ContainsKeyword(name) {
			return false, errors.Newf(errors.ErrCodeIndexName,
				"index name %q contains a reserved operator token", name)
		}
		if _, exists := d.indices[name]; !exists {
			if _, inDoc := document[name]; !inDoc {
				return false, errors.Newf(errors.ErrCodeIndexNotExist,
					"index %q is not a key of the document; use create_index to build it first", name)
			}
		}
	}

	id := d.autoIncrement
	if err := d.ar.WriteDocument(id, document); err != nil {
		return false, err
	}

	d.vectors[vk] = id
	var createdIndices []string
	rollback := func() {
		delete(d.vectors, vk)
		for _, name := range createdIndices {
			delete(d.indices, name)
		}
		for _, entries := range d.indices {
			delete(entries, vk)
		}
		_ = d.ar.RemoveDocument(id)
	}

	for _, name := range indexNames {
		if _, exists := d.indices[name]; exists {
			continue
		}
		d.indices[name] = make(map[string]any)
		createdIndices = append(createdIndices, name)
		if err := d.populateIndex(name); err != nil {
			rollback()
			return false, err
		}
	}
	// Keep previously built indices consistent with the new document.
	for field, value := range document {
		if entries, exists := d.indices[field]; exists {
			entries[vk] = value
		}
	}

	if d.cached || cached {
		d.documents[id] = document
	}

	d.muCounter.Lock()
	d.autoIncrement++
	d.muCounter.Unlock()

	if err := d.snapshot(); err != nil {
		return false, err
	}
	return true, nil
}

// populateIndex fills an index from every live document that contains the
// field. Caller must hold muVectors, muIndices and muDocuments.
func (d *Dipamkara) populateIndex(name string) error {
	entries := d.indices[name]
	for vk, id := range d.vectors {
		doc, err := d.findDocument(id, false)
		if err != nil {
			return err
		}
		if value, ok := doc[name]; ok {
			entries[vk] = value
		}
	}
	return nil
}

// CreateIndex builds a new inverted index over the given field and returns
// its populated entries.
func (d *Dipamkara) CreateIndex(name string) (map[string]any, error) {
	if dsl.ContainsKeyword(name) {
		return nil, errors.Newf(errors.ErrCodeIndexName,
			"index name %q contains a reserved operator token", name)
	}

	d.muVectors.Lock()
	defer d.muVectors.Unlock()
	d.muIndices.Lock()
	defer d.muIndices.Unlock()
	d.muDocuments.Lock()
	defer d.muDocuments.Unlock()

	if _, exists := d.indices[name]; exists {
		return nil, errors.Newf(errors.ErrCodeIndexExists, "index %q exists", name)
	}

	d.indices[name] = make(map[string]any)
	if err := d.populateIndex(name); err != nil {
		delete(d.indices, name)
		return nil, err
	}
	if err := d.snapshot(); err != nil {
		return nil, err
	}

	entries := make(map[string]any, len(d.indices[name]))
	for vk, v := range d.indices[name] {
		entries[vk] = v
	}
	return entries, nil
}

// RemoveIndex drops an inverted index. Documents are untouched.
func (d *Dipamkara) RemoveIndex(name string) (bool, error) {
	d.muIndices.Lock()
	defer d.muIndices.Unlock()

	if _, exists := d.indices[name]; !exists {
		return false, errors.Newf(errors.ErrCodeIndexNotExist, "index %q not exist", name)
	}
	delete(d.indices, name)

	if err := d.ar.SnapshotIndices(d.indices); err != nil {
		return false, err
	}
	return true, nil
}

// RemoveByVector destroys a record. Returns false without error when the
// vector is absent, so batched removals tolerate concurrent deletion.
func (d *Dipamkara) RemoveByVector(vector []float64, instaSave bool) (bool, error) {
	vk, err := d.key(vector)
	if err != nil {
		return false, err
	}
	return d.removeByKey(vk, instaSave)
}

func (d *Dipamkara) removeByKey(vk string, instaSave bool) (bool, error) {
	d.muVectors.Lock()
	defer d.muVectors.Unlock()
	d.muIndices.Lock()
	defer d.muIndices.Unlock()
	d.muDocuments.Lock()
	defer d.muDocuments.Unlock()

	id, exists := d.vectors[vk]
	if !exists {
		return false, nil
	}
	delete(d.vectors, vk)
	if err := d.ar.RemoveDocument(id); err != nil {
		// In-memory removal stays atomic; the orphan file is swept on the
		// next startup.
		slog.Warn("document file removal failed",
			slog.Int64("id", id), slog.String("error", err.Error()))
	}
	delete(d.documents, id)
	for _, entries := range d.indices {
		delete(entries, vk)
	}

	if instaSave {
		if err := d.snapshot(); err != nil {
			return true, err
		}
	}
	return true, nil
}

// IndexedRemove destroys every record matching the filter expression. The
// matching set resolves under the indices lock, then records are removed one
// by one; a single snapshot is written at the end, also when a removal
// failed partway through.
func (d *Dipamkara) IndexedRemove(query string) (bool, error) {
	d.muIndices.Lock()
	matched, err := dsl.Evaluate(query, d.indices)
	d.muIndices.Unlock()
	if err != nil {
		return false, err
	}

	var removeErr error
	for vk := range matched {
		if _, err := d.removeByKey(vk, false); err != nil {
			removeErr = err
			break
		}
	}

	d.muVectors.Lock()
	defer d.muVectors.Unlock()
	d.muIndices.Lock()
	defer d.muIndices.Unlock()
	if err := d.snapshot(); err != nil && removeErr == nil {
		removeErr = err
	}
	if removeErr != nil {
		return false, removeErr
	}
	return true, nil
}

// ModifyField updates one field of a record's document. The field must
// already exist; the document file is rewritten before the index entry (if
// any) is updated, so a failed write never leaves the index ahead of disk.
func (d *Dipamkara) ModifyField(vector []float64, field string, value any) (bool, error) {
	vk, err := d.key(vector)
	if err != nil {
		return false, err
	}

	d.muVectors.Lock()
	defer d.muVectors.Unlock()
	d.muIndices.Lock()
	defer d.muIndices.Unlock()
	d.muDocuments.Lock()
	defer d.muDocuments.Unlock()

	id, exists := d.vectors[vk]
	if !exists {
		return false, errors.Newf(errors.ErrCodeVectorNotExist, "vector %s not exist", vk)
	}
	doc, err := d.findDocument(id, false)
	if err != nil {
		return false, err
	}
	if _, ok := doc[field]; !ok {
		return false, errors.Newf(errors.ErrCodeFieldNotExist, "field %q not exist", field)
	}

	updated := make(Document, len(doc))
	for k, v := range doc {
		updated[k] = v
	}
	updated[field] = value

	if err := d.ar.RewriteDocument(id, updated); err != nil {
		return false, err
	}
	if _, ok := d.documents[id]; ok {
		d.documents[id] = updated
	}
	if entries, ok := d.indices[field]; ok {
		if _, ok := entries[vk]; ok {
			entries[vk] = value
		}
	}

	if err := d.snapshot(); err != nil {
		return false, err
	}
	return true, nil
}

// InvalidateCachedDoc drops a record's cached document body. The record and
// its file are untouched. Returns true whether or not the body was cached.
func (d *Dipamkara) InvalidateCachedDoc(vector []float64) (bool, error) {
	vk, err := d.key(vector)
	if err != nil {
		return false, err
	}

	d.muVectors.Lock()
	defer d.muVectors.Unlock()
	d.muDocuments.Lock()
	defer d.muDocuments.Unlock()

	id, exists := d.vectors[vk]
	if !exists {
		return false, errors.Newf(errors.ErrCodeVectorNotExist, "vector %s not exist", vk)
	}
	delete(d.documents, id)
	return true, nil
}
