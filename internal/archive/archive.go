// Package archive owns the on-disk layout of a database directory:
//
//	<root>/.vec   JSON object: VectorKey -> DocumentID
//	<root>/.inv   JSON object: IndexName -> {VectorKey: value}
//	<root>/zen/   one JSON file per live document, named by decimal DocumentID
//
// Document files are written synchronously inline with mutations; .vec and
// .inv are whole-file snapshots written through a temp file and rename so a
// crash never leaves a torn snapshot behind.
package archive

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gofrs/flock"

	"github.com/bhakti-db/bhakti/internal/errors"
)

const (
	vecFile  = ".vec"
	invFile  = ".inv"
	zenDir   = "zen"
	lockFile = ".lock"
)

// Archive is a handle on one database directory. The process holds an
// exclusive file lock on the directory for the lifetime of the handle, so
// two server processes cannot open the same archive.
type Archive struct {
	root string
	vec  string
	inv  string
	zen  string
	lock *flock.Flock
}

// Open prepares the directory layout, creating root and zen/ if absent, and
// acquires the cross-process lock.
func Open(root string) (*Archive, error) {
	if err := os.MkdirAll(filepath.Join(root, zenDir), 0o755); err != nil {
		return nil, errors.Wrap(errors.ErrCodeArchiveIO, err)
	}

	lock := flock.New(filepath.Join(root, lockFile))
	acquired, err := lock.TryLock()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeArchiveIO, err)
	}
	if !acquired {
		return nil, errors.Newf(errors.ErrCodeArchiveLocked,
			"archive %s is locked by another process", root)
	}

	return &Archive{
		root: root,
		vec:  filepath.Join(root, vecFile),
		inv:  filepath.Join(root, invFile),
		zen:  filepath.Join(root, zenDir),
		lock: lock,
	}, nil
}

// Close releases the cross-process lock.
func (a *Archive) Close() error {
	return a.lock.Unlock()
}

// Root returns the database directory path.
func (a *Archive) Root() string {
	return a.root
}

// LoadVectors parses the .vec snapshot. A missing or empty file yields an
// empty map.
func (a *Archive) LoadVectors() (map[string]int64, error) {
	vectors := make(map[string]int64)
	if err := a.loadSnapshot(a.vec, &vectors); err != nil {
		return nil, err
	}
	return vectors, nil
}

// LoadIndices parses the .inv snapshot. A missing or empty file yields an
// empty map.
func (a *Archive) LoadIndices() (map[string]map[string]any, error) {
	indices := make(map[string]map[string]any)
	if err := a.loadSnapshot(a.inv, &indices); err != nil {
		return nil, err
	}
	return indices, nil
}

func (a *Archive) loadSnapshot(path string, out any) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrap(errors.ErrCodeArchiveIO, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.Wrap(errors.ErrCodeDocumentCorrupt, err)
	}
	return nil
}

// SnapshotVectors overwrites the .vec snapshot.
func (a *Archive) SnapshotVectors(vectors map[string]int64) error {
	return a.writeSnapshot(a.vec, vectors)
}

// SnapshotIndices overwrites the .inv snapshot.
func (a *Archive) SnapshotIndices(indices map[string]map[string]any) error {
	return a.writeSnapshot(a.inv, indices)
}

// writeSnapshot serializes v and atomically replaces path via temp file and
// rename.
func (a *Archive) writeSnapshot(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err)
	}
	return a.atomicWrite(path, data)
}

func (a *Archive) atomicWrite(path string, data []byte) error {
	tmp, err := os.CreateTemp(a.root, filepath.Base(path)+".tmp-*")
	if err != nil {
		return errors.Wrap(errors.ErrCodeArchiveIO, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return errors.Wrap(errors.ErrCodeArchiveIO, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return errors.Wrap(errors.ErrCodeArchiveIO, err)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(errors.ErrCodeArchiveIO, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return errors.Wrap(errors.ErrCodeArchiveIO, err)
	}
	return nil
}

// DocumentPath returns the zen/ file path for a document id.
func (a *Archive) DocumentPath(id int64) string {
	return filepath.Join(a.zen, strconv.FormatInt(id, 10))
}

// WriteDocument stores a document synchronously: write, fsync, then verify
// by re-reading the file. A verification mismatch removes the file and
// fails.
func (a *Archive) WriteDocument(id int64, doc map[string]any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err)
	}

	path := a.DocumentPath(id)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrap(errors.ErrCodeArchiveIO, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return errors.Wrap(errors.ErrCodeArchiveIO, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return errors.Wrap(errors.ErrCodeArchiveIO, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return errors.Wrap(errors.ErrCodeArchiveIO, err)
	}

	read, err := os.ReadFile(path)
	if err != nil || string(read) != string(data) {
		_ = os.Remove(path)
		return errors.Newf(errors.ErrCodeArchiveIO, "verification failed for document %d", id)
	}
	return nil
}

// RewriteDocument replaces an existing document body atomically.
func (a *Archive) RewriteDocument(id int64, doc map[string]any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err)
	}
	return a.atomicWrite(a.DocumentPath(id), data)
}

// ReadDocument loads and parses one document file.
func (a *Archive) ReadDocument(id int64) (map[string]any, error) {
	data, err := os.ReadFile(a.DocumentPath(id))
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeArchiveIO, err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(errors.ErrCodeDocumentCorrupt, err)
	}
	return doc, nil
}

// RemoveDocument deletes a document file. Removing an absent file is not an
// error.
func (a *Archive) RemoveDocument(id int64) error {
	err := os.Remove(a.DocumentPath(id))
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrap(errors.ErrCodeArchiveIO, err)
	}
	return nil
}

// DocumentIDs scans zen/ and returns every document id found. Entries whose
// names are not decimal integers are skipped.
func (a *Archive) DocumentIDs() ([]int64, error) {
	entries, err := os.ReadDir(a.zen)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeArchiveIO, err)
	}
	var ids []int64
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		id, err := strconv.ParseInt(entry.Name(), 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// GarbageCollect deletes document files whose id is not in live. Orphans
// appear when a crash lands between a document write and the next .vec
// snapshot; they are swept on startup.
func (a *Archive) GarbageCollect(live map[int64]struct{}) ([]int64, error) {
	ids, err := a.DocumentIDs()
	if err != nil {
		return nil, err
	}
	var removed []int64
	for _, id := range ids {
		if _, ok := live[id]; ok {
			continue
		}
		if err := a.RemoveDocument(id); err != nil {
			return removed, err
		}
		removed = append(removed, id)
	}
	return removed, nil
}
