// Package rawstore persists raw API payloads in an append-only directory
// tree: raw/<level>/<metric>/<entity>/<start>_<end>.json under the data
// directory. Path components are sanitized, windows are epoch seconds, and
// files land via temp-file-plus-rename so readers never see partial chunks.
package rawstore

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cheikh-a/ioda-pipeline/internal/domain"
)

// Store reads and writes raw signal chunks under a data directory.
type Store struct {
	dataDir string
}

// New creates a store rooted at the given data directory.
func New(dataDir string) *Store {
	return &Store{dataDir: dataDir}
}

// ChunkRef identifies one stored chunk. RelPath is relative to the data
// directory and is the provenance string observations carry.
type ChunkRef struct {
	Level    domain.Level
	Metric   string
	EntityID string
	Window   domain.TimeWindow
	RelPath  string
}

// RelPath builds the storage path for a chunk, relative to the data
// directory. Always slash-separated, also on Windows.
func (s *Store) RelPath(level domain.Level, metric, entityID string, w domain.TimeWindow) string {
	return path.Join(
		"raw",
		string(level),
		domain.SanitizeKey(metric),
		domain.SanitizeKey(entityID),
		w.FilenameStem()+".json",
	)
}

// Exists reports whether a chunk file is already present.
func (s *Store) Exists(rel string) bool {
	_, err := os.Stat(s.fullPath(rel))
	return err == nil
}

// Write stores a chunk body atomically.
func (s *Store) Write(rel string, body []byte) error {
	full := s.fullPath(rel)
	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create chunk dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(full)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp chunk: %w", err)
	}
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write chunk: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close chunk: %w", err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("move chunk into place: %w", err)
	}
	return nil
}

// Read returns a chunk body.
func (s *Store) Read(rel string) ([]byte, error) {
	body, err := os.ReadFile(s.fullPath(rel))
	if err != nil {
		return nil, fmt.Errorf("read chunk: %w", err)
	}
	return body, nil
}

// List walks the raw tree and returns every stored chunk, sorted by
// RelPath so downstream processing is deterministic. Files that do not
// look like chunks (wrong extension, unparseable window) are ignored.
func (s *Store) List() ([]ChunkRef, error) {
	root := filepath.Join(s.dataDir, "raw")
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return nil, nil
	}

	var refs []ChunkRef
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".json") {
			return nil
		}
		rel, err := filepath.Rel(s.dataDir, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		// raw/<level>/<metric>/<entity>/<stem>.json
		parts := strings.Split(rel, "/")
		if len(parts) != 5 {
			return nil
		}
		window, ok := domain.ParseFilenameStem(strings.TrimSuffix(parts[4], ".json"))
		if !ok {
			return nil
		}
		refs = append(refs, ChunkRef{
			Level:    domain.Level(parts[1]),
			Metric:   parts[2],
			EntityID: parts[3],
			Window:   window,
			RelPath:  rel,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk raw store: %w", err)
	}

	sort.Slice(refs, func(i, j int) bool { return refs[i].RelPath < refs[j].RelPath })
	return refs, nil
}

func (s *Store) fullPath(rel string) string {
	return filepath.Join(s.dataDir, filepath.FromSlash(rel))
}
