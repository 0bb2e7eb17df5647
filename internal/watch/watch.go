// Package watch watches a directory for new vector batch files and feeds
// them into an index that is still in its ingesting phase, using fsnotify.
package watch

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/screenager/vexel/internal/hnsw"
	"github.com/screenager/vexel/internal/vecio"
)

// Watcher watches a directory tree for new .fvecs/.jsonl files and appends
// every vector they contain to an ingesting graph via AddData.
type Watcher struct {
	fw *fsnotify.Watcher
	g  *hnsw.Graph
}

// New creates a Watcher backed by the given graph. g must still be in the
// Ingesting (or Empty) state; Watch's AddData calls fail with InvalidState
// once the graph is sealed.
func New(g *hnsw.Graph) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("fsnotify: %w", err)
	}
	return &Watcher{fw: fw, g: g}, nil
}

func isVectorFile(path string) bool {
	lower := strings.ToLower(path)
	return strings.HasSuffix(lower, ".fvecs") || strings.HasSuffix(lower, ".jsonl")
}

// Watch adds rootDir (and its subdirectories) to the watch list and ingests
// every vector in any .fvecs/.jsonl file that appears or is rewritten under
// it. It blocks until done is closed or an unrecoverable fsnotify error
// occurs; run it in a goroutine.
func (w *Watcher) Watch(rootDir string, done <-chan struct{}) error {
	if err := w.addDirRecursive(rootDir); err != nil {
		return err
	}

	pending := make(map[string]*time.Timer)

	for {
		select {
		case <-done:
			return w.fw.Close()

		case event, ok := <-w.fw.Events:
			if !ok {
				return nil
			}
			path := event.Name

			if event.Has(fsnotify.Create) {
				if fi, err := os.Stat(path); err == nil && fi.IsDir() {
					_ = w.addDirRecursive(path)
				}
			}

			if !isVectorFile(path) {
				continue
			}

			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if t, ok := pending[path]; ok {
					t.Stop()
				}
				pending[path] = time.AfterFunc(500*time.Millisecond, func() {
					n, err := w.ingestFile(path)
					if err != nil {
						fmt.Fprintf(os.Stderr, "[watch] %s: %v\n", path, err)
						return
					}
					fmt.Fprintf(os.Stderr, "[watch] ingested %d vectors from %s\n", n, path)
				})
			}

		case err, ok := <-w.fw.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(os.Stderr, "[watch] error: %v\n", err)
		}
	}
}

// ingestFile reads every vector in path and AddData's it into the graph,
// returning how many were added before the first error (if any).
func (w *Watcher) ingestFile(path string) (int, error) {
	r, err := vecio.Open(path, vecio.DetectFormat(path), w.g.Dim())
	if err != nil {
		return 0, err
	}
	defer r.Close()

	n := 0
	for {
		v, err := r.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return n, nil
			}
			return n, err
		}
		if _, err := w.g.AddData(v); err != nil {
			return n, err
		}
		n++
	}
}

// neverVectorBearing names directories that vector datasets are never
// dropped into but that commonly sit alongside them (package manager
// caches, build output) and that can hold enough entries
// to waste a meaningful share of the host's inotify watch descriptors.
// Skipping them outright is cheap and, since none of them is ever a sink
// for .fvecs/.jsonl batches, costs no real ingestion coverage.
var neverVectorBearing = map[string]bool{
	"node_modules": true,
	"vendor":       true,
	"__pycache__":  true,
	"target":       true,
	"dist":         true,
}

// addDirRecursive adds dir and all non-hidden, vector-bearing subdirectories
// to the watcher.
func (w *Watcher) addDirRecursive(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	if err := w.fw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if e.IsDir() {
			if neverVectorBearing[e.Name()] {
				continue
			}
			if err := w.addDirRecursive(filepath.Join(dir, e.Name())); err != nil {
				fmt.Fprintf(os.Stderr, "[watch] skip dir: %v\n", err)
			}
		}
	}
	return nil
}
