// Package artifact stages the output files of one deployment run.
//
// Staging happens in a throwaway directory: every file is written in full
// before the artifact is handed to the upload step, so a half-written
// bundle can never become visible to the hosting target. The artifact is
// an atomic, immutable unit from the uploader's point of view.
package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hazyhaar/mirlist/snapshot"
)

// Output is one region's rendered mirror list: the destination file name
// and the selected URLs, one per line. Zero URLs is valid and renders an
// empty file; "no known-good mirror" is published, not masked.
type Output struct {
	Name string
	URLs snapshot.SelectionResult
}

// Artifact is a fully staged bundle. Close removes the staging directory;
// call it once the upload step is done with the files.
type Artifact struct {
	Dir   string
	Files []string
}

// Close deletes the staging directory.
func (a *Artifact) Close() error {
	return os.RemoveAll(a.Dir)
}

// Writer stages artifacts under a work directory.
type Writer struct {
	workDir string
}

// NewWriter creates a Writer. An empty workDir falls back to the system
// temp directory.
func NewWriter(workDir string) *Writer {
	return &Writer{workDir: workDir}
}

// Stage renders the outputs plus the passthrough content into a fresh
// staging directory. Passthrough files are copied byte-identical first;
// generated outputs win on name collision. Rendering is deterministic:
// the same outputs produce byte-identical files.
func (w *Writer) Stage(outputs []Output, passthroughDir string) (*Artifact, error) {
	if w.workDir != "" {
		if err := os.MkdirAll(w.workDir, 0o755); err != nil {
			return nil, fmt.Errorf("artifact: work dir: %w", err)
		}
	}
	dir, err := os.MkdirTemp(w.workDir, "artifact-")
	if err != nil {
		return nil, fmt.Errorf("artifact: staging dir: %w", err)
	}

	a := &Artifact{Dir: dir}
	if err := w.populate(a, outputs, passthroughDir); err != nil {
		os.RemoveAll(dir)
		return nil, err
	}
	return a, nil
}

func (w *Writer) populate(a *Artifact, outputs []Output, passthroughDir string) error {
	if passthroughDir != "" {
		if err := os.CopyFS(a.Dir, os.DirFS(passthroughDir)); err != nil {
			return fmt.Errorf("artifact: copy passthrough: %w", err)
		}
	}

	for _, out := range outputs {
		if filepath.Base(out.Name) != out.Name || out.Name == "." || out.Name == ".." {
			return fmt.Errorf("artifact: invalid output name %q", out.Name)
		}
		if err := os.WriteFile(filepath.Join(a.Dir, out.Name), render(out.URLs), 0o644); err != nil {
			return fmt.Errorf("artifact: write %s: %w", out.Name, err)
		}
	}

	files, err := listFiles(a.Dir)
	if err != nil {
		return fmt.Errorf("artifact: list: %w", err)
	}
	a.Files = files
	return nil
}

// render produces the plain text mirror list: one URL per line in
// selection order. An empty selection renders a zero-line file.
func render(urls snapshot.SelectionResult) []byte {
	if len(urls) == 0 {
		return nil
	}
	return []byte(strings.Join(urls, "\n") + "\n")
}

func listFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files = append(files, rel)
		return nil
	})
	return files, err
}
