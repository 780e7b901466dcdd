package publish

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/hazyhaar/mirlist/idgen"
)

// DirConfig configures a DirTarget.
type DirConfig struct {
	// Root is the static hosting root. Artifacts land under
	// <root>/releases/<name>/ and <root>/current always points at a
	// complete release.
	Root string
	// KeepReleases bounds how many past releases are retained. Default: 5.
	KeepReleases int
	// ServedURL is reported back as the published location. Default:
	// file://<root>/current.
	ServedURL string
}

func (c *DirConfig) defaults() {
	if c.KeepReleases <= 0 {
		c.KeepReleases = 5
	}
	if c.ServedURL == "" {
		c.ServedURL = "file://" + filepath.Join(c.Root, "current")
	}
}

// DirTarget publishes into a local (or mounted) static root with a
// write-new-then-rename symlink swap. A reader resolving the "current"
// link sees either the previous complete release or the new complete
// release, never a mix.
type DirTarget struct {
	config DirConfig
	newID  idgen.Generator
}

// NewDirTarget creates a DirTarget.
func NewDirTarget(cfg DirConfig) *DirTarget {
	cfg.defaults()
	return &DirTarget{
		config: cfg,
		newID:  idgen.Timestamped(idgen.NanoID(6)),
	}
}

// Publish copies dir into a fresh release directory, then atomically
// retargets the "current" symlink via rename.
func (t *DirTarget) Publish(ctx context.Context, dir string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	name := t.newID()
	releases := filepath.Join(t.config.Root, "releases")
	dst := filepath.Join(releases, name)

	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", fmt.Errorf("publish: release dir: %w", err)
	}
	if err := os.CopyFS(dst, os.DirFS(dir)); err != nil {
		os.RemoveAll(dst)
		return "", fmt.Errorf("publish: copy release: %w", err)
	}

	// Symlinks rename atomically; a new link is staged next to "current"
	// and moved over it so the swap is a single filesystem operation.
	tmpLink := filepath.Join(t.config.Root, ".current-"+name)
	if err := os.Symlink(filepath.Join("releases", name), tmpLink); err != nil {
		os.RemoveAll(dst)
		return "", fmt.Errorf("publish: stage link: %w", err)
	}
	if err := os.Rename(tmpLink, filepath.Join(t.config.Root, "current")); err != nil {
		os.Remove(tmpLink)
		os.RemoveAll(dst)
		return "", fmt.Errorf("publish: swap link: %w", err)
	}

	t.prune(releases, name)
	return t.config.ServedURL, nil
}

// prune removes old releases beyond KeepReleases, never touching the one
// just published. Release names are timestamp-prefixed, so lexicographic
// order tracks age. Pruning is best-effort; a failure never fails the
// publish.
func (t *DirTarget) prune(releases, current string) {
	entries, err := os.ReadDir(releases)
	if err != nil {
		return
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && e.Name() != current {
			names = append(names, e.Name())
		}
	}
	keep := t.config.KeepReleases - 1 // current fills one slot
	if len(names) <= keep {
		return
	}
	sort.Strings(names)
	for _, name := range names[:len(names)-keep] {
		os.RemoveAll(filepath.Join(releases, name))
	}
}
