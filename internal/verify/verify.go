// Copyright 2026 The Foldiff Authors
// SPDX-License-Identifier: Apache-2.0

// Package verify checks a reconstructed tree against either a second tree
// directly (equality mode) or the expectations a manifest implies
// (against-manifest mode), reporting every mismatch it finds rather than
// stopping at the first.
package verify

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/yellowsink/foldiff/internal/hashstream"
	"github.com/yellowsink/foldiff/internal/manifest"
	"github.com/yellowsink/foldiff/internal/progress"
)

// ErrSymlink is returned, wrapping the offending relative path, when a walk
// encounters a symbolic link on either side.
var ErrSymlink = fmt.Errorf("symbolic links are not supported")

// Mismatch is one discrepancy found during equality verification.
type Mismatch struct {
	Kind string // "only-in-old", "only-in-new", "type-mismatch", "content-mismatch"
	Path string
}

func (m Mismatch) String() string {
	switch m.Kind {
	case "only-in-old":
		return fmt.Sprintf("present only in old tree: %s", m.Path)
	case "only-in-new":
		return fmt.Sprintf("present only in new tree: %s", m.Path)
	case "type-mismatch":
		return fmt.Sprintf("type mismatch (file vs directory): %s", m.Path)
	case "content-mismatch":
		return fmt.Sprintf("content mismatch: %s", m.Path)
	default:
		return fmt.Sprintf("%s: %s", m.Kind, m.Path)
	}
}

// Options configures both verification modes.
type Options struct {
	// Threads caps concurrent hash work; 0 selects runtime.NumCPU().
	Threads int
	// Reporting composes a progress.Reporter for the run.
	Reporting progress.MultiWrapper
}

func resolveThreads(n int) int {
	if n <= 0 {
		return runtime.NumCPU()
	}
	return n
}

func mkReporting(r progress.MultiWrapper) progress.MultiWrapper {
	if r == nil {
		return progress.NewNoop()
	}
	return r
}

// Equal recursively compares oldRoot and newRoot: both sides are walked in
// lockstep, symlinks are fatal, a name present on only one side or whose
// type differs (file vs directory) is reported without recursing further,
// and files present on both sides are hash-compared. Every mismatch found
// is written to out as one human-readable line; a non-nil error is
// returned if verification could not complete or found at least one
// mismatch.
func Equal(ctx context.Context, oldRoot, newRoot string, out io.Writer, opts Options) error {
	sem := make(chan struct{}, resolveThreads(opts.Threads))
	rep := mkReporting(opts.Reporting).NewReporter("verify")
	defer rep.Done()

	var mu sync.Mutex
	var mismatches []Mismatch
	report := func(m Mismatch) {
		mu.Lock()
		mismatches = append(mismatches, m)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return compareDirs(gctx, g, oldRoot, newRoot, "", sem, report, rep)
	})

	if err := g.Wait(); err != nil {
		return err
	}

	sort.Slice(mismatches, func(i, j int) bool { return mismatches[i].Path < mismatches[j].Path })
	for _, m := range mismatches {
		fmt.Fprintln(out, m.String())
	}
	if len(mismatches) > 0 {
		return fmt.Errorf("%d mismatch(es) found", len(mismatches))
	}
	return nil
}

func compareDirs(
	ctx context.Context,
	g *errgroup.Group,
	oldAbs, newAbs, relPath string,
	sem chan struct{},
	report func(Mismatch),
	rep progress.Reporter,
) error {
	oldEntries, err := readDirMap(oldAbs)
	if err != nil {
		return fmt.Errorf("read %s (old): %w", relPath, err)
	}
	newEntries, err := readDirMap(newAbs)
	if err != nil {
		return fmt.Errorf("read %s (new): %w", relPath, err)
	}

	names := make(map[string]struct{}, len(oldEntries)+len(newEntries))
	for n := range oldEntries {
		names[n] = struct{}{}
	}
	for n := range newEntries {
		names[n] = struct{}{}
	}
	sorted := make([]string, 0, len(names))
	for n := range names {
		sorted = append(sorted, n)
	}
	sort.Strings(sorted)

	for _, name := range sorted {
		name := name
		childRel := filepath.Join(relPath, name)
		oldEntry, oldOK := oldEntries[name]
		newEntry, newOK := newEntries[name]

		if oldOK && oldEntry.Type()&fs.ModeSymlink != 0 {
			return fmt.Errorf("%w: %s", ErrSymlink, childRel)
		}
		if newOK && newEntry.Type()&fs.ModeSymlink != 0 {
			return fmt.Errorf("%w: %s", ErrSymlink, childRel)
		}

		switch {
		case oldOK && !newOK:
			report(Mismatch{Kind: "only-in-old", Path: childRel})
			rep.Tick()
		case !oldOK && newOK:
			report(Mismatch{Kind: "only-in-new", Path: childRel})
			rep.Tick()
		case oldEntry.IsDir() != newEntry.IsDir():
			report(Mismatch{Kind: "type-mismatch", Path: childRel})
			rep.Tick()
		case oldEntry.IsDir():
			childOld, childNew := filepath.Join(oldAbs, name), filepath.Join(newAbs, name)
			g.Go(func() error {
				return compareDirs(ctx, g, childOld, childNew, childRel, sem, report, rep)
			})
		default:
			childOld, childNew := filepath.Join(oldAbs, name), filepath.Join(newAbs, name)
			g.Go(func() error {
				select {
				case sem <- struct{}{}:
				case <-ctx.Done():
					return ctx.Err()
				}
				defer func() { <-sem }()
				defer rep.Tick()

				oh, err := hashstream.SumFile(childOld)
				if err != nil {
					return fmt.Errorf("hash %s (old): %w", childRel, err)
				}
				nh, err := hashstream.SumFile(childNew)
				if err != nil {
					return fmt.Errorf("hash %s (new): %w", childRel, err)
				}
				if oh != nh {
					report(Mismatch{Kind: "content-mismatch", Path: childRel})
				}
				return nil
			})
		}
	}
	return nil
}

func readDirMap(dir string) (map[string]fs.DirEntry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	m := make(map[string]fs.DirEntry, len(entries))
	for _, e := range entries {
		m[e.Name()] = e
	}
	return m, nil
}

// expectation is one (root, expected hash, relative path) triple implied
// by a manifest.
type expectation struct {
	root string
	hash uint64
	path string
}

// AgainstManifest enumerates every (hash, path) pair m implies across
// oldRoot and newRoot and verifies each exists with the expected content,
// in parallel. Every mismatch found is written to out as one line.
func AgainstManifest(ctx context.Context, oldRoot, newRoot string, m *manifest.Manifest, out io.Writer, opts Options) error {
	expectations := expectationsFor(oldRoot, newRoot, m)

	sem := make(chan struct{}, resolveThreads(opts.Threads))
	rep := mkReporting(opts.Reporting).NewReporterSized("verify", len(expectations))
	defer rep.Done()

	var mu sync.Mutex
	var mismatches []string

	g, gctx := errgroup.WithContext(ctx)
	for _, exp := range expectations {
		exp := exp
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
			case <-gctx.Done():
				return gctx.Err()
			}
			defer func() { <-sem }()
			defer rep.Incr(1)

			full := filepath.Join(exp.root, filepath.FromSlash(exp.path))
			h, err := hashstream.SumFile(full)
			if err != nil {
				mu.Lock()
				mismatches = append(mismatches, fmt.Sprintf("missing or unreadable: %s (%v)", full, err))
				mu.Unlock()
				return nil
			}
			if h != exp.hash {
				mu.Lock()
				mismatches = append(mismatches, fmt.Sprintf("content mismatch: %s", full))
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	sort.Strings(mismatches)
	for _, line := range mismatches {
		fmt.Fprintln(out, line)
	}
	if len(mismatches) > 0 {
		return fmt.Errorf("%d mismatch(es) found", len(mismatches))
	}
	return nil
}

func expectationsFor(oldRoot, newRoot string, m *manifest.Manifest) []expectation {
	var exps []expectation

	for _, e := range m.Untouched {
		exps = append(exps, expectation{oldRoot, e.Hash, e.Path}, expectation{newRoot, e.Hash, e.Path})
	}
	for _, e := range m.Deleted {
		exps = append(exps, expectation{oldRoot, e.Hash, e.Path})
	}
	for _, e := range m.New {
		exps = append(exps, expectation{newRoot, e.Hash, e.Path})
	}
	for _, e := range m.Patched {
		exps = append(exps, expectation{oldRoot, e.OldHash, e.Path}, expectation{newRoot, e.NewHash, e.Path})
	}
	for _, d := range m.Duplicate {
		for _, p := range d.OldPaths {
			exps = append(exps, expectation{oldRoot, d.Hash, p})
		}
		for _, p := range d.NewPaths {
			exps = append(exps, expectation{newRoot, d.Hash, p})
		}
	}

	return exps
}
