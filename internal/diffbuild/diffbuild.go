// Copyright 2026 The Foldiff Authors
// SPDX-License-Identifier: Apache-2.0

// Package diffbuild scans a pair of directory trees and classifies every
// regular file into one of the five manifest categories, producing a
// manifest plus the blob sources needed to write it out as a container.
package diffbuild

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"unicode/utf8"

	"github.com/yellowsink/foldiff/internal/container"
	"github.com/yellowsink/foldiff/internal/hashstream"
	"github.com/yellowsink/foldiff/internal/manifest"
)

// ErrSymlink is returned, wrapping the offending relative path, when a scan
// encounters a symbolic link. The spec does not support them.
var ErrSymlink = fmt.Errorf("symbolic links are not supported")

// Result is everything needed to write a completed diff: the manifest and
// the ordered blob sources whose indices the manifest entries reference.
type Result struct {
	Manifest   *manifest.Manifest
	NewBlobs   []container.NewBlobSource
	PatchBlobs []container.PatchBlobSource
}

type scannedFile struct {
	path    string // relative, forward-slash normalized
	absPath string
	hash    uint64
}

// scanTree walks root and returns every regular file found, hashed.
// Directories are not recorded. Symlinks are fatal. Non-UTF-8 relative
// paths are dropped silently, per spec.
func scanTree(root string) ([]scannedFile, error) {
	var files []scannedFile

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("walk %s: %w", p, err)
		}
		if p == root {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return fmt.Errorf("relativize %s: %w", p, err)
		}
		rel = manifest.NormalizePath(rel)

		if d.Type()&fs.ModeSymlink != 0 {
			return fmt.Errorf("%w: %s", ErrSymlink, rel)
		}
		if d.IsDir() {
			return nil
		}
		if !utf8.ValidString(rel) {
			return nil
		}

		hash, err := hashstream.SumFile(p)
		if err != nil {
			return fmt.Errorf("hash %s: %w", rel, err)
		}

		files = append(files, scannedFile{path: rel, absPath: p, hash: hash})
		return nil
	})
	if err != nil {
		return nil, err
	}

	return files, nil
}

// contentGroup aggregates, for one content hash, every path carrying it on
// each side of the diff.
type contentGroup struct {
	hash     uint64
	oldPaths []string
	newPaths []string
}

// Build scans oldRoot and newRoot and classifies the result into a
// manifest, following the content-group algorithm: group files by hash
// across both trees, then classify each group in hash-sorted order so
// output is a total function of content (spec invariant 2).
func Build(oldRoot, newRoot string) (*Result, error) {
	oldFiles, err := scanTree(oldRoot)
	if err != nil {
		return nil, fmt.Errorf("scan old tree: %w", err)
	}
	newFiles, err := scanTree(newRoot)
	if err != nil {
		return nil, fmt.Errorf("scan new tree: %w", err)
	}

	oldPathHash := make(map[string]uint64, len(oldFiles))
	oldPathAbs := make(map[string]string, len(oldFiles))
	newPathHash := make(map[string]uint64, len(newFiles))
	newPathAbs := make(map[string]string, len(newFiles))

	groups := make(map[uint64]*contentGroup)
	group := func(h uint64) *contentGroup {
		g, ok := groups[h]
		if !ok {
			g = &contentGroup{hash: h}
			groups[h] = g
		}
		return g
	}

	for _, f := range oldFiles {
		oldPathHash[f.path] = f.hash
		oldPathAbs[f.path] = f.absPath
		g := group(f.hash)
		g.oldPaths = append(g.oldPaths, f.path)
	}
	for _, f := range newFiles {
		newPathHash[f.path] = f.hash
		newPathAbs[f.path] = f.absPath
		g := group(f.hash)
		g.newPaths = append(g.newPaths, f.path)
	}

	hashes := make([]uint64, 0, len(groups))
	for h := range groups {
		hashes = append(hashes, h)
	}
	sort.Slice(hashes, func(i, j int) bool { return hashes[i] < hashes[j] })

	res := &Result{Manifest: &manifest.Manifest{}}

	for _, h := range hashes {
		g := groups[h]
		classify(res, g, oldPathHash, oldPathAbs, newPathAbs)
	}

	return res, nil
}

func classify(
	res *Result,
	g *contentGroup,
	oldPathHash map[string]uint64,
	oldPathAbs, newPathAbs map[string]string,
) {
	m := res.Manifest
	numOld, numNew := len(g.oldPaths), len(g.newPaths)

	switch {
	case numOld == 1 && numNew == 1 && g.oldPaths[0] == g.newPaths[0]:
		m.Untouched = append(m.Untouched, manifest.HashAndPath{Hash: g.hash, Path: g.oldPaths[0]})

	case numOld > 1 || numNew > 1 || (numOld == 1 && numNew == 1 && g.oldPaths[0] != g.newPaths[0]):
		d := manifest.DuplicatedFile{
			Hash:     g.hash,
			OldPaths: append([]string(nil), g.oldPaths...),
			NewPaths: append([]string(nil), g.newPaths...),
		}
		if numOld == 0 {
			d.Idx = uint64(len(res.NewBlobs))
			res.NewBlobs = append(res.NewBlobs, newBlobFromFile(newPathAbs[g.newPaths[0]]))
		} else {
			d.Idx = manifest.Sentinel
		}
		m.Duplicate = append(m.Duplicate, d)

	case numOld == 0 && numNew == 1:
		path := g.newPaths[0]
		if oldHash, existed := oldPathHash[path]; existed && oldHash != g.hash {
			idx := uint64(len(res.PatchBlobs))
			m.Patched = append(m.Patched, manifest.PatchedFile{
				OldHash: oldHash, NewHash: g.hash, Index: idx, Path: path,
			})
			res.PatchBlobs = append(res.PatchBlobs, patchBlobFromFiles(oldPathAbs[path], newPathAbs[path]))
		} else {
			idx := uint64(len(res.NewBlobs))
			m.New = append(m.New, manifest.NewFile{Hash: g.hash, Index: idx, Path: path})
			res.NewBlobs = append(res.NewBlobs, newBlobFromFile(newPathAbs[path]))
		}

	case numOld == 1 && numNew == 0:
		path := g.oldPaths[0]
		if _, existsInNew := newPathAbs[path]; existsInNew {
			// The path is covered on the new side by the content group
			// that now owns it there (as PATCHED, or inside a DUPLICATED
			// entry when that content also appears at other paths); this
			// group contributes nothing.
			return
		}
		m.Deleted = append(m.Deleted, manifest.HashAndPath{Hash: g.hash, Path: path})
	}
}

func newBlobFromFile(absPath string) container.NewBlobSource {
	return container.NewBlobSource{
		Open: func() (io.ReadCloser, error) { return os.Open(absPath) },
	}
}

func patchBlobFromFiles(oldAbs, newAbs string) container.PatchBlobSource {
	return container.PatchBlobSource{
		Old: container.RandomAccessSource{Open: func() (container.ReaderAtCloser, int64, error) {
			return openSized(oldAbs)
		}},
		New: container.RandomAccessSource{Open: func() (container.ReaderAtCloser, int64, error) {
			return openSized(newAbs)
		}},
	}
}

func openSized(path string) (*os.File, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, info.Size(), nil
}
