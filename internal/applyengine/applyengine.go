// Copyright 2026 The Foldiff Authors
// SPDX-License-Identifier: Apache-2.0

// Package applyengine reconstructs a new directory tree from an old tree
// and a diff file, running the four classification categories' work
// concurrently against a memory-mapped view of the diff.
package applyengine

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"github.com/edsrzf/mmap-go"
	"golang.org/x/sync/errgroup"

	"github.com/yellowsink/foldiff/internal/container"
	"github.com/yellowsink/foldiff/internal/errs"
	"github.com/yellowsink/foldiff/internal/hashstream"
	"github.com/yellowsink/foldiff/internal/manifest"
	"github.com/yellowsink/foldiff/internal/progress"
)

// ErrHashMismatch reports that a file's content did not hash to the value
// the manifest asserted for it.
type ErrHashMismatch struct {
	Path     string
	Expected uint64
	Got      uint64
}

func (e *ErrHashMismatch) Error() string {
	return fmt.Sprintf("hash mismatch for %q: expected %016x, got %016x", e.Path, e.Expected, e.Got)
}

// Options configures Apply.
type Options struct {
	// Reporting composes a progress.Reporter per non-empty category.
	Reporting progress.MultiWrapper
	// Threads caps the shared per-file worker pool; 0 selects
	// runtime.NumCPU(), per spec §5's single data-parallel pool sized
	// from configuration.
	Threads int
}

func resolveThreads(n int) int {
	if n <= 0 {
		return runtime.NumCPU()
	}
	return n
}

// Apply reconstructs newRoot from oldRoot and the diff file at diffPath.
// The four categories run concurrently, each spreading its own files
// across a worker pool shared by the whole run; every destination path is
// written by exactly one goroutine. Errors from one file do not stop
// processing of its siblings, but the run fails overall if any were
// recorded.
func Apply(ctx context.Context, oldRoot, newRoot, diffPath string, opts Options) error {
	if opts.Reporting == nil {
		opts.Reporting = progress.NewNoop()
	}

	f, err := os.Open(diffPath)
	if err != nil {
		return fmt.Errorf("open diff file: %w", err)
	}
	defer f.Close()

	mapped, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return fmt.Errorf("mmap diff file: %w", err)
	}
	defer mapped.Unmap()

	data := []byte(mapped)

	m, isLegacy, blobsOffset, err := container.ReadManifest(data)
	if err != nil {
		return fmt.Errorf("read manifest: %w", err)
	}
	idx, err := container.ReadBlobIndex(data, isLegacy, blobsOffset)
	if err != nil {
		return fmt.Errorf("index blobs: %w", err)
	}

	sink := &errs.Sink{}
	sem := make(chan struct{}, resolveThreads(opts.Threads))
	g, gctx := errgroup.WithContext(ctx)

	if len(m.Untouched) > 0 {
		rep := opts.Reporting.NewReporterSized("untouched", len(m.Untouched))
		g.Go(func() error {
			defer rep.Done()
			catG, catCtx := errgroup.WithContext(gctx)
			if err := applyUntouched(catCtx, catG, sem, oldRoot, newRoot, m.Untouched, sink, rep); err != nil {
				return err
			}
			return catG.Wait()
		})
	}
	if len(m.Duplicate) > 0 {
		rep := opts.Reporting.NewReporterSized("duplicated", len(m.Duplicate))
		g.Go(func() error {
			defer rep.Done()
			catG, catCtx := errgroup.WithContext(gctx)
			if err := applyDuplicated(catCtx, catG, sem, oldRoot, newRoot, m.Duplicate, data, idx, sink, rep); err != nil {
				return err
			}
			return catG.Wait()
		})
	}
	if len(m.New) > 0 {
		rep := opts.Reporting.NewReporterSized("new", len(m.New))
		g.Go(func() error {
			defer rep.Done()
			catG, catCtx := errgroup.WithContext(gctx)
			if err := applyNew(catCtx, catG, sem, newRoot, m.New, data, idx, sink, rep); err != nil {
				return err
			}
			return catG.Wait()
		})
	}
	if len(m.Patched) > 0 {
		rep := opts.Reporting.NewReporterSized("patched", len(m.Patched))
		g.Go(func() error {
			defer rep.Done()
			catG, catCtx := errgroup.WithContext(gctx)
			if err := applyPatched(catCtx, catG, sem, oldRoot, newRoot, m.Patched, data, idx, sink, rep); err != nil {
				return err
			}
			return catG.Wait()
		})
	}

	// The only non-nil returns below are context cancellation from a
	// saturated semaphore wait; real per-file failures live in sink so
	// siblings keep going instead of aborting the whole group.
	_ = g.Wait()

	return sink.Join()
}

func acquire(ctx context.Context, sem chan struct{}) error {
	select {
	case sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func applyUntouched(ctx context.Context, g *errgroup.Group, sem chan struct{}, oldRoot, newRoot string, entries []manifest.HashAndPath, sink *errs.Sink, rep progress.ReporterSized) error {
	for _, e := range entries {
		e := e
		if err := acquire(ctx, sem); err != nil {
			return err
		}
		g.Go(func() error {
			defer func() { <-sem }()
			defer rep.Incr(1)
			if err := reflinkOrCopyVerified(filepath.Join(oldRoot, filepath.FromSlash(e.Path)), filepath.Join(newRoot, filepath.FromSlash(e.Path)), e.Hash); err != nil {
				sink.Push(fmt.Errorf("untouched %q: %w", e.Path, err))
			}
			return nil
		})
	}
	return nil
}

func applyDuplicated(ctx context.Context, g *errgroup.Group, sem chan struct{}, oldRoot, newRoot string, entries []manifest.DuplicatedFile, data []byte, idx *container.Index, sink *errs.Sink, rep progress.ReporterSized) error {
	for _, e := range entries {
		e := e
		if err := acquire(ctx, sem); err != nil {
			return err
		}
		g.Go(func() error {
			defer func() { <-sem }()
			defer rep.Incr(1)
			if err := applyOneDuplicated(oldRoot, newRoot, e, data, idx); err != nil {
				sink.Push(fmt.Errorf("duplicated %x: %w", e.Hash, err))
			}
			return nil
		})
	}
	return nil
}

func applyOneDuplicated(oldRoot, newRoot string, e manifest.DuplicatedFile, data []byte, idx *container.Index) error {
	for _, p := range e.OldPaths {
		h, err := hashstream.SumFile(filepath.Join(oldRoot, filepath.FromSlash(p)))
		if err != nil {
			return fmt.Errorf("hash old path %q: %w", p, err)
		}
		if h != e.Hash {
			return &ErrHashMismatch{Path: p, Expected: e.Hash, Got: h}
		}
	}

	if e.Idx == manifest.Sentinel {
		if len(e.OldPaths) == 0 {
			return fmt.Errorf("duplicated entry has sentinel idx but no old paths")
		}
		src := filepath.Join(oldRoot, filepath.FromSlash(e.OldPaths[0]))
		for _, p := range e.NewPaths {
			if err := reflinkOrCopy(src, filepath.Join(newRoot, filepath.FromSlash(p))); err != nil {
				return fmt.Errorf("copy to %q: %w", p, err)
			}
		}
		return nil
	}

	if int(e.Idx) >= len(idx.NewBlobs) {
		return fmt.Errorf("new-blob index %d out of range", e.Idx)
	}
	if len(e.NewPaths) == 0 {
		return fmt.Errorf("duplicated entry has a new-blob idx but no new paths")
	}
	first := filepath.Join(newRoot, filepath.FromSlash(e.NewPaths[0]))
	if err := writeDecompressedNewBlob(data, idx.NewBlobs[e.Idx], first, e.Hash); err != nil {
		return err
	}
	for _, p := range e.NewPaths[1:] {
		if err := reflinkOrCopy(first, filepath.Join(newRoot, filepath.FromSlash(p))); err != nil {
			return fmt.Errorf("copy to %q: %w", p, err)
		}
	}
	return nil
}

func applyNew(ctx context.Context, g *errgroup.Group, sem chan struct{}, newRoot string, entries []manifest.NewFile, data []byte, idx *container.Index, sink *errs.Sink, rep progress.ReporterSized) error {
	for _, e := range entries {
		e := e
		if err := acquire(ctx, sem); err != nil {
			return err
		}
		g.Go(func() error {
			defer func() { <-sem }()
			defer rep.Incr(1)
			if int(e.Index) >= len(idx.NewBlobs) {
				sink.Push(fmt.Errorf("new %q: blob index %d out of range", e.Path, e.Index))
				return nil
			}
			dst := filepath.Join(newRoot, filepath.FromSlash(e.Path))
			if err := writeDecompressedNewBlob(data, idx.NewBlobs[e.Index], dst, e.Hash); err != nil {
				sink.Push(fmt.Errorf("new %q: %w", e.Path, err))
			}
			return nil
		})
	}
	return nil
}

func applyPatched(ctx context.Context, g *errgroup.Group, sem chan struct{}, oldRoot, newRoot string, entries []manifest.PatchedFile, data []byte, idx *container.Index, sink *errs.Sink, rep progress.ReporterSized) error {
	for _, e := range entries {
		e := e
		if err := acquire(ctx, sem); err != nil {
			return err
		}
		g.Go(func() error {
			defer func() { <-sem }()
			defer rep.Incr(1)
			if err := applyOnePatched(oldRoot, newRoot, e, data, idx); err != nil {
				sink.Push(fmt.Errorf("patched %q: %w", e.Path, err))
			}
			return nil
		})
	}
	return nil
}

func applyOnePatched(oldRoot, newRoot string, e manifest.PatchedFile, data []byte, idx *container.Index) error {
	if int(e.Index) >= len(idx.PatchBlobs) {
		return fmt.Errorf("patch-blob index %d out of range", e.Index)
	}

	oldPath := filepath.Join(oldRoot, filepath.FromSlash(e.Path))
	oldHash, err := hashstream.SumFile(oldPath)
	if err != nil {
		return fmt.Errorf("hash old side: %w", err)
	}
	if oldHash != e.OldHash {
		return &ErrHashMismatch{Path: e.Path + " (old side)", Expected: e.OldHash, Got: oldHash}
	}

	oldF, err := os.Open(oldPath)
	if err != nil {
		return fmt.Errorf("open old side: %w", err)
	}
	defer oldF.Close()
	oldInfo, err := oldF.Stat()
	if err != nil {
		return fmt.Errorf("stat old side: %w", err)
	}

	dstPath := filepath.Join(newRoot, filepath.FromSlash(e.Path))
	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return fmt.Errorf("create parent dirs: %w", err)
	}
	dstF, err := os.Create(dstPath)
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}
	dstTee := hashstream.NewTeeWriter(dstF)

	span := idx.PatchBlobs[e.Index]
	applyErr := container.ApplyPatchBlob(data, span, oldF, oldInfo.Size(), dstTee)
	closeErr := dstF.Close()

	if applyErr != nil {
		os.Remove(dstPath)
		return fmt.Errorf("apply delta: %w", applyErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close destination: %w", closeErr)
	}

	if dstTee.Sum64() != e.NewHash {
		return &ErrHashMismatch{Path: e.Path, Expected: e.NewHash, Got: dstTee.Sum64()}
	}
	return nil
}

func writeDecompressedNewBlob(data []byte, span container.BlobSpan, dstPath string, expectedHash uint64) error {
	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return fmt.Errorf("create parent dirs: %w", err)
	}

	r, err := container.OpenNewBlob(data, span)
	if err != nil {
		return fmt.Errorf("open blob: %w", err)
	}
	defer r.Close()

	dstF, err := os.Create(dstPath)
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}
	tee := hashstream.NewTeeWriter(dstF)

	_, copyErr := io.Copy(tee, r)
	closeErr := dstF.Close()
	if copyErr != nil {
		os.Remove(dstPath)
		return fmt.Errorf("decompress: %w", copyErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close destination: %w", closeErr)
	}

	if tee.Sum64() != expectedHash {
		return &ErrHashMismatch{Path: dstPath, Expected: expectedHash, Got: tee.Sum64()}
	}
	return nil
}

func reflinkOrCopyVerified(src, dst string, expectedHash uint64) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create parent dirs: %w", err)
	}

	srcF, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer srcF.Close()

	dstF, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}

	cloned := tryReflink(dstF.Fd(), srcF.Fd())
	var hash uint64
	if cloned {
		closeErr := dstF.Close()
		if closeErr != nil {
			return fmt.Errorf("close destination: %w", closeErr)
		}
		hash, err = hashstream.SumFile(dst)
		if err != nil {
			return fmt.Errorf("hash destination: %w", err)
		}
	} else {
		tee := hashstream.NewTeeReader(srcF)
		_, copyErr := io.Copy(dstF, tee)
		closeErr := dstF.Close()
		if copyErr != nil {
			return fmt.Errorf("copy: %w", copyErr)
		}
		if closeErr != nil {
			return fmt.Errorf("close destination: %w", closeErr)
		}
		hash = tee.Sum64()
	}

	if hash != expectedHash {
		return &ErrHashMismatch{Path: dst, Expected: expectedHash, Got: hash}
	}
	return nil
}

// reflinkOrCopy clones src to dst via copy-on-write where supported,
// falling back to a byte-for-byte copy.
func reflinkOrCopy(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create parent dirs: %w", err)
	}

	srcF, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer srcF.Close()

	dstF, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}
	defer dstF.Close()

	if tryReflink(dstF.Fd(), srcF.Fd()) {
		return nil
	}

	_, err = io.Copy(dstF, srcF)
	return err
}
