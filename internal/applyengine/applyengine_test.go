// Copyright 2026 The Foldiff Authors
// SPDX-License-Identifier: Apache-2.0

package applyengine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/yellowsink/foldiff/internal/container"
	"github.com/yellowsink/foldiff/internal/diffbuild"
	"github.com/yellowsink/foldiff/internal/hashstream"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func buildDiffFile(t *testing.T, oldRoot, newRoot string) string {
	t.Helper()
	res, err := diffbuild.Build(oldRoot, newRoot)
	if err != nil {
		t.Fatal(err)
	}

	diffPath := filepath.Join(t.TempDir(), "out.fldf")
	f, err := os.Create(diffPath)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	cw := container.NewWriter(f)
	if err := cw.WriteManifest(res.Manifest); err != nil {
		t.Fatal(err)
	}
	if err := cw.WriteNewBlobs(res.NewBlobs, 3); err != nil {
		t.Fatal(err)
	}
	if err := cw.WritePatchBlobs(res.PatchBlobs, 3); err != nil {
		t.Fatal(err)
	}
	return diffPath
}

func assertTreesEqual(t *testing.T, expectedRoot, gotRoot string, paths []string) {
	t.Helper()
	for _, p := range paths {
		want, err := hashstream.SumFile(filepath.Join(expectedRoot, filepath.FromSlash(p)))
		if err != nil {
			t.Fatalf("hash expected %q: %v", p, err)
		}
		got, err := hashstream.SumFile(filepath.Join(gotRoot, filepath.FromSlash(p)))
		if err != nil {
			t.Fatalf("hash reconstructed %q: %v", p, err)
		}
		if want != got {
			t.Fatalf("content mismatch at %q", p)
		}
	}
}

func TestApplyReconstructsMixedTree(t *testing.T) {
	oldRoot := writeTree(t, map[string]string{
		"keep.txt":    "unchanged content",
		"rename.txt":  "renamed content",
		"old.txt":     "will be deleted",
		"modify.txt":  "version one of this file",
	})
	newRoot := writeTree(t, map[string]string{
		"keep.txt":     "unchanged content",
		"renamed.txt":  "renamed content",
		"modify.txt":   "version two of this file, which differs",
		"brandnew.txt": "never seen before",
	})

	diffPath := buildDiffFile(t, oldRoot, newRoot)

	outRoot := t.TempDir()
	if err := Apply(context.Background(), oldRoot, outRoot, diffPath, Options{}); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	assertTreesEqual(t, newRoot, outRoot, []string{"keep.txt", "renamed.txt", "modify.txt", "brandnew.txt"})
}

func TestApplyDuplicatedContentAcrossNewPaths(t *testing.T) {
	oldRoot := writeTree(t, map[string]string{})
	newRoot := writeTree(t, map[string]string{
		"a/one.txt": "shared payload",
		"a/two.txt": "shared payload",
	})

	diffPath := buildDiffFile(t, oldRoot, newRoot)

	outRoot := t.TempDir()
	if err := Apply(context.Background(), oldRoot, outRoot, diffPath, Options{}); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	assertTreesEqual(t, newRoot, outRoot, []string{"a/one.txt", "a/two.txt"})
}

func TestApplyRejectsTamperedOldTree(t *testing.T) {
	oldRoot := writeTree(t, map[string]string{"a.txt": "original bytes"})
	newRoot := writeTree(t, map[string]string{"a.txt": "patched bytes, a bit longer"})

	diffPath := buildDiffFile(t, oldRoot, newRoot)

	if err := os.WriteFile(filepath.Join(oldRoot, "a.txt"), []byte("tampered"), 0o644); err != nil {
		t.Fatal(err)
	}

	outRoot := t.TempDir()
	if err := Apply(context.Background(), oldRoot, outRoot, diffPath, Options{}); err == nil {
		t.Fatal("expected an error applying against a tampered old tree")
	}
}
