// Copyright 2026 The Foldiff Authors
// SPDX-License-Identifier: Apache-2.0

package verify

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/yellowsink/foldiff/internal/diffbuild"
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

func TestEqualReportsNoMismatchesForIdenticalTrees(t *testing.T) {
	a := writeTree(t, map[string]string{"x.txt": "same", "dir/y.txt": "also same"})
	b := writeTree(t, map[string]string{"x.txt": "same", "dir/y.txt": "also same"})

	var buf bytes.Buffer
	if err := Equal(context.Background(), a, b, &buf, Options{}); err != nil {
		t.Fatalf("expected equal trees to pass, got %v (%s)", err, buf.String())
	}
}

func TestEqualReportsEveryKindOfMismatch(t *testing.T) {
	a := writeTree(t, map[string]string{
		"only_old.txt": "x",
		"shared.txt":   "version a",
		"type_flip":    "a file here",
	})
	b := writeTree(t, map[string]string{
		"only_new.txt": "y",
		"shared.txt":   "version b",
	})
	if err := os.MkdirAll(filepath.Join(b, "type_flip"), 0o755); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	err := Equal(context.Background(), a, b, &buf, Options{})
	if err == nil {
		t.Fatal("expected mismatches to produce an error")
	}

	out := buf.String()
	for _, want := range []string{"only_old.txt", "only_new.txt", "shared.txt", "type_flip"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to mention %q, got:\n%s", want, out)
		}
	}
}

func TestAgainstManifestPassesForFreshlyBuiltDiff(t *testing.T) {
	oldRoot := writeTree(t, map[string]string{"a.txt": "one"})
	newRoot := writeTree(t, map[string]string{"a.txt": "one modified a bit"})

	res, err := diffbuild.Build(oldRoot, newRoot)
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := AgainstManifest(context.Background(), oldRoot, newRoot, res.Manifest, &buf, Options{}); err != nil {
		t.Fatalf("expected manifest to verify clean against its own source trees: %v (%s)", err, buf.String())
	}
}

func TestAgainstManifestCatchesTamperedFile(t *testing.T) {
	oldRoot := writeTree(t, map[string]string{"a.txt": "one"})
	newRoot := writeTree(t, map[string]string{"a.txt": "one modified a bit"})

	res, err := diffbuild.Build(oldRoot, newRoot)
	if err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(filepath.Join(newRoot, "a.txt"), []byte("tampered after the diff was built"), 0o644); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := AgainstManifest(context.Background(), oldRoot, newRoot, res.Manifest, &buf, Options{}); err == nil {
		t.Fatal("expected tampered new tree to fail verification")
	}
}
