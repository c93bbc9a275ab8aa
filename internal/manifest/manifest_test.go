// Copyright 2026 The Foldiff Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	m := &Manifest{
		Version:   VersionCurrent110,
		Untouched: []HashAndPath{{Hash: 1, Path: "a.txt"}},
		New:       []NewFile{{Hash: 2, Index: 0, Path: "readme.md"}},
		Duplicate: []DuplicatedFile{
			{Hash: 3, Idx: Sentinel, OldPaths: []string{"foo.bin"}, NewPaths: []string{"bar.bin"}},
		},
	}

	data, err := Encode(m)
	if err != nil {
		t.Fatal(err)
	}

	got, err := Decode(data)
	if err != nil {
		t.Fatal(err)
	}

	if got.Version != m.Version {
		t.Fatalf("version mismatch: %v != %v", got.Version, m.Version)
	}
	if len(got.Untouched) != 1 || got.Untouched[0].Path != "a.txt" {
		t.Fatalf("untouched mismatch: %+v", got.Untouched)
	}
	if len(got.Duplicate) != 1 || got.Duplicate[0].Idx != Sentinel {
		t.Fatalf("duplicate mismatch: %+v", got.Duplicate)
	}
}

func TestValidateRejectsDuplicatePath(t *testing.T) {
	m := &Manifest{
		Untouched: []HashAndPath{{Hash: 1, Path: "a.txt"}},
		New:       []NewFile{{Hash: 2, Index: 0, Path: "a.txt"}},
	}
	if err := Validate(m); err == nil {
		t.Fatal("expected a path-uniqueness error")
	}
}

func TestValidateRejectsSparseIndices(t *testing.T) {
	m := &Manifest{
		New: []NewFile{{Hash: 1, Index: 1, Path: "a"}},
	}
	if err := Validate(m); err == nil {
		t.Fatal("expected a dense-index error")
	}
}

func TestValidateAcceptsDuplicateSharingNewBlobSpace(t *testing.T) {
	m := &Manifest{
		New: []NewFile{{Hash: 1, Index: 0, Path: "a"}},
		Duplicate: []DuplicatedFile{
			{Hash: 2, Idx: 1, NewPaths: []string{"b", "c"}},
		},
	}
	if err := Validate(m); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNormalizePath(t *testing.T) {
	if got := NormalizePath(`a\b\c.txt`); got != "a/b/c.txt" {
		t.Fatalf("got %q", got)
	}
}
