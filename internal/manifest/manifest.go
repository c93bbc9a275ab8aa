// Copyright 2026 The Foldiff Authors
// SPDX-License-Identifier: Apache-2.0

// Package manifest defines the five file-classification categories a folder
// diff records, and their msgpack wire encoding.
//
// # Wire Format
//
// The manifest is a single msgpack record with a 4-byte version tag and five
// arrays, one per category. Entries use numeric field tags, matching the
// convention the rest of this codebase uses for msgpack structs.
package manifest

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Sentinel is the reserved "no blob" marker for a Duplicated entry's Idx.
const Sentinel uint64 = ^uint64(0)

// Version tags. The first byte of VersionCurrent110 is zero; this is the wire
// trick container.go's reader relies on to tell current from legacy framing
// without a separate marker field.
var (
	VersionLegacy100R = [4]byte{0x01, 0x00, 0x00, 'r'}
	VersionCurrent110 = [4]byte{0x00, 0x01, 0x01, 0x00}
)

// HashAndPath is the (content hash, relative path) pair used by the
// Untouched and Deleted arrays.
type HashAndPath struct {
	Hash uint64 `msgpack:"1"`
	Path string `msgpack:"2"`
}

// NewFile records content present only in the new tree under one path.
type NewFile struct {
	Hash  uint64 `msgpack:"1"`
	Index uint64 `msgpack:"2"`
	Path  string `msgpack:"3"`
}

// PatchedFile records a path present, with different content, on both sides.
type PatchedFile struct {
	OldHash uint64 `msgpack:"1"`
	NewHash uint64 `msgpack:"2"`
	Index   uint64 `msgpack:"3"`
	Path    string `msgpack:"4"`
}

// DuplicatedFile records content appearing under more than one path, or
// under differing paths across the two trees (a rename).
//
// If Idx == Sentinel, the content exists in the old tree (OldPaths is
// non-empty) and every new path can be sourced by copy/reflink from
// OldPaths[0]. Otherwise Idx references a new-blob slot: the content only
// exists in the new tree, under two or more paths.
type DuplicatedFile struct {
	Hash     uint64   `msgpack:"1"`
	Idx      uint64   `msgpack:"2"`
	OldPaths []string `msgpack:"3"`
	NewPaths []string `msgpack:"4"`
}

// Manifest is the full descriptor of a folder diff: five typed arrays, no
// blob bytes. Order within each array is the hash-sorted classification
// order the builder produced it in (spec §4.5) and must be preserved by
// any code that rewrites a manifest, to keep classification idempotent.
type Manifest struct {
	Version   [4]byte          `msgpack:"1"`
	Untouched []HashAndPath    `msgpack:"2"`
	Deleted   []HashAndPath    `msgpack:"3"`
	New       []NewFile        `msgpack:"4"`
	Duplicate []DuplicatedFile `msgpack:"5"`
	Patched   []PatchedFile    `msgpack:"6"`
}

// Encode serializes m to msgpack with sorted map keys, for deterministic
// output (invariant: running the builder twice yields byte-identical
// manifests, spec §8.1 property 2).
func Encode(m *Manifest) ([]byte, error) {
	buf := &bytes.Buffer{}
	enc := msgpack.NewEncoder(buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(m); err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode deserializes msgpack bytes into a Manifest. It does not check the
// version tag; callers that care (container.ReadManifest does) check separately,
// since the legacy v1.0.0-r manifest carries its version tag inline here
// while the current format carries it in the container header.
func Decode(data []byte) (*Manifest, error) {
	var m Manifest
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return &m, nil
}

// Validate checks the structural invariants from spec §3.2 that are cheap
// to verify without touching the filesystem: per-tree-side path uniqueness,
// dense blob index coverage, and duplicated-entry shape.
func Validate(m *Manifest) error {
	oldPaths := make(map[string]struct{})
	newPaths := make(map[string]struct{})

	addOld := func(p string) error {
		if _, dup := oldPaths[p]; dup {
			return fmt.Errorf("path %q appears more than once on the old side", p)
		}
		oldPaths[p] = struct{}{}
		return nil
	}
	addNew := func(p string) error {
		if _, dup := newPaths[p]; dup {
			return fmt.Errorf("path %q appears more than once on the new side", p)
		}
		newPaths[p] = struct{}{}
		return nil
	}

	for _, e := range m.Untouched {
		if err := addOld(e.Path); err != nil {
			return err
		}
		if err := addNew(e.Path); err != nil {
			return err
		}
	}
	for _, e := range m.Deleted {
		if err := addOld(e.Path); err != nil {
			return err
		}
	}
	for _, e := range m.New {
		if err := addNew(e.Path); err != nil {
			return err
		}
	}
	for _, e := range m.Patched {
		if err := addOld(e.Path); err != nil {
			return err
		}
		if err := addNew(e.Path); err != nil {
			return err
		}
		if e.OldHash == e.NewHash {
			return fmt.Errorf("patched entry %q has identical old/new hash", e.Path)
		}
	}

	newBlobSeen := make(map[uint64]bool)
	patchBlobSeen := make(map[uint64]bool)
	for _, e := range m.New {
		newBlobSeen[e.Index] = true
	}
	for _, e := range m.Patched {
		patchBlobSeen[e.Index] = true
	}

	for _, d := range m.Duplicate {
		if d.Idx == Sentinel {
			if len(d.OldPaths) == 0 {
				return fmt.Errorf("duplicated entry %x has sentinel idx but no old paths", d.Hash)
			}
			for _, p := range d.OldPaths {
				if err := addOld(p); err != nil {
					return err
				}
			}
		} else {
			if len(d.OldPaths) != 0 {
				return fmt.Errorf("duplicated entry %x has a new-blob idx but also old paths", d.Hash)
			}
			if len(d.NewPaths) == 0 {
				return fmt.Errorf("duplicated entry %x has a new-blob idx but no new paths", d.Hash)
			}
			newBlobSeen[d.Idx] = true
		}
		for _, p := range d.NewPaths {
			if err := addNew(p); err != nil {
				return err
			}
		}
	}

	if err := checkDense(newBlobSeen, len(m.New)+countNewBlobDuplicates(m)); err != nil {
		return fmt.Errorf("new-blob indices: %w", err)
	}
	if err := checkDense(patchBlobSeen, len(m.Patched)+countPatchBlobDuplicates(m)); err != nil {
		return fmt.Errorf("patch-blob indices: %w", err)
	}

	return nil
}

func countNewBlobDuplicates(m *Manifest) int {
	n := 0
	for _, d := range m.Duplicate {
		if d.Idx != Sentinel {
			n++
		}
	}
	return n
}

func countPatchBlobDuplicates(*Manifest) int { return 0 }

func checkDense(seen map[uint64]bool, want int) error {
	if len(seen) != want {
		return fmt.Errorf("expected %d distinct indices, saw %d", want, len(seen))
	}
	for i := 0; i < want; i++ {
		if !seen[uint64(i)] {
			return fmt.Errorf("index %d missing, indices must densely cover [0,%d)", i, want)
		}
	}
	return nil
}

// NormalizePath converts a platform path separator to the stored `/` form.
func NormalizePath(p string) string {
	out := make([]byte, len(p))
	for i := 0; i < len(p); i++ {
		if p[i] == '\\' {
			out[i] = '/'
		} else {
			out[i] = p[i]
		}
	}
	return string(out)
}
