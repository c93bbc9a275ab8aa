// Copyright 2026 The Foldiff Authors
// SPDX-License-Identifier: Apache-2.0

package upgrade

import (
	"bytes"
	"testing"

	"github.com/yellowsink/foldiff/internal/container"
	"github.com/yellowsink/foldiff/internal/manifest"
)

// writeLegacyFile hand-assembles a minimal v1.0.0-r diff file: magic
// followed directly by the uncompressed msgpack manifest (whose own
// Version field carries the legacy tag), then empty new-blob and
// patch-blob sections.
func writeLegacyFile(t *testing.T, m *manifest.Manifest) []byte {
	t.Helper()
	m.Version = manifest.VersionLegacy100R

	raw, err := manifest.Encode(m)
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	buf.Write(container.Magic[:])
	buf.Write(raw)

	// empty new-blob count, empty patch-blob count
	buf.Write([]byte{0, 0, 0, 0, 0, 0, 0, 0})
	buf.Write([]byte{0, 0, 0, 0, 0, 0, 0, 0})

	return buf.Bytes()
}

func TestUpgradeProducesReadableCurrentFraming(t *testing.T) {
	m := &manifest.Manifest{
		Untouched: []manifest.HashAndPath{{Hash: 42, Path: "kept.txt"}},
	}
	legacy := writeLegacyFile(t, m)

	var out bytes.Buffer
	if err := Upgrade(bytes.NewReader(legacy), &out); err != nil {
		t.Fatalf("Upgrade failed: %v", err)
	}

	got, isLegacy, offset, err := container.ReadManifest(out.Bytes())
	if err != nil {
		t.Fatalf("ReadManifest on upgraded output failed: %v", err)
	}
	if isLegacy {
		t.Fatal("expected upgraded output to report current framing")
	}
	if len(got.Untouched) != 1 || got.Untouched[0].Path != "kept.txt" {
		t.Fatalf("manifest content lost in upgrade: %+v", got.Untouched)
	}

	idx, err := container.ReadBlobIndex(out.Bytes(), isLegacy, offset)
	if err != nil {
		t.Fatalf("ReadBlobIndex on upgraded output failed: %v", err)
	}
	if len(idx.NewBlobs) != 0 || len(idx.PatchBlobs) != 0 {
		t.Fatalf("expected no blobs, got %+v", idx)
	}
}

func TestUpgradeRejectsAlreadyLatest(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(container.Magic[:])
	buf.Write(manifest.VersionCurrent110[:])
	buf.Write([]byte{0, 0, 0, 0, 0, 0, 0, 0}) // manifest length = 0

	var out bytes.Buffer
	err := Upgrade(bytes.NewReader(buf.Bytes()), &out)
	if err != ErrAlreadyLatest {
		t.Fatalf("expected ErrAlreadyLatest, got %v", err)
	}
}

func TestUpgradeRejectsBadMagic(t *testing.T) {
	var out bytes.Buffer
	err := Upgrade(bytes.NewReader([]byte("not a diff file at all")), &out)
	if err != container.ErrBadMagic {
		t.Fatalf("expected ErrBadMagic, got %v", err)
	}
}
