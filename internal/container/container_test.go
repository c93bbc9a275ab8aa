// Copyright 2026 The Foldiff Authors
// SPDX-License-Identifier: Apache-2.0

package container

import (
	"bytes"
	"io"
	"testing"

	"github.com/yellowsink/foldiff/internal/manifest"
)

type nopCloserReaderAt struct {
	*bytes.Reader
}

func (nopCloserReaderAt) Close() error { return nil }

func TestWriteReadManifestWithoutBlobsRoundTrip(t *testing.T) {
	m := &manifest.Manifest{
		Untouched: []manifest.HashAndPath{{Hash: 0xdeadbeef, Path: "a.txt"}},
	}

	var buf bytes.Buffer
	cw := NewWriter(&buf)
	if err := cw.WriteManifest(m); err != nil {
		t.Fatalf("WriteManifest: %v", err)
	}
	if err := cw.WriteNewBlobs(nil, 7); err != nil {
		t.Fatalf("WriteNewBlobs: %v", err)
	}
	if err := cw.WritePatchBlobs(nil, 3); err != nil {
		t.Fatalf("WritePatchBlobs: %v", err)
	}

	data := buf.Bytes()
	if !bytes.Equal(data[:4], Magic[:]) {
		t.Fatalf("missing magic header")
	}

	got, isLegacy, offset, err := ReadManifest(data)
	if err != nil {
		t.Fatalf("ReadManifest: %v", err)
	}
	if isLegacy {
		t.Fatal("expected current framing, got legacy")
	}
	if len(got.Untouched) != 1 || got.Untouched[0].Path != "a.txt" {
		t.Fatalf("manifest mismatch: %+v", got.Untouched)
	}

	idx, err := ReadBlobIndex(data, isLegacy, offset)
	if err != nil {
		t.Fatalf("ReadBlobIndex: %v", err)
	}
	if len(idx.NewBlobs) != 0 || len(idx.PatchBlobs) != 0 {
		t.Fatalf("expected no blobs, got %d new, %d patch", len(idx.NewBlobs), len(idx.PatchBlobs))
	}
}

func TestWriteReadNewBlobRoundTrip(t *testing.T) {
	m := &manifest.Manifest{
		New: []manifest.NewFile{{Hash: 1, Index: 0, Path: "readme.md"}},
	}
	content := []byte("doc")

	var buf bytes.Buffer
	cw := NewWriter(&buf)
	if err := cw.WriteManifest(m); err != nil {
		t.Fatal(err)
	}
	blobs := []NewBlobSource{
		{Open: func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(content)), nil }},
	}
	if err := cw.WriteNewBlobs(blobs, 7); err != nil {
		t.Fatal(err)
	}
	if err := cw.WritePatchBlobs(nil, 3); err != nil {
		t.Fatal(err)
	}

	data := buf.Bytes()
	_, isLegacy, offset, err := ReadManifest(data)
	if err != nil {
		t.Fatal(err)
	}
	idx, err := ReadBlobIndex(data, isLegacy, offset)
	if err != nil {
		t.Fatal(err)
	}
	if len(idx.NewBlobs) != 1 {
		t.Fatalf("expected 1 new blob, got %d", len(idx.NewBlobs))
	}

	r, err := OpenNewBlob(data, idx.NewBlobs[0])
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("got %q, want %q", got, content)
	}
}

func TestWriteReadPatchBlobRoundTrip(t *testing.T) {
	old := []byte("version one of the file")
	new_ := []byte("version two of the file, with changes")

	m := &manifest.Manifest{
		Patched: []manifest.PatchedFile{{OldHash: 1, NewHash: 2, Index: 0, Path: "data.bin"}},
	}

	var buf bytes.Buffer
	cw := NewWriter(&buf)
	if err := cw.WriteManifest(m); err != nil {
		t.Fatal(err)
	}
	if err := cw.WriteNewBlobs(nil, 7); err != nil {
		t.Fatal(err)
	}
	patches := []PatchBlobSource{
		{
			Old: RandomAccessSource{Open: func() (ReaderAtCloser, int64, error) {
				return nopCloserReaderAt{bytes.NewReader(old)}, int64(len(old)), nil
			}},
			New: RandomAccessSource{Open: func() (ReaderAtCloser, int64, error) {
				return nopCloserReaderAt{bytes.NewReader(new_)}, int64(len(new_)), nil
			}},
		},
	}
	if err := cw.WritePatchBlobs(patches, 3); err != nil {
		t.Fatal(err)
	}

	data := buf.Bytes()
	_, isLegacy, offset, err := ReadManifest(data)
	if err != nil {
		t.Fatal(err)
	}
	idx, err := ReadBlobIndex(data, isLegacy, offset)
	if err != nil {
		t.Fatal(err)
	}
	if len(idx.PatchBlobs) != 1 {
		t.Fatalf("expected 1 patch blob, got %d", len(idx.PatchBlobs))
	}

	var got bytes.Buffer
	if err := ApplyPatchBlob(data, idx.PatchBlobs[0], bytes.NewReader(old), int64(len(old)), &got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got.Bytes(), new_) {
		t.Fatalf("got %q, want %q", got.Bytes(), new_)
	}
}

func TestReadManifestRejectsBadMagic(t *testing.T) {
	if _, _, _, err := ReadManifest([]byte("NOTFLDF!")); err != ErrBadMagic {
		t.Fatalf("expected ErrBadMagic, got %v", err)
	}
}

func TestReadBlobIndexRejectsTrailingGarbage(t *testing.T) {
	m := &manifest.Manifest{}
	var buf bytes.Buffer
	cw := NewWriter(&buf)
	if err := cw.WriteManifest(m); err != nil {
		t.Fatal(err)
	}
	if err := cw.WriteNewBlobs(nil, 7); err != nil {
		t.Fatal(err)
	}
	if err := cw.WritePatchBlobs(nil, 3); err != nil {
		t.Fatal(err)
	}

	data := append(buf.Bytes(), 0xFF)
	_, isLegacy, offset, err := ReadManifest(data)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ReadBlobIndex(data, isLegacy, offset); err == nil {
		t.Fatal("expected an error for trailing bytes")
	}
}
