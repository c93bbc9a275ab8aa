// Copyright 2026 The Foldiff Authors
// SPDX-License-Identifier: Apache-2.0

// Package container reads and writes the on-disk diff file format: a magic
// number, a version tag, a compressed manifest frame, an array of whole-file
// new blobs, and an array of chunked-delta patch blobs.
package container

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	ddzstd "github.com/DataDog/zstd"
	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/yellowsink/foldiff/internal/manifest"
	"github.com/yellowsink/foldiff/internal/zstddiff"
)

// Magic is the 4-byte file identifier at offset 0.
var Magic = [4]byte{'F', 'L', 'D', 'F'}

// ErrBadMagic is returned when a file does not open with the foldiff magic.
var ErrBadMagic = fmt.Errorf("not a foldiff diff file (bad magic)")

// NewBlobSource describes one whole-file payload for the new-blob array.
// Open must return a reader positioned at the start of the file's contents.
type NewBlobSource struct {
	Open func() (io.ReadCloser, error)
}

// ReaderAtCloser is a random-access source that must be closed once the
// codec is done reading from it.
type ReaderAtCloser interface {
	io.ReaderAt
	io.Closer
}

// RandomAccessSource lazily opens one side of a patch, reporting its total
// length alongside the opened handle.
type RandomAccessSource struct {
	Open func() (ReaderAtCloser, int64, error)
}

// PatchBlobSource describes one chunked-delta payload for the patch-blob
// array: the old-side and new-side byte ranges to diff against each other.
type PatchBlobSource struct {
	Old RandomAccessSource
	New RandomAccessSource
}

// Writer sequences a diff file's sections onto an underlying io.Writer. The
// three sections must be written in order: manifest, new blobs, patch blobs.
type Writer struct {
	w io.Writer
}

// NewWriter wraps w. Callers must call WriteManifest, then WriteNewBlobs,
// then WritePatchBlobs, in that order.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteManifest writes the magic, the current version tag, and the
// zstd-compressed manifest frame, length-prefixed.
func (cw *Writer) WriteManifest(m *manifest.Manifest) error {
	m.Version = manifest.VersionCurrent110

	raw, err := manifest.Encode(m)
	if err != nil {
		return err
	}

	var compressed bytes.Buffer
	zw, err := zstd.NewWriter(&compressed)
	if err != nil {
		return fmt.Errorf("create manifest compressor: %w", err)
	}
	if _, err := zw.Write(raw); err != nil {
		zw.Close()
		return fmt.Errorf("compress manifest: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close manifest compressor: %w", err)
	}

	if _, err := cw.w.Write(Magic[:]); err != nil {
		return fmt.Errorf("write magic: %w", err)
	}
	if _, err := cw.w.Write(manifest.VersionCurrent110[:]); err != nil {
		return fmt.Errorf("write version tag: %w", err)
	}

	var lenHdr [8]byte
	binary.BigEndian.PutUint64(lenHdr[:], uint64(compressed.Len()))
	if _, err := cw.w.Write(lenHdr[:]); err != nil {
		return fmt.Errorf("write manifest length: %w", err)
	}
	if _, err := cw.w.Write(compressed.Bytes()); err != nil {
		return fmt.Errorf("write manifest frame: %w", err)
	}
	return nil
}

// WriteNewBlobs writes the new-blob count followed by each blob as its own
// complete zstd frame with a length prefix, in order.
func (cw *Writer) WriteNewBlobs(blobs []NewBlobSource, level int) error {
	var countHdr [8]byte
	binary.BigEndian.PutUint64(countHdr[:], uint64(len(blobs)))
	if _, err := cw.w.Write(countHdr[:]); err != nil {
		return fmt.Errorf("write new-blob count: %w", err)
	}

	for i, b := range blobs {
		r, err := b.Open()
		if err != nil {
			return fmt.Errorf("open new blob %d: %w", i, err)
		}

		var compressed bytes.Buffer
		zw := ddzstd.NewWriterLevel(&compressed, level)
		_, copyErr := io.Copy(zw, r)
		closeErr := zw.Close()
		r.Close()
		if copyErr != nil {
			return fmt.Errorf("compress new blob %d: %w", i, copyErr)
		}
		if closeErr != nil {
			return fmt.Errorf("close new-blob compressor %d: %w", i, closeErr)
		}

		var lenHdr [8]byte
		binary.BigEndian.PutUint64(lenHdr[:], uint64(compressed.Len()))
		if _, err := cw.w.Write(lenHdr[:]); err != nil {
			return fmt.Errorf("write new-blob %d length: %w", i, err)
		}
		if _, err := cw.w.Write(compressed.Bytes()); err != nil {
			return fmt.Errorf("write new-blob %d payload: %w", i, err)
		}
	}
	return nil
}

// WritePatchBlobs writes the patch-blob count followed by each self-
// delimited chunked-delta blob, in order.
func (cw *Writer) WritePatchBlobs(patches []PatchBlobSource, level int) error {
	var countHdr [8]byte
	binary.BigEndian.PutUint64(countHdr[:], uint64(len(patches)))
	if _, err := cw.w.Write(countHdr[:]); err != nil {
		return fmt.Errorf("write patch-blob count: %w", err)
	}

	for i, p := range patches {
		if err := writeOnePatchBlob(cw.w, p, level); err != nil {
			return fmt.Errorf("write patch blob %d: %w", i, err)
		}
	}
	return nil
}

func writeOnePatchBlob(w io.Writer, p PatchBlobSource, level int) error {
	oldR, oldLen, err := p.Old.Open()
	if err != nil {
		return fmt.Errorf("open old side: %w", err)
	}
	defer oldR.Close()

	newR, newLen, err := p.New.Open()
	if err != nil {
		return fmt.Errorf("open new side: %w", err)
	}
	defer newR.Close()

	return zstddiff.Diff(oldR, oldLen, newR, newLen, w, level)
}

// BlobSpan is an absolute byte range inside the diff file.
type BlobSpan struct {
	Offset int64
	Length int64
}

// Index locates every blob in a diff file without decompressing any of
// them, so the apply engine can hand each worker a direct offset.
type Index struct {
	IsLegacy   bool
	NewBlobs   []BlobSpan
	PatchBlobs []BlobSpan
}

// ReadManifest reads the magic, version tag, and manifest from the start of
// data, returning the decoded manifest, whether the file uses the legacy
// v1.0.0-r framing, and the byte offset at which the new-blob section
// begins.
func ReadManifest(data []byte) (*manifest.Manifest, bool, int64, error) {
	if len(data) < 8 || !bytes.Equal(data[:4], Magic[:]) {
		return nil, false, 0, ErrBadMagic
	}

	isLegacy := data[4] != 0x00

	if !isLegacy {
		if len(data) < 16 {
			return nil, false, 0, fmt.Errorf("truncated header")
		}
		if !bytes.Equal(data[4:8], manifest.VersionCurrent110[:]) {
			return nil, false, 0, fmt.Errorf("unknown version tag % x", data[4:8])
		}
		mLen := int64(binary.BigEndian.Uint64(data[8:16]))
		frameStart := int64(16)
		frameEnd := frameStart + mLen
		if frameEnd > int64(len(data)) {
			return nil, false, 0, fmt.Errorf("truncated manifest frame")
		}

		zr, err := zstd.NewReader(bytes.NewReader(data[frameStart:frameEnd]))
		if err != nil {
			return nil, false, 0, fmt.Errorf("open manifest decompressor: %w", err)
		}
		raw, err := io.ReadAll(zr)
		zr.Close()
		if err != nil {
			return nil, false, 0, fmt.Errorf("decompress manifest: %w", err)
		}

		m, err := manifest.Decode(raw)
		if err != nil {
			return nil, false, 0, err
		}
		m.Version = manifest.VersionCurrent110
		return m, false, frameEnd, nil
	}

	// Legacy v1.0.0-r: there is no separate version tag after the magic; the
	// uncompressed msgpack record starts at offset 4 and carries the version
	// as one of its own fields. The record is self-delimiting, so
	// decoding from a bounded reader tells us where it ends by how much of
	// the reader it consumed.
	br := bytes.NewReader(data[4:])
	var m manifest.Manifest
	if err := msgpack.NewDecoder(br).Decode(&m); err != nil {
		return nil, true, 0, fmt.Errorf("decode legacy manifest: %w", err)
	}
	if m.Version != manifest.VersionLegacy100R {
		return nil, true, 0, fmt.Errorf("unknown legacy manifest version % x", m.Version[:])
	}
	consumed := int64(len(data[4:])) - int64(br.Len())
	return &m, true, 4 + consumed, nil
}

// ReadBlobIndex walks the new-blob and patch-blob sections starting at
// offset (as returned by ReadManifest), recording each blob's span without
// decompressing it.
func ReadBlobIndex(data []byte, isLegacy bool, offset int64) (*Index, error) {
	idx := &Index{IsLegacy: isLegacy}

	pos := offset
	if pos+8 > int64(len(data)) {
		return nil, fmt.Errorf("truncated new-blob count")
	}
	numNew := int64(binary.BigEndian.Uint64(data[pos : pos+8]))
	pos += 8

	for i := int64(0); i < numNew; i++ {
		if pos+8 > int64(len(data)) {
			return nil, fmt.Errorf("truncated new-blob %d length", i)
		}
		blobLen := int64(binary.BigEndian.Uint64(data[pos : pos+8]))
		pos += 8
		if pos+blobLen > int64(len(data)) {
			return nil, fmt.Errorf("truncated new-blob %d payload", i)
		}
		idx.NewBlobs = append(idx.NewBlobs, BlobSpan{Offset: pos, Length: blobLen})
		pos += blobLen
	}

	if pos+8 > int64(len(data)) {
		return nil, fmt.Errorf("truncated patch-blob count")
	}
	numPatch := int64(binary.BigEndian.Uint64(data[pos : pos+8]))
	pos += 8

	for i := int64(0); i < numPatch; i++ {
		start := pos
		consumed, err := zstddiff.Skip(bytes.NewReader(data[pos:]))
		if err != nil {
			return nil, fmt.Errorf("index patch-blob %d: %w", i, err)
		}
		pos += consumed
		idx.PatchBlobs = append(idx.PatchBlobs, BlobSpan{Offset: start, Length: consumed})
	}

	if pos != int64(len(data)) {
		return nil, fmt.Errorf("%d trailing bytes after last patch blob", int64(len(data))-pos)
	}

	return idx, nil
}

// OpenNewBlob returns a decompressing reader over new-blob i's full
// contents.
func OpenNewBlob(data []byte, span BlobSpan) (io.ReadCloser, error) {
	return ddzstd.NewReader(bytes.NewReader(data[span.Offset : span.Offset+span.Length])), nil
}

// ApplyPatchBlob reconstructs the new-side contents for patch-blob span,
// given the old file's contents and length, writing the result to w.
func ApplyPatchBlob(data []byte, span BlobSpan, old io.ReaderAt, oldLen int64, w io.Writer) error {
	r := bytes.NewReader(data[span.Offset : span.Offset+span.Length])
	return zstddiff.Apply(old, oldLen, r, w)
}
