// Copyright 2026 The Foldiff Authors
// SPDX-License-Identifier: Apache-2.0

// Package zstddiff implements the chunked delta codec: it splits a pair of
// old/new byte ranges into a bounded number of chunks and compresses each
// new-side chunk against its corresponding old-side range used as reference
// prefix, the same trick `zstd --patch-from` relies on. Splitting exists
// purely to stay under the compressor's window limit; it has nothing to do
// with content-defined chunking or rolling hashes.
package zstddiff

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/DataDog/zstd"
)

// ChunkSize is half the compressor's ~2GiB window limit, leaving headroom
// for the window to also cover the new-side data being compressed.
const ChunkSize = 1 << 30

// DefaultLevel is the zstd level used for chunked diffs unless the caller
// overrides it (the front-end's -D flag).
const DefaultLevel = 3

// chunkCount returns ceil(oldLen/ChunkSize), clamped to at least 1 so a
// zero-length old side still produces a single (empty-prefix) chunk.
func chunkCount(oldLen int64) int64 {
	if oldLen == 0 {
		return 1
	}
	n := oldLen / ChunkSize
	if oldLen%ChunkSize != 0 {
		n++
	}
	return n
}

// bounds returns the half-open [start, end) byte range chunk i of n spans
// over a side of the given total length.
func bounds(i, n, length int64) (int64, int64) {
	start := i * length / n
	end := (i + 1) * length / n
	if i == n-1 {
		end = length
	}
	return start, end
}

// Diff writes the wire-format delta for (old, new) to w: a big-endian chunk
// count followed by, per chunk, a big-endian length prefix and a zstd frame
// compressed using the corresponding old-side range as reference prefix.
func Diff(old io.ReaderAt, oldLen int64, new_ io.ReaderAt, newLen int64, w io.Writer, level int) error {
	n := chunkCount(oldLen)

	var hdr [8]byte
	binary.BigEndian.PutUint64(hdr[:], uint64(n))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("write chunk count: %w", err)
	}

	for i := int64(0); i < n; i++ {
		oldStart, oldEnd := bounds(i, n, oldLen)
		newStart, newEnd := bounds(i, n, newLen)

		oldChunk := make([]byte, oldEnd-oldStart)
		if oldEnd > oldStart {
			if _, err := old.ReadAt(oldChunk, oldStart); err != nil {
				return fmt.Errorf("read old chunk %d: %w", i, err)
			}
		}
		newChunk := make([]byte, newEnd-newStart)
		if newEnd > newStart {
			if _, err := new_.ReadAt(newChunk, newStart); err != nil {
				return fmt.Errorf("read new chunk %d: %w", i, err)
			}
		}

		payload, err := compressChunk(oldChunk, newChunk, level)
		if err != nil {
			return fmt.Errorf("compress chunk %d: %w", i, err)
		}

		var lenHdr [8]byte
		binary.BigEndian.PutUint64(lenHdr[:], uint64(len(payload)))
		if _, err := w.Write(lenHdr[:]); err != nil {
			return fmt.Errorf("write chunk %d length: %w", i, err)
		}
		if _, err := w.Write(payload); err != nil {
			return fmt.Errorf("write chunk %d payload: %w", i, err)
		}
	}

	return nil
}

// Apply reads a wire-format delta from r and writes the reconstructed new
// file to w, decompressing each chunk against the matching old-side range.
// oldLen must match the old file's length used to produce the delta; it is
// the only length Apply needs, since each chunk is its own self-terminating
// zstd frame and reconstruction is simple concatenation.
func Apply(old io.ReaderAt, oldLen int64, r io.Reader, w io.Writer) error {
	var hdr [8]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return fmt.Errorf("read chunk count: %w", err)
	}
	n := int64(binary.BigEndian.Uint64(hdr[:]))
	if n != chunkCount(oldLen) {
		return fmt.Errorf("delta declares %d chunks, expected %d for old length %d", n, chunkCount(oldLen), oldLen)
	}

	for i := int64(0); i < n; i++ {
		oldStart, oldEnd := bounds(i, n, oldLen)
		oldChunk := make([]byte, oldEnd-oldStart)
		if oldEnd > oldStart {
			if _, err := old.ReadAt(oldChunk, oldStart); err != nil {
				return fmt.Errorf("read old chunk %d: %w", i, err)
			}
		}

		var lenHdr [8]byte
		if _, err := io.ReadFull(r, lenHdr[:]); err != nil {
			return fmt.Errorf("read chunk %d length: %w", i, err)
		}
		blobLen := binary.BigEndian.Uint64(lenHdr[:])

		payload := make([]byte, blobLen)
		if _, err := io.ReadFull(r, payload); err != nil {
			return fmt.Errorf("read chunk %d payload: %w", i, err)
		}

		if err := decompressChunk(oldChunk, payload, w); err != nil {
			return fmt.Errorf("decompress chunk %d: %w", i, err)
		}
	}

	return nil
}

// Skip advances r past a single self-delimited delta blob without
// decompressing any of it, so a container reader can index blob offsets
// cheaply. It returns the number of bytes consumed.
func Skip(r io.Reader) (int64, error) {
	var consumed int64

	var hdr [8]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, fmt.Errorf("read chunk count: %w", err)
	}
	consumed += 8
	n := int64(binary.BigEndian.Uint64(hdr[:]))

	for i := int64(0); i < n; i++ {
		var lenHdr [8]byte
		if _, err := io.ReadFull(r, lenHdr[:]); err != nil {
			return 0, fmt.Errorf("read chunk %d length: %w", i, err)
		}
		consumed += 8
		blobLen := int64(binary.BigEndian.Uint64(lenHdr[:]))
		if _, err := io.CopyN(io.Discard, r, blobLen); err != nil {
			return 0, fmt.Errorf("skip chunk %d payload: %w", i, err)
		}
		consumed += blobLen
	}

	return consumed, nil
}

// compressChunk compresses newChunk using oldChunk as reference-prefix
// context: content that predates the frame and is available to the decoder
// by out-of-band means, never part of the compressed output itself.
func compressChunk(oldChunk, newChunk []byte, level int) ([]byte, error) {
	buf := &bytes.Buffer{}
	zw := zstd.NewWriterLevelDict(buf, level, oldChunk)
	if _, err := zw.Write(newChunk); err != nil {
		zw.Close()
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decompressChunk reverses compressChunk, streaming the reconstructed chunk
// straight to w rather than buffering it whole.
func decompressChunk(oldChunk, payload []byte, w io.Writer) error {
	zr := zstd.NewReaderDict(bytes.NewReader(payload), oldChunk)
	defer zr.Close()
	_, err := io.Copy(w, zr)
	return err
}
