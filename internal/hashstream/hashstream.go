// Copyright 2026 The Foldiff Authors
// SPDX-License-Identifier: Apache-2.0

// Package hashstream computes the 64-bit content hash foldiff uses to
// identify file content, and provides transparent pass-through wrappers
// that hash every byte moving through a reader or writer.
package hashstream

import (
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
)

// Sum hashes an already-in-memory byte slice.
func Sum(b []byte) uint64 {
	return xxhash.Sum64(b)
}

// SumReader consumes r to EOF and returns the hash of everything read.
func SumReader(r io.Reader) (uint64, error) {
	h := xxhash.New()
	if _, err := io.Copy(h, r); err != nil {
		return 0, err
	}
	return h.Sum64(), nil
}

// SumFile hashes the contents of the file at path.
func SumFile(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return SumReader(f)
}

// TeeReader wraps an io.Reader, hashing every byte actually returned to the
// caller. Call Sum64 once the underlying stream has been fully consumed.
type TeeReader struct {
	r io.Reader
	h *xxhash.Digest
}

// NewTeeReader wraps r so that reads through it are hashed transparently.
func NewTeeReader(r io.Reader) *TeeReader {
	return &TeeReader{r: r, h: xxhash.New()}
}

func (t *TeeReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if n > 0 {
		// h.Write never errors; xxhash.Digest satisfies hash.Hash64.
		_, _ = t.h.Write(p[:n])
	}
	return n, err
}

// Sum64 returns the hash of every byte read so far.
func (t *TeeReader) Sum64() uint64 {
	return t.h.Sum64()
}

// TeeWriter wraps an io.Writer, hashing exactly the bytes the inner writer
// reports as accepted - not the caller's buffer size - so a short write is
// reflected correctly in the resulting hash.
type TeeWriter struct {
	w io.Writer
	h *xxhash.Digest
}

// NewTeeWriter wraps w so that writes through it are hashed transparently.
func NewTeeWriter(w io.Writer) *TeeWriter {
	return &TeeWriter{w: w, h: xxhash.New()}
}

func (t *TeeWriter) Write(p []byte) (int, error) {
	n, err := t.w.Write(p)
	if n > 0 {
		_, _ = t.h.Write(p[:n])
	}
	return n, err
}

// Sum64 returns the hash of every byte actually written to the inner sink.
func (t *TeeWriter) Sum64() uint64 {
	return t.h.Sum64()
}
