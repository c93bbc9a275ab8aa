// Copyright 2026 The Foldiff Authors
// SPDX-License-Identifier: Apache-2.0

// Package upgrade rewrites a legacy v1.0.0-r diff file into the current
// v1.1.0 framing: the uncompressed msgpack manifest becomes a
// zstd-compressed, length-prefixed frame; every blob byte after it is
// copied through unchanged.
package upgrade

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/yellowsink/foldiff/internal/container"
	"github.com/yellowsink/foldiff/internal/manifest"
)

// ErrAlreadyLatest is returned when the input is already at the current
// version; upgrading it further makes no sense.
var ErrAlreadyLatest = fmt.Errorf("diff is up to date")

// Upgrade reads a complete diff file from r and writes the v1.1.0
// equivalent to w. The magic stays the same; only the version tag and
// manifest framing change, and every new-blob and patch-blob byte is
// copied verbatim.
func Upgrade(r io.Reader, w io.Writer) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	if len(data) < 8 || !bytes.Equal(data[:4], container.Magic[:]) {
		return container.ErrBadMagic
	}

	if data[4] == 0x00 {
		return ErrAlreadyLatest
	}

	// Legacy v1.0.0-r: there is no separate version tag after the magic; the
	// uncompressed msgpack record, which carries the version as one of its
	// own fields, starts at offset 4, not after an 8-byte header. Decoding it from a
	// bounded reader tells us where it ends by how much of the reader it
	// consumed, without needing to separately parse the structure twice.
	manifestStart := int64(4)
	br := bytes.NewReader(data[manifestStart:])
	var m manifest.Manifest
	if err := msgpack.NewDecoder(br).Decode(&m); err != nil {
		return fmt.Errorf("decode legacy manifest: %w", err)
	}
	consumed := int64(len(data[manifestStart:])) - int64(br.Len())
	manifestEnd := manifestStart + consumed

	var compressed bytes.Buffer
	zw, err := zstd.NewWriter(&compressed)
	if err != nil {
		return fmt.Errorf("create manifest compressor: %w", err)
	}
	if _, err := zw.Write(data[manifestStart:manifestEnd]); err != nil {
		zw.Close()
		return fmt.Errorf("compress manifest: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close manifest compressor: %w", err)
	}

	if _, err := w.Write(container.Magic[:]); err != nil {
		return fmt.Errorf("write magic: %w", err)
	}
	if _, err := w.Write(manifest.VersionCurrent110[:]); err != nil {
		return fmt.Errorf("write version tag: %w", err)
	}

	var lenHdr [8]byte
	binary.BigEndian.PutUint64(lenHdr[:], uint64(compressed.Len()))
	if _, err := w.Write(lenHdr[:]); err != nil {
		return fmt.Errorf("write manifest length: %w", err)
	}
	if _, err := w.Write(compressed.Bytes()); err != nil {
		return fmt.Errorf("write manifest frame: %w", err)
	}

	if _, err := w.Write(data[manifestEnd:]); err != nil {
		return fmt.Errorf("copy blob sections: %w", err)
	}
	return nil
}
