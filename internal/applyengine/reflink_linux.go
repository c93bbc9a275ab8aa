// Copyright 2026 The Foldiff Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package applyengine

import (
	"golang.org/x/sys/unix"
)

// tryReflink attempts a copy-on-write clone via the FICLONE ioctl, as
// supported by btrfs, xfs, and overlayfs-on-those. Returns false (not an
// error) if the kernel or filesystem rejects it, so the caller can fall
// back to a byte copy.
func tryReflink(dstFd, srcFd uintptr) bool {
	err := unix.IoctlFileClone(int(dstFd), int(srcFd))
	return err == nil
}
