// Copyright 2026 The Foldiff Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/yellowsink/foldiff/internal/upgrade"
)

func newUpgradeCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upgrade <old> <new>",
		Short: "Rewrite a legacy v1.0.0-r diff file into the current v1.1.0 framing",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpgrade(root, args[0], args[1])
		},
	}
	return cmd
}

func runUpgrade(root *rootOptions, srcPath, dstPath string) error {
	if err := requireFile(srcPath, "old"); err != nil {
		return err
	}
	if err := ensureOutputFileRemoved(dstPath, root.force); err != nil {
		return err
	}

	slog.Info("[foldiff] starting upgrade", "old", srcPath, "new", dstPath)

	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("open source diff: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(dstPath)
	if err != nil {
		return fmt.Errorf("create destination diff: %w", err)
	}

	err = upgrade.Upgrade(src, dst)
	closeErr := dst.Close()

	if err != nil {
		os.Remove(dstPath)
		if errors.Is(err, upgrade.ErrAlreadyLatest) {
			return fmt.Errorf("%q is already at the current version", srcPath)
		}
		return fmt.Errorf("upgrade: %w", err)
	}
	if closeErr != nil {
		return fmt.Errorf("close destination diff: %w", closeErr)
	}

	slog.Info("[foldiff] upgrade complete")
	return nil
}
