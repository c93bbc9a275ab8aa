// Copyright 2026 The Foldiff Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/yellowsink/foldiff/cmd/foldiff/progressui"
	"github.com/yellowsink/foldiff/internal/applyengine"
)

func newApplyCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apply <old> <diff> <new>",
		Short: "Apply a diff to a folder",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(cmd.Context(), root, args[0], args[1], args[2])
		},
	}
	return cmd
}

func runApply(ctx context.Context, root *rootOptions, oldDir, diffPath, newDir string) error {
	if err := requireDir(oldDir, "old"); err != nil {
		return err
	}
	if err := requireFile(diffPath, "diff"); err != nil {
		return err
	}
	if err := ensureOutputDirRemoved(newDir, root.force); err != nil {
		return err
	}

	threads := root.resolvedThreads()
	slog.Info("[foldiff] starting apply", "old", oldDir, "diff", diffPath, "new", newDir, "threads", threads)

	if err := os.MkdirAll(newDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	ui := progressui.New(os.Stdout)
	err := applyengine.Apply(ctx, oldDir, newDir, diffPath, applyengine.Options{Reporting: ui, Threads: threads})
	ui.Wait()
	if err != nil {
		return fmt.Errorf("apply: %w", err)
	}

	slog.Info("[foldiff] apply complete")
	return nil
}
