// Copyright 2026 The Foldiff Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/yellowsink/foldiff/cmd/foldiff/progressui"
	"github.com/yellowsink/foldiff/internal/container"
	"github.com/yellowsink/foldiff/internal/diffbuild"
)

func newDiffCmd(root *rootOptions) *cobra.Command {
	var levelNew, levelDiff int

	cmd := &cobra.Command{
		Use:   "diff <old> <new> <diff>",
		Short: "Create a diff from two similar folders",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiff(root, args[0], args[1], args[2], levelNew, levelDiff)
		},
	}

	cmd.Flags().IntVarP(&levelNew, "level-new", "Z", 7, "zstd level for whole new-file blobs (1-22)")
	cmd.Flags().IntVarP(&levelDiff, "level-diff", "D", 3, "zstd level for chunked delta blobs (1-22)")

	return cmd
}

func runDiff(root *rootOptions, oldDir, newDir, diffPath string, levelNew, levelDiff int) error {
	if err := requireDir(oldDir, "old"); err != nil {
		return err
	}
	if err := requireDir(newDir, "new"); err != nil {
		return err
	}
	if err := ensureOutputFileRemoved(diffPath, root.force); err != nil {
		return err
	}

	threads := root.resolvedThreads()
	slog.Info("[foldiff] starting diff", "old", oldDir, "new", newDir, "out", diffPath, "threads", threads)

	ui := progressui.New(os.Stdout)
	spinner := ui.NewReporter("scanning")

	res, err := diffbuild.Build(oldDir, newDir)
	spinner.Done()
	if err != nil {
		return fmt.Errorf("build diff: %w", err)
	}

	f, err := os.Create(diffPath)
	if err != nil {
		return fmt.Errorf("create diff file: %w", err)
	}
	defer f.Close()

	cw := container.NewWriter(f)
	if err := cw.WriteManifest(res.Manifest); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}

	newBlobsBar := ui.NewReporterSized("new blobs", len(res.NewBlobs))
	if err := cw.WriteNewBlobs(res.NewBlobs, levelNew); err != nil {
		return fmt.Errorf("write new blobs: %w", err)
	}
	newBlobsBar.Done()

	patchBlobsBar := ui.NewReporterSized("patch blobs", len(res.PatchBlobs))
	if err := cw.WritePatchBlobs(res.PatchBlobs, levelDiff); err != nil {
		return fmt.Errorf("write patch blobs: %w", err)
	}
	patchBlobsBar.Done()

	ui.Wait()
	slog.Info("[foldiff] diff written", "untouched", len(res.Manifest.Untouched), "deleted", len(res.Manifest.Deleted),
		"new", len(res.Manifest.New), "patched", len(res.Manifest.Patched), "duplicated", len(res.Manifest.Duplicate))
	return nil
}
