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
	"github.com/yellowsink/foldiff/internal/container"
	"github.com/yellowsink/foldiff/internal/verify"
)

func newVerifyCmd(root *rootOptions) *cobra.Command {
	var diffPath string

	cmd := &cobra.Command{
		Use:   "verify <old> <new>",
		Short: "Check a reconstructed folder against its source, or against a diff's manifest",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(cmd.Context(), root, args[0], args[1], diffPath)
		},
	}

	cmd.Flags().StringVarP(&diffPath, "diff", "d", "", "verify against this diff's manifest instead of comparing the two trees directly")

	return cmd
}

func runVerify(ctx context.Context, root *rootOptions, oldDir, newDir, diffPath string) error {
	if err := requireDir(oldDir, "old"); err != nil {
		return err
	}
	if err := requireDir(newDir, "new"); err != nil {
		return err
	}

	threads := root.resolvedThreads()
	ui := progressui.New(os.Stdout)
	opts := verify.Options{Threads: threads, Reporting: ui}

	var err error
	if diffPath == "" {
		slog.Info("[foldiff] starting verify", "old", oldDir, "new", newDir, "mode", "equal")
		err = verify.Equal(ctx, oldDir, newDir, os.Stdout, opts)
	} else {
		if ferr := requireFile(diffPath, "diff"); ferr != nil {
			return ferr
		}
		slog.Info("[foldiff] starting verify", "old", oldDir, "new", newDir, "diff", diffPath, "mode", "against-manifest")

		data, rerr := os.ReadFile(diffPath)
		if rerr != nil {
			return fmt.Errorf("read diff file: %w", rerr)
		}
		m, _, _, merr := container.ReadManifest(data)
		if merr != nil {
			return fmt.Errorf("read manifest: %w", merr)
		}

		err = verify.AgainstManifest(ctx, oldDir, newDir, m, os.Stdout, opts)
	}
	ui.Wait()

	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}
	slog.Info("[foldiff] verify passed")
	return nil
}
