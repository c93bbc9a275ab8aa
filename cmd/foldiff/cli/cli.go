// Copyright 2026 The Foldiff Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli wires the four foldiff operations to a cobra command tree.
package cli

import (
	"runtime"

	"github.com/spf13/cobra"
)

const longVersion = `v1.1.0
   writing fldf v1.1.0
   reading fldf 1.0.0-r, v1.1.0`

// rootOptions holds the two global flags every subcommand reads.
type rootOptions struct {
	force   bool
	threads int
}

// resolvedThreads returns the effective worker count: the logical CPU
// count when threads is left at its 0 ("detect") default.
func (o *rootOptions) resolvedThreads() int {
	if o.threads <= 0 {
		return runtime.NumCPU()
	}
	return o.threads
}

// Execute builds and runs the root command, returning the process exit
// code: 0 on success, 1 on any error, matching spec §6.2's exit-code
// contract.
func Execute() int {
	if err := newRootCmd().Execute(); err != nil {
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "foldiff",
		Short:         "Create, apply, and verify binary folder diffs",
		Version:       longVersion,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.PersistentFlags().BoolVarP(&opts.force, "force", "f", false, "overwrite existing outputs without prompting")
	cmd.PersistentFlags().IntVarP(&opts.threads, "threads", "T", 0, "worker count (0 = number of logical processors)")

	cmd.AddCommand(
		newDiffCmd(opts),
		newApplyCmd(opts),
		newVerifyCmd(opts),
		newUpgradeCmd(opts),
	)

	return cmd
}
