// Copyright 2026 The Foldiff Authors
// SPDX-License-Identifier: Apache-2.0

// Command foldiff creates, applies, verifies, and upgrades binary folder
// diffs.
package main

import (
	"os"

	"github.com/yellowsink/foldiff/cmd/foldiff/cli"
)

func main() {
	os.Exit(cli.Execute())
}
