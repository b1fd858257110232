// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

package main

import (
	"fmt"
	"os"

	"luabc.256lights.llc/pkg/internal/luarun"
)

func main() {
	rootCommand := luarun.New()
	if err := rootCommand.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "luavm:", err)
		os.Exit(luarun.ExitCode(err))
	}
}
