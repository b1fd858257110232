// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

package main

import (
	"errors"
	"fmt"
	"os"

	"luabc.256lights.llc/pkg/internal/luac"
)

func main() {
	rootCommand := luac.New()
	if err := rootCommand.Execute(); err != nil {
		if !errors.Is(err, luac.ErrReported) {
			fmt.Fprintln(os.Stderr, "luacompiler:", err)
		}
		os.Exit(1)
	}
}
