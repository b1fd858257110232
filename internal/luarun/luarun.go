// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

// Package luarun provides the Cobra command for the luavm CLI:
// it executes a Lua source file (compiling it in-process)
// or a precompiled luabc chunk.
package luarun

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"
	"zombiezen.com/go/log"

	"luabc.256lights.llc/pkg/internal/lua"
	"luabc.256lights.llc/pkg/internal/luacode"
	"luabc.256lights.llc/pkg/internal/luasyntax"
)

// Exit codes of the luavm command.
const (
	// ExitRuntimeError is the exit code for a Lua runtime error.
	ExitRuntimeError = 1
	// ExitLoadError is the exit code
	// for a chunk that could not be loaded, parsed, or compiled.
	ExitLoadError = 2
)

// An exitError carries the process exit code for a failure.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

// ExitCode returns the exit code a failed command asks for,
// defaulting to [ExitRuntimeError].
func ExitCode(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return ExitRuntimeError
}

type options struct {
	inputFilename string
	debug         bool
}

// New returns a new luavm command.
func New() *cobra.Command {
	c := &cobra.Command{
		Use:                   "luavm FILE.lua|FILE.luabc",
		Short:                 "execute a Lua chunk on the luabc virtual machine",
		Args:                  cobra.ExactArgs(1),
		DisableFlagsInUseLine: true,
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	opts := new(options)
	addFlags(c.Flags(), opts)
	c.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		initLogging(opts.debug)
	}
	c.RunE = func(cmd *cobra.Command, args []string) error {
		opts.inputFilename = args[0]
		return run(cmd.Context(), opts)
	}
	return c
}

func addFlags(flags *pflag.FlagSet, opts *options) {
	flags.BoolVar(&opts.debug, "debug", false, "show debugging output")
}

func run(ctx context.Context, opts *options) error {
	proto, err := load(ctx, opts.inputFilename)
	if err != nil {
		return &exitError{code: ExitLoadError, err: err}
	}

	// Block-buffer stdout unless it is a terminal,
	// flushing whatever was printed before exiting.
	out := io.Writer(os.Stdout)
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		bw := bufio.NewWriter(os.Stdout)
		defer bw.Flush()
		out = bw
	}

	l := lua.NewState(out)
	if err := l.Run(proto); err != nil {
		log.Debugf(ctx, "%s: runtime error: %v", opts.inputFilename, err)
		return &exitError{code: ExitRuntimeError, err: err}
	}
	return nil
}

// load reads a chunk from a file:
// a precompiled luabc chunk if it starts with the container signature,
// Lua source otherwise.
func load(ctx context.Context, filename string) (*luacode.Prototype, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	if strings.HasPrefix(string(data[:min(len(data), len(luacode.Signature))]), luacode.Signature) {
		log.Debugf(ctx, "loading %s as a precompiled chunk", filename)
		proto := new(luacode.Prototype)
		if err := proto.UnmarshalBinary(data); err != nil {
			return nil, err
		}
		return proto, nil
	}

	log.Debugf(ctx, "compiling %s", filename)
	block, err := luasyntax.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	proto, err := luacode.Compile(filename, block)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return proto, nil
}

var initLogOnce sync.Once

func initLogging(showDebug bool) {
	initLogOnce.Do(func() {
		minLogLevel := log.Info
		if showDebug {
			minLogLevel = log.Debug
		}
		log.SetDefault(&log.LevelFilter{
			Min:    minLogLevel,
			Output: log.New(os.Stderr, "luavm: ", log.StdFlags, nil),
		})
	})
}
