// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

// Package luac provides the Cobra command for the luacompiler CLI:
// it compiles a Lua source file into a luabc chunk next to the input.
package luac

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"zombiezen.com/go/log"

	"luabc.256lights.llc/pkg/internal/luacode"
	"luabc.256lights.llc/pkg/internal/lualex"
	"luabc.256lights.llc/pkg/internal/luasyntax"
)

// ErrReported signals that a diagnostic has already been written to stderr
// and the command should exit non-zero without further output.
var ErrReported = errors.New("error already reported")

type options struct {
	inputFilename  string
	outputFilename string
	list           int
	parseOnly      bool
	debug          bool
}

// New returns a new luacompiler command.
func New() *cobra.Command {
	c := &cobra.Command{
		Use:                   "luacompiler FILE.lua",
		Short:                 "compile a Lua source file to luabc bytecode",
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
	flags.CountVarP(&opts.list, "list", "l", "produce a listing of compiled bytecode")
	flags.StringVarP(&opts.outputFilename, "output", "o", "", "output to `filename` instead of FILE.luabc")
	flags.BoolVarP(&opts.parseOnly, "parse-only", "p", false, "do not write bytecode")
	flags.BoolVar(&opts.debug, "debug", false, "show debugging output")
}

func run(ctx context.Context, opts *options) error {
	source, err := os.ReadFile(opts.inputFilename)
	if err != nil {
		return err
	}

	proto, err := compile(opts.inputFilename, source)
	if err != nil {
		if line, ok := errorLine(opts.inputFilename, err); ok {
			log.Debugf(ctx, "%s: %v", opts.inputFilename, err)
			fmt.Fprintln(os.Stderr, line)
			return ErrReported
		}
		return err
	}
	log.Debugf(ctx, "compiled %s: %d instructions, %d constants, %d functions",
		opts.inputFilename, len(proto.Code), len(proto.Constants), len(proto.Functions))

	if opts.list > 0 {
		functionNames := make(map[*luacode.Prototype]string)
		nameFunctions(functionNames, proto)
		if err := printFunction(proto, functionNames, opts.list > 1); err != nil {
			return err
		}
	}

	if opts.parseOnly {
		return nil
	}
	output, err := proto.MarshalBinary()
	if err != nil {
		return err
	}
	outputFilename := opts.outputFilename
	if outputFilename == "" {
		outputFilename = outputPath(opts.inputFilename)
	}
	return os.WriteFile(outputFilename, output, 0o666)
}

// compile runs the source through the full frontend pipeline.
func compile(filename string, source []byte) (*luacode.Prototype, error) {
	block, err := luasyntax.Parse(source)
	if err != nil {
		return nil, err
	}
	return luacode.Compile(filename, block)
}

// outputPath derives the luabc path from the input path:
// "dir/file.lua" becomes "dir/file.luabc".
func outputPath(input string) string {
	ext := filepath.Ext(input)
	if ext == ".lua" {
		return strings.TrimSuffix(input, ext) + ".luabc"
	}
	return input + ".luabc"
}

// errorLine formats the single-line diagnostic
// for a lex, parse, or compile error.
func errorLine(filename string, err error) (string, bool) {
	var kind string
	var pos lualex.Position
	var lexErr *lualex.Error
	var parseErr *luasyntax.Error
	var compileErr *luacode.CompileError
	switch {
	case errors.As(err, &lexErr):
		kind = "lex"
		pos = lexErr.Position
	case errors.As(err, &parseErr):
		kind = "parse"
		pos = parseErr.Position
	case errors.As(err, &compileErr):
		kind = "compile"
		pos = compileErr.Position
	default:
		return "", false
	}
	return fmt.Sprintf("error: %s at %s:%d:%d", kind, filename, pos.Line, pos.Column), true
}

func printFunction(f *luacode.Prototype, functionNames map[*luacode.Prototype]string, full bool) error {
	what := "function"
	if f.IsMainChunk() {
		what = "main"
	}
	vararg := ""
	if f.IsVararg {
		vararg = "+"
	}
	_, err := fmt.Printf(
		"\n%s <%s:%d> (%d instructions for %s)\n%d%s params, %d slots, %d constants, %d functions\n",
		what,
		f.Source,
		f.LineDefined,
		len(f.Code),
		functionNames[f],
		f.NumParams,
		vararg,
		f.FrameSize,
		len(f.Constants),
		len(f.Functions),
	)
	if err != nil {
		return err
	}

	for pc, i := range f.Code {
		line := new(strings.Builder)
		fmt.Fprintf(line, "\t%d\t%v", pc, i)

		// Contextual comments.
		switch i.OpCode() {
		case luacode.OpLoadK, luacode.OpGetGlobal, luacode.OpSetGlobal:
			if bx := i.ArgBx(); int(bx) < len(f.Constants) {
				fmt.Fprintf(line, "\t; %v", f.Constants[bx])
			}
		case luacode.OpGetField:
			if c := i.ArgC(); int(c) < len(f.Constants) {
				fmt.Fprintf(line, "\t; %v", f.Constants[c])
			}
		case luacode.OpSetField:
			if b := i.ArgB(); int(b) < len(f.Constants) {
				fmt.Fprintf(line, "\t; %v", f.Constants[b])
			}
		case luacode.OpClosure:
			if bx := i.ArgBx(); int(bx) < len(f.Functions) {
				fmt.Fprintf(line, "\t; %s", functionNames[f.Functions[bx]])
			}
		case luacode.OpJmp, luacode.OpJmpF, luacode.OpJmpT, luacode.OpForPrep, luacode.OpForLoop:
			fmt.Fprintf(line, "\t; to %d", pc+1+int(i.ArgSBx()))
		}

		if _, err := fmt.Println(line.String()); err != nil {
			return err
		}
	}

	if full {
		if _, err := fmt.Printf("constants (%d) for %s\n", len(f.Constants), functionNames[f]); err != nil {
			return err
		}
		for i, k := range f.Constants {
			if _, err := fmt.Printf("\t%d\t%v\n", i, k); err != nil {
				return err
			}
		}
	}

	for _, child := range f.Functions {
		if err := printFunction(child, functionNames, full); err != nil {
			return err
		}
	}
	return nil
}

func nameFunctions(names map[*luacode.Prototype]string, f *luacode.Prototype) {
	base := names[f]
	isTop := base == ""
	if isTop {
		if f.IsMainChunk() {
			base = "main"
		} else {
			base = "top"
		}
		names[f] = base
	}

	for i, child := range f.Functions {
		var name string
		if isTop {
			name = fmt.Sprintf("F[%d]", i)
		} else {
			name = fmt.Sprintf("%s[%d]", base, i)
		}
		names[child] = name
		nameFunctions(names, child)
	}
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
			Output: log.New(os.Stderr, "luacompiler: ", log.StdFlags, nil),
		})
	})
}
