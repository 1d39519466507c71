// Package main implements the fcc compiler binary.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/exec"
	"runtime"

	"github.com/fraylang/fcc/pkg/diag"
	"github.com/fraylang/fcc/pkg/driver"
	"github.com/fraylang/fcc/pkg/logger"
)

func main() {
	os.Exit(run())
}

func run() int {
	output := flag.String("o", "", "path to the output file (default stdout for text formats)")
	verbose := flag.Bool("v", false, "enable verbose output")
	printAST := flag.Bool("ast", false, "print the AST and exit without generating code")
	syntaxOnly := flag.Bool("syntax-only", false, "do not perform semantic analysis")
	aluminium := flag.Bool("aluminium", false, "that special something to spice up your compilation")
	flag.Parse()

	if *aluminium {
		aluminiumHandler()
	}

	cfg := logger.DefaultConfig()
	if *verbose {
		cfg.Level = logger.LevelDebug
	}
	_ = logger.Init(cfg)

	inputs := flag.Args()
	if *verbose {
		fmt.Println("Input files:")
		for _, f := range inputs {
			fmt.Printf("- %s\n", f)
		}
	}
	if len(inputs) != 1 {
		fmt.Fprintln(os.Stderr, "error: expected exactly one input file")
		return 1
	}

	ctx, err := driver.NewContext()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	ctx.Output = *output
	ctx.PrintAST = *printAST
	ctx.SyntaxOnly = *syntaxOnly

	code := 0
	func() {
		defer func() {
			if diag.RecoverICE(ctx.Diags, recover()) {
				code = 2
			}
		}()
		if err := ctx.CompileFile(inputs[0]); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			code = 1
		}
	}()
	if ctx.Diags.HasErrors() && code == 0 {
		code = 1
	}
	return code
}

func aluminiumHandler() {
	const url = "https://www.youtube.com/watch?v=dQw4w9WgXcQ"
	switch runtime.GOOS {
	case "windows":
		_ = exec.Command("cmd", "/c", "start", url).Start()
	case "darwin":
		_ = exec.Command("open", url).Start()
	default:
		_ = exec.Command("xdg-open", url).Start()
	}
}
