// Package driver wires the compilation pipeline together: front end
// dispatch by file extension, optimisation, lowering, instruction
// selection, register allocation and the chosen back-end sink.
package driver

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fraylang/fcc/pkg/codegen/regalloc"
	"github.com/fraylang/fcc/pkg/codegen/x86_64"
	"github.com/fraylang/fcc/pkg/diag"
	"github.com/fraylang/fcc/pkg/frontend"
	"github.com/fraylang/fcc/pkg/frontend/cdialect"
	"github.com/fraylang/fcc/pkg/frontend/fint"
	"github.com/fraylang/fcc/pkg/frontend/laye"
	"github.com/fraylang/fcc/pkg/ir"
	"github.com/fraylang/fcc/pkg/llvm"
	"github.com/fraylang/fcc/pkg/logger"
	"github.com/fraylang/fcc/pkg/lower"
	"github.com/fraylang/fcc/pkg/mir"
	"github.com/fraylang/fcc/pkg/object"
	"github.com/fraylang/fcc/pkg/optimizer"
	"github.com/fraylang/fcc/pkg/target"
)

// Context carries one compilation's configuration
type Context struct {
	Target     target.Target
	Format     target.Format
	Diags      *diag.Engine
	OptLevel   int
	PrintMIR   bool
	PrintAST   bool
	SyntaxOnly bool
	Validate   bool
	Output     string // empty means stdout for text formats
}

// NewContext returns a context for the host target with defaults taken
// from fcc.yaml when present
func NewContext() (*Context, error) {
	cfg, err := target.LoadConfig("fcc.yaml")
	if err != nil {
		return nil, err
	}
	t, f, err := cfg.Resolve()
	if err != nil {
		return nil, err
	}
	return &Context{
		Target:   t,
		Format:   f,
		Diags:    diag.NewEngine(),
		OptLevel: cfg.OptLevel,
		PrintMIR: cfg.PrintMIR,
	}, nil
}

// CompileFile runs the whole pipeline on one source file. The extension
// selects the front end: .int, .laye or .c.
func (c *Context) CompileFile(path string) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return c.Compile(path, string(src))
}

// Compile compiles in-memory source registered under the given name
func (c *Context) Compile(name, source string) error {
	logger.LogPhase("parse")
	var file *frontend.File
	switch strings.ToLower(filepath.Ext(name)) {
	case ".int":
		file = fint.Parse(name, source, c.Diags)
	case ".laye":
		file = laye.Parse(name, source, c.Diags)
	case ".c":
		file = cdialect.Parse(name, source, c.Diags)
	default:
		return fmt.Errorf("unrecognised input file type %q", name)
	}

	if c.SyntaxOnly {
		if c.PrintAST && !c.Diags.HasErrors() {
			fmt.Print(file.Dump())
		}
		return c.errIfDiagnosed()
	}

	logger.LogPhase("sema")
	frontend.Analyse(file, c.Diags)
	if c.PrintAST {
		if c.Diags.HasErrors() {
			return c.errIfDiagnosed()
		}
		fmt.Print(file.Dump())
		return nil
	}
	if c.Diags.HasErrors() {
		return c.errIfDiagnosed()
	}

	m := frontend.Generate(file)
	if c.OptLevel > 0 {
		optimizer.Optimize(m, c.Diags)
	} else {
		optimizer.AnalyseFunctions(m)
	}
	if c.Validate {
		c.validate(m)
	}

	return c.Emit(m)
}

func (c *Context) validate(m *ir.Module) {
	for _, f := range m.Functions {
		for _, err := range ir.Validate(f) {
			diag.ICEf("IR validation failed in %s: %v", f.Name, err)
		}
	}
}

// Emit serialises the module in the context's output format
func (c *Context) Emit(m *ir.Module) error {
	if c.Format == target.FormatLLVMIR {
		return c.writeText(llvm.Emit(m))
	}

	funcs := lower.Lower(m, c.Target)
	if c.PrintMIR {
		for _, f := range funcs {
			fmt.Print(f.String())
		}
	}

	for _, f := range funcs {
		x86_64.SelectInstructions(f, c.Target)
	}
	if c.PrintMIR {
		fmt.Println("\nAfter ISel")
		for _, f := range funcs {
			fmt.Print(f.Format(x86_64.OpcodeName))
		}
	}

	desc := x86_64.MachineDesc(c.Target)
	for _, f := range funcs {
		if err := regalloc.Allocate(desc, f); err != nil {
			diag.ICEf("register allocation: %v", err)
		}
	}
	if c.PrintMIR {
		fmt.Println("\nAfter RA")
		for _, f := range funcs {
			fmt.Print(f.Format(x86_64.OpcodeName))
		}
	}

	switch c.Format {
	case target.FormatGNUAsATT:
		var sb strings.Builder
		if err := x86_64.EmitAssembly(&sb, m, desc, funcs); err != nil {
			return err
		}
		return c.writeText(sb.String())

	case target.FormatELF:
		obj, err := x86_64.EmitObject(m, desc, funcs)
		if err != nil {
			return err
		}
		return c.writeBinary(func(w io.Writer) error { return object.WriteELF(w, obj) })

	case target.FormatCOFF:
		obj, err := x86_64.EmitObject(m, desc, funcs)
		if err != nil {
			return err
		}
		return c.writeBinary(func(w io.Writer) error { return object.WriteCOFF(w, obj) })
	}
	return fmt.Errorf("unhandled output format %s", c.Format)
}

func (c *Context) writeText(text string) error {
	if c.Output == "" || c.Output == "-" {
		_, err := io.WriteString(os.Stdout, text)
		return err
	}
	return os.WriteFile(c.Output, []byte(text), 0o644)
}

func (c *Context) writeBinary(write func(io.Writer) error) error {
	if c.Output == "" || c.Output == "-" {
		return write(os.Stdout)
	}
	f, err := os.Create(c.Output)
	if err != nil {
		return err
	}
	defer f.Close()
	return write(f)
}

func (c *Context) errIfDiagnosed() error {
	if c.Diags.HasErrors() {
		return fmt.Errorf("compilation failed")
	}
	return nil
}

// Lowered exposes the post-isel, post-RA MIR for tests and tooling
func (c *Context) Lowered(m *ir.Module) ([]*mir.Function, regalloc.MachineDescription, error) {
	funcs := lower.Lower(m, c.Target)
	for _, f := range funcs {
		x86_64.SelectInstructions(f, c.Target)
	}
	desc := x86_64.MachineDesc(c.Target)
	for _, f := range funcs {
		if err := regalloc.Allocate(desc, f); err != nil {
			return nil, desc, err
		}
	}
	return funcs, desc, nil
}
