// Package target describes compilation targets and output formats.
//
// The output format is a property of the compiler context rather than a
// command-line flag; it is selected by an optional fcc.yaml in the current
// working directory or via the library API.
package target

import (
	"fmt"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"
)

// OS is the target operating system
type OS int

const (
	Linux OS = iota
	Windows
)

func (o OS) String() string {
	switch o {
	case Linux:
		return "linux"
	case Windows:
		return "windows"
	}
	return "unknown"
}

// Arch is the target architecture. Only x86-64 is supported.
type Arch int

const (
	X8664 Arch = iota
)

func (a Arch) String() string { return "x86_64" }

// Target is an (arch, os) pair
type Target struct {
	Arch Arch
	OS   OS
}

var (
	X8664Linux   = Target{Arch: X8664, OS: Linux}
	X8664Windows = Target{Arch: X8664, OS: Windows}
)

// Default returns the host target
func Default() Target {
	if runtime.GOOS == "windows" {
		return X8664Windows
	}
	return X8664Linux
}

func (t Target) IsLinux() bool   { return t.OS == Linux }
func (t Target) IsWindows() bool { return t.OS == Windows }

func (t Target) String() string {
	return fmt.Sprintf("%s-%s", t.Arch, t.OS)
}

// Format is the kind of artefact the compiler produces
type Format int

const (
	FormatGNUAsATT Format = iota // GNU AS AT&T assembly (.s)
	FormatLLVMIR                 // textual LLVM IR
	FormatELF                    // ELF64 relocatable object
	FormatCOFF                   // COFF object (declared, unimplemented)
)

func (f Format) String() string {
	switch f {
	case FormatGNUAsATT:
		return "gnu-as-att"
	case FormatLLVMIR:
		return "llvm-ir"
	case FormatELF:
		return "elf"
	case FormatCOFF:
		return "coff"
	}
	return "unknown"
}

// Config is the on-disk compiler configuration (fcc.yaml)
type Config struct {
	Target   string `yaml:"target"` // "x86_64-linux" or "x86_64-windows"
	Format   string `yaml:"format"` // "gnu-as-att", "llvm-ir", "elf", "coff"
	OptLevel int    `yaml:"opt_level"`
	PrintMIR bool   `yaml:"print_mir"`
}

// LoadConfig reads an fcc.yaml. A missing file is not an error; the
// returned defaults select host target, assembly output and opt_level 1.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	cfg.OptLevel = 1
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

// Resolve turns a Config into a (Target, Format) pair
func (c Config) Resolve() (Target, Format, error) {
	t := Default()
	switch c.Target {
	case "", "host":
	case "x86_64-linux":
		t = X8664Linux
	case "x86_64-windows":
		t = X8664Windows
	default:
		return t, 0, fmt.Errorf("unknown target %q", c.Target)
	}

	f := FormatGNUAsATT
	switch c.Format {
	case "", "gnu-as-att", "asm":
	case "llvm-ir", "llvm":
		f = FormatLLVMIR
	case "elf":
		f = FormatELF
	case "coff":
		f = FormatCOFF
	default:
		return t, 0, fmt.Errorf("unknown output format %q", c.Format)
	}
	return t, f, nil
}
