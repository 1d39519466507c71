package target

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveDefaults(t *testing.T) {
	var cfg Config
	tgt, format, err := cfg.Resolve()
	require.NoError(t, err)
	assert.Equal(t, FormatGNUAsATT, format)
	assert.Equal(t, Default(), tgt)
}

func TestResolveExplicit(t *testing.T) {
	tests := []struct {
		target string
		format string
		wantT  Target
		wantF  Format
	}{
		{"x86_64-linux", "llvm-ir", X8664Linux, FormatLLVMIR},
		{"x86_64-windows", "coff", X8664Windows, FormatCOFF},
		{"x86_64-linux", "elf", X8664Linux, FormatELF},
		{"host", "asm", Default(), FormatGNUAsATT},
	}
	for _, tt := range tests {
		cfg := Config{Target: tt.target, Format: tt.format}
		tgt, format, err := cfg.Resolve()
		require.NoError(t, err)
		assert.Equal(t, tt.wantT, tgt)
		assert.Equal(t, tt.wantF, format)
	}
}

func TestResolveRejectsUnknown(t *testing.T) {
	_, _, err := Config{Target: "sparc-solaris"}.Resolve()
	assert.Error(t, err)
	_, _, err = Config{Format: "mach-o"}.Resolve()
	assert.Error(t, err)
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.OptLevel, "a missing config keeps the defaults")
}

func TestLoadConfigParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fcc.yaml")
	require.NoError(t, os.WriteFile(path, []byte("target: x86_64-windows\nformat: llvm-ir\nopt_level: 0\nprint_mir: true\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "x86_64-windows", cfg.Target)
	assert.Equal(t, "llvm-ir", cfg.Format)
	assert.Equal(t, 0, cfg.OptLevel)
	assert.True(t, cfg.PrintMIR)
}

func TestLoadConfigRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fcc.yaml")
	require.NoError(t, os.WriteFile(path, []byte(":\n\t- nope"), 0o644))
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestTargetPredicates(t *testing.T) {
	assert.True(t, X8664Linux.IsLinux())
	assert.False(t, X8664Linux.IsWindows())
	assert.True(t, X8664Windows.IsWindows())
	assert.Equal(t, "x86_64-linux", X8664Linux.String())
}
