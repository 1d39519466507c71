package laye

import (
	"io"
	"testing"

	"github.com/fraylang/fcc/pkg/diag"
	"github.com/fraylang/fcc/pkg/frontend"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, src string) (*frontend.File, *diag.Engine) {
	t.Helper()
	e := diag.NewEngine()
	e.Out = io.Discard
	return Parse("test.laye", src, e), e
}

func TestParseTypeFirstFunction(t *testing.T) {
	f, e := parse(t, `
int fact(int n) {
    if n == 0 { return 1; }
    return n * fact(n - 1);
}
`)
	require.False(t, e.HasErrors())
	require.Len(t, f.Funcs, 1)
	fd := f.Funcs[0]
	assert.Equal(t, "fact", fd.Name)
	assert.Equal(t, "int", fd.Ret.Name)
	require.Len(t, fd.Params, 1)
	assert.Equal(t, "n", fd.Params[0].Name)
	require.Len(t, fd.Body.Stmts, 2)
}

func TestParseForeignDeclaration(t *testing.T) {
	f, e := parse(t, `foreign int putchar(int c);`)
	require.False(t, e.HasErrors())
	require.Len(t, f.Funcs, 1)
	assert.True(t, f.Funcs[0].Extern)
	assert.Nil(t, f.Funcs[0].Body)
}

func TestParseParenthesisedCondition(t *testing.T) {
	_, e := parse(t, `
int f(int n) {
    while (n > 0) { n = n - 1; }
    return n;
}
`)
	assert.False(t, e.HasErrors(), "parenthesised conditions parse as ordinary expressions")
}

func TestParseGlobal(t *testing.T) {
	f, e := parse(t, `int counter = 7;`)
	require.False(t, e.HasErrors())
	require.Len(t, f.Globals, 1)
	assert.Equal(t, "counter", f.Globals[0].Name)
}

func TestParseStructReportsSorry(t *testing.T) {
	_, e := parse(t, `struct point { }`)
	assert.True(t, e.HasErrors(), "sorry diagnostics gate code generation")

	var sawSorry bool
	for _, d := range e.Diagnostics() {
		if d.Severity == diag.Sorry {
			sawSorry = true
		}
	}
	assert.True(t, sawSorry)
}

func TestParseBoolType(t *testing.T) {
	f, e := parse(t, `
bool check(int n) {
    return n > 0;
}
`)
	require.False(t, e.HasErrors())
	assert.Equal(t, "bool", f.Funcs[0].Ret.Name)
}
