// Package diag implements compiler diagnostics.
//
// Design: Four severities. Warning and Error point at source locations and
// come from the front ends; Sorry marks language features the compiler does
// not support yet; ICE means an internal invariant was violated and is
// always a bug in the compiler, never in user code.
package diag

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
)

// Severity of a diagnostic
type Severity int

const (
	Warning Severity = iota
	Error
	Sorry
	ICE
)

func (s Severity) String() string {
	switch s {
	case Warning:
		return "warning"
	case Error:
		return "error"
	case Sorry:
		return "sorry"
	case ICE:
		return "internal compiler error"
	}
	return "unknown"
}

// Loc is a position in a source file
type Loc struct {
	File string
	Line int
	Col  int
}

func (l Loc) String() string {
	if l.File == "" {
		return "<unknown>"
	}
	return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Col)
}

// Diagnostic is a single reported problem
type Diagnostic struct {
	Severity Severity
	Loc      Loc
	Message  string
}

// Engine collects and prints diagnostics for one compilation
type Engine struct {
	Out        io.Writer
	Color      bool
	diags      []Diagnostic
	errorCount int
	sorryCount int
	warnCount  int
}

// NewEngine creates a diagnostics engine writing to stderr
func NewEngine() *Engine {
	return &Engine{Out: os.Stderr, Color: true}
}

var (
	warnColor  = color.New(color.FgMagenta, color.Bold)
	errColor   = color.New(color.FgRed, color.Bold)
	sorryColor = color.New(color.FgCyan, color.Bold)
	iceColor   = color.New(color.FgRed, color.Bold, color.BlinkSlow)
)

// Report records a diagnostic and prints it immediately
func (e *Engine) Report(sev Severity, loc Loc, format string, args ...any) {
	d := Diagnostic{Severity: sev, Loc: loc, Message: fmt.Sprintf(format, args...)}
	e.diags = append(e.diags, d)
	switch sev {
	case Warning:
		e.warnCount++
	case Error, ICE:
		e.errorCount++
	case Sorry:
		e.sorryCount++
	}
	e.print(d)
}

// Warn reports a warning
func (e *Engine) Warn(loc Loc, format string, args ...any) {
	e.Report(Warning, loc, format, args...)
}

// Errorf reports an error
func (e *Engine) Errorf(loc Loc, format string, args ...any) {
	e.Report(Error, loc, format, args...)
}

// Sorryf reports an unsupported language feature
func (e *Engine) Sorryf(loc Loc, format string, args ...any) {
	e.Report(Sorry, loc, format, args...)
}

func (e *Engine) print(d Diagnostic) {
	if e.Out == nil {
		return
	}
	sev := d.Severity.String()
	if e.Color {
		c := errColor
		switch d.Severity {
		case Warning:
			c = warnColor
		case Sorry:
			c = sorryColor
		case ICE:
			c = iceColor
		}
		sev = c.Sprint(sev)
	}
	if d.Loc.File != "" {
		fmt.Fprintf(e.Out, "%s: %s: %s\n", d.Loc, sev, d.Message)
	} else {
		fmt.Fprintf(e.Out, "%s: %s\n", sev, d.Message)
	}
}

// HasErrors reports whether any diagnostic of error severity or above was
// emitted. Sorry counts: the output would be wrong.
func (e *Engine) HasErrors() bool {
	return e.errorCount > 0 || e.sorryCount > 0
}

// Diagnostics returns everything reported so far
func (e *Engine) Diagnostics() []Diagnostic {
	return e.diags
}

// iceError carries an ICE through a panic so the driver can recover it,
// flush diagnostics and exit non-zero.
type iceError struct {
	msg string
}

func (i iceError) Error() string { return i.msg }

// ICEf reports an internal compiler error and unwinds. The optimiser and
// back end never emit source-level errors; any failure past the front end
// is an ICE because invariants should have been established upstream.
func ICEf(format string, args ...any) {
	panic(iceError{msg: fmt.Sprintf(format, args...)})
}

// Assert panics with an ICE when cond is false. Assertions inside the
// compiler are upheld invariants; violations are not recoverable.
func Assert(cond bool, format string, args ...any) {
	if !cond {
		ICEf(format, args...)
	}
}

// RecoverICE converts a panic raised by ICEf into a printed diagnostic.
// Returns true if an ICE was recovered. Non-ICE panics are re-raised.
func RecoverICE(e *Engine, r any) bool {
	if r == nil {
		return false
	}
	ice, ok := r.(iceError)
	if !ok {
		panic(r)
	}
	e.Report(ICE, Loc{}, "%s", ice.msg)
	return true
}
