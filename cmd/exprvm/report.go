package main

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
)

const (
	colorReset = "\033[0m"
	colorRed   = "\033[31m"
	colorGreen = "\033[32m"
	colorGray  = "\033[90m"
)

// reporter prints one line per scenario and a summary
type reporter struct {
	out      io.Writer
	color    bool
	passed   int
	failed   int
	declined int
}

func newReporter(f *os.File) *reporter {
	return &reporter{
		out:   f,
		color: isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()),
	}
}

func (r *reporter) paint(color, s string) string {
	if !r.color {
		return s
	}
	return color + s + colorReset
}

func (r *reporter) pass(name string) {
	r.passed++
	fmt.Fprintf(r.out, "%s %s\n", r.paint(colorGreen, "PASS"), name)
}

func (r *reporter) decline(name string, reason error) {
	r.declined++
	fmt.Fprintf(r.out, "%s %s %s\n", r.paint(colorGray, "SKIP"), name, r.paint(colorGray, "("+reason.Error()+")"))
}

func (r *reporter) fail(name string, err error) {
	r.failed++
	fmt.Fprintf(r.out, "%s %s: %s\n", r.paint(colorRed, "FAIL"), name, err)
}

func (r *reporter) summary() {
	line := fmt.Sprintf("%d passed, %d failed, %d declined", r.passed, r.failed, r.declined)
	if r.failed > 0 {
		line = r.paint(colorRed, line)
	} else {
		line = r.paint(colorGreen, line)
	}
	fmt.Fprintln(r.out, line)
}

func (r *reporter) ok() bool { return r.failed == 0 }
