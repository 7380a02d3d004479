package cli

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// printer writes styled output. Styling is off unless w is a terminal and
// NO_COLOR is unset.
type printer struct {
	w     io.Writer
	color bool
	live  bool
}

func newPrinter(w io.Writer) *printer {
	tty := isTerminal(w)
	return &printer{
		w:     w,
		color: tty && os.Getenv("NO_COLOR") == "",
		live:  tty,
	}
}

func (p *printer) style(c, text string) string {
	if !p.color {
		return text
	}
	return c + text + colorReset
}

// Text styling
func (p *printer) bold(text string) string    { return p.style(colorBold, text) }
func (p *printer) dim(text string) string     { return p.style(colorDim, text) }
func (p *printer) cyan(text string) string    { return p.style(colorCyan, text) }
func (p *printer) warn(text string) string    { return p.style(colorYellow, text) }
func (p *printer) success(text string) string { return p.style(colorGreen+colorBold, text) }
func (p *printer) fail(text string) string    { return p.style(colorRed+colorBold, text) }

func (p *printer) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(p.w, format, args...)
}

// Step indicator [1/4]
func (p *printer) step(num, total int, text string) {
	p.printf("  %s%d/%d%s %s", p.dim("["), num, total, p.dim("]"), text)
}

func (p *printer) ok() {
	p.printf("%s\n", p.success("OK"))
}

func (p *printer) failed() {
	p.printf("%s\n", p.fail("FAILED"))
}

// field prints an aligned label and value.
func (p *printer) field(label, value string) {
	p.printf("  %-14s %s\n", p.dim(label), value)
}
