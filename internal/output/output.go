// Package output renders the CLI's human-facing status lines: an icon
// column followed by the message. The ui package owns anything richer
// (progress bars, the reindex TUI); this stays dumb enough to write to
// any io.Writer, including test buffers.
package output

import (
	"fmt"
	"io"
)

// Writer prints icon-prefixed status lines. Write errors are ignored:
// there is nothing useful to do when the console is gone.
type Writer struct {
	out io.Writer
}

func New(out io.Writer) *Writer {
	return &Writer{out: out}
}

// Status prints one line under the given icon. An empty icon indents
// the message to stay aligned with iconed lines.
func (w *Writer) Status(icon, msg string) {
	if icon == "" {
		fmt.Fprintf(w.out, "   %s\n", msg)
		return
	}
	fmt.Fprintf(w.out, "%s %s\n", icon, msg)
}

func (w *Writer) Statusf(icon, format string, args ...any) {
	w.Status(icon, fmt.Sprintf(format, args...))
}

func (w *Writer) Success(msg string) {
	w.Status("✅", msg)
}

func (w *Writer) Successf(format string, args ...any) {
	w.Success(fmt.Sprintf(format, args...))
}

// Warning gets a trailing space after the icon: the emoji renders
// narrow in most terminals and drifts out of the icon column otherwise.
func (w *Writer) Warning(msg string) {
	w.Status("⚠️ ", msg)
}

func (w *Writer) Warningf(format string, args ...any) {
	w.Warning(fmt.Sprintf(format, args...))
}

func (w *Writer) Error(msg string) {
	w.Status("❌", msg)
}

func (w *Writer) Errorf(format string, args ...any) {
	w.Error(fmt.Sprintf(format, args...))
}

func (w *Writer) Newline() {
	fmt.Fprintln(w.out)
}
