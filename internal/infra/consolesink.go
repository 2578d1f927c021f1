package infra

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/mgutz/ansi"

	"github.com/nettrail/fwmon/internal/domain"
)

// timestampLayout is the display format for record timestamps.
const timestampLayout = "2006-01-02 15:04:05.000000"

var (
	colorAllow = ansi.ColorCode("green")
	colorBlock = ansi.ColorCode("red")
	colorReset = ansi.ColorCode("reset")
)

// ConsoleSink writes display records as one line per record:
//
//	[<timestamp>] <message text>
//
// Allowed flows render green and blocked flows red when the writer is a
// terminal; piped output stays plain.
type ConsoleSink struct {
	w     io.Writer
	color bool
}

// NewConsoleSink returns a sink writing to w. Color is enabled only
// when w is a terminal and noColor is false.
func NewConsoleSink(w io.Writer, noColor bool) *ConsoleSink {
	s := &ConsoleSink{w: w}
	if noColor {
		return s
	}
	if f, ok := w.(*os.File); ok {
		fd := f.Fd()
		s.color = isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
	}
	return s
}

// Emit writes one record line.
func (s *ConsoleSink) Emit(rec domain.DisplayRecord) error {
	line := fmt.Sprintf("[%s] %s", rec.Timestamp.Format(timestampLayout), rec.Message)
	if s.color {
		switch rec.Category {
		case domain.CategoryAllow:
			line = colorAllow + line + colorReset
		case domain.CategoryBlock:
			line = colorBlock + line + colorReset
		}
	}
	_, err := fmt.Fprintln(s.w, line)
	return err
}

var _ domain.RecordSink = (*ConsoleSink)(nil)
