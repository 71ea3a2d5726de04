package output

import (
	"bufio"
	"io"
	"os"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/spf13/afero"

	"github.com/ropfind/ropfind/pkg/gadget"
)

// Sink writes gadgets to the console and also, optionally, to a buffered
// file. The file never contains color escapes.
type Sink struct {
	fileOnly bool
	console  io.Writer
	colors   bool
	file     *bufio.Writer
	fh       io.Closer
}

// NewSink returns a sink writing to console, with colors if colors is set.
func NewSink(console io.Writer, colors bool) *Sink {
	return &Sink{console: console, colors: colors}
}

// Stdout returns a sink for the standard output. Colors are only used when
// the standard output is a terminal and useColor is set.
func Stdout(useColor bool) *Sink {
	fd := os.Stdout.Fd()
	tty := isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
	return NewSink(colorable.NewColorableStdout(), useColor && tty)
}

// TranscribeTo starts copying the output to the file at path in fs. If
// fileOnly is set nothing is written to the console anymore.
func (s *Sink) TranscribeTo(fs afero.Fs, path string, fileOnly bool) error {
	fh, err := fs.Create(path)
	if err != nil {
		return err
	}
	if err := s.Close(); err != nil {
		fh.Close()
		return err
	}
	s.file = bufio.NewWriter(fh)
	s.fh = fh
	s.fileOnly = fileOnly
	return nil
}

// Write renders set to the console and the transcript file.
func (s *Sink) Write(set gadget.Set, opts Options) error {
	if !s.fileOnly {
		if err := render(s.console, set, opts, s.colors); err != nil {
			return err
		}
	}
	if s.file != nil {
		return render(s.file, set, opts, false)
	}
	return nil
}

func render(w io.Writer, set gadget.Set, opts Options, colors bool) error {
	if opts.Format == FormatJSON {
		return writeJSON(w, set)
	}
	return writeText(w, set, opts, colors)
}

// Close flushes and closes the transcript file.
func (s *Sink) Close() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Flush()
	if cerr := s.fh.Close(); err == nil {
		err = cerr
	}
	s.file = nil
	s.fh = nil
	s.fileOnly = false
	return err
}
