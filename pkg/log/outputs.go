package log

import (
	"io"
	"os"
	"sync"
)

// ConsoleOutput writes formatted entries to stderr.
type ConsoleOutput struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsoleOutput returns a ConsoleOutput writing to os.Stderr.
func NewConsoleOutput() *ConsoleOutput {
	return &ConsoleOutput{w: os.Stderr}
}

func (o *ConsoleOutput) Write(_ *Entry, formatted []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.w == nil {
		o.w = os.Stderr
	}
	_, err := o.w.Write(formatted)
	return err
}

func (o *ConsoleOutput) Close() error { return nil }

// WriterOutput writes formatted entries to an arbitrary io.WriteCloser, e.g.
// a log file opened by the caller; Close closes it.
type WriterOutput struct {
	mu sync.Mutex
	w  io.WriteCloser
}

// NewWriterOutput wraps w as an Output.
func NewWriterOutput(w io.WriteCloser) *WriterOutput {
	return &WriterOutput{w: w}
}

func (o *WriterOutput) Write(_ *Entry, formatted []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, err := o.w.Write(formatted)
	return err
}

func (o *WriterOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.w.Close()
}

// NullOutput discards every entry. Useful in tests that only care about
// side effects other than log output.
type NullOutput struct{}

func (NullOutput) Write(*Entry, []byte) error { return nil }
func (NullOutput) Close() error               { return nil }
