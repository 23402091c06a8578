package output

import (
	"io"
)

// WriterOutput is an immediate sink over a continuously open writer such as
// the process' standard output. It is always active.
type WriterOutput struct {
	name string
	w    io.Writer
}

// NewWriterOutput creates an immediate sink
func NewWriterOutput(name string, w io.Writer) *WriterOutput {
	return &WriterOutput{name: name, w: w}
}

// Name returns the output name
func (o *WriterOutput) Name() string { return o.name }

// Write passes p straight through
func (o *WriterOutput) Write(p []byte) error {
	_, err := o.w.Write(p)
	return err
}

// Start is a no-op
func (o *WriterOutput) Start() error { return nil }

// Stop is a no-op
func (o *WriterOutput) Stop() error { return nil }

// IsActive always reports true
func (o *WriterOutput) IsActive() bool { return true }
