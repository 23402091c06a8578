package output

import (
	"context"
	"errors"
)

// ErrQueueFull is returned by Write when a controllable output cannot accept
// more data without blocking. The write is dropped.
var ErrQueueFull = errors.New("output queue full")

// Output is one consumer of audio data.
//
// Write must not retain p after it returns. Write on an inactive output is a
// no-op. Start and Stop are idempotent, and IsActive reports the state left by
// the most recent Start or Stop without side effects.
type Output interface {
	Name() string
	Write(p []byte) error
	Start() error
	Stop() error
	IsActive() bool
}

// Waiter is implemented by outputs that keep finishing work in the
// background after Stop, such as flushing a queue into an encoder process.
type Waiter interface {
	Wait(ctx context.Context) error
}

// Recorder is implemented by outputs that produce a named artifact per Start
type Recorder interface {
	// Session returns the id and artifact path of the current recording,
	// or empty strings while inactive.
	Session() (id string, path string)
}

// Format holds the audio parameters shared by all outputs
type Format struct {
	SampleRate  int
	SampleBytes int
	Dir         string
}

// BitDepth returns the sample width in bits
func (f Format) BitDepth() int {
	return f.SampleBytes * 8
}
