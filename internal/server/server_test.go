package server

import (
	"io"
	"log/slog"
	"sync"

	"github.com/skypro1111/rtl-audio-splitter/internal/splitter"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingModes records every SetMode call and applies it to a Mode
type recordingModes struct {
	mu    sync.Mutex
	mode  splitter.Mode
	calls [][2]splitter.Flag
}

func (r *recordingModes) SetMode(record, monitor splitter.Flag) splitter.Mode {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, [2]splitter.Flag{record, monitor})
	switch record {
	case splitter.On:
		r.mode.Recording = true
	case splitter.Off:
		r.mode.Recording = false
	}
	switch monitor {
	case splitter.On:
		r.mode.Monitoring = true
	case splitter.Off:
		r.mode.Monitoring = false
	}
	return r.mode
}

func (r *recordingModes) Mode() splitter.Mode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mode
}

func (r *recordingModes) Status() splitter.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return splitter.Status{
		Mode: r.mode,
		Outputs: []splitter.OutputStatus{
			{Name: "stdout", Roles: []string{"stream"}, Active: true},
			{Name: "wav", Roles: []string{"record"}, Active: r.mode.Recording},
		},
	}
}

func (r *recordingModes) snapshot() [][2]splitter.Flag {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][2]splitter.Flag(nil), r.calls...)
}
