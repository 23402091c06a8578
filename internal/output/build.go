package output

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/skypro1111/rtl-audio-splitter/internal/config"
)

// BuildOptions carries the shared dependencies for Build
type BuildOptions struct {
	Format      Format
	Stdout      io.Writer
	QueueSize   int
	GracePeriod time.Duration
	Clock       func() time.Time
	Logger      *slog.Logger
}

// Build creates the output described by cfg. Every controllable output gets
// its own Namer so artifacts of different outputs never share a sequence.
func Build(cfg config.OutputConfig, opts BuildOptions) (Output, error) {
	switch cfg.Type {
	case config.OutputTypeStdout:
		if opts.Stdout == nil {
			return nil, fmt.Errorf("output %s: no stdout writer", cfg.Name)
		}
		return NewWriterOutput(cfg.Name, opts.Stdout), nil

	case config.OutputTypeCommand:
		return NewProcessOutput(ProcessConfig{
			Name:        cfg.Name,
			Format:      opts.Format,
			Command:     cfg.Command,
			Extension:   cfg.Extension,
			QueueSize:   opts.QueueSize,
			GracePeriod: opts.GracePeriod,
			Namer:       NewNamer(opts.Clock),
			Logger:      opts.Logger,
		}), nil

	case config.OutputTypeWAV:
		return NewWAVFileOutput(WAVFileConfig{
			Name:      cfg.Name,
			Format:    opts.Format,
			Extension: cfg.Extension,
			QueueSize: opts.QueueSize,
			Namer:     NewNamer(opts.Clock),
			Logger:    opts.Logger,
		}), nil

	default:
		return nil, fmt.Errorf("output %s: unknown type %q", cfg.Name, cfg.Type)
	}
}
