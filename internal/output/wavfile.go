package output

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/google/uuid"
)

// wavFormatPCM is the WAVE_FORMAT_PCM audio format tag
const wavFormatPCM = 1

// WAVFileConfig configures an in-process WAV recorder
type WAVFileConfig struct {
	Name      string
	Format    Format
	Extension string
	QueueSize int
	Namer     *Namer
	Logger    *slog.Logger
}

// WAVFileOutput records mono little-endian signed PCM to a WAV file without
// an external encoder. Each Start opens a new timestamped file.
type WAVFileOutput struct {
	config WAVFileConfig
	logger *slog.Logger

	mu      sync.Mutex
	queue   *writeQueue
	session string
	path    string

	closing sync.WaitGroup
}

// NewWAVFileOutput creates an inactive WAV recorder
func NewWAVFileOutput(cfg WAVFileConfig) *WAVFileOutput {
	if cfg.Namer == nil {
		cfg.Namer = NewNamer(nil)
	}
	if cfg.Extension == "" {
		cfg.Extension = "wav"
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &WAVFileOutput{
		config: cfg,
		logger: logger.With(slog.String("output", cfg.Name)),
	}
}

// Name returns the output name
func (o *WAVFileOutput) Name() string { return o.config.Name }

// Start opens a new WAV file if not already recording
func (o *WAVFileOutput) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.queue != nil {
		return nil
	}

	if err := os.MkdirAll(o.config.Format.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create recording directory %s: %w", o.config.Format.Dir, err)
	}

	path := filepath.Join(o.config.Format.Dir, o.config.Namer.Next(o.config.Extension))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}

	sink := newWAVSink(f, o.config.Format)
	session := uuid.NewString()
	logger := o.logger.With(slog.String("session_id", session))

	o.session = session
	o.path = path
	o.closing.Add(1)
	o.queue = newWriteQueue(sink, o.config.QueueSize, func(err error) {
		logger.Error("WAV recording failed", slog.String("path", path), slog.String("error", err.Error()))
	})

	queue := o.queue
	go func() {
		defer o.closing.Done()
		<-queue.done
		logger.Info("WAV recording finished", slog.String("path", path))
	}()

	logger.Info("WAV recording started",
		slog.String("path", path),
		slog.Int("sample_rate", o.config.Format.SampleRate),
		slog.Int("bit_depth", o.config.Format.BitDepth()),
	)

	return nil
}

// Write queues p for the encoder. It is a no-op while inactive.
func (o *WAVFileOutput) Write(p []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.queue == nil {
		return nil
	}
	if !o.queue.push(p) {
		return ErrQueueFull
	}
	return nil
}

// Stop closes the current file once queued audio is written
func (o *WAVFileOutput) Stop() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.queue == nil {
		return nil
	}

	o.queue.close()
	o.queue = nil
	o.session = ""
	o.path = ""
	return nil
}

// IsActive reports whether a file is open
func (o *WAVFileOutput) IsActive() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.queue != nil
}

// Session returns the current recording session id and file path
func (o *WAVFileOutput) Session() (string, string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.session, o.path
}

// Wait blocks until every stopped recording has been finalized or ctx is done
func (o *WAVFileOutput) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.closing.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// wavSink converts raw sample bytes into go-audio buffers for the encoder
type wavSink struct {
	file        *os.File
	encoder     *wav.Encoder
	sampleBytes int
	buf         *goaudio.IntBuffer
	pending     []byte
	wrote       bool
}

func newWAVSink(f *os.File, format Format) *wavSink {
	return &wavSink{
		file:        f,
		encoder:     wav.NewEncoder(f, format.SampleRate, format.BitDepth(), 1, wavFormatPCM),
		sampleBytes: format.SampleBytes,
		buf: &goaudio.IntBuffer{
			Format:         &goaudio.Format{NumChannels: 1, SampleRate: format.SampleRate},
			SourceBitDepth: format.BitDepth(),
		},
	}
}

// Write encodes every complete sample in p; a trailing partial sample is
// kept for the next call.
func (s *wavSink) Write(p []byte) (int, error) {
	data := p
	if len(s.pending) > 0 {
		data = append(s.pending, p...)
		s.pending = nil
	}

	n := len(data) / s.sampleBytes
	s.buf.Data = s.buf.Data[:0]
	for i := 0; i < n; i++ {
		s.buf.Data = append(s.buf.Data, decodeSample(data[i*s.sampleBytes:(i+1)*s.sampleBytes]))
	}
	if rest := data[n*s.sampleBytes:]; len(rest) > 0 {
		s.pending = append([]byte(nil), rest...)
	}

	if n == 0 {
		return len(p), nil
	}
	if err := s.encoder.Write(s.buf); err != nil {
		return 0, fmt.Errorf("failed to encode samples: %w", err)
	}
	s.wrote = true
	return len(p), nil
}

// Close finalizes the WAV header and closes the file
func (s *wavSink) Close() error {
	if !s.wrote {
		// The encoder only emits its header on the first write
		s.buf.Data = s.buf.Data[:0]
		if err := s.encoder.Write(s.buf); err != nil {
			s.file.Close()
			return fmt.Errorf("failed to write WAV header: %w", err)
		}
	}
	encErr := s.encoder.Close()
	fileErr := s.file.Close()
	if encErr != nil {
		return fmt.Errorf("failed to finalize WAV file: %w", encErr)
	}
	return fileErr
}

// decodeSample converts one little-endian signed sample to the value the
// WAV encoder expects. 8-bit WAV data is unsigned.
func decodeSample(b []byte) int {
	switch len(b) {
	case 1:
		return int(int8(b[0])) + 128
	case 2:
		return int(int16(uint16(b[0]) | uint16(b[1])<<8))
	case 3:
		v := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
		return int((v << 8) >> 8)
	case 4:
		return int(int32(uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24))
	default:
		return 0
	}
}
