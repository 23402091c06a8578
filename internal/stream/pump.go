package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// DefaultReadSize is the chunk size used when none is configured
const DefaultReadSize = 128

// ErrSourceLost is returned by Run when the upstream source ends
var ErrSourceLost = errors.New("upstream audio source closed")

// Processor consumes raw input chunks. It must not retain the chunk.
type Processor interface {
	ProcessInput(chunk []byte)
}

// Statistics holds upstream reader counters
type Statistics struct {
	BytesRead  uint64    `json:"bytes_read"`
	ChunksRead uint64    `json:"chunks_read"`
	StartedAt  time.Time `json:"started_at"`
	LastReadAt time.Time `json:"last_read_at"`
}

type readResult struct {
	n   int
	err error
}

// Pump copies an upstream byte source into a Processor in fixed-size reads
type Pump struct {
	source    io.Reader
	processor Processor
	readSize  int
	logger    *slog.Logger

	stats Statistics
	mu    sync.RWMutex
}

// NewPump creates a pump reading up to readSize bytes at a time
func NewPump(source io.Reader, processor Processor, readSize int, logger *slog.Logger) *Pump {
	if readSize <= 0 {
		readSize = DefaultReadSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pump{
		source:    source,
		processor: processor,
		readSize:  readSize,
		logger:    logger,
	}
}

// Run reads until the source ends, a read fails or ctx is cancelled.
// End of stream and zero-length reads return ErrSourceLost; cancellation
// returns nil. Reads happen on a separate goroutine so a blocked read does
// not delay cancellation; that goroutine exits with the next read.
func (p *Pump) Run(ctx context.Context) error {
	buf := make([]byte, p.readSize)
	results := make(chan readResult)
	next := make(chan struct{})
	stop := make(chan struct{})
	defer close(stop)

	go func() {
		for {
			n, err := p.source.Read(buf)
			select {
			case results <- readResult{n: n, err: err}:
			case <-stop:
				return
			}
			if n == 0 || err != nil {
				return
			}
			// buf is reused only after the chunk has been processed
			select {
			case <-next:
			case <-stop:
				return
			}
		}
	}()

	p.mu.Lock()
	p.stats.StartedAt = time.Now()
	p.mu.Unlock()

	p.logger.Info("Reading upstream audio", slog.Int("read_size", p.readSize))

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Upstream reader stopped")
			return nil

		case res := <-results:
			if res.n > 0 {
				p.processor.ProcessInput(buf[:res.n])
				p.record(res.n)
			}

			switch {
			case errors.Is(res.err, io.EOF), res.err == nil && res.n == 0:
				p.logger.Warn("Upstream audio source closed",
					slog.Uint64("bytes_read", p.Statistics().BytesRead),
				)
				return ErrSourceLost
			case res.err != nil:
				return fmt.Errorf("failed to read upstream audio: %w", res.err)
			}

			select {
			case next <- struct{}{}:
			case <-ctx.Done():
				p.logger.Info("Upstream reader stopped")
				return nil
			}
		}
	}
}

func (p *Pump) record(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats.BytesRead += uint64(n)
	p.stats.ChunksRead++
	p.stats.LastReadAt = time.Now()
}

// Statistics returns a copy of the reader counters
func (p *Pump) Statistics() Statistics {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.stats
}
