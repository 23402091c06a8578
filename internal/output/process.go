package output

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// ProcessConfig configures a process-backed output
type ProcessConfig struct {
	Name   string
	Format Format

	// Command is the argv template. Placeholders: {rate} {bits} {bytes}
	// {path} {dir} {name}.
	Command []string

	// Extension of the recorded artifact. Empty means the process does not
	// produce a file (e.g. live playback) and {path} expands to "".
	Extension string

	QueueSize   int
	GracePeriod time.Duration
	Namer       *Namer
	Logger      *slog.Logger
}

// ProcessOutput is a controllable sink backed by an external process.
// Start spawns the process and Stop detaches it immediately; the process is
// given the remaining queued audio, its stdin is closed and it is waited for
// up to GracePeriod before being terminated.
type ProcessOutput struct {
	config ProcessConfig
	logger *slog.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	queue   *writeQueue
	session string
	path    string

	retiring sync.WaitGroup
}

// NewProcessOutput creates an inactive process-backed output
func NewProcessOutput(cfg ProcessConfig) *ProcessOutput {
	if cfg.Namer == nil {
		cfg.Namer = NewNamer(nil)
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &ProcessOutput{
		config: cfg,
		logger: logger.With(slog.String("output", cfg.Name)),
	}
}

// Name returns the output name
func (p *ProcessOutput) Name() string { return p.config.Name }

// Start spawns the encoder process if it is not already running
func (p *ProcessOutput) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd != nil {
		return nil
	}

	path := ""
	if p.config.Extension != "" {
		if err := os.MkdirAll(p.config.Format.Dir, 0755); err != nil {
			return fmt.Errorf("failed to create recording directory %s: %w", p.config.Format.Dir, err)
		}
		path = filepath.Join(p.config.Format.Dir, p.config.Namer.Next(p.config.Extension))
	}

	args := expandCommand(p.config.Command, p.config.Format, path)
	if len(args) == 0 {
		return fmt.Errorf("output %s has an empty command", p.config.Name)
	}

	cmd := exec.Command(args[0], args[1:]...)
	// stdout may carry the raw audio stream, so the child never inherits it
	cmd.Stdout = nil
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdin pipe for %s: %w", p.config.Name, err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		return fmt.Errorf("failed to start %s: %w", args[0], err)
	}

	session := uuid.NewString()
	logger := p.logger.With(slog.String("session_id", session))

	p.cmd = cmd
	p.session = session
	p.path = path
	p.queue = newWriteQueue(stdin, p.config.QueueSize, func(err error) {
		logger.Warn("Output process stopped accepting audio", slog.String("error", err.Error()))
	})

	logger.Info("Output process started",
		slog.String("command", args[0]),
		slog.Int("pid", cmd.Process.Pid),
		slog.String("path", path),
	)

	return nil
}

// Write queues p for the process. It is a no-op while inactive.
func (p *ProcessOutput) Write(b []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.queue == nil {
		return nil
	}
	if !p.queue.push(b) {
		return ErrQueueFull
	}
	return nil
}

// Stop detaches the running process and retires it in the background
func (p *ProcessOutput) Stop() error {
	p.mu.Lock()
	cmd, queue, session := p.cmd, p.queue, p.session
	p.cmd, p.queue, p.session, p.path = nil, nil, "", ""
	p.mu.Unlock()

	if cmd == nil {
		return nil
	}

	queue.close()

	p.retiring.Add(1)
	go func() {
		defer p.retiring.Done()
		p.retire(cmd, queue, session)
	}()

	return nil
}

// IsActive reports whether a process is attached
func (p *ProcessOutput) IsActive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cmd != nil
}

// Session returns the current recording session id and artifact path
func (p *ProcessOutput) Session() (string, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session, p.path
}

// Wait blocks until every stopped process has exited or ctx is done
func (p *ProcessOutput) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.retiring.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// retire waits for the queue to flush and the process to exit, escalating
// to SIGTERM and then SIGKILL after each grace period.
func (p *ProcessOutput) retire(cmd *exec.Cmd, queue *writeQueue, session string) {
	logger := p.logger.With(slog.String("session_id", session), slog.Int("pid", cmd.Process.Pid))

	exited := make(chan error, 1)
	go func() {
		<-queue.done
		exited <- cmd.Wait()
	}()

	grace := p.config.GracePeriod
	select {
	case err := <-exited:
		logExit(logger, err)
		return
	case <-time.After(grace):
	}

	logger.Warn("Output process did not exit after stdin closed, terminating",
		slog.Duration("grace_period", grace),
	)
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		logger.Debug("Failed to signal output process", slog.String("error", err.Error()))
	}

	select {
	case err := <-exited:
		logExit(logger, err)
		return
	case <-time.After(grace):
	}

	logger.Warn("Output process ignored SIGTERM, killing")
	if err := cmd.Process.Kill(); err != nil {
		logger.Debug("Failed to kill output process", slog.String("error", err.Error()))
	}
	logExit(logger, <-exited)
}

func logExit(logger *slog.Logger, err error) {
	if err != nil {
		logger.Warn("Output process exited", slog.String("error", err.Error()))
		return
	}
	logger.Info("Output process exited")
}

// expandCommand substitutes format placeholders in every argument
func expandCommand(command []string, f Format, path string) []string {
	name := ""
	if path != "" {
		name = filepath.Base(path)
	}

	r := strings.NewReplacer(
		"{rate}", strconv.Itoa(f.SampleRate),
		"{bits}", strconv.Itoa(f.BitDepth()),
		"{bytes}", strconv.Itoa(f.SampleBytes),
		"{path}", path,
		"{dir}", f.Dir,
		"{name}", name,
	)

	args := make([]string, len(command))
	for i, arg := range command {
		args[i] = r.Replace(arg)
	}
	return args
}
