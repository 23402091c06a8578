package server

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"syscall"

	"github.com/skypro1111/rtl-audio-splitter/internal/splitter"
)

// ErrShutdownRequested is returned by SignalHandler.Run for a shutdown signal
var ErrShutdownRequested = errors.New("shutdown requested by signal")

// ShutdownSignals are the signals that end the process
var ShutdownSignals = []os.Signal{syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM}

// ModeSignals are the signals that change the mode
var ModeSignals = []os.Signal{syscall.SIGUSR1, syscall.SIGUSR2}

// SignalHandler turns delivered signals into mode changes or shutdown.
// Signals are read from a channel fed by signal.Notify, so mode changes run
// on the handler goroutine rather than in signal context.
type SignalHandler struct {
	signals <-chan os.Signal
	modes   ModeSetter
	logger  *slog.Logger
}

// NewSignalHandler creates a handler reading from signals
func NewSignalHandler(signals <-chan os.Signal, modes ModeSetter, logger *slog.Logger) *SignalHandler {
	return &SignalHandler{signals: signals, modes: modes, logger: logger}
}

// Run handles signals until a shutdown signal arrives, returning
// ErrShutdownRequested, or ctx is cancelled, returning nil.
func (h *SignalHandler) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-h.signals:
			if !ok {
				return nil
			}
			if err := h.handle(sig); err != nil {
				return err
			}
		}
	}
}

func (h *SignalHandler) handle(sig os.Signal) error {
	switch sig {
	case syscall.SIGUSR1:
		mode := h.modes.SetMode(splitter.On, splitter.Keep)
		h.logger.Info("Recording started by signal",
			slog.String("signal", sig.String()),
			slog.Bool("monitoring", mode.Monitoring),
		)
	case syscall.SIGUSR2:
		h.modes.SetMode(splitter.Off, splitter.Off)
		h.logger.Info("Recording and monitoring stopped by signal",
			slog.String("signal", sig.String()),
		)
	case syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM:
		h.logger.Info("Shutdown signal received", slog.String("signal", sig.String()))
		return ErrShutdownRequested
	default:
		h.logger.Debug("Ignoring signal", slog.String("signal", sig.String()))
	}
	return nil
}
