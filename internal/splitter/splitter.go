package splitter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/skypro1111/rtl-audio-splitter/internal/metrics"
	"github.com/skypro1111/rtl-audio-splitter/internal/output"
)

var (
	// ErrDuplicateOutput is returned by Add for an already registered name
	ErrDuplicateOutput = errors.New("output already registered")
	// ErrRegistrationClosed is returned by Add once the splitter has started
	// processing input or mode changes
	ErrRegistrationClosed = errors.New("output registration closed")
)

// Role is the set of named output groups an output belongs to
type Role uint8

const (
	// RoleStream outputs receive every input chunk verbatim
	RoleStream Role = 1 << iota
	// RoleRecord outputs run while recording and receive the pre-roll replay
	RoleRecord
	// RoleMonitor outputs run while monitoring
	RoleMonitor
)

// Names returns the role names in stream, record, monitor order
func (r Role) Names() []string {
	names := make([]string, 0, 3)
	if r&RoleStream != 0 {
		names = append(names, "stream")
	}
	if r&RoleRecord != 0 {
		names = append(names, "record")
	}
	if r&RoleMonitor != 0 {
		names = append(names, "monitor")
	}
	return names
}

func (r Role) String() string {
	return strings.Join(r.Names(), "|")
}

// ParseRole converts a role name to a Role
func ParseRole(name string) (Role, error) {
	switch name {
	case "stream":
		return RoleStream, nil
	case "record":
		return RoleRecord, nil
	case "monitor":
		return RoleMonitor, nil
	default:
		return 0, fmt.Errorf("unknown role %q", name)
	}
}

// Flag is a partial override for one mode in SetMode
type Flag int8

const (
	// Keep leaves the mode unchanged
	Keep Flag = iota
	Off
	On
)

// FlagOf returns On for true and Off for false
func FlagOf(b bool) Flag {
	if b {
		return On
	}
	return Off
}

func (f Flag) apply(current bool) bool {
	switch f {
	case On:
		return true
	case Off:
		return false
	default:
		return current
	}
}

// Mode is the pair of routing flags
type Mode struct {
	Recording  bool `json:"recording"`
	Monitoring bool `json:"monitoring"`
}

func (m Mode) String() string {
	return fmt.Sprintf("recording=%t monitoring=%t", m.Recording, m.Monitoring)
}

// Config holds the construction parameters of a Splitter
type Config struct {
	// SampleBytes is the width of one sample. Zero disables framing.
	SampleBytes int
	// PrerollCapacity is the pre-roll size in samples
	PrerollCapacity int

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// OutputStatus describes one registered output
type OutputStatus struct {
	Name     string   `json:"name"`
	Roles    []string `json:"roles"`
	Active   bool     `json:"active"`
	Session  string   `json:"session_id,omitempty"`
	Artifact string   `json:"artifact,omitempty"`
}

// Status is a consistent snapshot of the splitter state
type Status struct {
	Mode            Mode           `json:"mode"`
	SampleBytes     int            `json:"sample_bytes"`
	PrerollSamples  int            `json:"preroll_samples"`
	PrerollCapacity int            `json:"preroll_capacity"`
	PrerollEvicted  uint64         `json:"preroll_evicted"`
	PendingBytes    int            `json:"pending_bytes"`
	Outputs         []OutputStatus `json:"outputs"`
}

type entry struct {
	name  string
	out   output.Output
	roles Role

	// failing suppresses repeated write error logs until a write succeeds
	failing bool
}

// Splitter re-frames a raw byte stream into samples and routes them to the
// registered outputs according to the current mode. ProcessInput and SetMode
// are serialized by one mutex.
type Splitter struct {
	sampleBytes int
	logger      *slog.Logger
	metrics     *metrics.Metrics

	mu      sync.Mutex
	sealed  bool
	mode    Mode
	pending []byte
	preroll *Preroll

	entries    []*entry // registration order
	stream     []*entry
	record     []*entry
	monitor    []*entry
	recordOnly []*entry // record members that are not monitor members
}

// New creates a Splitter with no outputs
func New(cfg Config) *Splitter {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sampleBytes := cfg.SampleBytes
	if sampleBytes < 0 {
		sampleBytes = 0
	}

	return &Splitter{
		sampleBytes: sampleBytes,
		logger:      logger,
		metrics:     cfg.Metrics,
		pending:     make([]byte, 0, sampleBytes),
		preroll:     NewPreroll(cfg.PrerollCapacity, sampleBytes),
	}
}

// Add registers out under name with the given roles. Membership is fixed
// once input or mode changes have been processed.
func (s *Splitter) Add(name string, out output.Output, roles Role) error {
	if out == nil {
		return fmt.Errorf("output %s is nil", name)
	}
	if roles&(RoleStream|RoleRecord|RoleMonitor) == 0 {
		return fmt.Errorf("output %s has no roles", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sealed {
		return fmt.Errorf("output %s: %w", name, ErrRegistrationClosed)
	}
	for _, e := range s.entries {
		if e.name == name {
			return fmt.Errorf("output %s: %w", name, ErrDuplicateOutput)
		}
	}

	e := &entry{name: name, out: out, roles: roles}
	s.entries = append(s.entries, e)
	if roles&RoleStream != 0 {
		s.stream = append(s.stream, e)
	}
	if roles&RoleRecord != 0 {
		s.record = append(s.record, e)
		if roles&RoleMonitor == 0 {
			s.recordOnly = append(s.recordOnly, e)
		}
	}
	if roles&RoleMonitor != 0 {
		s.monitor = append(s.monitor, e)
	}

	s.logger.Debug("Output registered",
		slog.String("output", name),
		slog.String("roles", roles.String()),
	)
	return nil
}

// ProcessInput writes chunk to every stream output and routes each sample
// completed by it. A trailing partial sample is kept for the next call.
func (s *Splitter) ProcessInput(chunk []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sealed = true

	s.metrics.RecordInput(len(chunk))

	for _, e := range s.stream {
		s.write(e, chunk)
	}

	if s.sampleBytes == 0 || len(chunk) == 0 {
		return
	}

	framed := 0

	if len(s.pending) > 0 {
		need := s.sampleBytes - len(s.pending)
		if need > len(chunk) {
			need = len(chunk)
		}
		s.pending = append(s.pending, chunk[:need]...)
		chunk = chunk[need:]

		if len(s.pending) < s.sampleBytes {
			return
		}
		s.route(s.pending)
		s.pending = s.pending[:0]
		framed++
	}

	whole := len(chunk) - len(chunk)%s.sampleBytes
	if whole > 0 {
		s.route(chunk[:whole])
		framed += whole / s.sampleBytes
	}
	s.pending = append(s.pending, chunk[whole:]...)

	s.metrics.RecordSamplesFramed(framed)
}

// route delivers whole samples according to the current mode
func (s *Splitter) route(samples []byte) {
	if s.mode.Monitoring {
		for _, e := range s.monitor {
			s.write(e, samples)
		}
	}

	if !s.mode.Recording {
		evicted := s.preroll.Append(samples)
		s.metrics.RecordPrerollEvictions(evicted)
		s.metrics.SetPrerollSamples(s.preroll.Len())
		return
	}

	// A record output that also monitors is skipped only while monitoring
	targets := s.record
	if s.mode.Monitoring {
		targets = s.recordOnly
	}
	for _, e := range targets {
		s.write(e, samples)
	}
}

// SetMode applies the overrides and starts or stops outputs to match. Newly
// started record outputs receive the pre-roll, which is then cleared. It
// returns the resulting mode.
func (s *Splitter) SetMode(record, monitor Flag) Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sealed = true

	prev := s.mode
	next := Mode{
		Recording:  record.apply(prev.Recording),
		Monitoring: monitor.apply(prev.Monitoring),
	}
	s.mode = next

	for _, e := range s.entries {
		if e.roles&(RoleRecord|RoleMonitor) == 0 {
			continue
		}
		wanted := (next.Recording && e.roles&RoleRecord != 0) ||
			(next.Monitoring && e.roles&RoleMonitor != 0)
		if !wanted {
			s.stop(e)
		}
	}

	if next.Monitoring {
		for _, e := range s.monitor {
			if !e.out.IsActive() {
				s.start(e)
			}
		}
	}

	if next.Recording {
		var started []*entry
		for _, e := range s.record {
			if !e.out.IsActive() && s.start(e) {
				started = append(started, e)
			}
		}
		if len(started) > 0 {
			s.replay(started)
		}
	}

	s.metrics.SetMode(next.Recording, next.Monitoring)
	if next != prev {
		s.logger.Info("Mode changed",
			slog.Bool("recording", next.Recording),
			slog.Bool("monitoring", next.Monitoring),
			slog.Bool("was_recording", prev.Recording),
			slog.Bool("was_monitoring", prev.Monitoring),
		)
	}

	return next
}

// replay writes the pre-roll to the given outputs and clears it
func (s *Splitter) replay(targets []*entry) {
	samples := s.preroll.Len()
	s.preroll.Each(func(segment []byte) {
		for _, e := range targets {
			s.write(e, segment)
		}
	})
	s.preroll.Reset()

	s.metrics.RecordReplay(samples)
	s.metrics.SetPrerollSamples(0)
	s.logger.Info("Pre-roll replayed",
		slog.Int("samples", samples),
		slog.Int("outputs", len(targets)),
	)
}

// Mode returns the current mode
func (s *Splitter) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Status returns a snapshot of the splitter and its outputs
func (s *Splitter) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Mode:            s.mode,
		SampleBytes:     s.sampleBytes,
		PrerollSamples:  s.preroll.Len(),
		PrerollCapacity: s.preroll.Cap(),
		PrerollEvicted:  s.preroll.Evicted(),
		PendingBytes:    len(s.pending),
		Outputs:         make([]OutputStatus, 0, len(s.entries)),
	}
	for _, e := range s.entries {
		out := OutputStatus{
			Name:   e.name,
			Roles:  e.roles.Names(),
			Active: e.out.IsActive(),
		}
		if rec, ok := e.out.(output.Recorder); ok {
			out.Session, out.Artifact = rec.Session()
		}
		st.Outputs = append(st.Outputs, out)
	}
	return st
}

// Close turns both modes off, stopping every controllable output, and then
// waits until outputs finishing in the background are done or ctx expires.
func (s *Splitter) Close(ctx context.Context) error {
	s.SetMode(Off, Off)

	s.mu.Lock()
	entries := append([]*entry(nil), s.entries...)
	s.mu.Unlock()

	var errs []error
	for _, e := range entries {
		w, ok := e.out.(output.Waiter)
		if !ok {
			continue
		}
		if err := w.Wait(ctx); err != nil {
			errs = append(errs, fmt.Errorf("output %s: %w", e.name, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Splitter) write(e *entry, p []byte) {
	err := e.out.Write(p)
	if err == nil {
		e.failing = false
		return
	}

	if errors.Is(err, output.ErrQueueFull) {
		s.metrics.RecordOutputDrop(e.name)
		return
	}

	s.metrics.RecordOutputWriteError(e.name)
	if !e.failing {
		e.failing = true
		s.logger.Warn("Output write failed",
			slog.String("output", e.name),
			slog.String("error", err.Error()),
		)
	}
}

// start reports whether the output was started successfully
func (s *Splitter) start(e *entry) bool {
	err := e.out.Start()
	s.metrics.RecordOutputStart(e.name, err)
	if err != nil {
		s.logger.Error("Failed to start output",
			slog.String("output", e.name),
			slog.String("error", err.Error()),
		)
		return false
	}
	e.failing = false
	return true
}

func (s *Splitter) stop(e *entry) {
	wasActive := e.out.IsActive()
	if err := e.out.Stop(); err != nil {
		s.logger.Warn("Failed to stop output",
			slog.String("output", e.name),
			slog.String("error", err.Error()),
		)
	}
	if wasActive {
		s.metrics.RecordOutputStop(e.name)
	}
}
