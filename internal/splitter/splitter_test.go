package splitter

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/skypro1111/rtl-audio-splitter/internal/output"
	"github.com/skypro1111/rtl-audio-splitter/internal/protocol"
)

// fakeOutput records every call made by the splitter
type fakeOutput struct {
	name      string
	immediate bool
	startErr  error
	writeErr  error

	active bool
	starts int
	stops  int
	writes [][]byte
}

func newFake(name string) *fakeOutput {
	return &fakeOutput{name: name}
}

func (f *fakeOutput) Name() string { return f.name }

func (f *fakeOutput) Write(p []byte) error {
	if !f.active && !f.immediate {
		return nil
	}
	if f.writeErr != nil {
		return f.writeErr
	}
	f.writes = append(f.writes, append([]byte(nil), p...))
	return nil
}

func (f *fakeOutput) Start() error {
	if f.startErr != nil {
		return f.startErr
	}
	if f.active {
		return nil
	}
	f.active = true
	f.starts++
	return nil
}

func (f *fakeOutput) Stop() error {
	if !f.active {
		return nil
	}
	f.active = false
	f.stops++
	return nil
}

func (f *fakeOutput) IsActive() bool { return f.active || f.immediate }

func (f *fakeOutput) bytes() []byte {
	return bytes.Join(f.writes, nil)
}

// samples splits everything written so far into sampleBytes groups and
// fails if any single write was not sample aligned
func (f *fakeOutput) samples(t *testing.T, sampleBytes int) [][]byte {
	t.Helper()
	var out [][]byte
	for _, w := range f.writes {
		if len(w)%sampleBytes != 0 {
			t.Fatalf("%s received a write of %d bytes, not a multiple of %d", f.name, len(w), sampleBytes)
		}
		for i := 0; i < len(w); i += sampleBytes {
			out = append(out, w[i:i+sampleBytes])
		}
	}
	return out
}

func newTestSplitter(t *testing.T, sampleBytes, capacity int) *Splitter {
	t.Helper()
	return New(Config{SampleBytes: sampleBytes, PrerollCapacity: capacity})
}

func mustAdd(t *testing.T, s *Splitter, out output.Output, roles Role) {
	t.Helper()
	if err := s.Add(out.Name(), out, roles); err != nil {
		t.Fatalf("Add %s failed: %v", out.Name(), err)
	}
}

func TestPrerollReplayScenario(t *testing.T) {
	s := newTestSplitter(t, 2, 3)
	rec := newFake("wav")
	mustAdd(t, s, rec, RoleRecord)

	s.ProcessInput([]byte{0x01, 0x02, 0x03, 0x04, 0x05})

	status := s.Status()
	if status.PrerollSamples != 2 {
		t.Errorf("Expected 2 pre-roll samples, got %d", status.PrerollSamples)
	}
	if status.PendingBytes != 1 {
		t.Errorf("Expected 1 pending byte, got %d", status.PendingBytes)
	}

	s.ProcessInput([]byte{0x06})

	samples := s.preroll.Samples()
	expected := [][]byte{{0x01, 0x02}, {0x03, 0x04}, {0x05, 0x06}}
	if len(samples) != len(expected) {
		t.Fatalf("Expected %d pre-roll samples, got %d", len(expected), len(samples))
	}
	for i := range expected {
		if !bytes.Equal(samples[i], expected[i]) {
			t.Errorf("Pre-roll sample %d: expected %v, got %v", i, expected[i], samples[i])
		}
	}

	mode := s.SetMode(On, Keep)
	if !mode.Recording || mode.Monitoring {
		t.Errorf("Expected recording only, got %s", mode)
	}

	got := rec.samples(t, 2)
	if len(got) != len(expected) {
		t.Fatalf("Expected %d replayed samples, got %d", len(expected), len(got))
	}
	for i := range expected {
		if !bytes.Equal(got[i], expected[i]) {
			t.Errorf("Replayed sample %d: expected %v, got %v", i, expected[i], got[i])
		}
	}

	if s.Status().PrerollSamples != 0 {
		t.Error("Expected pre-roll to be empty after replay")
	}
}

func TestFramingIsIndependentOfChunking(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	stream := make([]byte, 997)
	rng.Read(stream)

	for sampleBytes := 1; sampleBytes <= 4; sampleBytes++ {
		whole := newTestSplitter(t, sampleBytes, len(stream))
		whole.ProcessInput(stream)
		expected := whole.preroll.Samples()

		if len(expected) != len(stream)/sampleBytes {
			t.Fatalf("sampleBytes=%d: expected %d samples, got %d", sampleBytes, len(stream)/sampleBytes, len(expected))
		}

		for trial := 0; trial < 20; trial++ {
			s := newTestSplitter(t, sampleBytes, len(stream))
			mon := newFake("monitor")
			mustAdd(t, s, mon, RoleMonitor)

			// Monitoring starts mid-stream; the pre-roll keeps filling
			// because nothing is recording
			half := len(stream) / 2
			feedRandomly(rng, s, stream[:half])
			s.SetMode(Keep, On)
			feedRandomly(rng, s, stream[half:])

			got := s.preroll.Samples()
			if len(got) != len(expected) {
				t.Fatalf("sampleBytes=%d trial=%d: expected %d samples, got %d", sampleBytes, trial, len(expected), len(got))
			}
			for i := range expected {
				if !bytes.Equal(got[i], expected[i]) {
					t.Fatalf("sampleBytes=%d trial=%d: sample %d differs: expected %v, got %v",
						sampleBytes, trial, i, expected[i], got[i])
				}
			}

			live := mon.samples(t, sampleBytes)
			tail := expected[len(expected)-len(live):]
			for i := range live {
				if !bytes.Equal(live[i], tail[i]) {
					t.Fatalf("sampleBytes=%d trial=%d: monitored sample %d differs", sampleBytes, trial, i)
				}
			}

			if pending := s.Status().PendingBytes; pending != len(stream)%sampleBytes {
				t.Errorf("sampleBytes=%d: expected %d pending bytes, got %d", sampleBytes, len(stream)%sampleBytes, pending)
			}
		}
	}
}

// feedRandomly passes data to s in randomly sized chunks, including empty ones
func feedRandomly(rng *rand.Rand, s *Splitter, data []byte) {
	for len(data) > 0 {
		n := rng.Intn(9)
		if n > len(data) {
			n = len(data)
		}
		s.ProcessInput(data[:n])
		data = data[n:]
	}
}

func TestStreamOutputsReceiveRawChunks(t *testing.T) {
	s := newTestSplitter(t, 2, 8)
	stdout := &fakeOutput{name: "stdout", immediate: true}
	mustAdd(t, s, stdout, RoleStream)

	chunks := [][]byte{{0x01}, {0x02, 0x03, 0x04}, {0x05}}
	for _, c := range chunks {
		s.ProcessInput(c)
	}

	if len(stdout.writes) != len(chunks) {
		t.Fatalf("Expected %d writes, got %d", len(chunks), len(stdout.writes))
	}
	for i := range chunks {
		if !bytes.Equal(stdout.writes[i], chunks[i]) {
			t.Errorf("Write %d: expected %v, got %v", i, chunks[i], stdout.writes[i])
		}
	}

	// Stream outputs are unaffected by mode changes
	s.SetMode(On, On)
	s.SetMode(Off, Off)
	if stdout.starts != 0 || stdout.stops != 0 {
		t.Error("Expected stream output never to be started or stopped")
	}
}

func TestNoDuplicateDeliveryToDualMember(t *testing.T) {
	s := newTestSplitter(t, 2, 8)
	dual := newFake("playback")
	mustAdd(t, s, dual, RoleRecord|RoleMonitor)

	s.SetMode(On, On)
	s.ProcessInput([]byte{0x01, 0x02, 0x03, 0x04})

	got := dual.samples(t, 2)
	if len(got) != 2 {
		t.Errorf("Expected each sample exactly once, got %d samples", len(got))
	}
	if dual.starts != 1 {
		t.Errorf("Expected one start, got %d", dual.starts)
	}
}

// The dual-membership exclusion applies only while monitoring. With
// recording alone, a record+monitor output receives record delivery, and an
// output already running for monitoring gets no pre-roll replay when
// recording starts. Both are preserved behavior, not accidents.
func TestDualMembershipSkipsRecordOnlyWhileMonitoring(t *testing.T) {
	t.Run("recording alone delivers to dual member", func(t *testing.T) {
		s := newTestSplitter(t, 1, 8)
		dual := newFake("playback")
		mustAdd(t, s, dual, RoleRecord|RoleMonitor)

		s.SetMode(On, Off)
		s.ProcessInput([]byte{0x07})

		if !bytes.Equal(dual.bytes(), []byte{0x07}) {
			t.Errorf("Expected record delivery to dual member, got %v", dual.bytes())
		}
	})

	t.Run("monitoring first suppresses replay to dual member", func(t *testing.T) {
		s := newTestSplitter(t, 1, 8)
		dual := newFake("playback")
		rec := newFake("wav")
		mustAdd(t, s, dual, RoleRecord|RoleMonitor)
		mustAdd(t, s, rec, RoleRecord)

		s.SetMode(Off, On)
		s.ProcessInput([]byte{0x01, 0x02})
		dual.writes = nil

		s.SetMode(On, Keep)

		if len(dual.writes) != 0 {
			t.Errorf("Expected no replay to the already active dual member, got %v", dual.bytes())
		}
		if !bytes.Equal(rec.bytes(), []byte{0x01, 0x02}) {
			t.Errorf("Expected replay to the newly started record output, got %v", rec.bytes())
		}
	})

	t.Run("both modes at once replay to record-only members", func(t *testing.T) {
		s := newTestSplitter(t, 1, 8)
		dual := newFake("playback")
		rec := newFake("wav")
		mustAdd(t, s, dual, RoleRecord|RoleMonitor)
		mustAdd(t, s, rec, RoleRecord)

		s.ProcessInput([]byte{0x01})
		s.SetMode(On, On)

		// Monitor outputs start before record outputs, so the dual member is
		// already active and is not part of the replay
		if len(dual.writes) != 0 {
			t.Errorf("Expected no replay to dual member, got %v", dual.bytes())
		}
		if !bytes.Equal(rec.bytes(), []byte{0x01}) {
			t.Errorf("Expected replay to record output, got %v", rec.bytes())
		}
	})
}

func TestReplayHappensOnce(t *testing.T) {
	s := newTestSplitter(t, 1, 8)
	rec := newFake("wav")
	mon := newFake("speaker")
	mustAdd(t, s, rec, RoleRecord)
	mustAdd(t, s, mon, RoleMonitor)

	s.ProcessInput([]byte{0x01, 0x02, 0x03})
	s.SetMode(On, Keep)
	s.ProcessInput([]byte{0x04})

	// Already recording: no second replay
	s.SetMode(On, On)
	s.SetMode(On, Keep)
	s.ProcessInput([]byte{0x05})

	if !bytes.Equal(rec.bytes(), []byte{0x01, 0x02, 0x03, 0x04, 0x05}) {
		t.Errorf("Expected each byte once in order, got %v", rec.bytes())
	}
	if len(mon.writes) != 1 || !bytes.Equal(mon.bytes(), []byte{0x05}) {
		t.Errorf("Expected monitor to receive only live audio, got %v", mon.bytes())
	}
	if rec.starts != 1 {
		t.Errorf("Expected record output to start once, got %d", rec.starts)
	}
}

func TestNoPrerollWhileRecording(t *testing.T) {
	s := newTestSplitter(t, 1, 8)
	rec := newFake("wav")
	mustAdd(t, s, rec, RoleRecord)

	s.SetMode(On, Keep)
	s.ProcessInput([]byte{0x01, 0x02})

	if n := s.Status().PrerollSamples; n != 0 {
		t.Errorf("Expected empty pre-roll while recording, got %d samples", n)
	}

	// Stopping and restarting replays only what arrived while stopped
	s.SetMode(Off, Keep)
	s.ProcessInput([]byte{0x03})
	s.SetMode(On, Keep)

	if !bytes.Equal(rec.bytes(), []byte{0x01, 0x02, 0x03}) {
		t.Errorf("Expected [1 2 3], got %v", rec.bytes())
	}
	if rec.starts != 2 || rec.stops != 1 {
		t.Errorf("Expected 2 starts and 1 stop, got %d and %d", rec.starts, rec.stops)
	}
}

func TestMonitoringAlsoFillsPreroll(t *testing.T) {
	s := newTestSplitter(t, 1, 8)
	mon := newFake("speaker")
	mustAdd(t, s, mon, RoleMonitor)

	s.SetMode(Off, On)
	s.ProcessInput([]byte{0x01, 0x02})

	if !bytes.Equal(mon.bytes(), []byte{0x01, 0x02}) {
		t.Errorf("Expected monitor delivery, got %v", mon.bytes())
	}
	if n := s.Status().PrerollSamples; n != 2 {
		t.Errorf("Expected 2 pre-roll samples while not recording, got %d", n)
	}
}

func TestModeCommands(t *testing.T) {
	s := newTestSplitter(t, 2, 8)
	rec := newFake("wav")
	mon := newFake("speaker")
	dual := newFake("playback")
	stdout := &fakeOutput{name: "stdout", immediate: true}
	mustAdd(t, s, stdout, RoleStream)
	mustAdd(t, s, rec, RoleRecord)
	mustAdd(t, s, mon, RoleMonitor)
	mustAdd(t, s, dual, RoleRecord|RoleMonitor)

	apply := func(b byte) Mode {
		cmd := protocol.DecodeMode(b)
		return s.SetMode(FlagOf(cmd.Record), FlagOf(cmd.Monitor))
	}

	mode := apply(0x11)
	if !mode.Recording || !mode.Monitoring {
		t.Errorf("Expected both modes on for 0x11, got %s", mode)
	}
	for _, f := range []*fakeOutput{rec, mon, dual} {
		if !f.IsActive() {
			t.Errorf("Expected %s to be active", f.name)
		}
	}

	mode = apply(0x10)
	if mode.Recording || !mode.Monitoring {
		t.Errorf("Expected monitoring only for 0x10, got %s", mode)
	}
	if rec.IsActive() {
		t.Error("Expected record output stopped")
	}
	if !dual.IsActive() {
		t.Error("Expected dual member to stay active while monitoring")
	}

	mode = apply(0x00)
	if mode.Recording || mode.Monitoring {
		t.Errorf("Expected both modes off for 0x00, got %s", mode)
	}
	for _, f := range []*fakeOutput{rec, mon, dual} {
		if f.IsActive() {
			t.Errorf("Expected %s to be stopped", f.name)
		}
	}
	if !stdout.IsActive() {
		t.Error("Expected stream output to stay active")
	}

	// Unrelated bits are ignored
	mode = apply(0xEE)
	if mode.Recording || mode.Monitoring {
		t.Errorf("Expected 0xEE to decode as both off, got %s", mode)
	}
}

func TestSetModeKeepLeavesFlagUnchanged(t *testing.T) {
	s := newTestSplitter(t, 2, 8)

	s.SetMode(Keep, On)
	if mode := s.SetMode(On, Keep); !mode.Recording || !mode.Monitoring {
		t.Errorf("Expected both on, got %s", mode)
	}
	if mode := s.SetMode(Off, Off); mode.Recording || mode.Monitoring {
		t.Errorf("Expected both off, got %s", mode)
	}
	if mode := s.SetMode(Keep, Keep); mode != (Mode{}) {
		t.Errorf("Expected no change, got %s", mode)
	}
}

func TestZeroSampleBytesDoesNotPanic(t *testing.T) {
	s := newTestSplitter(t, 0, 8)
	stdout := &fakeOutput{name: "stdout", immediate: true}
	rec := newFake("wav")
	mustAdd(t, s, stdout, RoleStream)
	mustAdd(t, s, rec, RoleRecord)

	s.ProcessInput([]byte{0x01, 0x02, 0x03})
	s.SetMode(On, On)
	s.ProcessInput([]byte{0x04})

	if len(rec.writes) != 0 {
		t.Errorf("Expected no frames, got %v", rec.bytes())
	}
	if !bytes.Equal(stdout.bytes(), []byte{0x01, 0x02, 0x03, 0x04}) {
		t.Errorf("Expected stream passthrough, got %v", stdout.bytes())
	}
}

func TestEmptyInput(t *testing.T) {
	s := newTestSplitter(t, 2, 8)
	s.ProcessInput([]byte{0x01})
	s.ProcessInput(nil)
	s.ProcessInput([]byte{})

	if pending := s.Status().PendingBytes; pending != 1 {
		t.Errorf("Expected pending byte to survive empty input, got %d", pending)
	}
}

func TestStartFailureIsNotReplayed(t *testing.T) {
	s := newTestSplitter(t, 1, 8)
	broken := newFake("mp3")
	broken.startErr = errors.New("sox not found")
	rec := newFake("wav")
	mustAdd(t, s, broken, RoleRecord)
	mustAdd(t, s, rec, RoleRecord)

	s.ProcessInput([]byte{0x01, 0x02})
	s.SetMode(On, Keep)
	s.ProcessInput([]byte{0x03})

	if broken.IsActive() {
		t.Error("Expected failed output to stay inactive")
	}
	if len(broken.writes) != 0 {
		t.Errorf("Expected no writes to failed output, got %v", broken.bytes())
	}
	if !bytes.Equal(rec.bytes(), []byte{0x01, 0x02, 0x03}) {
		t.Errorf("Expected healthy output unaffected, got %v", rec.bytes())
	}
}

func TestPrerollKeptWhenNothingStarts(t *testing.T) {
	s := newTestSplitter(t, 1, 8)
	broken := newFake("mp3")
	broken.startErr = errors.New("sox not found")
	mustAdd(t, s, broken, RoleRecord)

	s.ProcessInput([]byte{0x01, 0x02})
	s.SetMode(On, Keep)

	if n := s.Status().PrerollSamples; n != 2 {
		t.Errorf("Expected pre-roll kept when no output started, got %d samples", n)
	}
}

func TestWriteErrorDoesNotBlockOtherOutputs(t *testing.T) {
	s := newTestSplitter(t, 1, 8)
	bad := newFake("bad")
	bad.writeErr = errors.New("broken pipe")
	good := newFake("good")
	mustAdd(t, s, bad, RoleMonitor)
	mustAdd(t, s, good, RoleMonitor)

	s.SetMode(Keep, On)
	s.ProcessInput([]byte{0x01})
	s.ProcessInput([]byte{0x02})

	if !bytes.Equal(good.bytes(), []byte{0x01, 0x02}) {
		t.Errorf("Expected good output to receive all samples, got %v", good.bytes())
	}

	bad.writeErr = output.ErrQueueFull
	s.ProcessInput([]byte{0x03})
	if !bytes.Equal(good.bytes(), []byte{0x01, 0x02, 0x03}) {
		t.Errorf("Expected good output to receive all samples, got %v", good.bytes())
	}
}

func TestAddValidation(t *testing.T) {
	s := newTestSplitter(t, 2, 8)

	if err := s.Add("wav", newFake("wav"), RoleRecord); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := s.Add("wav", newFake("wav"), RoleMonitor); !errors.Is(err, ErrDuplicateOutput) {
		t.Errorf("Expected ErrDuplicateOutput, got %v", err)
	}
	if err := s.Add("none", newFake("none"), 0); err == nil {
		t.Error("Expected error for output without roles")
	}
	if err := s.Add("nil", nil, RoleRecord); err == nil {
		t.Error("Expected error for nil output")
	}

	s.ProcessInput([]byte{0x01})
	if err := s.Add("late", newFake("late"), RoleMonitor); !errors.Is(err, ErrRegistrationClosed) {
		t.Errorf("Expected ErrRegistrationClosed, got %v", err)
	}
}

func TestStatus(t *testing.T) {
	s := newTestSplitter(t, 2, 4)
	rec := newFake("wav")
	dual := newFake("playback")
	mustAdd(t, s, rec, RoleRecord)
	mustAdd(t, s, dual, RoleRecord|RoleMonitor)

	s.ProcessInput([]byte{0x01, 0x02, 0x03})
	s.SetMode(Keep, On)

	st := s.Status()
	if !st.Mode.Monitoring || st.Mode.Recording {
		t.Errorf("Unexpected mode %s", st.Mode)
	}
	if st.PrerollCapacity != 4 || st.PrerollSamples != 1 || st.PendingBytes != 1 {
		t.Errorf("Unexpected pre-roll status %+v", st)
	}
	if len(st.Outputs) != 2 {
		t.Fatalf("Expected 2 outputs, got %d", len(st.Outputs))
	}
	if st.Outputs[0].Name != "wav" || st.Outputs[0].Active {
		t.Errorf("Unexpected status for wav: %+v", st.Outputs[0])
	}
	if st.Outputs[1].Name != "playback" || !st.Outputs[1].Active {
		t.Errorf("Unexpected status for playback: %+v", st.Outputs[1])
	}
	if roles := st.Outputs[1].Roles; len(roles) != 2 || roles[0] != "record" || roles[1] != "monitor" {
		t.Errorf("Unexpected roles %v", roles)
	}
}

// waitingOutput finishes its work in the background after Stop
type waitingOutput struct {
	*fakeOutput
	done chan struct{}
}

func (w *waitingOutput) Wait(ctx context.Context) error {
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestCloseStopsOutputsAndWaits(t *testing.T) {
	s := newTestSplitter(t, 2, 8)
	rec := &waitingOutput{fakeOutput: newFake("wav"), done: make(chan struct{})}
	mon := newFake("speaker")
	mustAdd(t, s, rec, RoleRecord)
	mustAdd(t, s, mon, RoleMonitor)

	s.SetMode(On, On)

	close(rec.done)
	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if rec.IsActive() || mon.IsActive() {
		t.Error("Expected every controllable output stopped")
	}
	if mode := s.Mode(); mode.Recording || mode.Monitoring {
		t.Errorf("Expected both modes off, got %s", mode)
	}
}

func TestCloseHonorsDeadline(t *testing.T) {
	s := newTestSplitter(t, 2, 8)
	rec := &waitingOutput{fakeOutput: newFake("wav"), done: make(chan struct{})}
	mustAdd(t, s, rec, RoleRecord)
	s.SetMode(On, Keep)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := s.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline error, got %v", err)
	}
}

func TestConcurrentInputAndModeChanges(t *testing.T) {
	s := newTestSplitter(t, 2, 64)
	rec := newFake("wav")
	mustAdd(t, s, rec, RoleRecord)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			s.ProcessInput([]byte{byte(i), byte(i), byte(i)})
		}
	}()

	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			s.SetMode(FlagOf(i%2 == 0), Keep)
			_ = s.Status()
		}
	}()

	wg.Wait()

	// Every write must still be sample aligned
	rec.samples(t, 2)

	if pending := s.Status().PendingBytes; pending != (500*3)%2 {
		t.Errorf("Expected %d pending bytes, got %d", (500*3)%2, pending)
	}
}
