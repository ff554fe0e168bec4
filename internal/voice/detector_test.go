package voice

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ogb4n/Jarvis/internal/audio"
	"github.com/ogb4n/Jarvis/internal/stt"
)

const testRate = 16000

type fakeSource struct {
	mu      sync.Mutex
	deliver func(audio.Frame)
	started int
	stopped int
}

func (s *fakeSource) Start(deliver func(audio.Frame)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliver = deliver
	s.started++
	return nil
}

func (s *fakeSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliver = nil
	s.stopped++
	return nil
}

func (s *fakeSource) Feed(f audio.Frame) {
	s.mu.Lock()
	deliver := s.deliver
	s.mu.Unlock()
	if deliver != nil {
		deliver(f)
	}
}

// fakeTranscriber returns queued results in order, repeating the last one
// once the queue is exhausted.
type fakeTranscriber struct {
	mu      sync.Mutex
	results []stt.Result
	calls   int
}

func (f *fakeTranscriber) Transcribe(_ context.Context, _ []float32, _ int, _ string) (stt.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.results) == 0 {
		return stt.Result{}, errors.New("no result queued")
	}
	res := f.results[0]
	if len(f.results) > 1 {
		f.results = f.results[1:]
	}
	return res, nil
}

type fakeSpeaker struct {
	mu     sync.Mutex
	spoken []string
	ok     bool
}

func (f *fakeSpeaker) Speak(_ context.Context, text string, _ bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spoken = append(f.spoken, text)
	return f.ok
}

type recordingListener struct {
	mu       sync.Mutex
	wakes    int
	commands []string
	states   []State
}

func (l *recordingListener) OnWakeDetected() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.wakes++
}

func (l *recordingListener) OnCommandReceived(text string, _ float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.commands = append(l.commands, text)
}

func (l *recordingListener) OnStateChanged(s State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, s)
}

func (l *recordingListener) snapshot() (int, []string, []State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.wakes, append([]string(nil), l.commands...), append([]State(nil), l.states...)
}

func testOptions() Options {
	return Options{
		MaxSilence:      200 * time.Millisecond,
		MinUtterance:    50 * time.Millisecond,
		RollingWindow:   time.Second,
		MinWakeAudio:    100 * time.Millisecond,
		CommandSilence:  100 * time.Millisecond,
		WakePause:       50 * time.Millisecond,
		PostSpeechPause: time.Millisecond,
		PollInterval:    10 * time.Millisecond,
		StopTimeout:     2 * time.Second,
	}
}

func testConfig() Config {
	return Config{
		WakePhrases:    []string{"jarvis"},
		Sensitivity:    0.7,
		MinConfidence:  0.6,
		TimeoutSeconds: 5.0,
		Language:       "fr",
	}
}

func speechFrame() audio.Frame {
	samples := make([]float32, testRate/50)
	for i := range samples {
		samples[i] = 0.1
	}
	return audio.Frame{Samples: samples, SampleRate: testRate, Channels: 1}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func feedSpeech(src *fakeSource, d time.Duration) {
	n := int(d / (20 * time.Millisecond))
	for i := 0; i < n; i++ {
		src.Feed(speechFrame())
		time.Sleep(time.Millisecond)
	}
}

func TestDetectorWakeThenCommand(t *testing.T) {
	src := &fakeSource{}
	tr := &fakeTranscriber{results: []stt.Result{
		{Text: "hey jarvis", Confidence: 0.8},
		{Text: "allume la lumière", Confidence: 0.9},
	}}
	sp := &fakeSpeaker{ok: true}
	lst := &recordingListener{}

	d := New(src, tr, sp, testConfig(), testOptions())
	d.AddListener(lst)
	if err := d.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop()

	// enough speech to fill the wake window and trigger a check
	feedSpeech(src, 200*time.Millisecond)
	waitFor(t, "command mode", func() bool { return d.Status().State == "command_mode" })

	wakes, _, states := lst.snapshot()
	if wakes != 1 {
		t.Fatalf("wake events = %d, want 1", wakes)
	}
	if len(states) < 2 || states[0] != StateWakeDetected || states[1] != StateCommandMode {
		t.Fatalf("state sequence = %v, want wake_detected then command_mode", states)
	}

	// speak the command, then go quiet past the command-end silence
	feedSpeech(src, 100*time.Millisecond)
	waitFor(t, "command event", func() bool {
		_, cmds, _ := lst.snapshot()
		return len(cmds) == 1
	})
	_, cmds, _ := lst.snapshot()
	if cmds[0] != "allume la lumière" {
		t.Fatalf("command = %q, want %q", cmds[0], "allume la lumière")
	}
	waitFor(t, "return to listening", func() bool { return d.Status().State == "listening" })
}

func TestDetectorLowConfidenceIgnored(t *testing.T) {
	src := &fakeSource{}
	tr := &fakeTranscriber{results: []stt.Result{
		{Text: "hey jarvis", Confidence: 0.5},
	}}
	lst := &recordingListener{}

	d := New(src, tr, &fakeSpeaker{ok: true}, testConfig(), testOptions())
	d.AddListener(lst)
	if err := d.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop()

	feedSpeech(src, 300*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	if got := d.Status().State; got != "listening" {
		t.Fatalf("state = %q, want listening for sub-threshold confidence", got)
	}
	wakes, _, _ := lst.snapshot()
	if wakes != 0 {
		t.Fatalf("wake events = %d, want 0", wakes)
	}
}

func TestDetectorCommandTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.TimeoutSeconds = 0.3
	src := &fakeSource{}
	tr := &fakeTranscriber{}
	lst := &recordingListener{}

	d := New(src, tr, &fakeSpeaker{ok: true}, cfg, testOptions())
	d.AddListener(lst)
	if err := d.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop()

	if err := d.SimulateWake("test"); err != nil {
		t.Fatalf("SimulateWake: %v", err)
	}
	if got := d.Status().State; got != "command_mode" {
		t.Fatalf("state after simulated wake = %q, want command_mode", got)
	}

	// no command audio arrives; the timeout must abandon the attempt
	waitFor(t, "timeout back to listening", func() bool { return d.Status().State == "listening" })
	_, cmds, _ := lst.snapshot()
	if len(cmds) != 0 {
		t.Fatalf("commands = %v, want none after timeout", cmds)
	}
}

func TestDetectorSimulateWakeStopped(t *testing.T) {
	d := New(&fakeSource{}, &fakeTranscriber{}, &fakeSpeaker{}, testConfig(), testOptions())
	if err := d.SimulateWake(""); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("SimulateWake on stopped detector = %v, want ErrNotRunning", err)
	}
}

func TestDetectorStartStopCycle(t *testing.T) {
	src := &fakeSource{}
	d := New(src, &fakeTranscriber{}, &fakeSpeaker{}, testConfig(), testOptions())

	if err := d.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("second Start must be a no-op: %v", err)
	}
	if src.started != 1 {
		t.Fatalf("source started %d times, want 1", src.started)
	}

	d.Stop()
	if d.Running() {
		t.Fatal("detector still running after Stop")
	}
	if got := d.Status().State; got != "listening" {
		t.Fatalf("state after stop = %q, want listening", got)
	}
	d.Stop() // second stop is a no-op

	if err := d.Start(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	d.Stop()
}

func TestDetectorConfigUpdateValidation(t *testing.T) {
	d := New(&fakeSource{}, &fakeTranscriber{}, &fakeSpeaker{}, testConfig(), testOptions())

	bad := 1.5
	err := d.UpdateConfig(ConfigUpdate{Sensitivity: &bad})
	if err == nil {
		t.Fatal("sensitivity 1.5 must be rejected")
	}
	if !IsValidation(err) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if got := d.Config().Sensitivity; got != 0.7 {
		t.Fatalf("sensitivity = %v after rejected update, want 0.7 unchanged", got)
	}

	timeout := 45.0
	if err := d.UpdateConfig(ConfigUpdate{TimeoutSeconds: &timeout}); !IsValidation(err) {
		t.Fatalf("timeout 45 = %v, want ValidationError", err)
	}
	if err := d.UpdateConfig(ConfigUpdate{WakePhrases: []string{"", " "}}); !IsValidation(err) {
		t.Fatalf("empty phrases = %v, want ValidationError", err)
	}

	good := 0.9
	phrases := []string{"ok computer"}
	if err := d.UpdateConfig(ConfigUpdate{Sensitivity: &good, WakePhrases: phrases}); err != nil {
		t.Fatalf("valid update rejected: %v", err)
	}
	cfg := d.Config()
	if cfg.Sensitivity != 0.9 || len(cfg.WakePhrases) != 1 || cfg.WakePhrases[0] != "ok computer" {
		t.Fatalf("config after update = %+v", cfg)
	}
}

func TestDetectorSourceFailureFatal(t *testing.T) {
	src := &failingSource{}
	d := New(src, &fakeTranscriber{}, &fakeSpeaker{}, testConfig(), testOptions())
	if err := d.Start(); err == nil {
		t.Fatal("Start must fail when the source fails")
	}
	if d.Running() {
		t.Fatal("detector running after failed Start")
	}
}

type failingSource struct{}

func (failingSource) Start(func(audio.Frame)) error { return errors.New("device busy") }
func (failingSource) Stop() error                   { return nil }

func TestDetectorSpeak(t *testing.T) {
	sp := &fakeSpeaker{ok: true}
	src := &fakeSource{}
	d := New(src, &fakeTranscriber{}, sp, testConfig(), testOptions())
	if err := d.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop()

	if !d.Speak("bonjour") {
		t.Fatal("Speak returned false with a working speaker")
	}
	sp.mu.Lock()
	spoken := append([]string(nil), sp.spoken...)
	sp.mu.Unlock()
	if len(spoken) != 1 || spoken[0] != "bonjour" {
		t.Fatalf("spoken = %v", spoken)
	}
	if got := d.Status().State; got != "listening" {
		t.Fatalf("state after Speak = %q, want listening", got)
	}
}
