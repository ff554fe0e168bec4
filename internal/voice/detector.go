package voice

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ogb4n/Jarvis/internal/audio"
	"github.com/ogb4n/Jarvis/internal/logging"
	"github.com/ogb4n/Jarvis/internal/stt"
	"github.com/ogb4n/Jarvis/internal/tts"
)

// Listener receives detector events. Callbacks run on the processing loop;
// they may block it (command handling is single-flight by design) but must
// not call back into Stop.
type Listener interface {
	OnWakeDetected()
	OnCommandReceived(text string, confidence float64)
	OnStateChanged(s State)
}

// Options tunes the detector's timing and buffering. Zero values fall back
// to the defaults noted per field.
type Options struct {
	SilenceThreshold  float64       // VAD RMS threshold, default 0.01
	MaxSilence        time.Duration // utterance end-of-speech silence, default 2s
	MinUtterance      time.Duration // minimum utterance length, default 1s
	RollingWindow     time.Duration // wake-check window, default 3s
	MinWakeAudio      time.Duration // audio needed before a wake check, default 1s
	WakeCheckInterval time.Duration // min interval between wake-check STT calls, default 0 (every speech frame)
	CommandSilence    time.Duration // end-of-command silence, default 1.5s
	WakePause         time.Duration // pause between wake match and command capture, default 500ms
	PostSpeechPause   time.Duration // pause after playback before listening resumes, default 500ms
	PollInterval      time.Duration // processing loop poll timeout, default 100ms
	QueueSize         int           // capture->processing queue bound, default 64
	StopTimeout       time.Duration // bounded join on Stop, default 2s
}

func (o Options) withDefaults() Options {
	if o.SilenceThreshold <= 0 {
		o.SilenceThreshold = 0.01
	}
	if o.MaxSilence <= 0 {
		o.MaxSilence = 2 * time.Second
	}
	if o.MinUtterance <= 0 {
		o.MinUtterance = time.Second
	}
	if o.RollingWindow <= 0 {
		o.RollingWindow = 3 * time.Second
	}
	if o.MinWakeAudio <= 0 {
		o.MinWakeAudio = time.Second
	}
	if o.CommandSilence <= 0 {
		o.CommandSilence = 1500 * time.Millisecond
	}
	if o.WakePause <= 0 {
		o.WakePause = 500 * time.Millisecond
	}
	if o.PostSpeechPause <= 0 {
		o.PostSpeechPause = 500 * time.Millisecond
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 100 * time.Millisecond
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 64
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = 2 * time.Second
	}
	return o
}

// Status is a point-in-time snapshot of the detector for status queries.
type Status struct {
	State                string   `json:"state"`
	IsRunning            bool     `json:"is_running"`
	WakePhrases          []string `json:"wake_phrases"`
	Sensitivity          float64  `json:"sensitivity"`
	Language             string   `json:"language"`
	BufferSize           int      `json:"buffer_size"`
	SecondsSinceActivity float64  `json:"seconds_since_activity"`
}

// snapshot pairs a config with its compiled wake matcher so the loop reads
// both with one atomic load.
type snapshot struct {
	cfg     Config
	matcher *Matcher
}

// Detector is the wake-word state machine. Frames cross from the capture
// context into the processing loop only through a bounded queue; all state
// transitions happen on the loop.
type Detector struct {
	source      audio.Source
	transcriber stt.Transcriber
	speaker     tts.Speaker
	opts        Options

	conf atomic.Value // snapshot

	mu           sync.Mutex
	running      bool
	frames       chan audio.Frame
	ctrl         chan func()
	cancel       context.CancelFunc
	done         chan struct{}
	state        State
	lastActivity time.Time
	bufferSize   int
	listeners    []Listener

	dropCount int64

	// Processing-loop-owned; never touched from other goroutines while
	// running.
	seg           *audio.Segmenter
	rolling       []float32
	rollingRate   int
	cmdBuf        []float32
	cmdRate       int
	wakeUntil     time.Time
	lastWakeCheck time.Time

	now func() time.Time
}

// New builds a detector. The source delivers capture frames, the
// transcriber and speaker are the STT/TTS collaborators.
func New(source audio.Source, transcriber stt.Transcriber, speaker tts.Speaker, cfg Config, opts Options) *Detector {
	d := &Detector{
		source:      source,
		transcriber: transcriber,
		speaker:     speaker,
		opts:        opts.withDefaults(),
		state:       StateListening,
		now:         time.Now,
	}
	d.conf.Store(snapshot{cfg: cfg, matcher: NewMatcher(cfg.WakePhrases)})
	return d
}

// AddListener registers an event listener. Register before Start.
func (d *Detector) AddListener(l Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, l)
}

// Config returns the current configuration snapshot.
func (d *Detector) Config() Config {
	return d.conf.Load().(snapshot).cfg
}

// UpdateConfig validates and applies a partial update atomically. It takes
// effect on the loop's next decision cycle.
func (d *Detector) UpdateConfig(u ConfigUpdate) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	cur := d.conf.Load().(snapshot)
	next, err := cur.cfg.apply(u)
	if err != nil {
		return err
	}
	d.conf.Store(snapshot{cfg: next, matcher: NewMatcher(next.WakePhrases)})
	logging.Infow("detector: config updated",
		"wake_phrases", next.WakePhrases,
		"sensitivity", next.Sensitivity,
		"min_confidence", next.MinConfidence,
		"timeout_seconds", next.TimeoutSeconds,
		"language", next.Language)
	return nil
}

// Running reports whether the processing loop is active.
func (d *Detector) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Drops returns the number of frames discarded because the capture queue
// was full.
func (d *Detector) Drops() int64 { return atomic.LoadInt64(&d.dropCount) }

// Status returns an observable snapshot for status queries.
func (d *Detector) Status() Status {
	cfg := d.Config()
	d.mu.Lock()
	defer d.mu.Unlock()
	since := 0.0
	if !d.lastActivity.IsZero() {
		since = d.now().Sub(d.lastActivity).Seconds()
	}
	return Status{
		State:                d.state.String(),
		IsRunning:            d.running,
		WakePhrases:          append([]string(nil), cfg.WakePhrases...),
		Sensitivity:          cfg.Sensitivity,
		Language:             cfg.Language,
		BufferSize:           d.bufferSize,
		SecondsSinceActivity: since,
	}
}

// Start begins capture and the processing loop. It is idempotent: starting
// a running detector is a no-op. A source failure is fatal to Start and
// leaves the detector stopped.
func (d *Detector) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		logging.Warnw("detector: already running")
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.frames = make(chan audio.Frame, d.opts.QueueSize)
	d.ctrl = make(chan func(), 8)
	d.done = make(chan struct{})
	d.state = StateListening
	d.lastActivity = d.now()
	d.bufferSize = 0
	frames := d.frames
	d.seg = audio.NewSegmenter(audio.SegmenterConfig{
		SilenceThreshold: d.opts.SilenceThreshold,
		MaxSilence:       d.opts.MaxSilence,
		MinUtterance:     d.opts.MinUtterance,
	}, d.handleUtterance, d.handleFrame)
	d.rolling = nil
	d.cmdBuf = nil
	d.running = true
	d.mu.Unlock()

	if d.source != nil {
		if err := d.source.Start(func(f audio.Frame) { d.enqueue(frames, f) }); err != nil {
			d.mu.Lock()
			d.running = false
			d.cancel = nil
			d.mu.Unlock()
			cancel()
			return err
		}
	}

	go d.run(ctx)
	logging.Infow("detector: started", "queue_size", d.opts.QueueSize)
	return nil
}

// Stop halts capture, terminates the processing loop within the bounded
// join timeout, clears all buffers and leaves the detector in LISTENING so
// a later Start is well-defined. An in-flight transcription is not
// interrupted; its result is discarded with the loop.
func (d *Detector) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	cancel := d.cancel
	done := d.done
	d.cancel = nil
	d.mu.Unlock()

	if d.source != nil {
		if err := d.source.Stop(); err != nil {
			logging.Warnw("detector: source stop failed", "err", err)
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(d.opts.StopTimeout):
		logging.Warnw("detector: processing loop did not exit before join timeout")
	}

	d.mu.Lock()
	// Drain anything the capture side managed to enqueue before it stopped.
	for {
		select {
		case <-d.frames:
			continue
		default:
		}
		break
	}
	d.state = StateListening
	d.bufferSize = 0
	d.rolling = nil
	d.cmdBuf = nil
	if d.seg != nil {
		d.seg.Reset()
	}
	d.mu.Unlock()
	logging.Infow("detector: stopped", "dropped_frames", d.Drops())
}

// SimulateWake forces the wake transition without audio input: the detector
// moves through WAKE_DETECTED into COMMAND_MODE on the processing loop.
func (d *Detector) SimulateWake(transcript string) error {
	d.mu.Lock()
	running := d.running
	ctrl := d.ctrl
	d.mu.Unlock()
	if !running {
		return ErrNotRunning
	}
	applied := make(chan struct{})
	select {
	case ctrl <- func() {
		logging.Infow("detector: wake simulated", "transcript", transcript)
		d.handleWakeDetected()
		d.enterCommandMode()
		close(applied)
	}:
	case <-time.After(time.Second):
		return ErrNotRunning
	}
	select {
	case <-applied:
	case <-time.After(time.Second):
	}
	return nil
}

// Speak voices a response through the TTS collaborator while holding the
// detector in SPEAKING, then returns to LISTENING after a brief pause
// regardless of synthesis success.
func (d *Detector) Speak(text string) bool {
	if d.speaker == nil {
		return false
	}
	d.setState(StateSpeaking)
	ok := d.speaker.Speak(context.Background(), text, true)
	if !ok {
		logging.Warnw("detector: failed to speak response")
	}
	time.Sleep(d.opts.PostSpeechPause)

	d.mu.Lock()
	running := d.running
	ctrl := d.ctrl
	d.mu.Unlock()
	if running {
		// Buffer ownership stays with the processing loop; hand the reset off
		// and flip the state here so callers observe LISTENING immediately.
		select {
		case ctrl <- d.resetToListening:
		default:
		}
		d.setState(StateListening)
	} else {
		d.resetToListening()
	}
	return ok
}

// enqueue crosses the capture->processing boundary. It never blocks the
// capture context: when the queue is full the frame is dropped and counted.
func (d *Detector) enqueue(frames chan audio.Frame, f audio.Frame) {
	select {
	case frames <- f:
	default:
		if n := atomic.AddInt64(&d.dropCount, 1); n%100 == 1 {
			logging.Warnw("detector: dropping frame; queue full", "dropped_total", n)
		}
	}
}

func (d *Detector) run(ctx context.Context) {
	defer close(d.done)
	ticker := time.NewTicker(d.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-d.ctrl:
			fn()
		case f := <-d.frames:
			d.seg.OnFrame(f)
		case <-ticker.C:
			d.checkTimeouts()
		}
	}
}

func (d *Detector) config() (Config, *Matcher) {
	s := d.conf.Load().(snapshot)
	return s.cfg, s.matcher
}

func (d *Detector) currentState() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Detector) setState(s State) {
	d.mu.Lock()
	if d.state == s {
		d.mu.Unlock()
		return
	}
	d.state = s
	listeners := d.listeners
	d.mu.Unlock()
	logging.Debugw("detector: state changed", "state", s.String())
	for _, l := range listeners {
		l.OnStateChanged(s)
	}
}

func (d *Detector) setLastActivity(t time.Time) {
	d.mu.Lock()
	d.lastActivity = t
	d.mu.Unlock()
}

func (d *Detector) lastActivityTime() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastActivity
}

func (d *Detector) setBufferSize(n int) {
	d.mu.Lock()
	d.bufferSize = n
	d.mu.Unlock()
}

// handleFrame is the segmenter's frame-observed callback; it drives the
// state machine. Runs on the processing loop.
func (d *Detector) handleFrame(f audio.Frame, speech bool) {
	now := d.now()
	switch d.currentState() {
	case StateListening:
		d.appendRolling(f)
		if speech {
			d.setLastActivity(now)
			d.checkWake()
		}
	case StateWakeDetected:
		// Frames during the pause are discarded so command audio never
		// contains the tail of the wake phrase.
		if !now.Before(d.wakeUntil) {
			d.enterCommandMode()
		}
	case StateCommandMode:
		if speech {
			d.cmdBuf = append(d.cmdBuf, f.Samples...)
			d.cmdRate = f.SampleRate
			d.setLastActivity(now)
			d.setBufferSize(len(d.cmdBuf))
		} else if len(d.cmdBuf) > 0 && now.Sub(d.lastActivityTime()) > d.opts.CommandSilence {
			d.processCommand()
		}
	case StateProcessing, StateSpeaking:
		// Ignore frames while a command or a reply is in flight.
	}
}

// handleUtterance receives completed utterances from the segmentation
// pipeline. Outside LISTENING they are dropped: command capture has its own
// buffer discipline.
func (d *Detector) handleUtterance(u audio.Utterance) {
	if d.currentState() != StateListening {
		return
	}
	logging.Debugw("detector: utterance observed while listening",
		logging.UtteranceFields(u.CorrelationID, len(u.Samples), int(u.Duration().Milliseconds()))...)
}

func (d *Detector) appendRolling(f audio.Frame) {
	d.rolling = append(d.rolling, f.Samples...)
	d.rollingRate = f.SampleRate
	if f.SampleRate > 0 {
		max := int(d.opts.RollingWindow.Seconds() * float64(f.SampleRate))
		if len(d.rolling) > max {
			d.rolling = append(d.rolling[:0:0], d.rolling[len(d.rolling)-max:]...)
		}
	}
	d.setBufferSize(len(d.rolling))
}

// checkWake transcribes the rolling window and looks for a configured wake
// phrase. Transcription failures are never fatal; they count as no match.
func (d *Detector) checkWake() {
	cfg, matcher := d.config()
	now := d.now()
	if d.rollingRate <= 0 {
		return
	}
	if time.Duration(len(d.rolling))*time.Second/time.Duration(d.rollingRate) < d.opts.MinWakeAudio {
		return
	}
	if d.opts.WakeCheckInterval > 0 && now.Sub(d.lastWakeCheck) < d.opts.WakeCheckInterval {
		return
	}
	d.lastWakeCheck = now

	window := append([]float32(nil), d.rolling...)
	res, err := d.transcriber.Transcribe(context.Background(), window, d.rollingRate, cfg.Language)
	if err != nil {
		logging.Debugw("detector: wake check transcription failed", "err", err)
		return
	}
	if res.Text == "" || res.Confidence < cfg.MinConfidence {
		return
	}
	phrase, ok := matcher.Match(res.Text)
	if !ok {
		return
	}
	logging.Infow("detector: wake phrase detected",
		"phrase", phrase, "transcript", res.Text, "confidence", res.Confidence)
	d.handleWakeDetected()
}

// handleWakeDetected clears the rolling window (command audio must not
// include the wake phrase itself), notifies listeners and schedules the
// pause before command capture.
func (d *Detector) handleWakeDetected() {
	d.rolling = nil
	d.seg.Reset()
	d.setBufferSize(0)
	d.setLastActivity(d.now())
	d.wakeUntil = d.now().Add(d.opts.WakePause)
	d.setState(StateWakeDetected)

	d.mu.Lock()
	listeners := d.listeners
	d.mu.Unlock()
	for _, l := range listeners {
		l.OnWakeDetected()
	}
}

func (d *Detector) enterCommandMode() {
	d.cmdBuf = nil
	d.setBufferSize(0)
	d.setLastActivity(d.now())
	d.setState(StateCommandMode)
	logging.Infow("detector: entering command mode")
}

// processCommand transcribes the captured command buffer and emits a
// command event when the transcript is non-empty and confident enough;
// anything else is dropped silently. Always falls back to LISTENING.
func (d *Detector) processCommand() {
	cfg, _ := d.config()
	d.setState(StateProcessing)

	samples := d.cmdBuf
	rate := d.cmdRate
	d.cmdBuf = nil
	d.setBufferSize(0)

	if len(samples) == 0 || rate <= 0 {
		d.resetToListening()
		return
	}
	res, err := d.transcriber.Transcribe(context.Background(), samples, rate, cfg.Language)
	if err != nil {
		logging.Warnw("detector: command transcription failed", "err", err)
		d.resetToListening()
		return
	}
	if res.Text == "" || res.Confidence < cfg.MinConfidence {
		logging.Infow("detector: no valid command detected", "confidence", res.Confidence)
		d.resetToListening()
		return
	}
	logging.Infow("detector: command received", "text", res.Text, "confidence", res.Confidence)

	d.mu.Lock()
	listeners := d.listeners
	d.mu.Unlock()
	for _, l := range listeners {
		l.OnCommandReceived(res.Text, res.Confidence)
	}
	d.resetToListening()
}

func (d *Detector) resetToListening() {
	d.rolling = nil
	d.cmdBuf = nil
	if d.seg != nil {
		d.seg.Reset()
	}
	d.setBufferSize(0)
	d.setLastActivity(d.now())
	if d.currentState() != StateListening {
		d.setState(StateListening)
	}
}

// checkTimeouts services the periodic checks that must run even when no
// frame arrives: the wake pause and the command timeouts.
func (d *Detector) checkTimeouts() {
	now := d.now()
	switch d.currentState() {
	case StateWakeDetected:
		if !now.Before(d.wakeUntil) {
			d.enterCommandMode()
		}
	case StateCommandMode:
		cfg, _ := d.config()
		silence := now.Sub(d.lastActivityTime())
		if len(d.cmdBuf) > 0 && silence > d.opts.CommandSilence {
			d.processCommand()
			return
		}
		if silence > time.Duration(cfg.TimeoutSeconds*float64(time.Second)) {
			logging.Infow("detector: command timeout, returning to listening")
			d.resetToListening()
		}
	}
}
