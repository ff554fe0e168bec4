package audio

import (
	"time"

	"github.com/google/uuid"

	"github.com/ogb4n/Jarvis/internal/logging"
)

// Utterance is a completed span of speech bounded by silence. Samples are
// owned by the receiver of the callback; the segmenter never aliases them
// after emission.
type Utterance struct {
	Samples       []float32
	SampleRate    int
	CorrelationID string
	StartedAt     time.Time
}

// Duration returns the utterance length in time.
func (u Utterance) Duration() time.Duration {
	if u.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(u.Samples)) * time.Second / time.Duration(u.SampleRate)
}

// UtteranceFunc receives completed utterances.
type UtteranceFunc func(Utterance)

// FrameFunc receives every observed frame together with its speech
// classification. Used by consumers that need the raw stream alongside
// segmentation (the wake-word rolling buffer).
type FrameFunc func(Frame, bool)

// SegmenterConfig holds the silence/length thresholds for utterance cutting.
type SegmenterConfig struct {
	// SilenceThreshold is the RMS energy below which a frame counts as silence.
	SilenceThreshold float64
	// MaxSilence is how much trailing silence ends an utterance.
	MaxSilence time.Duration
	// MinUtterance is the minimum accumulated speech needed to emit.
	MinUtterance time.Duration
}

func (c SegmenterConfig) withDefaults() SegmenterConfig {
	if c.SilenceThreshold <= 0 {
		c.SilenceThreshold = 0.01
	}
	if c.MaxSilence <= 0 {
		c.MaxSilence = 2 * time.Second
	}
	if c.MinUtterance <= 0 {
		c.MinUtterance = time.Second
	}
	return c
}

// Segmenter converts a raw frame stream into discrete utterances. It is a
// single-writer structure: OnFrame must be called from one goroutine (the
// capture context), in strict temporal order. It never blocks.
type Segmenter struct {
	cfg         SegmenterConfig
	vad         *VAD
	onUtterance UtteranceFunc
	onFrame     FrameFunc

	buf           []float32
	sampleRate    int
	correlationID string
	startedAt     time.Time
	silence       time.Duration
}

// NewSegmenter creates a segmenter emitting utterances to onUtterance.
// onFrame is optional.
func NewSegmenter(cfg SegmenterConfig, onUtterance UtteranceFunc, onFrame FrameFunc) *Segmenter {
	cfg = cfg.withDefaults()
	return &Segmenter{
		cfg:         cfg,
		vad:         NewVAD(cfg.SilenceThreshold),
		onUtterance: onUtterance,
		onFrame:     onFrame,
	}
}

// SetSilenceThreshold replaces the VAD threshold for subsequent frames.
func (s *Segmenter) SetSilenceThreshold(threshold float64) {
	s.vad = NewVAD(threshold)
}

// OnFrame feeds one frame through the pipeline. Speech frames accumulate
// into the utterance buffer; once trailing silence reaches MaxSilence and
// the buffer holds at least MinUtterance of audio, the buffer is emitted as
// a completed utterance and cleared.
func (s *Segmenter) OnFrame(f Frame) {
	speech := s.vad.IsSpeech(f.Samples)
	if s.onFrame != nil {
		s.onFrame(f, speech)
	}

	if speech {
		if len(s.buf) == 0 {
			s.correlationID = uuid.NewString()
			s.startedAt = time.Now()
			s.sampleRate = f.SampleRate
		}
		s.buf = append(s.buf, f.Samples...)
		s.silence = 0
		return
	}

	s.silence += f.Duration()
	if len(s.buf) == 0 || s.silence < s.cfg.MaxSilence {
		return
	}
	if s.bufferedDuration() < s.cfg.MinUtterance {
		return
	}
	s.emit()
	s.silence = 0
}

// Reset discards any partially accumulated utterance. Partial buffers on
// shutdown are dropped, not finalized.
func (s *Segmenter) Reset() {
	if len(s.buf) > 0 {
		logging.Debugw("segmenter: discarding partial utterance",
			logging.UtteranceFields(s.correlationID, len(s.buf), int(s.bufferedDuration().Milliseconds()))...)
	}
	s.buf = nil
	s.silence = 0
	s.correlationID = ""
}

// Buffered returns the number of samples currently accumulated.
func (s *Segmenter) Buffered() int { return len(s.buf) }

func (s *Segmenter) bufferedDuration() time.Duration {
	if s.sampleRate <= 0 {
		return 0
	}
	return time.Duration(len(s.buf)) * time.Second / time.Duration(s.sampleRate)
}

func (s *Segmenter) emit() {
	u := Utterance{
		Samples:       s.buf,
		SampleRate:    s.sampleRate,
		CorrelationID: s.correlationID,
		StartedAt:     s.startedAt,
	}
	// Hand the buffer off by ownership transfer; start a fresh one.
	s.buf = nil
	s.correlationID = ""
	logging.Debugw("segmenter: utterance completed",
		logging.UtteranceFields(u.CorrelationID, len(u.Samples), int(u.Duration().Milliseconds()))...)
	if s.onUtterance != nil {
		s.onUtterance(u)
	}
}
