package audio

import (
	"testing"
	"time"
)

const testRate = 16000

// 20ms frames at 16kHz.
func speechFrame() Frame {
	samples := make([]float32, testRate/50)
	for i := range samples {
		samples[i] = 0.1
	}
	return Frame{Samples: samples, SampleRate: testRate, Channels: 1}
}

func silenceFrame() Frame {
	return Frame{Samples: make([]float32, testRate/50), SampleRate: testRate, Channels: 1}
}

func feed(s *Segmenter, f func() Frame, d time.Duration) {
	n := int(d / (20 * time.Millisecond))
	for i := 0; i < n; i++ {
		s.OnFrame(f())
	}
}

func TestSegmenterEmitsAfterSilence(t *testing.T) {
	var got []Utterance
	s := NewSegmenter(SegmenterConfig{}, func(u Utterance) { got = append(got, u) }, nil)

	feed(s, speechFrame, 1200*time.Millisecond)
	feed(s, silenceFrame, 2500*time.Millisecond)

	if len(got) != 1 {
		t.Fatalf("got %d utterances, want 1", len(got))
	}
	u := got[0]
	if u.CorrelationID == "" {
		t.Error("utterance missing correlation id")
	}
	if d := u.Duration(); d < 1100*time.Millisecond || d > 1300*time.Millisecond {
		t.Errorf("utterance duration = %v, want ~1.2s", d)
	}
	if s.Buffered() != 0 {
		t.Errorf("buffer not cleared after emit: %d samples", s.Buffered())
	}
}

func TestSegmenterShortSpeechNotEmitted(t *testing.T) {
	var got []Utterance
	s := NewSegmenter(SegmenterConfig{}, func(u Utterance) { got = append(got, u) }, nil)

	feed(s, speechFrame, 500*time.Millisecond)
	feed(s, silenceFrame, 3*time.Second)

	if len(got) != 0 {
		t.Fatalf("got %d utterances, want 0 for sub-minimum speech", len(got))
	}
}

func TestSegmenterSilenceOnlyEmitsNothing(t *testing.T) {
	var got []Utterance
	s := NewSegmenter(SegmenterConfig{}, func(u Utterance) { got = append(got, u) }, nil)

	feed(s, silenceFrame, 5*time.Second)

	if len(got) != 0 {
		t.Fatalf("got %d utterances from pure silence, want 0", len(got))
	}
}

func TestSegmenterBriefSilenceDoesNotSplit(t *testing.T) {
	var got []Utterance
	s := NewSegmenter(SegmenterConfig{}, func(u Utterance) { got = append(got, u) }, nil)

	feed(s, speechFrame, 800*time.Millisecond)
	feed(s, silenceFrame, 500*time.Millisecond)
	feed(s, speechFrame, 800*time.Millisecond)
	feed(s, silenceFrame, 2500*time.Millisecond)

	if len(got) != 1 {
		t.Fatalf("got %d utterances, want 1 spanning the brief pause", len(got))
	}
}

func TestSegmenterResetDiscardsPartial(t *testing.T) {
	var got []Utterance
	s := NewSegmenter(SegmenterConfig{}, func(u Utterance) { got = append(got, u) }, nil)

	feed(s, speechFrame, 1500*time.Millisecond)
	s.Reset()
	feed(s, silenceFrame, 3*time.Second)

	if len(got) != 0 {
		t.Fatalf("got %d utterances after reset, want 0", len(got))
	}
	if s.Buffered() != 0 {
		t.Errorf("buffer not cleared by reset: %d samples", s.Buffered())
	}
}

func TestSegmenterFrameCallback(t *testing.T) {
	var speech, silence int
	s := NewSegmenter(SegmenterConfig{}, nil, func(_ Frame, isSpeech bool) {
		if isSpeech {
			speech++
		} else {
			silence++
		}
	})

	feed(s, speechFrame, 100*time.Millisecond)
	feed(s, silenceFrame, 100*time.Millisecond)

	if speech != 5 || silence != 5 {
		t.Fatalf("frame callback saw %d speech / %d silence frames, want 5/5", speech, silence)
	}
}

func TestSegmenterCorrelationIDsDiffer(t *testing.T) {
	var got []Utterance
	s := NewSegmenter(SegmenterConfig{}, func(u Utterance) { got = append(got, u) }, nil)

	feed(s, speechFrame, 1200*time.Millisecond)
	feed(s, silenceFrame, 2500*time.Millisecond)
	feed(s, speechFrame, 1200*time.Millisecond)
	feed(s, silenceFrame, 2500*time.Millisecond)

	if len(got) != 2 {
		t.Fatalf("got %d utterances, want 2", len(got))
	}
	if got[0].CorrelationID == got[1].CorrelationID {
		t.Error("consecutive utterances share a correlation id")
	}
}
