// Package stt defines the speech-to-text collaborator contract and the
// Whisper-server client implementing it.
package stt

import "context"

// Segment is one recognized span within a transcription, as reported by the
// engine. Tokens is the number of decoder tokens the span consumed.
type Segment struct {
	Start  float64
	End    float64
	Tokens int
	Text   string
}

// Result is a completed transcription. Confidence is a duration-weighted
// heuristic derived from segment boundaries, not a native recognizer score;
// treat it as a relative signal, not a calibrated probability.
type Result struct {
	Text       string
	Language   string
	Confidence float64
	Segments   []Segment
}

// Transcriber converts PCM samples in [-1, 1] into text. Implementations
// must return an error instead of panicking; callers treat any error as "no
// transcription".
type Transcriber interface {
	Transcribe(ctx context.Context, samples []float32, sampleRate int, language string) (Result, error)
}

// SegmentConfidence estimates confidence for a single segment: longer spans
// with fewer tokens score higher, clamped to [0, 1]. Token-less segments get
// a neutral 0.5.
func SegmentConfidence(seg Segment) float64 {
	dur := seg.End - seg.Start
	if seg.Tokens <= 0 {
		return 0.5
	}
	c := dur / float64(seg.Tokens) * 2
	if c > 1 {
		c = 1
	}
	if c < 0 {
		c = 0
	}
	return c
}

// OverallConfidence aggregates per-segment confidence weighted by segment
// duration. Empty input yields 0.
func OverallConfidence(segments []Segment) float64 {
	var total, weight float64
	for _, seg := range segments {
		dur := seg.End - seg.Start
		if dur <= 0 {
			continue
		}
		total += SegmentConfidence(seg) * dur
		weight += dur
	}
	if weight == 0 {
		return 0
	}
	return total / weight
}
