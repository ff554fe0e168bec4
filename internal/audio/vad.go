package audio

import "math"

// RMS computes the root-mean-square energy of a sample window.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sumSq float64
	for _, s := range samples {
		sumSq += float64(s) * float64(s)
	}
	return math.Sqrt(sumSq / float64(len(samples)))
}

// VAD classifies sample windows as speech or silence using short-term RMS
// energy against a fixed threshold. It is stateless beyond the threshold.
type VAD struct {
	Threshold float64
}

// NewVAD returns a detector with the given energy threshold. A zero or
// negative threshold falls back to the default of 0.01.
func NewVAD(threshold float64) *VAD {
	if threshold <= 0 {
		threshold = 0.01
	}
	return &VAD{Threshold: threshold}
}

// IsSpeech reports whether the window's RMS energy exceeds the threshold.
func (v *VAD) IsSpeech(samples []float32) bool {
	return RMS(samples) > v.Threshold
}
