package audio

import (
	"math"
	"testing"
)

func TestRMSSilence(t *testing.T) {
	if got := RMS(make([]float32, 160)); got != 0 {
		t.Fatalf("RMS of silence = %v, want 0", got)
	}
	if got := RMS(nil); got != 0 {
		t.Fatalf("RMS of empty slice = %v, want 0", got)
	}
}

func TestRMSConstantSignal(t *testing.T) {
	samples := make([]float32, 160)
	for i := range samples {
		samples[i] = 0.5
	}
	if got := RMS(samples); math.Abs(got-0.5) > 1e-6 {
		t.Fatalf("RMS = %v, want 0.5", got)
	}
}

func TestVADClassification(t *testing.T) {
	v := NewVAD(0.01)

	quiet := make([]float32, 160)
	for i := range quiet {
		quiet[i] = 0.001
	}
	if v.IsSpeech(quiet) {
		t.Fatal("quiet frame classified as speech")
	}

	loud := make([]float32, 160)
	for i := range loud {
		loud[i] = 0.1
	}
	if !v.IsSpeech(loud) {
		t.Fatal("loud frame classified as silence")
	}
}
