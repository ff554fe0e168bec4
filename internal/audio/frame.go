package audio

import "time"

// Frame is a fixed-length chunk of mono PCM samples in [-1, 1], tagged with
// the rate it was captured at. A Frame is never mutated after capture; stages
// that need to retain samples must copy them.
type Frame struct {
	Samples    []float32
	SampleRate int
	Channels   int
}

// Duration returns the time span covered by the frame.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(f.SampleRate)
}

// Clone returns a deep copy of the frame.
func (f Frame) Clone() Frame {
	out := Frame{Samples: make([]float32, len(f.Samples)), SampleRate: f.SampleRate, Channels: f.Channels}
	copy(out.Samples, f.Samples)
	return out
}

// PCM16ToFloat32 converts little-endian int16 PCM bytes to float32 samples
// normalized to [-1, 1]. Odd trailing bytes are ignored.
func PCM16ToFloat32(b []byte) []float32 {
	n := len(b) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		v := int16(uint16(b[2*i]) | uint16(b[2*i+1])<<8)
		out[i] = float32(v) / 32768.0
	}
	return out
}

// Int16ToFloat32 converts int16 PCM samples to float32 in [-1, 1].
func Int16ToFloat32(pcm []int16) []float32 {
	out := make([]float32, len(pcm))
	for i, v := range pcm {
		out[i] = float32(v) / 32768.0
	}
	return out
}

// Float32ToPCM16 converts float32 samples in [-1, 1] to little-endian int16
// PCM bytes, clamping out-of-range values.
func Float32ToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		v := int16(s * 32767)
		out[2*i] = byte(uint16(v))
		out[2*i+1] = byte(uint16(v) >> 8)
	}
	return out
}
