package stt

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ogb4n/Jarvis/internal/audio"
	"github.com/ogb4n/Jarvis/internal/logging"
)

// WhisperClient posts WAV-wrapped PCM to a Whisper-compatible HTTP server
// and parses `{text, language, segments}` responses.
type WhisperClient struct {
	URL       string
	BeamSize  int
	TimeoutMs int
	Client    *http.Client

	attempts int
}

// NewWhisperClient builds a client for the given endpoint. timeoutMs <= 0
// falls back to 30s.
func NewWhisperClient(rawurl string, timeoutMs int) *WhisperClient {
	if timeoutMs <= 0 {
		timeoutMs = 30000
	}
	return &WhisperClient{
		URL:       rawurl,
		TimeoutMs: timeoutMs,
		Client:    &http.Client{Timeout: time.Duration(timeoutMs) * time.Millisecond},
		attempts:  3,
	}
}

// buildWAV creates a simple RIFF/WAVE header for 16-bit PCM and returns the
// concatenated bytes (header + data).
func buildWAV(pcm []byte, sampleRate, channels, bitsPerSample int) []byte {
	byteRate := uint32(sampleRate * channels * bitsPerSample / 8)
	blockAlign := uint16(channels * bitsPerSample / 8)
	dataLen := uint32(len(pcm))
	riffSize := uint32(4 + (8 + 16) + (8 + dataLen))

	buf := &bytes.Buffer{}
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, riffSize)
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1))
	binary.Write(buf, binary.LittleEndian, uint16(channels))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(buf, binary.LittleEndian, blockAlign)
	binary.Write(buf, binary.LittleEndian, uint16(bitsPerSample))
	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(dataLen))
	buf.Write(pcm)
	return buf.Bytes()
}

type whisperSegment struct {
	Start  float64       `json:"start"`
	End    float64       `json:"end"`
	Text   string        `json:"text"`
	Tokens []json.Number `json:"tokens"`
}

type whisperResponse struct {
	Text     string           `json:"text"`
	Language string           `json:"language"`
	Segments []whisperSegment `json:"segments"`
}

// Transcribe wraps the samples into a WAV and POSTs it, retrying transient
// failures with exponential backoff. Server errors (5xx) are retried; any
// final failure is returned as an error which callers treat as an empty
// transcription.
func (c *WhisperClient) Transcribe(ctx context.Context, samples []float32, sampleRate int, language string) (Result, error) {
	if c == nil || c.URL == "" {
		return Result{}, fmt.Errorf("stt: endpoint not configured")
	}

	reqURL := c.URL
	if u, err := url.Parse(c.URL); err == nil {
		q := u.Query()
		if language != "" {
			q.Set("language", language)
		}
		if c.BeamSize > 0 {
			q.Set("beam_size", fmt.Sprintf("%d", c.BeamSize))
		}
		u.RawQuery = q.Encode()
		reqURL = u.String()
	}

	wav := buildWAV(audio.Float32ToPCM16(samples), sampleRate, 1, 16)
	durationMs := 0
	if sampleRate > 0 {
		durationMs = len(samples) * 1000 / sampleRate
	}

	attempts := c.attempts
	if attempts <= 0 {
		attempts = 3
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		reqCtx, cancel := context.WithTimeout(ctx, time.Duration(c.TimeoutMs)*time.Millisecond)
		req, err := http.NewRequestWithContext(reqCtx, "POST", reqURL, bytes.NewReader(wav))
		if err != nil {
			cancel()
			return Result{}, err
		}
		req.Header.Set("Content-Type", "audio/wav")

		sendTs := time.Now()
		logging.Debugw("sending audio to whisper", "url", reqURL, "bytes", len(wav), "samples", len(samples), "duration_ms", durationMs)
		resp, err := c.Client.Do(req)
		cancel()
		if err != nil {
			lastErr = err
			logging.Warnw("HTTP send error to whisper", "err", err, "attempt", attempt)
			if attempt < attempts-1 {
				time.Sleep(time.Duration(200*(1<<attempt)) * time.Millisecond)
			}
			continue
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("stt: server error status=%d", resp.StatusCode)
			logging.Warnw("STT server error", "status", resp.StatusCode, "attempt", attempt)
			if attempt < attempts-1 {
				time.Sleep(time.Duration(200*(1<<attempt)) * time.Millisecond)
			}
			continue
		}
		if resp.StatusCode >= 300 {
			resp.Body.Close()
			return Result{}, fmt.Errorf("stt: unexpected status %d", resp.StatusCode)
		}

		var out whisperResponse
		err = json.NewDecoder(resp.Body).Decode(&out)
		resp.Body.Close()
		if err != nil {
			return Result{}, err
		}

		res := Result{Text: strings.TrimSpace(out.Text), Language: out.Language}
		for _, seg := range out.Segments {
			res.Segments = append(res.Segments, Segment{
				Start:  seg.Start,
				End:    seg.End,
				Tokens: len(seg.Tokens),
				Text:   strings.TrimSpace(seg.Text),
			})
		}
		res.Confidence = OverallConfidence(res.Segments)
		logging.Debugw("STT response received",
			"status", resp.StatusCode,
			"stt_latency_ms", int(time.Since(sendTs).Milliseconds()),
			"confidence", res.Confidence,
			"text_len", len(res.Text))
		return res, nil
	}
	return Result{}, lastErr
}
