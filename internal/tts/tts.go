// Package tts defines the speech-synthesis collaborator contract and an
// HTTP client implementing it.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ogb4n/Jarvis/internal/logging"
)

// Speaker voices a reply. The blocking variant returns after playback has
// been handed to the audio device; the non-blocking variant returns
// immediately and makes no ordering guarantee with respect to audible
// completion. Failures are reported as false, never as a panic.
type Speaker interface {
	Speak(ctx context.Context, text string, blocking bool) bool
}

// Client performs text->audio synthesis against an external HTTP service
// and optionally saves returned audio to disk.
type Client struct {
	URL       string
	AuthToken string
	SaveDir   string
	TimeoutMs int
	HTTP      *http.Client
}

// NewClient builds a synthesis client. timeoutMs <= 0 falls back to 10s.
func NewClient(rawurl, authToken, saveDir string, timeoutMs int) *Client {
	if timeoutMs <= 0 {
		timeoutMs = 10000
	}
	return &Client{
		URL:       rawurl,
		AuthToken: authToken,
		SaveDir:   saveDir,
		TimeoutMs: timeoutMs,
		HTTP:      &http.Client{Timeout: time.Duration(timeoutMs) * time.Millisecond},
	}
}

// Speak synthesizes text. When blocking is false the request runs in a
// detached goroutine and the call reports optimistic success.
func (c *Client) Speak(ctx context.Context, text string, blocking bool) bool {
	if c == nil || c.URL == "" || strings.TrimSpace(text) == "" {
		return false
	}
	if !blocking {
		go func() { _ = c.synthesize(context.Background(), text) }()
		return true
	}
	return c.synthesize(ctx, text) == nil
}

func (c *Client) synthesize(ctx context.Context, text string) error {
	body, _ := json.Marshal(map[string]string{"text": text})

	var resp *http.Response
	var err error
	attempts := 2
	for i := 0; i < attempts; i++ {
		reqCtx, cancel := context.WithTimeout(ctx, time.Duration(c.TimeoutMs)*time.Millisecond)
		var req *http.Request
		req, err = http.NewRequestWithContext(reqCtx, "POST", c.URL, bytes.NewReader(body))
		if err != nil {
			cancel()
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		if c.AuthToken != "" {
			req.Header.Set("Authorization", "Bearer "+c.AuthToken)
		}
		resp, err = c.HTTP.Do(req)
		cancel()
		if err != nil {
			logging.Debugw("tts: POST attempt failed", "attempt", i+1, "err", err)
			if i < attempts-1 {
				time.Sleep(time.Duration(200*(1<<i)) * time.Millisecond)
				continue
			}
			return err
		}
		break
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		_, _ = io.ReadAll(resp.Body)
		logging.Warnw("tts: returned non-2xx", "status", resp.StatusCode)
		return fmt.Errorf("tts returned status %d", resp.StatusCode)
	}
	audioBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		logging.Debugw("tts: failed to read response body", "err", err)
		return err
	}
	if c.SaveDir == "" {
		return nil
	}
	ts := time.Now().UTC().Format("20060102T150405.000Z")
	fname := fmt.Sprintf("%s/%s_tts.wav", strings.TrimRight(c.SaveDir, "/"), ts)
	tmp := fname + ".tmp"
	if err := os.WriteFile(tmp, audioBytes, 0o644); err != nil {
		logging.Debugw("tts: failed to write tmp file", "err", err, "path", tmp)
		return err
	}
	if err := os.Rename(tmp, fname); err != nil {
		logging.Debugw("tts: failed to rename tmp file", "err", err, "tmp", tmp, "final", fname)
		_ = os.Remove(tmp)
		return err
	}
	logging.Infow("tts: saved audio to disk", "path", fname)
	return nil
}
