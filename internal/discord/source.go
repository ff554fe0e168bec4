// Package discord turns a Discord voice channel into an audio source. Opus
// packets from the voice gateway are decoded to PCM and delivered as frames.
package discord

import (
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/hraban/opus"

	"github.com/ogb4n/Jarvis/internal/audio"
	"github.com/ogb4n/Jarvis/internal/logging"
)

const (
	discordSampleRate = 48000
	frameSamples      = discordSampleRate / 50 // 20ms opus frames
)

// Options configures the Discord voice source.
type Options struct {
	Token     string
	GuildID   string
	ChannelID string
}

// Source joins a voice channel and streams decoded audio frames. It
// implements audio.Source.
type Source struct {
	opts Options

	mu      sync.Mutex
	session *discordgo.Session
	vc      *discordgo.VoiceConnection
	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
}

func NewSource(opts Options) *Source {
	return &Source{opts: opts}
}

// Start opens the gateway session, joins the configured voice channel and
// begins decoding incoming opus packets. deliver runs on the receive
// goroutine.
func (s *Source) Start(deliver func(audio.Frame)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	dg, err := discordgo.New("Bot " + s.opts.Token)
	if err != nil {
		return fmt.Errorf("discordgo session: %w", err)
	}
	dg.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates

	if err := dg.Open(); err != nil {
		return fmt.Errorf("discord gateway open: %w", err)
	}

	vc, err := dg.ChannelVoiceJoin(s.opts.GuildID, s.opts.ChannelID, false, false)
	if err != nil {
		dg.Close()
		return fmt.Errorf("voice channel join: %w", err)
	}
	if vc.OpusRecv == nil {
		vc.Disconnect()
		dg.Close()
		return fmt.Errorf("voice connection has no receive channel")
	}

	dec, err := opus.NewDecoder(discordSampleRate, 1)
	if err != nil {
		vc.Disconnect()
		dg.Close()
		return fmt.Errorf("opus decoder: %w", err)
	}

	stopCh := make(chan struct{})
	s.session = dg
	s.vc = vc
	s.stopCh = stopCh
	s.running = true

	s.wg.Add(1)
	go s.recvLoop(vc, dec, deliver, stopCh)

	logging.Infow("discord: joined voice channel", "guild_id", s.opts.GuildID, "channel_id", s.opts.ChannelID)
	return nil
}

func (s *Source) recvLoop(vc *discordgo.VoiceConnection, dec *opus.Decoder, deliver func(audio.Frame), stopCh chan struct{}) {
	defer s.wg.Done()
	pcm := make([]int16, frameSamples)
	for {
		select {
		case <-stopCh:
			return
		case pkt, ok := <-vc.OpusRecv:
			if !ok {
				return
			}
			n, err := dec.Decode(pkt.Opus, pcm)
			if err != nil {
				logging.Errorw("discord: opus decode error", "ssrc", pkt.SSRC, "err", err)
				continue
			}
			deliver(audio.Frame{
				Samples:    audio.Int16ToFloat32(pcm[:n]),
				SampleRate: discordSampleRate,
				Channels:   1,
			})
		}
	}
}

// Stop leaves the voice channel and closes the gateway session.
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	close(s.stopCh)
	if s.vc != nil {
		s.vc.Disconnect()
	}
	if s.session != nil {
		s.session.Close()
	}
	s.wg.Wait()
	s.session = nil
	s.vc = nil
	s.running = false
	return nil
}
