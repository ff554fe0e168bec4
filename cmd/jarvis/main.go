package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ogb4n/Jarvis/internal/audio"
	"github.com/ogb4n/Jarvis/internal/config"
	"github.com/ogb4n/Jarvis/internal/conversation"
	"github.com/ogb4n/Jarvis/internal/discord"
	"github.com/ogb4n/Jarvis/internal/gateway"
	"github.com/ogb4n/Jarvis/internal/history"
	"github.com/ogb4n/Jarvis/internal/logging"
	"github.com/ogb4n/Jarvis/internal/satellite"
	"github.com/ogb4n/Jarvis/internal/stt"
	"github.com/ogb4n/Jarvis/internal/tts"
	"github.com/ogb4n/Jarvis/internal/voice"
	"github.com/ogb4n/Jarvis/llm"
)

func main() {
	logging.Init()
	defer logging.Sync()

	cfg := config.Load()

	source, mqttSource := buildSource(cfg)

	transcriber := stt.NewWhisperClient(cfg.STT.URL, cfg.STT.TimeoutMs)
	transcriber.BeamSize = cfg.STT.BeamSize

	speaker := tts.NewClient(cfg.TTS.URL, cfg.TTS.AuthToken, cfg.TTS.SaveDir, cfg.TTS.TimeoutMs)

	detCfg := voice.Config{
		WakePhrases:    cfg.Detection.WakePhrases,
		Sensitivity:    cfg.Detection.Sensitivity,
		MinConfidence:  cfg.Detection.MinConfidence,
		TimeoutSeconds: cfg.Detection.TimeoutSeconds,
		Language:       cfg.Detection.Language,
	}
	detector := voice.New(source, transcriber, speaker, detCfg, voice.Options{
		SilenceThreshold: cfg.Audio.SilenceThreshold,
		MaxSilence:       cfg.Audio.MaxSilence,
		MinUtterance:     cfg.Audio.MinUtterance,
	})

	responder := llm.NewClient(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model)
	responder.FallbackModel = cfg.LLM.FallbackModel

	manager := conversation.NewManager(detector, responder, conversation.Options{
		SessionTimeout: cfg.Detection.SessionTimeout,
	})
	detector.AddListener(manager)

	hub := gateway.NewHub()
	detector.AddListener(hub)
	manager.AddListener(hub)

	if mqttSource != nil {
		announcer := satellite.NewAnnouncer(mqttSource, "default")
		detector.AddListener(announcer)
		manager.AddListener(announcer)
	}

	var store *history.Store
	if cfg.ClickHouse.Addr != "" {
		var err error
		store, err = history.NewStore(cfg.ClickHouse.Addr, cfg.ClickHouse.Database, cfg.ClickHouse.Username, cfg.ClickHouse.Password)
		if err != nil {
			logging.Errorw("clickhouse unavailable; history persistence disabled", "err", err)
		} else {
			manager.AddListener(history.NewRecorder(store))
			defer store.Close()
		}
	}

	server := gateway.NewServer(gateway.Options{
		Addr:        cfg.HTTP.Addr,
		Detector:    detector,
		Manager:     manager,
		Transcriber: transcriber,
		Speaker:     speaker,
		Store:       store,
		Hub:         hub,
		SampleRate:  cfg.Audio.SampleRate,
	})

	if err := detector.Start(); err != nil {
		logging.Errorw("detector start failed", "err", err)
		os.Exit(1)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logging.Infow("shutting down", "signal", sig.String())
	case err := <-errCh:
		logging.Errorw("http server failed", "err", err)
	}

	detector.Stop()
	manager.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logging.Warnw("http shutdown incomplete", "err", err)
	}
}

// buildSource picks the capture transport: Discord voice when a bot token is
// configured, otherwise MQTT satellites. The second return is non-nil only
// for the MQTT transport, which also publishes replies and events.
func buildSource(cfg config.Config) (audio.Source, *satellite.Source) {
	if cfg.Discord.Token != "" {
		logging.Infow("audio source: discord voice", "guild_id", cfg.Discord.GuildID, "channel_id", cfg.Discord.ChannelID)
		return discord.NewSource(discord.Options{
			Token:     cfg.Discord.Token,
			GuildID:   cfg.Discord.GuildID,
			ChannelID: cfg.Discord.ChannelID,
		}), nil
	}
	logging.Infow("audio source: mqtt satellites", "broker", cfg.MQTT.Broker)
	src := satellite.NewSource(satellite.Options{
		Broker:     cfg.MQTT.Broker,
		ClientID:   cfg.MQTT.ClientID,
		Username:   cfg.MQTT.Username,
		Password:   cfg.MQTT.Password,
		SampleRate: cfg.Audio.SampleRate,
	})
	return src, src
}
