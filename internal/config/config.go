package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/ogb4n/Jarvis/internal/logging"
)

// Config carries everything the engine needs to run, loaded from the
// environment with an optional .env overlay.
type Config struct {
	Audio      AudioConfig
	Detection  DetectionConfig
	STT        STTConfig
	TTS        TTSConfig
	LLM        LLMConfig
	MQTT       MQTTConfig
	ClickHouse ClickHouseConfig
	Discord    DiscordConfig
	HTTP       HTTPConfig
}

type AudioConfig struct {
	SampleRate       int
	Channels         int
	SilenceThreshold float64
	MaxSilence       time.Duration
	MinUtterance     time.Duration
}

type DetectionConfig struct {
	WakePhrases    []string
	Sensitivity    float64
	MinConfidence  float64
	TimeoutSeconds float64
	Language       string
	SessionTimeout time.Duration
}

type STTConfig struct {
	URL       string
	BeamSize  int
	TimeoutMs int
}

type TTSConfig struct {
	URL       string
	AuthToken string
	SaveDir   string
	TimeoutMs int
}

type LLMConfig struct {
	BaseURL       string
	APIKey        string
	Model         string
	FallbackModel string
}

type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
}

type ClickHouseConfig struct {
	Addr     string
	Database string
	Username string
	Password string
}

type DiscordConfig struct {
	Token     string
	GuildID   string
	ChannelID string
}

type HTTPConfig struct {
	Addr string
}

// Load reads configuration from the environment. A .env file in the working
// directory is merged in first when present; real environment variables win.
func Load() Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logging.Warnw("config: could not load .env file", "err", err)
	}

	return Config{
		Audio: AudioConfig{
			SampleRate:       getEnvInt("AUDIO_SAMPLE_RATE", 16000),
			Channels:         getEnvInt("AUDIO_CHANNELS", 1),
			SilenceThreshold: getEnvFloat("AUDIO_SILENCE_THRESHOLD", 0.01),
			MaxSilence:       getEnvSeconds("AUDIO_MAX_SILENCE", 2.0),
			MinUtterance:     getEnvSeconds("AUDIO_MIN_UTTERANCE", 1.0),
		},
		Detection: DetectionConfig{
			WakePhrases:    getEnvList("WAKE_PHRASES", []string{"hey jarvis", "jarvis", "salut jarvis", "bonjour jarvis"}),
			Sensitivity:    getEnvFloat("WAKE_SENSITIVITY", 0.7),
			MinConfidence:  getEnvFloat("WAKE_MIN_CONFIDENCE", 0.6),
			TimeoutSeconds: getEnvFloat("COMMAND_TIMEOUT_SECONDS", 5.0),
			Language:       getEnv("DETECTION_LANGUAGE", "fr"),
			SessionTimeout: getEnvSeconds("SESSION_TIMEOUT", 300.0),
		},
		STT: STTConfig{
			URL:       getEnv("STT_URL", "http://localhost:9000/transcribe"),
			BeamSize:  getEnvInt("STT_BEAM_SIZE", 5),
			TimeoutMs: getEnvInt("STT_TIMEOUT_MS", 15000),
		},
		TTS: TTSConfig{
			URL:       getEnv("TTS_URL", "http://localhost:5002/api/tts"),
			AuthToken: getEnv("TTS_AUTH_TOKEN", ""),
			SaveDir:   getEnv("TTS_SAVE_DIR", ""),
			TimeoutMs: getEnvInt("TTS_TIMEOUT_MS", 15000),
		},
		LLM: LLMConfig{
			BaseURL:       getEnv("OPENAI_BASE_URL", "http://127.0.0.1:8000/v1"),
			APIKey:        getEnv("OPENAI_API_KEY", ""),
			Model:         getEnv("OPENAI_MODEL", "local"),
			FallbackModel: getEnv("OPENAI_FALLBACK_MODEL", ""),
		},
		MQTT: MQTTConfig{
			Broker:   getEnv("MQTT_BROKER", ""),
			ClientID: getEnv("MQTT_CLIENT_ID", "jarvis-engine"),
			Username: getEnv("MQTT_USERNAME", ""),
			Password: getEnv("MQTT_PASSWORD", ""),
		},
		ClickHouse: ClickHouseConfig{
			Addr:     getEnv("CLICKHOUSE_ADDR", ""),
			Database: getEnv("CLICKHOUSE_DATABASE", "jarvis"),
			Username: getEnv("CLICKHOUSE_USERNAME", "default"),
			Password: getEnv("CLICKHOUSE_PASSWORD", ""),
		},
		Discord: DiscordConfig{
			Token:     getEnv("DISCORD_TOKEN", ""),
			GuildID:   getEnv("DISCORD_GUILD_ID", ""),
			ChannelID: getEnv("DISCORD_CHANNEL_ID", ""),
		},
		HTTP: HTTPConfig{
			Addr: getEnv("HTTP_ADDR", ":8080"),
		},
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logging.Warnw("config: invalid integer, using default", "key", key, "value", v)
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		logging.Warnw("config: invalid float, using default", "key", key, "value", v)
		return fallback
	}
	return f
}

func getEnvSeconds(key string, fallback float64) time.Duration {
	return time.Duration(getEnvFloat(key, fallback) * float64(time.Second))
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
