package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"edge-nvr/nvrerr"
)

// Config is the process-wide, in-memory configuration (§6 "Configuration
// (in memory)"). It is loaded once at startup the way the teacher loads
// its .env-backed Config: no external config service, no persistence
// beyond what this struct exposes.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	JWT      JWTConfig
	Storage  StorageConfig
	MaxStreams int
	Streams  []StreamConfig
}

type ServerConfig struct {
	Port string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type JWTConfig struct {
	Secret string
	Expiry string
}

// StorageConfig holds the two storage roots §3 requires (HLS and
// recordings); storage-path management proper is an external
// collaborator, this is just where the core is told to write.
type StorageConfig struct {
	HLSRoot string
	RecRoot string
}

// Transport is the RTSP transport preference of §3/§6.
type Transport string

const (
	TransportTCP Transport = "tcp"
	TransportUDP Transport = "udp"
)

// ModelKind tags the three detection model variants of §4.G / §9.
type ModelKind string

const (
	ModelNone   ModelKind = ""
	ModelLocal  ModelKind = "local"
	ModelRemote ModelKind = "remote"
	ModelOnvif  ModelKind = "onvif"
)

// StreamConfig is the immutable snapshot handed to a worker (§3).
type StreamConfig struct {
	Name string

	URL       string
	Transport Transport

	HLSSegmentSeconds int
	MP4SegmentSeconds int

	HLSRoot string
	RecRoot string

	ModelKind   ModelKind
	ModelRef    string // path, HTTP URL, or for ModelOnvif an optional http(s) endpoint ("" or "onvif" reuses URL)
	OnvifPort   int    // §9 open question: configurable, defaults to 80
	DetectionIntervalSeconds int
	PreBufferSeconds  int
	PostBufferSeconds int
	DetectionLabels   []string
	DetectionThreshold float64

	RetentionDays int
	StartupDelaySeconds int

	CodecHint string
	Quality   string
	HasAudio  bool
}

// Validate applies the defaults and ranges of §3/§6 and returns
// nvrerr.ErrConfigInvalid (wrapped with detail) when the snapshot cannot
// be used to start a worker. This is the one error class that is fatal
// at construction (§7).
func (c *StreamConfig) Validate() error {
	if c.Name == "" || len(c.Name) > 63 {
		return fmt.Errorf("%w: stream name must be 1-63 bytes, got %d", nvrerr.ErrConfigInvalid, len(c.Name))
	}
	if c.URL == "" {
		return fmt.Errorf("%w: stream %q has no url", nvrerr.ErrConfigInvalid, c.Name)
	}
	if c.Transport == "" {
		c.Transport = TransportTCP
	}
	if c.Transport != TransportTCP && c.Transport != TransportUDP {
		return fmt.Errorf("%w: stream %q has invalid transport %q", nvrerr.ErrConfigInvalid, c.Name, c.Transport)
	}
	if c.HLSSegmentSeconds == 0 {
		c.HLSSegmentSeconds = 2
	}
	if c.HLSSegmentSeconds < 1 || c.HLSSegmentSeconds > 10 {
		return fmt.Errorf("%w: stream %q segment_duration out of range [1,10]: %d", nvrerr.ErrConfigInvalid, c.Name, c.HLSSegmentSeconds)
	}
	// MP4SegmentSeconds 0 is kept as is: it disables rotation. The 900s
	// default is applied by Load when the variable is unset.
	if c.MP4SegmentSeconds < 0 || c.MP4SegmentSeconds > 3600 {
		return fmt.Errorf("%w: stream %q mp4_segment_duration out of range [0,3600]: %d", nvrerr.ErrConfigInvalid, c.Name, c.MP4SegmentSeconds)
	}
	if c.OnvifPort == 0 {
		c.OnvifPort = 80
	}
	if c.DetectionThreshold == 0 {
		c.DetectionThreshold = 0.5
	}
	return nil
}

// Load builds the process config from the environment, the way the
// teacher's config.Load reads .env-backed vars with defaults. Per-stream
// StreamConfig values are an external collaborator's concern (camera
// configuration) in production; Load seeds them from EDGE_NVR_STREAMS
// (a comma-separated list of names, each looked up as EDGE_NVR_STREAM_
// <NAME>_URL etc.) only for the single-process convenience case and
// otherwise leaves Streams empty for the caller (e.g. tests, or a future
// config service) to populate via AddStream.
func Load() *Config {
	maxStreams, err := strconv.Atoi(getEnv("MAX_STREAMS", "16"))
	if err != nil || maxStreams <= 0 {
		maxStreams = 16
	}
	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "edge_nvr"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", "operator-secret-change-in-production"),
			Expiry: getEnv("JWT_EXPIRY", "24h"),
		},
		Storage: StorageConfig{
			HLSRoot: getEnv("HLS_ROOT", "./data/hls"),
			RecRoot: getEnv("REC_ROOT", "./data/recordings"),
		},
		MaxStreams: maxStreams,
	}

	for _, name := range splitNonEmpty(os.Getenv("EDGE_NVR_STREAMS")) {
		cfg.AddStream(streamFromEnv(name, cfg.Storage))
	}
	return cfg
}

// AddStream appends sc to the process config, for callers that build
// StreamConfig values themselves instead of relying on EDGE_NVR_STREAMS
// env discovery (tests, or a future config service).
func (c *Config) AddStream(sc StreamConfig) {
	c.Streams = append(c.Streams, sc)
}

func streamFromEnv(name string, storage StorageConfig) StreamConfig {
	prefix := "EDGE_NVR_STREAM_" + strings.ToUpper(name) + "_"
	hlsSeg, _ := strconv.Atoi(getEnv(prefix+"HLS_SEGMENT_SECONDS", "2"))
	mp4Seg, _ := strconv.Atoi(getEnv(prefix+"MP4_SEGMENT_SECONDS", "900"))
	onvifPort, _ := strconv.Atoi(getEnv(prefix+"ONVIF_PORT", "80"))
	detInterval, _ := strconv.Atoi(getEnv(prefix+"DETECTION_INTERVAL_SECONDS", "5"))
	startupDelay, _ := strconv.Atoi(getEnv(prefix+"STARTUP_DELAY_SECONDS", "5"))
	retentionDays, _ := strconv.Atoi(getEnv(prefix+"RETENTION_DAYS", "0"))
	threshold, _ := strconv.ParseFloat(getEnv(prefix+"DETECTION_THRESHOLD", "0.5"), 64)
	hasAudio, _ := strconv.ParseBool(getEnv(prefix+"HAS_AUDIO", "false"))

	return StreamConfig{
		Name:                     name,
		URL:                      getEnv(prefix+"URL", ""),
		Transport:                Transport(getEnv(prefix+"TRANSPORT", string(TransportTCP))),
		HLSSegmentSeconds:        hlsSeg,
		MP4SegmentSeconds:        mp4Seg,
		HLSRoot:                  storage.HLSRoot,
		RecRoot:                  storage.RecRoot,
		ModelKind:                ModelKind(getEnv(prefix+"MODEL_KIND", "")),
		ModelRef:                 getEnv(prefix+"MODEL_REF", ""),
		OnvifPort:                onvifPort,
		DetectionIntervalSeconds: detInterval,
		DetectionLabels:          splitNonEmpty(getEnv(prefix+"DETECTION_LABELS", "")),
		DetectionThreshold:       threshold,
		RetentionDays:            retentionDays,
		StartupDelaySeconds:      startupDelay,
		HasAudio:                 hasAudio,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
