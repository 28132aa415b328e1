// Package config provides the configuration schema, loader, hot-reload watcher
// and detector registry for the notescribe service.
package config

import (
	"slices"
	"time"
)

// LogLevel controls log verbosity for the notescribe server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for notescribe.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader];
// fields absent from the file keep the values of [Default].
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Analysis     AnalysisConfig     `yaml:"analysis"`
	Detection    DetectionConfig    `yaml:"detection"`
	Failover     FailoverConfig     `yaml:"failover"`
	Segmentation SegmentationConfig `yaml:"segmentation"`
	Output       OutputConfig       `yaml:"output"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
}

// ServerConfig holds network, upload and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// MaxUploadMB caps the size of an uploaded audio file in megabytes.
	MaxUploadMB int `yaml:"max_upload_mb"`

	// RequestTimeoutFactor multiplies the decoded audio duration to obtain the
	// transcription deadline.
	RequestTimeoutFactor float64 `yaml:"request_timeout_factor"`

	// MinRequestTimeout is the lower bound of the transcription deadline.
	MinRequestTimeout time.Duration `yaml:"min_request_timeout"`

	// AllowedExtensions lists the accepted upload file extensions without the
	// leading dot.
	AllowedExtensions []string `yaml:"allowed_extensions"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds the paths to a PEM-encoded certificate and key.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// AnalysisConfig configures decoding and the frame analyzer.
type AnalysisConfig struct {
	// SampleRate is the rate decoded audio is resampled to before analysis.
	// Zero keeps the file's native rate.
	SampleRate int `yaml:"sample_rate"`

	FrameSize    int     `yaml:"frame_size"`
	HopSize      int     `yaml:"hop_size"`
	MinFrequency float64 `yaml:"min_frequency"`
	MaxFrequency float64 `yaml:"max_frequency"`
	EnergyFloor  float64 `yaml:"energy_floor"`

	// Workers bounds parallel spectrum computation. Zero means GOMAXPROCS.
	Workers int `yaml:"workers"`
}

// DetectionConfig selects and tunes the pitch/onset detector.
type DetectionConfig struct {
	// Detector is the registry name of the detector implementation.
	Detector string `yaml:"detector"`

	SmoothingFrames   int     `yaml:"smoothing_frames"`
	AbsoluteThreshold float64 `yaml:"absolute_threshold"`
	RelativeRatio     float64 `yaml:"relative_ratio"`
	TrailingFrames    int     `yaml:"trailing_frames"`
	MinOnsetSpacing   float64 `yaml:"min_onset_spacing"`
	SemitoneTolerance float64 `yaml:"semitone_tolerance"`
	MinConfidence     float64 `yaml:"min_confidence"`
	MaxGapFrames      int     `yaml:"max_gap_frames"`
	MinTrackFrames    int     `yaml:"min_track_frames"`
}

// FailoverConfig lists backup detectors tried when the primary fails. Each
// detector sits behind its own circuit breaker.
type FailoverConfig struct {
	// Detectors are registry names tried in order after detection.detector.
	// Empty disables failover.
	Detectors []string `yaml:"detectors"`

	// MaxFailures is the number of consecutive failures that open a
	// detector's breaker. Zero uses the breaker default.
	MaxFailures int `yaml:"max_failures"`

	// ResetTimeout is how long an open breaker waits before probing again.
	ResetTimeout time.Duration `yaml:"reset_timeout"`

	// HalfOpenMax is the number of successful probes that close a breaker.
	HalfOpenMax int `yaml:"half_open_max"`
}

// Equal reports whether f and o hold the same settings.
func (f FailoverConfig) Equal(o FailoverConfig) bool {
	return slices.Equal(f.Detectors, o.Detectors) &&
		f.MaxFailures == o.MaxFailures &&
		f.ResetTimeout == o.ResetTimeout &&
		f.HalfOpenMax == o.HalfOpenMax
}

// SegmentationConfig tunes note segmentation.
type SegmentationConfig struct {
	MatchTolerance  float64 `yaml:"match_tolerance"`
	VelocityScale   float64 `yaml:"velocity_scale"`
	MinNoteDuration float64 `yaml:"min_note_duration"`
}

// OutputConfig controls the assembled MIDI sequence.
type OutputConfig struct {
	DefaultTempo     float64 `yaml:"default_tempo"`
	TrackName        string  `yaml:"track_name"`
	Program          uint8   `yaml:"program"`
	Channel          uint8   `yaml:"channel"`
	QuantizeDivision int     `yaml:"quantize_division"`
}

// TelemetryConfig controls metrics export.
type TelemetryConfig struct {
	// ServiceName is reported in telemetry resources.
	ServiceName string `yaml:"service_name"`

	// MetricsEnabled exposes Prometheus metrics on /metrics.
	MetricsEnabled bool `yaml:"metrics_enabled"`
}
