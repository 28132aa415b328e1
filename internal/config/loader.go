package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/notescribe/internal/decode"
	"github.com/MrWong99/notescribe/pkg/analysis"
	"github.com/MrWong99/notescribe/pkg/assemble"
	"github.com/MrWong99/notescribe/pkg/detect"
	"github.com/MrWong99/notescribe/pkg/segment"
	"github.com/MrWong99/notescribe/pkg/transcribe"
)

// DetectorSpectral is the registry name of the built-in spectral detector.
const DetectorSpectral = "spectral"

// Default returns the configuration used when no file is given, and the base
// onto which configuration files are decoded.
func Default() *Config {
	a := analysis.DefaultConfig()
	d := detect.DefaultSpectralConfig()
	s := segment.DefaultConfig()
	o := assemble.DefaultConfig()
	return &Config{
		Server: ServerConfig{
			ListenAddr:           ":8080",
			LogLevel:             LogInfo,
			MaxUploadMB:          50,
			RequestTimeoutFactor: 4,
			MinRequestTimeout:    30 * time.Second,
			AllowedExtensions:    decode.Extensions(),
		},
		Analysis: AnalysisConfig{
			SampleRate:   16000,
			FrameSize:    a.FrameSize,
			HopSize:      a.HopSize,
			MinFrequency: a.MinFrequency,
			MaxFrequency: a.MaxFrequency,
			EnergyFloor:  a.EnergyFloor,
			Workers:      a.Workers,
		},
		Detection: DetectionConfig{
			Detector:          DetectorSpectral,
			SmoothingFrames:   d.SmoothingFrames,
			AbsoluteThreshold: d.AbsoluteThreshold,
			RelativeRatio:     d.RelativeRatio,
			TrailingFrames:    d.TrailingFrames,
			MinOnsetSpacing:   d.MinOnsetSpacing,
			SemitoneTolerance: d.SemitoneTolerance,
			MinConfidence:     d.MinConfidence,
			MaxGapFrames:      d.MaxGapFrames,
			MinTrackFrames:    d.MinTrackFrames,
		},
		Failover: FailoverConfig{
			MaxFailures:  5,
			ResetTimeout: 30 * time.Second,
			HalfOpenMax:  1,
		},
		Segmentation: SegmentationConfig{
			MatchTolerance:  s.MatchTolerance,
			VelocityScale:   s.VelocityScale,
			MinNoteDuration: s.MinNoteDuration,
		},
		Output: OutputConfig{
			DefaultTempo:     o.DefaultTempo,
			TrackName:        o.TrackName,
			Program:          o.Program,
			Channel:          o.Channel,
			QuantizeDivision: o.QuantizeDivision,
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "notescribe",
			MetricsEnabled: true,
		},
	}
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r over [Default] and validates the
// result. Unknown keys are rejected. An empty document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	srv := cfg.Server
	if srv.LogLevel != "" && !srv.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", srv.LogLevel))
	}
	if srv.MaxUploadMB <= 0 {
		errs = append(errs, fmt.Errorf("server.max_upload_mb %d must be positive", srv.MaxUploadMB))
	}
	if srv.RequestTimeoutFactor <= 0 {
		errs = append(errs, fmt.Errorf("server.request_timeout_factor %g must be positive", srv.RequestTimeoutFactor))
	}
	if srv.MinRequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.min_request_timeout %s must be positive", srv.MinRequestTimeout))
	}
	if len(srv.AllowedExtensions) == 0 {
		errs = append(errs, errors.New("server.allowed_extensions must not be empty"))
	}
	for i, ext := range srv.AllowedExtensions {
		if !decode.Supported(ext) {
			errs = append(errs, fmt.Errorf("server.allowed_extensions[%d] %q is not decodable; valid values: %s",
				i, ext, strings.Join(decode.Extensions(), ", ")))
		}
	}
	if srv.TLS != nil && (srv.TLS.CertFile == "" || srv.TLS.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	if cfg.Analysis.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("analysis.sample_rate %d must not be negative", cfg.Analysis.SampleRate))
	}

	// Detection
	if cfg.Detection.Detector == "" {
		errs = append(errs, errors.New("detection.detector is required"))
	} else if cfg.Detection.Detector != DetectorSpectral {
		slog.Warn("detector is not built in; it must be registered before startup",
			"detector", cfg.Detection.Detector,
		)
	}

	// Failover
	fo := cfg.Failover
	seen := make(map[string]bool, len(fo.Detectors))
	for i, name := range fo.Detectors {
		switch {
		case name == "":
			errs = append(errs, fmt.Errorf("failover.detectors[%d] must not be empty", i))
		case name == cfg.Detection.Detector:
			errs = append(errs, fmt.Errorf("failover.detectors[%d] %q duplicates detection.detector", i, name))
		case seen[name]:
			errs = append(errs, fmt.Errorf("failover.detectors[%d] %q is listed twice", i, name))
		}
		seen[name] = true
	}
	if fo.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("failover.max_failures %d must not be negative", fo.MaxFailures))
	}
	if fo.ResetTimeout < 0 {
		errs = append(errs, fmt.Errorf("failover.reset_timeout %s must not be negative", fo.ResetTimeout))
	}
	if fo.HalfOpenMax < 0 {
		errs = append(errs, fmt.Errorf("failover.half_open_max %d must not be negative", fo.HalfOpenMax))
	}

	// Pipeline stages report their own field errors.
	opts := cfg.TranscribeOptions()
	for _, err := range []error{
		opts.Analysis.Validate(),
		opts.Detection.Validate(),
		opts.Segmentation.Validate(),
		opts.Assembly.Validate(),
	} {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if cfg.Telemetry.ServiceName == "" {
		errs = append(errs, errors.New("telemetry.service_name is required"))
	}

	return errors.Join(errs...)
}

// TranscribeOptions maps the pipeline sections onto [transcribe.Options].
func (c *Config) TranscribeOptions() transcribe.Options {
	opts := transcribe.DefaultOptions()

	opts.Analysis.FrameSize = c.Analysis.FrameSize
	opts.Analysis.HopSize = c.Analysis.HopSize
	opts.Analysis.MinFrequency = c.Analysis.MinFrequency
	opts.Analysis.MaxFrequency = c.Analysis.MaxFrequency
	opts.Analysis.EnergyFloor = c.Analysis.EnergyFloor
	opts.Analysis.Workers = c.Analysis.Workers

	opts.Detection = c.Detection.SpectralConfig()
	if c.Analysis.SampleRate > 0 && c.Analysis.HopSize > 0 {
		opts.Detection.HopSeconds = float64(c.Analysis.HopSize) / float64(c.Analysis.SampleRate)
	}

	opts.Segmentation.MatchTolerance = c.Segmentation.MatchTolerance
	opts.Segmentation.VelocityScale = c.Segmentation.VelocityScale
	opts.Segmentation.MinNoteDuration = c.Segmentation.MinNoteDuration

	opts.Assembly.DefaultTempo = c.Output.DefaultTempo
	opts.Assembly.TrackName = c.Output.TrackName
	opts.Assembly.Program = c.Output.Program
	opts.Assembly.Channel = c.Output.Channel
	opts.Assembly.QuantizeDivision = c.Output.QuantizeDivision

	return opts
}

// SpectralConfig maps the detection section onto [detect.SpectralConfig].
func (d DetectionConfig) SpectralConfig() detect.SpectralConfig {
	sc := detect.DefaultSpectralConfig()
	sc.SmoothingFrames = d.SmoothingFrames
	sc.AbsoluteThreshold = d.AbsoluteThreshold
	sc.RelativeRatio = d.RelativeRatio
	sc.TrailingFrames = d.TrailingFrames
	sc.MinOnsetSpacing = d.MinOnsetSpacing
	sc.SemitoneTolerance = d.SemitoneTolerance
	sc.MinConfidence = d.MinConfidence
	sc.MaxGapFrames = d.MaxGapFrames
	sc.MinTrackFrames = d.MinTrackFrames
	return sc
}

// MaxUploadBytes returns the upload limit in bytes.
func (s ServerConfig) MaxUploadBytes() int64 {
	return int64(s.MaxUploadMB) << 20
}

// RequestTimeout returns the transcription deadline for audio of the given
// length: RequestTimeoutFactor × audio, but never less than MinRequestTimeout.
func (s ServerConfig) RequestTimeout(audio time.Duration) time.Duration {
	return max(s.MinRequestTimeout, time.Duration(s.RequestTimeoutFactor*float64(audio)))
}

// SlogLevel maps l onto a [slog.Level]. Unknown and empty levels map to info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
