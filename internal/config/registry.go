package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/notescribe/internal/resilience"
	"github.com/MrWong99/notescribe/pkg/detect"
	"github.com/MrWong99/notescribe/pkg/transcribe"
)

// ErrDetectorNotRegistered is returned by [Registry.CreateDetector] when no
// factory has been registered under the requested name.
var ErrDetectorNotRegistered = errors.New("config: detector not registered")

// DetectorFactory builds a detector from the detection section.
type DetectorFactory func(DetectionConfig) (detect.Detector, error)

// Registry maps detector names to their constructor functions. It is safe for
// concurrent use.
type Registry struct {
	mu        sync.RWMutex
	detectors map[string]DetectorFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{detectors: make(map[string]DetectorFactory)}
}

// DefaultRegistry returns a registry holding the built-in spectral detector
// under [DetectorSpectral].
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.RegisterDetector(DetectorSpectral, func(d DetectionConfig) (detect.Detector, error) {
		return detect.NewSpectral(d.SpectralConfig())
	})
	return r
}

// RegisterDetector registers a detector factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterDetector(name string, factory DetectorFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detectors[name] = factory
}

// CreateDetector builds the detector named by cfg.Detector.
func (r *Registry) CreateDetector(cfg DetectionConfig) (detect.Detector, error) {
	r.mu.RLock()
	factory, ok := r.detectors[cfg.Detector]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrDetectorNotRegistered, cfg.Detector)
	}
	return factory(cfg)
}

// Detectors returns the registered detector names in sorted order.
func (r *Registry) Detectors() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.detectors))
	for name := range r.detectors {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// NewDetector builds the primary detector and, when failover detectors are
// configured, wraps all of them in a [resilience.DetectorFallback]. Every
// detector created so far is closed again on error.
func (c *Config) NewDetector(reg *Registry) (detect.Detector, error) {
	primary, err := reg.CreateDetector(c.Detection)
	if err != nil {
		return nil, err
	}
	if len(c.Failover.Detectors) == 0 {
		return primary, nil
	}

	fb := resilience.NewDetectorFallback(c.Detection.Detector, primary, resilience.CircuitBreakerConfig{
		MaxFailures:  c.Failover.MaxFailures,
		ResetTimeout: c.Failover.ResetTimeout,
		HalfOpenMax:  c.Failover.HalfOpenMax,
	})
	for _, name := range c.Failover.Detectors {
		dc := c.Detection
		dc.Detector = name
		d, err := reg.CreateDetector(dc)
		if err != nil {
			_ = fb.Close()
			return nil, fmt.Errorf("failover detector %q: %w", name, err)
		}
		fb.AddFallback(name, d)
	}
	return fb, nil
}

// NewTranscriber builds a [transcribe.Transcriber] from cfg, creating its
// detectors through reg. The detectors are closed again if the transcriber
// cannot be built.
func (c *Config) NewTranscriber(reg *Registry, opts ...transcribe.Option) (*transcribe.Transcriber, error) {
	d, err := c.NewDetector(reg)
	if err != nil {
		return nil, err
	}
	t, err := transcribe.New(c.TranscribeOptions(), append(slices.Clip(opts), transcribe.WithDetector(d))...)
	if err != nil {
		_ = d.Close()
		return nil, err
	}
	return t, nil
}
