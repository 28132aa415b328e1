package config

import "slices"

// ConfigDiff describes what changed between two configs, grouped by how the
// change can be applied.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// PipelineChanged is true if any analysis, detection, failover,
	// segmentation or output setting changed. Applying it requires a new transcriber.
	PipelineChanged bool

	// LimitsChanged is true if the upload size, request timeouts or allowed
	// extensions changed. These apply to the next request.
	LimitsChanged bool

	// RestartRequired is true if the listen address, TLS or telemetry
	// settings changed. These only take effect after a restart.
	RestartRequired bool
}

// Changed reports whether any field differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.PipelineChanged || d.LimitsChanged || d.RestartRequired
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	d.PipelineChanged = old.Analysis != new.Analysis ||
		old.Detection != new.Detection ||
		!old.Failover.Equal(new.Failover) ||
		old.Segmentation != new.Segmentation ||
		old.Output != new.Output

	so, sn := old.Server, new.Server
	d.LimitsChanged = so.MaxUploadMB != sn.MaxUploadMB ||
		so.RequestTimeoutFactor != sn.RequestTimeoutFactor ||
		so.MinRequestTimeout != sn.MinRequestTimeout ||
		!slices.Equal(so.AllowedExtensions, sn.AllowedExtensions)

	d.RestartRequired = so.ListenAddr != sn.ListenAddr ||
		!tlsEqual(so.TLS, sn.TLS) ||
		old.Telemetry != new.Telemetry

	return d
}

func tlsEqual(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
