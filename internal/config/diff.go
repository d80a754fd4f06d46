package config

import "reflect"

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// DetectorsChanged is true when any detector tuning differs. New values
	// apply to sessions started afterwards.
	DetectorsChanged bool

	// RestartRequired names changed settings that only take effect after a
	// restart.
	RestartRequired []string
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if !reflect.DeepEqual(old.Detectors, new.Detectors) {
		d.DetectorsChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if old.Server.ShutdownTimeout != new.Server.ShutdownTimeout {
		d.RestartRequired = append(d.RestartRequired, "server.shutdown_timeout")
	}
	if old.Storage.PostgresDSN != new.Storage.PostgresDSN {
		d.RestartRequired = append(d.RestartRequired, "storage.postgres_dsn")
	}
	if old.Storage.WriteTimeout != new.Storage.WriteTimeout || old.Sink != new.Sink {
		d.RestartRequired = append(d.RestartRequired, "sink")
	}
	return d
}

// Empty reports whether the diff contains no changes.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.DetectorsChanged && len(d.RestartRequired) == 0
}
