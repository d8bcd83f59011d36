// Package config loads orbitrack settings from defaults, an optional config
// file and ORBITRACK_* environment variables, in increasing precedence.
//
// Environment keys are the dotted config keys upper-cased with dots replaced
// by underscores: ephemeris.archiveDir becomes ORBITRACK_EPHEMERIS_ARCHIVEDIR.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "ORBITRACK"

// HTTPConfig holds API server settings.
type HTTPConfig struct {
	Addr      string `json:"addr" mapstructure:"addr"`
	AuthToken string `json:"authToken" mapstructure:"authToken"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `json:"level" mapstructure:"level"`
}

// EphemerisConfig holds element source settings.
type EphemerisConfig struct {
	URL             string        `json:"url" mapstructure:"url"`
	Timeout         time.Duration `json:"timeout" mapstructure:"timeout"`
	ArchiveDir      string        `json:"archiveDir" mapstructure:"archiveDir"`
	ArchiveMaxFiles int           `json:"archiveMaxFiles" mapstructure:"archiveMaxFiles"`
	Offline         bool          `json:"offline" mapstructure:"offline"`
}

// RenderConfig holds the render-space constants fixed at startup.
type RenderConfig struct {
	EarthRadius    float64 `json:"earthRadius" mapstructure:"earthRadius"`
	AltitudeOffset float64 `json:"altitudeOffset" mapstructure:"altitudeOffset"`
	AxisLength     float64 `json:"axisLength" mapstructure:"axisLength"`
}

// OrbitConfig holds artifact sampling settings.
type OrbitConfig struct {
	Samples int           `json:"samples" mapstructure:"samples"`
	Step    time.Duration `json:"step" mapstructure:"step"`
}

// TrackerConfig holds reconciliation settings.
type TrackerConfig struct {
	SweepDelay       time.Duration `json:"sweepDelay" mapstructure:"sweepDelay"`
	FetchConcurrency int           `json:"fetchConcurrency" mapstructure:"fetchConcurrency"`
	StateWorkers     int           `json:"stateWorkers" mapstructure:"stateWorkers"`
	RetainOnFailure  bool          `json:"retainOnFailure" mapstructure:"retainOnFailure"`
	// RefreshInterval re-reconciles the tracked set periodically; 0 disables it.
	RefreshInterval  time.Duration `json:"refreshInterval" mapstructure:"refreshInterval"`
	// CatalogIDs is reconciled once at startup.
	CatalogIDs       []int         `json:"catalogIds" mapstructure:"catalogIds"`

	// KeepHiddenOnUpdate stops an update with changed elements from
	// re-showing a hidden body.
	KeepHiddenOnUpdate bool `json:"keepHiddenOnUpdate" mapstructure:"keepHiddenOnUpdate"`
}

// StreamConfig holds change-stream settings.
type StreamConfig struct {
	MaxConcurrentPerIP int           `json:"maxConcurrentPerIP" mapstructure:"maxConcurrentPerIP"`
	KeepaliveInterval  time.Duration `json:"keepaliveInterval" mapstructure:"keepaliveInterval"`
	TrustProxy         bool          `json:"trustProxy" mapstructure:"trustProxy"`

	// Buffer is the per-client event queue; a client that falls further
	// behind misses events.
	Buffer int `json:"buffer" mapstructure:"buffer"`
}

// FramesConfig drives the built-in EarthFixed spin.
type FramesConfig struct {
	SpinPeriod time.Duration `json:"spinPeriod" mapstructure:"spinPeriod"`
	Tick       time.Duration `json:"tick" mapstructure:"tick"`
}

// Config is the full orbitrack configuration.
type Config struct {
	HTTP      HTTPConfig      `json:"http" mapstructure:"http"`
	Log       LogConfig       `json:"log" mapstructure:"log"`
	Ephemeris EphemerisConfig `json:"ephemeris" mapstructure:"ephemeris"`
	Render    RenderConfig    `json:"render" mapstructure:"render"`
	Orbit     OrbitConfig     `json:"orbit" mapstructure:"orbit"`
	Tracker   TrackerConfig   `json:"tracker" mapstructure:"tracker"`
	Stream    StreamConfig    `json:"stream" mapstructure:"stream"`
	Frames    FramesConfig    `json:"frames" mapstructure:"frames"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.authToken", "")

	v.SetDefault("log.level", "info")

	v.SetDefault("ephemeris.url", "https://celestrak.org/NORAD/elements/gp.php?CATNR=%d&FORMAT=tle")
	v.SetDefault("ephemeris.timeout", "10s")
	v.SetDefault("ephemeris.archiveDir", "/tmp/orbitrack/tle")
	v.SetDefault("ephemeris.archiveMaxFiles", 5)
	v.SetDefault("ephemeris.offline", false)

	v.SetDefault("render.earthRadius", 1.0)
	v.SetDefault("render.altitudeOffset", 0.0)
	v.SetDefault("render.axisLength", 1.5)

	v.SetDefault("orbit.samples", 100)
	v.SetDefault("orbit.step", "60s")

	v.SetDefault("tracker.sweepDelay", "0s")
	v.SetDefault("tracker.fetchConcurrency", 8)
	v.SetDefault("tracker.stateWorkers", 0)
	v.SetDefault("tracker.retainOnFailure", false)
	v.SetDefault("tracker.keepHiddenOnUpdate", false)
	v.SetDefault("tracker.refreshInterval", "0s")
	v.SetDefault("tracker.catalogIds", []int{})

	v.SetDefault("stream.maxConcurrentPerIP", 10)
	v.SetDefault("stream.keepaliveInterval", "30s")
	v.SetDefault("stream.trustProxy", false)
	v.SetDefault("stream.buffer", 16)

	v.SetDefault("frames.spinPeriod", "24h")
	v.SetDefault("frames.tick", "1s")
}

// Load reads configuration. path names an optional config file (JSON, YAML
// or TOML by extension); an empty path uses defaults and the environment only.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("error decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values no component can run with.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.HTTP.Addr != "", "http.addr must not be empty")
	_, err := ParseLevel(c.Log.Level)
	check(err == nil, "log.level: %v", err)

	check(c.Ephemeris.Offline || strings.Contains(c.Ephemeris.URL, "%d"),
		"ephemeris.url must contain a %%d verb for the catalog id")
	check(c.Ephemeris.Timeout > 0, "ephemeris.timeout must be > 0")
	check(!c.Ephemeris.Offline || c.Ephemeris.ArchiveDir != "", "ephemeris.archiveDir is required when ephemeris.offline is set")
	check(c.Ephemeris.ArchiveMaxFiles >= 0, "ephemeris.archiveMaxFiles must be >= 0")

	check(c.Render.EarthRadius > 0, "render.earthRadius must be > 0")
	check(c.Render.AltitudeOffset >= 0, "render.altitudeOffset must be >= 0")
	check(c.Render.AxisLength > 0, "render.axisLength must be > 0")

	check(c.Orbit.Samples > 0, "orbit.samples must be > 0")
	check(c.Orbit.Step > 0, "orbit.step must be > 0")

	check(c.Tracker.SweepDelay >= 0, "tracker.sweepDelay must be >= 0")
	check(c.Tracker.FetchConcurrency > 0, "tracker.fetchConcurrency must be > 0")
	check(c.Tracker.StateWorkers >= 0, "tracker.stateWorkers must be >= 0")
	check(c.Tracker.RefreshInterval >= 0, "tracker.refreshInterval must be >= 0")
	for _, id := range c.Tracker.CatalogIDs {
		check(id > 0, "tracker.catalogIds: invalid catalog id %d", id)
	}

	check(c.Stream.MaxConcurrentPerIP > 0, "stream.maxConcurrentPerIP must be > 0")
	check(c.Stream.KeepaliveInterval > 0, "stream.keepaliveInterval must be > 0")
	check(c.Stream.Buffer > 0, "stream.buffer must be > 0")

	check(c.Frames.SpinPeriod >= 0, "frames.spinPeriod must be >= 0")
	check(c.Frames.Tick > 0, "frames.tick must be > 0")

	return errors.Join(errs...)
}

// ParseLevel maps debug, info, warn or error (any case) to a slog level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO", "":
		return slog.LevelInfo, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown level %q", level)
}
