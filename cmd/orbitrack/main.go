package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/star/orbitrack/internal/config"
	"github.com/star/orbitrack/internal/orbit"
	"github.com/star/orbitrack/internal/tle"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "orbitrack",
	Short: "Reference-frame and orbit-tracking engine",
	Long: `orbitrack keeps a set of reference frames and a reconciled set of tracked
satellites whose positions are propagated from two-line elements.

Configuration comes from defaults, an optional --config file and ORBITRACK_*
environment variables (ORBITRACK_HTTP_ADDR, ORBITRACK_EPHEMERIS_OFFLINE, ...).`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a JSON, YAML or TOML config file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(stateCmd)
	rootCmd.AddCommand(importCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the configuration and builds a JSON logger writing to w.
func loadConfig(w io.Writer) (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	level, err := config.ParseLevel(cfg.Log.Level)
	if err != nil {
		return config.Config{}, nil, err
	}
	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	return cfg, logger, nil
}

// newSource picks the element source: the on-disk archive when offline,
// otherwise the HTTP fetcher with write-through archiving.
func newSource(cfg config.Config, logger *slog.Logger) (tle.Source, *tle.Archive) {
	var archive *tle.Archive
	if cfg.Ephemeris.ArchiveDir != "" {
		archive = tle.NewArchive(cfg.Ephemeris.ArchiveDir, cfg.Ephemeris.ArchiveMaxFiles)
	}
	if cfg.Ephemeris.Offline {
		return archive, archive
	}
	fetcher := tle.NewFetcher(cfg.Ephemeris.URL, logger)
	if archive == nil {
		return fetcher, nil
	}
	return tle.NewArchivingSource(fetcher, archive, logger), archive
}

func geometry(cfg config.Config) orbit.Geometry {
	return orbit.Geometry{
		EarthRadius:    cfg.Render.EarthRadius,
		AltitudeOffset: cfg.Render.AltitudeOffset,
		Samples:        cfg.Orbit.Samples,
		Step:           cfg.Orbit.Step,
		FetchTimeout:   cfg.Ephemeris.Timeout,
	}
}
