package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/star/orbitrack/internal/orbit"
)

var (
	stateAt    string
	stateTrack int
)

var stateCmd = &cobra.Command{
	Use:   "state <norad_id>",
	Short: "Print the live state of one satellite as JSON",
	Long: `Fetches elements for one catalog id from the configured ephemeris source
and prints its state (velocity, latitude, longitude, elevation) at the given
instant, or now.

Examples:
  orbitrack state 25544
  orbitrack state 25544 --at 2024-04-10T12:00:00Z
  orbitrack state 25544 --track 10`,
	Args: cobra.ExactArgs(1),
	RunE: runState,
}

func init() {
	stateCmd.Flags().StringVar(&stateAt, "at", "", "RFC 3339 instant to propagate to (default now)")
	stateCmd.Flags().IntVar(&stateTrack, "track", 0, "also print this many states spaced by orbit.step")
}

func runState(cmd *cobra.Command, args []string) error {
	id, err := strconv.Atoi(args[0])
	if err != nil || id <= 0 {
		return fmt.Errorf("invalid norad_id %q", args[0])
	}

	cfg, logger, err := loadConfig(os.Stderr)
	if err != nil {
		return err
	}

	at := time.Now().UTC()
	if stateAt != "" {
		at, err = time.Parse(time.RFC3339, stateAt)
		if err != nil {
			return fmt.Errorf("invalid --at: %w", err)
		}
	}

	source, _ := newSource(cfg, logger)
	g := geometry(cfg)
	model := orbit.New(id, source, g, logger, orbit.WithClock(func() time.Time { return at }))
	if _, err := model.FetchElements(cmd.Context()); err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")

	if stateTrack <= 0 {
		st, err := model.CurrentState()
		if err != nil {
			return err
		}
		return enc.Encode(st)
	}

	track := make([]orbit.State, 0, stateTrack)
	for i := 0; i < stateTrack; i++ {
		st, err := model.StateAt(at.Add(time.Duration(i) * g.Step))
		if err != nil {
			logger.Warn("sample dropped", "norad_id", id, "index", i, "error", err)
			continue
		}
		track = append(track, st)
	}
	return enc.Encode(track)
}
