package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/star/orbitrack/internal/config"
	"github.com/star/orbitrack/internal/orbit"
	"github.com/star/orbitrack/internal/tle"
)

const catalogue = `ISS (ZARYA)
1 25544U 98067A   24100.50000000  .00016717  00000-0  10270-3 0  9005
2 25544  51.6400 100.0000 0001000   0.0000   0.0000 15.50000000    09
STARLINK-1007
1 44713U 19074A   24100.50000000  .00001000  00000-0  10000-4 0  9995
2 44713  53.0000 200.0000 0001500  90.0000 270.0000 15.06000000    05
`

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	// Flag variables outlive a single Execute.
	configPath, stateAt, stateTrack = "", "", 0

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestImportThenOfflineState(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "stations.tle")
	require.NoError(t, os.WriteFile(file, []byte(catalogue), 0644))

	t.Setenv("ORBITRACK_EPHEMERIS_ARCHIVEDIR", filepath.Join(dir, "archive"))
	t.Setenv("ORBITRACK_EPHEMERIS_OFFLINE", "true")
	t.Setenv("ORBITRACK_LOG_LEVEL", "error")

	out, err := execute(t, "import", file)
	require.NoError(t, err)
	assert.Contains(t, out, "imported 2 element sets")

	out, err = execute(t, "state", "25544", "--at", "2024-04-10T12:00:00Z")
	require.NoError(t, err)

	var st orbit.State
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, 25544, st.CatalogID)
	assert.InDelta(t, 0, st.Latitude, 90)
	assert.InDelta(t, 0, st.Longitude, 180)
	assert.Greater(t, st.ElevationKm, 0.0)
	assert.Equal(t, "2024-04-10T12:00:00Z", st.Timestamp.UTC().Format("2006-01-02T15:04:05Z07:00"))

	out, err = execute(t, "state", "44713", "--at", "2024-04-10T12:00:00Z", "--track", "3")
	require.NoError(t, err)
	var track []orbit.State
	require.NoError(t, json.Unmarshal([]byte(out), &track))
	assert.Len(t, track, 3)
}

func TestStateRejectsBadArgs(t *testing.T) {
	t.Setenv("ORBITRACK_EPHEMERIS_OFFLINE", "true")
	t.Setenv("ORBITRACK_EPHEMERIS_ARCHIVEDIR", t.TempDir())

	_, err := execute(t, "state", "iss")
	assert.ErrorContains(t, err, "invalid norad_id")

	_, err = execute(t, "state", "25544", "--at", "yesterday")
	assert.ErrorContains(t, err, "invalid --at")

	// Nothing archived for this id.
	_, err = execute(t, "state", "25544")
	assert.ErrorIs(t, err, orbit.ErrFetch)
}

func TestNewSource(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	cfg.Ephemeris.ArchiveDir = t.TempDir()
	src, archive := newSource(cfg, testLogger())
	require.NotNil(t, archive)
	assert.IsType(t, &tle.ArchivingSource{}, src)

	cfg.Ephemeris.Offline = true
	src, _ = newSource(cfg, testLogger())
	assert.IsType(t, &tle.Archive{}, src)

	cfg.Ephemeris.Offline = false
	cfg.Ephemeris.ArchiveDir = ""
	src, archive = newSource(cfg, testLogger())
	assert.Nil(t, archive)
	assert.IsType(t, &tle.Fetcher{}, src)
}
