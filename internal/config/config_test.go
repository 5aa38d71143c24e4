package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Lanes)
	assert.Equal(t, "eplus", cfg.LanePrefix)
	assert.Equal(t, 24, cfg.Grid.ValidHours)
	assert.Equal(t, 30, cfg.Grid.AlignMins)
	assert.Equal(t, 6, cfg.ScheduleHours)
	assert.True(t, cfg.Filter.CaseInsensitive)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("LANES", "4")
	t.Setenv("VALID_HOURS", "12")
	t.Setenv("ALIGN", "15")
	t.Setenv("PADDING_END_MINS", "30")
	t.Setenv("PADDING_LIVE_ONLY", "true")
	t.Setenv("FILTER_SPORTS", "Soccer, Basketball")
	t.Setenv("FILTER_EXCLUDE_LANGUAGES", "es,pt")
	t.Setenv("FILTER_EXCLUDE_EVENT_TYPES", "REPLAY")
	t.Setenv("FILTER_EXCLUDE_PPV", "true")
	t.Setenv("VC_SLATE_URL", "http://slate.example/standby.mp4")
	t.Setenv("M3U_GROUP_TITLE", "My Lanes")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Lanes)
	assert.Equal(t, 12, cfg.Grid.ValidHours)
	assert.Equal(t, 15, cfg.Grid.AlignMins)
	assert.Equal(t, 30, cfg.Padding.EndMins)
	assert.True(t, cfg.Padding.LiveOnly)
	assert.Equal(t, []string{"Soccer", "Basketball"}, cfg.Filter.Sports)
	assert.Equal(t, []string{"es", "pt"}, cfg.Filter.ExcludeLanguages)
	assert.Equal(t, []string{"REPLAY"}, cfg.Filter.ExcludeEventTypes)
	assert.True(t, cfg.Filter.ExcludePPV)
	assert.Equal(t, "http://slate.example/standby.mp4", cfg.SlateURL)
	assert.Equal(t, "My Lanes", cfg.GroupTitle)
}

func TestLoadIgnoresUnrelatedEnv(t *testing.T) {
	t.Setenv("LANES_SOMETHING_ELSE", "99")
	t.Setenv("HOME_LANES", "99")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Lanes)
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("LANES", "0")
	_, err := Load()
	assert.Error(t, err)
}

func TestValidWindow(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	now := time.Date(2025, 1, 1, 12, 34, 56, 789, time.UTC)
	from, to := cfg.ValidWindow(now)
	assert.True(t, from.Equal(time.Date(2025, 1, 1, 12, 34, 56, 0, time.UTC)))
	assert.True(t, to.Equal(from.Add(24*time.Hour)))
}

func TestLaneURLDirectAndCaptureHost(t *testing.T) {
	cfg := &Config{ResolverBaseURL: "http://localhost:8094/"}
	assert.Equal(t, "http://localhost:8094/vc/eplus01", cfg.LaneURL("eplus01"))

	cfg.CCHost = "cap.local"
	cfg.CCPort = 8888
	assert.Equal(t,
		"chrome://cap.local:8888/stream?url=http%3A%2F%2Flocalhost%3A8094%2Fvc%2Feplus01",
		cfg.LaneURL("eplus01"))
}

func TestLoadEnvFilePrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte(
		"# comment\nexport LANES=3\nSTANDBY_TITLE=\"Please Stand By\"\nBADLINE\n",
	), 0o644))

	t.Setenv("LANES", "5") // real env wins over the file
	require.NoError(t, LoadEnvFile(path))
	t.Cleanup(func() { os.Unsetenv("STANDBY_TITLE") })

	assert.Equal(t, "5", os.Getenv("LANES"))
	assert.Equal(t, "Please Stand By", os.Getenv("STANDBY_TITLE"))

	require.NoError(t, LoadEnvFile(filepath.Join(dir, "missing.env")), "missing file is not an error")
}
