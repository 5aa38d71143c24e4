// Package config loads process-wide tunables from the environment.
// Layering is defaults → env vars, via koanf with an explicit key map so
// stray environment variables never leak into the config.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// FilterConfig enumerates the event admission rules. Empty lists are
// wildcards (no restriction on that dimension).
type FilterConfig struct {
	Networks          []string `koanf:"networks"`
	Sports            []string `koanf:"sports"`
	Leagues           []string `koanf:"leagues"`
	Languages         []string `koanf:"languages"`
	EventTypes        []string `koanf:"event_types"`
	ExcludeNetworks   []string `koanf:"exclude_networks"`
	ExcludeSports     []string `koanf:"exclude_sports"`
	ExcludeLeagues    []string `koanf:"exclude_leagues"`
	ExcludeLanguages  []string `koanf:"exclude_languages"`
	ExcludeEventTypes []string `koanf:"exclude_event_types"`

	PartialLeagueMatch bool `koanf:"partial_league_match"`
	CaseInsensitive    bool `koanf:"case_insensitive"`
	RequireESPNPlus    bool `koanf:"require_espn_plus"`
	ExcludePPV         bool `koanf:"exclude_ppv"`
	ExcludeReair       bool `koanf:"exclude_reair"`
	ExcludeNoSport     bool `koanf:"exclude_no_sport"`
}

// PaddingConfig extends live event intervals to absorb overruns.
type PaddingConfig struct {
	StartMins int  `koanf:"start_mins"`
	EndMins   int  `koanf:"end_mins"`
	LiveOnly  bool `koanf:"live_only"`
}

// GridConfig shapes the plan window and placeholder alignment.
type GridConfig struct {
	AlignMins   int `koanf:"align_mins"`
	MinGapMins  int `koanf:"min_gap_mins"`
	ValidHours  int `koanf:"valid_hours"`
	PlanKeep    int `koanf:"plan_keep"`
	EventTTLHrs int `koanf:"event_ttl_hours"`
}

// Config holds every tunable, loaded once at process start.
type Config struct {
	Lanes      int    `koanf:"lanes"`
	LanePrefix string `koanf:"lane_prefix"`
	GroupTitle string `koanf:"group_title"`

	Filter  FilterConfig  `koanf:"filter"`
	Padding PaddingConfig `koanf:"padding"`
	Grid    GridConfig    `koanf:"grid"`

	ScheduleHours int    `koanf:"schedule_hours"`
	DisplayTZ     string `koanf:"display_tz"`

	DBPath  string `koanf:"db"`
	OutDir  string `koanf:"out"`
	LockDir string `koanf:"lock_dir"`

	Addr            string `koanf:"addr"`
	MaxConns        int    `koanf:"max_conns"`
	ResolverBaseURL string `koanf:"resolver_base_url"`
	SlateURL        string `koanf:"slate_url"`
	StandbyTitle    string `koanf:"standby_title"`
	CCHost          string `koanf:"cc_host"`
	CCPort          int    `koanf:"cc_port"`

	WatchGraphURL     string        `koanf:"watch_graph_url"`
	IngestTimeout     time.Duration `koanf:"ingest_timeout"`
	IngestRatePerSec  float64       `koanf:"ingest_rate_per_sec"`
	CycleDeadlineMins int           `koanf:"cycle_deadline_mins"`

	LogLevel  string `koanf:"log_level"`
	LogFormat string `koanf:"log_format"`
}

func defaults() *Config {
	return &Config{
		Lanes:      8,
		LanePrefix: "eplus",
		GroupTitle: "EPLUS",
		Filter: FilterConfig{
			CaseInsensitive:    true,
			PartialLeagueMatch: true,
		},
		Padding: PaddingConfig{LiveOnly: true},
		Grid: GridConfig{
			AlignMins:   30,
			MinGapMins:  30,
			ValidHours:  24,
			PlanKeep:    24,
			EventTTLHrs: 72,
		},
		ScheduleHours:     6,
		DisplayTZ:         "UTC",
		DBPath:            "./lanecast.db",
		OutDir:            "./out",
		Addr:              ":8094",
		MaxConns:          256,
		ResolverBaseURL:   "http://localhost:8094",
		StandbyTitle:      "Stand By",
		CCPort:            8888,
		IngestTimeout:     45 * time.Second,
		IngestRatePerSec:  4,
		CycleDeadlineMins: 10,
		LogLevel:          "info",
		LogFormat:         "console",
	}
}

// envMap maps the documented flat env keys onto koanf paths. Keys not in
// the map are ignored so unrelated environment noise cannot change config.
var envMap = map[string]string{
	"lanes":                "lanes",
	"lane_prefix":          "lane_prefix",
	"m3u_group_title":      "group_title",
	"valid_hours":          "grid.valid_hours",
	"align":                "grid.align_mins",
	"min_gap_mins":         "grid.min_gap_mins",
	"plan_keep":            "grid.plan_keep",
	"event_ttl_hours":      "grid.event_ttl_hours",
	"padding_start_mins":   "padding.start_mins",
	"padding_end_mins":     "padding.end_mins",
	"padding_live_only":    "padding.live_only",
	"schedule_hours":       "schedule_hours",
	"tz":                   "display_tz",
	"db":                   "db",
	"out":                  "out",
	"logs":                 "lock_dir",
	"addr":                 "addr",
	"max_conns":            "max_conns",
	"vc_resolver_base_url": "resolver_base_url",
	"vc_slate_url":         "slate_url",
	"standby_title":        "standby_title",
	"cc_host":              "cc_host",
	"cc_port":              "cc_port",
	"watch_graph_url":      "watch_graph_url",
	"ingest_timeout":       "ingest_timeout",
	"ingest_rate_per_sec":  "ingest_rate_per_sec",
	"cycle_deadline_mins":  "cycle_deadline_mins",
	"log_level":            "log_level",
	"log_format":           "log_format",

	"filter_networks":             "filter.networks",
	"filter_sports":               "filter.sports",
	"filter_leagues":              "filter.leagues",
	"filter_languages":            "filter.languages",
	"filter_event_types":          "filter.event_types",
	"filter_exclude_networks":     "filter.exclude_networks",
	"filter_exclude_sports":       "filter.exclude_sports",
	"filter_exclude_leagues":      "filter.exclude_leagues",
	"filter_exclude_languages":    "filter.exclude_languages",
	"filter_exclude_event_types":  "filter.exclude_event_types",
	"filter_partial_league_match": "filter.partial_league_match",
	"filter_case_insensitive":     "filter.case_insensitive",
	"filter_require_espn_plus":    "filter.require_espn_plus",
	"filter_exclude_ppv":          "filter.exclude_ppv",
	"filter_exclude_reair":        "filter.exclude_reair",
	"filter_exclude_no_sport":     "filter.exclude_no_sport",
}

// listPaths are env values parsed as comma-separated lists.
var listPaths = []string{
	"filter.networks",
	"filter.sports",
	"filter.leagues",
	"filter.languages",
	"filter.event_types",
	"filter.exclude_networks",
	"filter.exclude_sports",
	"filter.exclude_leagues",
	"filter.exclude_languages",
	"filter.exclude_event_types",
}

// Load builds a Config from defaults overridden by environment variables.
// Call LoadEnvFile(".env") first to honor a dotenv file.
func Load() (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(defaults(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	if err := k.Load(env.Provider("", ".", func(key string) string {
		return envMap[strings.ToLower(key)]
	}), nil); err != nil {
		return nil, fmt.Errorf("config env: %w", err)
	}
	for _, path := range listPaths {
		v, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		if err := k.Set(path, splitList(v)); err != nil {
			return nil, fmt.Errorf("config list %s: %w", path, err)
		}
	}
	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("config unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the planner cannot honor.
func (c *Config) Validate() error {
	if c.Lanes <= 0 {
		return fmt.Errorf("config: LANES must be positive, got %d", c.Lanes)
	}
	if c.Grid.ValidHours <= 0 {
		return fmt.Errorf("config: VALID_HOURS must be positive, got %d", c.Grid.ValidHours)
	}
	if c.Grid.AlignMins <= 0 {
		return fmt.Errorf("config: ALIGN must be positive, got %d", c.Grid.AlignMins)
	}
	if c.Grid.MinGapMins < 0 {
		return fmt.Errorf("config: MIN_GAP_MINS must not be negative, got %d", c.Grid.MinGapMins)
	}
	if c.Padding.StartMins < 0 || c.Padding.EndMins < 0 {
		return fmt.Errorf("config: padding minutes must not be negative")
	}
	if c.ScheduleHours <= 0 {
		return fmt.Errorf("config: SCHEDULE_HOURS must be positive, got %d", c.ScheduleHours)
	}
	return nil
}

// ValidWindow returns the plan window [from, to) anchored at now.
func (c *Config) ValidWindow(now time.Time) (time.Time, time.Time) {
	from := now.UTC().Truncate(time.Second)
	return from, from.Add(time.Duration(c.Grid.ValidHours) * time.Hour)
}

// Location resolves DISPLAY TZ for guide rendering. Unknown or empty
// zone names fall back to UTC.
func (c *Config) Location() *time.Location {
	if c.DisplayTZ == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.DisplayTZ)
	if err != nil {
		return time.UTC
	}
	return loc
}

// LaneURL renders the playlist URL for one lane: the resolver tune
// endpoint, or a capture-host wrapper when CC_HOST is configured.
func (c *Config) LaneURL(channelID string) string {
	base := strings.TrimSuffix(c.ResolverBaseURL, "/")
	direct := base + "/vc/" + channelID
	if c.CCHost == "" {
		return direct
	}
	return fmt.Sprintf("chrome://%s:%d/stream?url=%s", c.CCHost, c.CCPort, url.QueryEscape(direct))
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
