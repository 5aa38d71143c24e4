// Package ingest fetches the upstream watch-graph airing list and
// upserts it into the store. Ingest is idempotent: replaying the same
// payload leaves the store unchanged.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/lanecast/lanecast/internal/httpclient"
	"github.com/lanecast/lanecast/internal/logging"
	"github.com/lanecast/lanecast/internal/metrics"
	"github.com/lanecast/lanecast/internal/model"
	"github.com/lanecast/lanecast/internal/store"
)

const (
	defaultFetchTimeout = 60 * time.Second
	userAgent           = "lanecast/1.0 (+watch-graph-ingest)"
)

// Client fetches and decodes one watch-graph endpoint.
type Client struct {
	url  string
	http *http.Client
	log  zerolog.Logger
}

// New builds a client for the given watch-graph URL. timeout <= 0 uses
// the default; rps caps the request rate toward the upstream, <= 0
// disables the cap.
func New(url string, timeout time.Duration, rps float64, burst int) *Client {
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	return &Client{
		url:  url,
		http: httpclient.ForIngest(httpclient.WithTimeout(timeout), rps, burst),
		log:  logging.With("ingest"),
	}
}

// graphResponse is the watch-graph envelope. Unknown keys are ignored.
type graphResponse struct {
	Meta struct {
		Version string `json:"version"`
	} `json:"meta"`
	Airings []airing `json:"airings"`
}

type airing struct {
	ID                string `json:"id"`
	AiringID          string `json:"airingId"`
	SimulcastAiringID string `json:"simulcastAiringId"`
	Name              string `json:"name"`
	ShortName         string `json:"shortName"`
	Description       string `json:"description"`
	Sport             struct {
		Name string `json:"name"`
	} `json:"sport"`
	League struct {
		Name         string `json:"name"`
		Abbreviation string `json:"abbreviation"`
	} `json:"league"`
	Network struct {
		Name      string `json:"name"`
		ShortName string `json:"shortName"`
	} `json:"network"`
	Language string   `json:"language"`
	Packages []string `json:"packages"`
	Type     string   `json:"type"`
	ReAir    bool     `json:"reAir"`
	Studio   bool     `json:"studio"`
	Image    struct {
		Href string `json:"href"`
	} `json:"image"`
	StartDateTime string       `json:"startDateTime"`
	EndDateTime   string       `json:"endDateTime"`
	Feeds         []airingFeed `json:"feeds"`
}

type airingFeed struct {
	ID      string `json:"id"`
	URL     string `json:"url"`
	Primary bool   `json:"primary"`
}

// Snapshot is one decoded upstream payload.
type Snapshot struct {
	Events []model.Event
	Feeds  []model.Feed
	// SourceVersion identifies the payload for plan_run provenance:
	// the upstream meta.version when present, else a body digest.
	SourceVersion string
}

// Fetch downloads and decodes the watch-graph. Airings with missing ids
// or a non-positive duration are skipped with a warning, never fatal.
func (c *Client) Fetch(ctx context.Context) (*Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	resp, err := httpclient.DoWithRetry(ctx, c.http, req, httpclient.DefaultRetryPolicy)
	if err != nil {
		return nil, fmt.Errorf("watch-graph fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("watch-graph fetch: HTTP %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("watch-graph read: %w", err)
	}
	return c.decode(body)
}

func (c *Client) decode(body []byte) (*Snapshot, error) {
	var gr graphResponse
	if err := json.Unmarshal(body, &gr); err != nil {
		return nil, fmt.Errorf("watch-graph parse: %w", err)
	}
	snap := &Snapshot{SourceVersion: gr.Meta.Version}
	if snap.SourceVersion == "" {
		sum := sha256.Sum256(body)
		snap.SourceVersion = hex.EncodeToString(sum[:6])
	}
	for _, a := range gr.Airings {
		ev, ok := c.toEvent(a)
		if !ok {
			continue
		}
		snap.Events = append(snap.Events, ev)
		for _, f := range a.Feeds {
			if f.ID == "" || f.URL == "" {
				continue
			}
			snap.Feeds = append(snap.Feeds, model.Feed{
				FeedID:    f.ID,
				EventID:   ev.EventID,
				URL:       f.URL,
				IsPrimary: f.Primary,
			})
		}
	}
	return snap, nil
}

func (c *Client) toEvent(a airing) (model.Event, bool) {
	if strings.TrimSpace(a.ID) == "" {
		c.log.Warn().Str("name", a.Name).Msg("airing without id skipped")
		return model.Event{}, false
	}
	start, err := time.Parse(time.RFC3339, a.StartDateTime)
	if err != nil {
		c.log.Warn().Str("event_id", a.ID).Str("start", a.StartDateTime).Msg("unparseable start skipped")
		return model.Event{}, false
	}
	stop, err := time.Parse(time.RFC3339, a.EndDateTime)
	if err != nil {
		c.log.Warn().Str("event_id", a.ID).Str("end", a.EndDateTime).Msg("unparseable end skipped")
		return model.Event{}, false
	}
	if !start.Before(stop) {
		c.log.Warn().Str("event_id", a.ID).Msg("non-positive duration skipped")
		return model.Event{}, false
	}
	return model.Event{
		EventID:           a.ID,
		Title:             a.Name,
		Subtitle:          a.ShortName,
		Summary:           a.Description,
		Sport:             a.Sport.Name,
		LeagueName:        a.League.Name,
		LeagueAbbr:        a.League.Abbreviation,
		Network:           a.Network.Name,
		NetworkShort:      a.Network.ShortName,
		Language:          a.Language,
		Packages:          a.Packages,
		EventType:         model.ParseEventType(a.Type),
		IsReair:           a.ReAir,
		IsStudio:          a.Studio,
		AiringID:          a.AiringID,
		SimulcastAiringID: a.SimulcastAiringID,
		Image:             a.Image.Href,
		Start:             start.UTC(),
		Stop:              stop.UTC(),
	}, true
}

// Stats summarizes one ingest run.
type Stats struct {
	Events        int
	Feeds         int
	SourceVersion string
}

// Run fetches the watch-graph and upserts every event and feed. Partial
// failure mid-upsert leaves earlier rows in place; the upserts are
// individually idempotent so the next run converges.
func Run(ctx context.Context, c *Client, st *store.Store) (Stats, error) {
	var stats Stats
	snap, err := c.Fetch(ctx)
	if err != nil {
		return stats, err
	}
	for _, ev := range snap.Events {
		if err := st.UpsertEvent(ev); err != nil {
			return stats, fmt.Errorf("upsert event %s: %w", ev.EventID, err)
		}
		stats.Events++
		metrics.IngestEvents.Inc()
	}
	for _, f := range snap.Feeds {
		if err := st.UpsertFeed(f); err != nil {
			return stats, fmt.Errorf("upsert feed %s: %w", f.FeedID, err)
		}
		stats.Feeds++
	}
	stats.SourceVersion = snap.SourceVersion
	c.log.Info().
		Int("events", stats.Events).
		Int("feeds", stats.Feeds).
		Str("source_version", stats.SourceVersion).
		Msg("watch-graph ingest complete")
	return stats, nil
}
