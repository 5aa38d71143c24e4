package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanecast/lanecast/internal/model"
	"github.com/lanecast/lanecast/internal/store"
)

const samplePayload = `{
  "meta": {"version": "2025-01-01T00:00:00Z"},
  "airings": [
    {
      "id": "aaaa-1:es",
      "airingId": "air-1",
      "simulcastAiringId": "sim-1",
      "name": "Arsenal vs Chelsea",
      "shortName": "ARS v CHE",
      "description": "London derby.",
      "sport": {"name": "Soccer"},
      "league": {"name": "Premier League", "abbreviation": "EPL"},
      "network": {"name": "ESPN+", "shortName": "ESPN+"},
      "language": "en",
      "packages": ["ESPN_PLUS"],
      "type": "LIVE",
      "reAir": false,
      "studio": false,
      "image": {"href": "https://img.example/1.jpg"},
      "startDateTime": "2025-01-01T01:00:00Z",
      "endDateTime": "2025-01-01T03:00:00Z",
      "feeds": [
        {"id": "f1", "url": "http://cdn.example/1.m3u8", "primary": true},
        {"id": "f2", "url": "http://cdn.example/2.m3u8", "primary": false}
      ]
    },
    {
      "id": "",
      "name": "no id, skipped",
      "startDateTime": "2025-01-01T01:00:00Z",
      "endDateTime": "2025-01-01T02:00:00Z"
    },
    {
      "id": "bad-times",
      "name": "zero duration, skipped",
      "startDateTime": "2025-01-01T02:00:00Z",
      "endDateTime": "2025-01-01T02:00:00Z"
    }
  ]
}`

func TestDecodeMapsAirings(t *testing.T) {
	c := New("http://unused", 0, 0, 0)
	snap, err := c.decode([]byte(samplePayload))
	require.NoError(t, err)

	assert.Equal(t, "2025-01-01T00:00:00Z", snap.SourceVersion)
	require.Len(t, snap.Events, 1, "malformed airings are skipped, not fatal")
	require.Len(t, snap.Feeds, 2)

	ev := snap.Events[0]
	assert.Equal(t, "aaaa-1:es", ev.EventID)
	assert.Equal(t, "Arsenal vs Chelsea", ev.Title)
	assert.Equal(t, "ARS v CHE", ev.Subtitle)
	assert.Equal(t, "Soccer", ev.Sport)
	assert.Equal(t, "Premier League", ev.LeagueName)
	assert.Equal(t, "EPL", ev.LeagueAbbr)
	assert.Equal(t, model.EventLive, ev.EventType)
	assert.Equal(t, []string{"ESPN_PLUS"}, ev.Packages)
	assert.Equal(t, "https://img.example/1.jpg", ev.Image)
	assert.Equal(t, "2025-01-01T01:00:00Z", ev.Start.Format("2006-01-02T15:04:05Z"))

	assert.True(t, snap.Feeds[0].IsPrimary)
	assert.Equal(t, "f2", snap.Feeds[1].FeedID)
}

func TestDecodeVersionFallsBackToDigest(t *testing.T) {
	c := New("http://unused", 0, 0, 0)
	snap, err := c.decode([]byte(`{"airings": []}`))
	require.NoError(t, err)
	assert.Len(t, snap.SourceVersion, 12, "body digest when meta.version missing")
}

func TestDecodeRejectsMalformedPayload(t *testing.T) {
	c := New("http://unused", 0, 0, 0)
	_, err := c.decode([]byte(`{"airings": `))
	assert.Error(t, err)
}

func TestRunIsIdempotent(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(samplePayload))
	}))
	defer upstream.Close()

	st, err := store.Open(":memory:")
	require.NoError(t, err)
	defer st.Close()

	c := New(upstream.URL, 0, 0, 0)
	stats, err := Run(context.Background(), c, st)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Events)
	assert.Equal(t, 2, stats.Feeds)

	// Replaying the same payload leaves the store unchanged.
	_, err = Run(context.Background(), c, st)
	require.NoError(t, err)
	n, err := st.CountEvents()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	feeds, err := st.ListFeedsByEvent("aaaa-1:es")
	require.NoError(t, err)
	assert.Len(t, feeds, 2)
}

func TestFetchSurfacesHTTPErrors(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer upstream.Close()

	c := New(upstream.URL, 0, 0, 0)
	_, err := c.Fetch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 403")
}
