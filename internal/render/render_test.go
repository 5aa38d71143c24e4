package render

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanecast/lanecast/internal/model"
)

func ts(hour, min int) time.Time {
	return time.Date(2025, 1, 1, hour, min, 0, 0, time.UTC)
}

func testChannels() []model.Channel {
	return []model.Channel{
		{ChannelID: "eplus01", Chno: 1, Name: "EPLUS 01", GroupName: "EPLUS", Active: true},
		{ChannelID: "eplus02", Chno: 2, Name: "EPLUS 02", GroupName: "EPLUS", Active: true},
		{ChannelID: "eplus03", Chno: 3, Name: "EPLUS 03", GroupName: "EPLUS", Active: false},
	}
}

func testSlots() []model.PlanSlot {
	return []model.PlanSlot{
		{ChannelID: "eplus01", Start: ts(0, 0), End: ts(1, 0), Kind: model.SlotPlaceholder, PlaceholderReason: model.GapBefore},
		{ChannelID: "eplus01", Start: ts(1, 0), End: ts(2, 0), Kind: model.SlotEvent, EventID: "E1"},
		{ChannelID: "eplus02", Start: ts(0, 0), End: ts(2, 0), Kind: model.SlotEvent, EventID: "E2"},
	}
}

func testEvents() map[string]model.Event {
	return map[string]model.Event{
		"E1": {
			EventID: "E1", Title: "Arsenal vs Chelsea", Subtitle: "Matchweek 20",
			Summary: "London derby.", Sport: "Soccer", LeagueName: "Premier League",
			Network: "ESPN+", EventType: model.EventLive,
			Image: "https://img.example/e1.jpg",
			Start:  ts(1, 0), Stop: ts(2, 0),
		},
		"E2": {
			EventID: "E2", Title: "Classic Fight Night", Sport: "Boxing",
			EventType: model.EventReplay, IsReair: true,
			Start: ts(0, 0), Stop: ts(2, 0),
		},
	}
}

func TestWriteXMLTV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "epg.xml")
	require.NoError(t, WriteXMLTV(path, testChannels(), testSlots(), testEvents(), GuideOptions{
		SourceName:   "lanecast",
		StandbyTitle: "Stand By",
	}))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)

	// Inactive lanes are not published.
	assert.Contains(t, out, `<channel id="eplus01">`)
	assert.Contains(t, out, `<channel id="eplus02">`)
	assert.NotContains(t, out, "eplus03")

	assert.Contains(t, out, `start="20250101010000 +0000"`)
	assert.Contains(t, out, `stop="20250101020000 +0000"`)
	assert.Contains(t, out, "<title>Arsenal vs Chelsea</title>")
	assert.Contains(t, out, "<sub-title>Matchweek 20</sub-title>")
	assert.Contains(t, out, "<title>Stand By</title>")
	assert.Contains(t, out, "<category>Sports</category>")
	assert.Contains(t, out, "<category>Soccer</category>")
	assert.Contains(t, out, "<category>Live</category>")
	assert.Contains(t, out, "<category>Sports Event</category>")
	assert.Contains(t, out, `<icon src="https://img.example/e1.jpg">`)
}

func TestXMLTVLiveCategoryOnlyForLiveFirstAiring(t *testing.T) {
	events := testEvents()
	p := programme(testSlots()[2], events, GuideOptions{StandbyTitle: "Stand By"})
	for _, c := range p.Categories {
		assert.NotEqual(t, "Live", c.Value, "re-airs never get the Live category")
		assert.NotEqual(t, "Sports Event", c.Value)
	}

	p = programme(testSlots()[0], events, GuideOptions{StandbyTitle: "Stand By"})
	assert.Equal(t, "Stand By", p.Title.Value)
	for _, c := range p.Categories {
		assert.NotEqual(t, "Live", c.Value, "placeholders never get the Live category")
	}
}

func TestXMLTVDisplayTimezone(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	p := programme(testSlots()[1], testEvents(), GuideOptions{StandbyTitle: "Stand By", Location: loc})
	assert.Equal(t, "20250101020000 +0100", p.Start)
	assert.Equal(t, "20250101030000 +0100", p.Stop)
}

// Re-rendering the same plan yields byte-identical artifacts.
func TestRenderDeterministic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "epg.xml")
	opts := GuideOptions{SourceName: "lanecast", StandbyTitle: "Stand By"}

	require.NoError(t, WriteXMLTV(path, testChannels(), testSlots(), testEvents(), opts))
	first, err := os.ReadFile(path)
	require.NoError(t, err)

	require.NoError(t, WriteXMLTV(path, testChannels(), testSlots(), testEvents(), opts))
	second, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestParseXMLTVChannelsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "epg.xml")
	require.NoError(t, WriteXMLTV(path, testChannels(), nil, nil, GuideOptions{}))
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	chs, err := ParseXMLTVChannels(data)
	require.NoError(t, err)
	require.Len(t, chs, 2)
	assert.Equal(t, "eplus01", chs[0].ChannelID)
	assert.Equal(t, 1, chs[0].Chno)
	assert.Equal(t, "EPLUS 01", chs[0].Name)
}

func TestWriteM3U(t *testing.T) {
	path := filepath.Join(t.TempDir(), "playlist.m3u")
	require.NoError(t, WriteM3U(path, testChannels(), PlaylistOptions{
		GroupTitle: "EPLUS",
		LaneURL: func(channelID string) string {
			return "http://localhost:8094/vc/" + channelID
		},
	}))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)

	assert.Contains(t, out, "#EXTM3U\n")
	assert.Contains(t, out, `#EXTINF:-1 tvg-id="eplus01" tvg-chno="1" group-title="EPLUS",EPLUS 01`)
	assert.Contains(t, out, "http://localhost:8094/vc/eplus01\n")
	assert.NotContains(t, out, "eplus03", "inactive lanes excluded")
}

func TestWriteFileAtomicReplacesWhole(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "artifact.txt")
	require.NoError(t, writeFileAtomic(path, []byte("first")))
	require.NoError(t, writeFileAtomic(path, []byte("second")))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}
