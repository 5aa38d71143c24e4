// Package render emits the two on-disk artifacts the DVR consumes: the
// XMLTV guide and the M3U playlist. Both writers are atomic
// (write-then-rename) so readers never observe a partial file.
package render

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/lanecast/lanecast/internal/model"
)

// xmltvTimeLayout is the XMLTV programme timestamp format.
const xmltvTimeLayout = "20060102150405 -0700"

type xmlTV struct {
	XMLName    xml.Name       `xml:"tv"`
	Source     string         `xml:"source-info-name,attr,omitempty"`
	Channels   []xmlChannel   `xml:"channel"`
	Programmes []xmlProgramme `xml:"programme"`
}

type xmlChannel struct {
	ID      string `xml:"id,attr"`
	Display string `xml:"display-name"`
	LCN     string `xml:"lcn,omitempty"`
}

type xmlProgramme struct {
	Start      string     `xml:"start,attr"`
	Stop       string     `xml:"stop,attr"`
	Channel    string     `xml:"channel,attr"`
	Title      xmlValue   `xml:"title"`
	SubTitle   *xmlValue  `xml:"sub-title,omitempty"`
	Desc       *xmlValue  `xml:"desc,omitempty"`
	Categories []xmlValue `xml:"category"`
	Icon       *xmlIcon   `xml:"icon,omitempty"`
}

type xmlValue struct {
	Value string `xml:",chardata"`
}

type xmlIcon struct {
	Src string `xml:"src,attr"`
}

// GuideOptions shape one XMLTV render.
type GuideOptions struct {
	SourceName   string
	StandbyTitle string
	// Location is the display timezone for programme stamps; stored
	// times stay UTC. Nil means UTC.
	Location *time.Location
}

// WriteXMLTV renders the latest plan as an XMLTV guide at path. One
// channel element per active lane, one programme per slot. Event slots
// carry full metadata; standby slots get just the standby title.
func WriteXMLTV(path string, channels []model.Channel, slots []model.PlanSlot, events map[string]model.Event, opts GuideOptions) error {
	if opts.StandbyTitle == "" {
		opts.StandbyTitle = "Stand By"
	}
	tv := &xmlTV{Source: opts.SourceName}
	for _, ch := range channels {
		if !ch.Active {
			continue
		}
		tv.Channels = append(tv.Channels, xmlChannel{
			ID:      ch.ChannelID,
			Display: ch.Name,
			LCN:     strconv.Itoa(ch.Chno),
		})
	}
	for _, s := range slots {
		tv.Programmes = append(tv.Programmes, programme(s, events, opts))
	}

	var buf strings.Builder
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(tv); err != nil {
		return fmt.Errorf("encode xmltv: %w", err)
	}
	buf.WriteByte('\n')
	return writeFileAtomic(path, []byte(buf.String()))
}

func programme(s model.PlanSlot, events map[string]model.Event, opts GuideOptions) xmlProgramme {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	p := xmlProgramme{
		Start:   s.Start.In(loc).Format(xmltvTimeLayout),
		Stop:    s.End.In(loc).Format(xmltvTimeLayout),
		Channel: s.ChannelID,
	}
	ev, ok := events[s.EventID]
	if !s.IsEvent() || !ok {
		p.Title = xmlValue{Value: opts.StandbyTitle}
		p.Categories = []xmlValue{{Value: "Sports"}}
		return p
	}

	p.Title = xmlValue{Value: ev.Title}
	if ev.Subtitle != "" {
		p.SubTitle = &xmlValue{Value: ev.Subtitle}
	}
	if d := composeDesc(ev); d != "" {
		p.Desc = &xmlValue{Value: d}
	}
	p.Categories = categories(ev)
	if ev.Image != "" {
		p.Icon = &xmlIcon{Src: ev.Image}
	}
	return p
}

// categories always start with Sports; the sport name is added when
// known, and Live plus "Sports Event" only for a live first airing.
func categories(ev model.Event) []xmlValue {
	cats := []xmlValue{{Value: "Sports"}}
	if sport := strings.TrimSpace(ev.Sport); sport != "" && !strings.EqualFold(sport, "unknown") {
		cats = append(cats, xmlValue{Value: sport})
	}
	if ev.EventType == model.EventLive && !ev.IsReair {
		cats = append(cats, xmlValue{Value: "Live"}, xmlValue{Value: "Sports Event"})
	}
	return cats
}

func composeDesc(ev model.Event) string {
	var parts []string
	for _, s := range []string{ev.Subtitle, ev.Summary} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	var tags []string
	if s := strings.TrimSpace(ev.Sport); s != "" && !strings.EqualFold(s, "unknown") {
		tags = append(tags, s)
	}
	if l := strings.TrimSpace(ev.LeagueName); l != "" {
		tags = append(tags, l)
	}
	if n := strings.TrimSpace(ev.Network); n != "" {
		tags = append(tags, n)
	}
	if len(tags) > 0 {
		parts = append(parts, strings.Join(tags, " | "))
	}
	return strings.Join(parts, " ")
}

// writeFileAtomic writes to a temp file in the target directory and
// renames over path, so concurrent readers see the old or the new file,
// never a mix.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// ParseXMLTVChannels reads the channel list back out of a rendered
// guide. The resolver's /channels endpoint serves this.
func ParseXMLTVChannels(data []byte) ([]model.Channel, error) {
	var tv xmlTV
	if err := xml.Unmarshal(data, &tv); err != nil {
		return nil, fmt.Errorf("parse xmltv: %w", err)
	}
	out := make([]model.Channel, 0, len(tv.Channels))
	for _, ch := range tv.Channels {
		chno, _ := strconv.Atoi(ch.LCN)
		out = append(out, model.Channel{
			ChannelID: ch.ID,
			Chno:      chno,
			Name:      ch.Display,
			Active:    true,
		})
	}
	return out, nil
}

// GuideWindow returns the [start, stop) span covered by slots, for the
// scheduler's sanity log.
func GuideWindow(slots []model.PlanSlot) (time.Time, time.Time) {
	var from, to time.Time
	for _, s := range slots {
		if from.IsZero() || s.Start.Before(from) {
			from = s.Start
		}
		if s.End.After(to) {
			to = s.End
		}
	}
	return from, to
}
