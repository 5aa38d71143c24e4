package render

import (
	"fmt"
	"strings"

	"github.com/lanecast/lanecast/internal/model"
)

// PlaylistOptions shape one M3U render. LaneURL maps a channel_id to
// the URL the DVR should open; the config layer supplies it so the
// capture-host indirection stays out of this package.
type PlaylistOptions struct {
	GroupTitle string
	LaneURL    func(channelID string) string
}

// WriteM3U renders the lane playlist at path, one EXTINF entry per
// active lane in chno order.
func WriteM3U(path string, channels []model.Channel, opts PlaylistOptions) error {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	for _, ch := range channels {
		if !ch.Active {
			continue
		}
		group := opts.GroupTitle
		if group == "" {
			group = ch.GroupName
		}
		fmt.Fprintf(&b, "#EXTINF:-1 tvg-id=%q tvg-chno=%q group-title=%q,%s\n",
			ch.ChannelID, fmt.Sprint(ch.Chno), group, ch.Name)
		b.WriteString(opts.LaneURL(ch.ChannelID))
		b.WriteByte('\n')
	}
	return writeFileAtomic(path, []byte(b.String()))
}
