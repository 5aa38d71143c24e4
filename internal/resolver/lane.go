package resolver

import (
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/lanecast/lanecast/internal/model"
	"github.com/lanecast/lanecast/internal/store"
)

// resolveLane accepts a lane in channel-id ("eplus10"), bare numeric
// ("10"), or prefixed-numeric ("eplus10" with any zero padding) form and
// tries each against storage.
func (s *Server) resolveLane(raw string) (model.Channel, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return model.Channel{}, store.ErrNotFound
	}
	ch, err := s.st.GetChannel(raw)
	if err == nil {
		return ch, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return model.Channel{}, err
	}
	digits := raw
	if i := strings.LastIndexFunc(raw, func(r rune) bool { return r < '0' || r > '9' }); i >= 0 {
		digits = raw[i+1:]
	}
	if n, convErr := strconv.Atoi(digits); convErr == nil {
		return s.st.GetChannelByChno(n)
	}
	return model.Channel{}, store.ErrNotFound
}

// sortLanes orders channels by the numeric part of their lane id, with
// non-numeric lanes after all numeric ones in lexicographic order. So
// eplus1, eplus2, eplus10, ad-hoc.
func sortLanes(channels []model.Channel) {
	sort.SliceStable(channels, func(i, j int) bool {
		ni, iNum := laneNumber(channels[i].ChannelID)
		nj, jNum := laneNumber(channels[j].ChannelID)
		switch {
		case iNum && jNum:
			if ni != nj {
				return ni < nj
			}
			return channels[i].ChannelID < channels[j].ChannelID
		case iNum:
			return true
		case jNum:
			return false
		default:
			return channels[i].ChannelID < channels[j].ChannelID
		}
	})
}

// laneNumber extracts the trailing digits of a lane id.
func laneNumber(id string) (int, bool) {
	i := len(id)
	for i > 0 && id[i-1] >= '0' && id[i-1] <= '9' {
		i--
	}
	if i == len(id) {
		return 0, false
	}
	n, err := strconv.Atoi(id[i:])
	if err != nil {
		return 0, false
	}
	return n, true
}

// atTimeLayouts are the accepted forms for the `at` query parameter:
// RFC 3339 (Z or offset) and naive local-less stamps read as UTC.
var atTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
}

// parseAt reads the `at` parameter, defaulting to now. Naive stamps are
// interpreted as UTC.
func parseAt(raw string, now time.Time) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return now.UTC(), nil
	}
	for _, layout := range atTimeLayouts {
		if t, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errors.New("unparseable at timestamp")
}
