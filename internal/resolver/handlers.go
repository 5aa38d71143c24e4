package resolver

import (
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lanecast/lanecast/internal/model"
	"github.com/lanecast/lanecast/internal/render"
	"github.com/lanecast/lanecast/internal/store"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{
		"ok": true,
		"ts": s.now().UTC().Format(time.RFC3339),
	}
	if plan, err := s.st.LatestPlan(); err == nil {
		out["plan_id"] = plan.PlanID
		out["valid_from"] = plan.ValidFrom.UTC().Format(time.RFC3339)
		out["valid_to"] = plan.ValidTo.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, out)
}

// handleChannels serves the lane list as seen by the DVR: parsed back
// out of the rendered XMLTV, so it reflects exactly what was published.
func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	data, err := os.ReadFile(s.outPath("epg.xml"))
	if err != nil {
		http.Error(w, "guide not rendered yet", http.StatusNotFound)
		return
	}
	channels, err := render.ParseXMLTVChannels(data)
	if err != nil {
		http.Error(w, "guide unreadable", http.StatusInternalServerError)
		return
	}
	items := make([]map[string]any, 0, len(channels))
	for _, ch := range channels {
		items = append(items, map[string]any{
			"channel_id": ch.ChannelID,
			"chno":       ch.Chno,
			"name":       ch.Name,
		})
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleChannelsDB(w http.ResponseWriter, r *http.Request) {
	channels, err := s.st.ListChannels(true)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	items := make([]map[string]any, 0, len(channels))
	for _, ch := range channels {
		items = append(items, map[string]any{
			"channel_id": ch.ChannelID,
			"chno":       ch.Chno,
			"name":       ch.Name,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":    len(items),
		"channels": items,
	})
}

// handleTune redirects the caller to the feed currently airing on the
// lane. Placeholders and missing feeds fall back to the slate, or 204
// when the caller asked only_live, or 404 with no slate configured.
func (s *Server) handleTune(w http.ResponseWriter, r *http.Request) {
	ch, err := s.resolveLane(chi.URLParam(r, "lane"))
	if err != nil {
		http.Error(w, "unknown lane", http.StatusNotFound)
		return
	}
	at, err := parseAt(r.URL.Query().Get("at"), s.now())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	onlyLive := r.URL.Query().Get("only_live") == "1"

	if feedURL, ok := s.feedURLAt(ch, at); ok {
		http.Redirect(w, r, feedURL, http.StatusFound)
		return
	}
	s.fallback(w, r, onlyLive)
}

// feedURLAt resolves the lane's current slot to a playable URL:
// preferred feed first, then the primary, then any feed.
func (s *Server) feedURLAt(ch model.Channel, at time.Time) (string, bool) {
	slot, err := s.st.FindSlot(ch.ChannelID, at)
	if err != nil || !slot.IsEvent() {
		return "", false
	}
	if slot.PreferredFeedID != "" {
		if f, err := s.st.GetFeed(slot.EventID, slot.PreferredFeedID); err == nil {
			return f.URL, true
		}
	}
	feeds, err := s.st.ListFeedsByEvent(slot.EventID)
	if err != nil || len(feeds) == 0 {
		return "", false
	}
	for _, f := range feeds {
		if f.IsPrimary {
			return f.URL, true
		}
	}
	return feeds[0].URL, true
}

func (s *Server) fallback(w http.ResponseWriter, r *http.Request, onlyLive bool) {
	if onlyLive {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if s.cfg.SlateURL != "" {
		http.Redirect(w, r, s.cfg.SlateURL, http.StatusFound)
		return
	}
	http.Error(w, "nothing airing", http.StatusNotFound)
}

func (s *Server) handleTuneDebug(w http.ResponseWriter, r *http.Request) {
	ch, err := s.resolveLane(chi.URLParam(r, "lane"))
	if err != nil {
		http.Error(w, "unknown lane", http.StatusNotFound)
		return
	}
	at, err := parseAt(r.URL.Query().Get("at"), s.now())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	out := map[string]any{
		"lane":  ch.ChannelID,
		"chno":  ch.Chno,
		"now":   at.Format(time.RFC3339),
		"slate": s.cfg.SlateURL,
	}
	slot, err := s.st.FindSlot(ch.ChannelID, at)
	switch {
	case errors.Is(err, store.ErrNoPlan):
		out["plan"] = nil
	case errors.Is(err, store.ErrNotFound):
		out["slot"] = nil
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	default:
		out["slot"] = map[string]any{
			"plan_id":            slot.PlanID,
			"start":              slot.Start.UTC().Format(time.RFC3339),
			"end":                slot.End.UTC().Format(time.RFC3339),
			"kind":               slot.Kind,
			"event_id":           slot.EventID,
			"preferred_feed_id":  slot.PreferredFeedID,
			"placeholder_reason": slot.PlaceholderReason,
		}
		if url, ok := s.feedURLAt(ch, at); ok {
			out["feed"] = url
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// whatsOnItem is one lane's answer: empty fields mean standby.
type whatsOnItem struct {
	Lane        string `json:"lane"`
	EventUID    string `json:"event_uid,omitempty"`
	DeeplinkURL string `json:"deeplink_url,omitempty"`
}

func (s *Server) whatsOn(ch model.Channel, at time.Time, withDeeplink bool) whatsOnItem {
	item := whatsOnItem{Lane: ch.ChannelID}
	slot, err := s.st.FindSlot(ch.ChannelID, at)
	if err != nil || !slot.IsEvent() {
		return item
	}
	item.EventUID = eventUID(slot.EventID)
	if withDeeplink {
		if ev, err := s.st.GetEvent(slot.EventID); err == nil {
			item.DeeplinkURL = s.deeplink(ev)
		}
	}
	return item
}

func (s *Server) handleWhatsOn(w http.ResponseWriter, r *http.Request) {
	ch, err := s.resolveLane(chi.URLParam(r, "lane"))
	if err != nil {
		http.Error(w, "unknown lane", http.StatusNotFound)
		return
	}
	at, err := parseAt(r.URL.Query().Get("at"), s.now())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	q := r.URL.Query()
	withDeeplink := q.Get("include") == "deeplink" || q.Get("param") == "deeplink_url"
	item := s.whatsOn(ch, at, withDeeplink)

	if q.Get("format") == "txt" {
		value := item.EventUID
		if q.Get("param") == "deeplink_url" {
			value = item.DeeplinkURL
		}
		if value == "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte(value + "\n"))
		return
	}

	out := map[string]any{
		"ok":   true,
		"lane": ch.ChannelID,
		"at":   at.Format(time.RFC3339),
	}
	if item.EventUID != "" {
		out["event_uid"] = item.EventUID
	}
	if item.DeeplinkURL != "" {
		out["deeplink_url"] = item.DeeplinkURL
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleWhatsOnAll(w http.ResponseWriter, r *http.Request) {
	at, err := parseAt(r.URL.Query().Get("at"), s.now())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	withDeeplink := r.URL.Query().Get("include") == "deeplink"
	channels, err := s.st.ListChannels(true)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	sortLanes(channels)
	items := make([]whatsOnItem, 0, len(channels))
	for _, ch := range channels {
		items = append(items, s.whatsOn(ch, at, withDeeplink))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":    true,
		"at":    at.Format(time.RFC3339),
		"items": items,
	})
}

func (s *Server) handleDeeplink(w http.ResponseWriter, r *http.Request) {
	ch, err := s.resolveLane(chi.URLParam(r, "lane"))
	if err != nil {
		http.Error(w, "unknown lane", http.StatusNotFound)
		return
	}
	at, err := parseAt(r.URL.Query().Get("at"), s.now())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	item := s.whatsOn(ch, at, true)
	if item.DeeplinkURL == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(item.DeeplinkURL + "\n"))
}

const slatePage = `<!doctype html>
<html><head><title>Stand By</title></head>
<body style="background:#000;color:#ccc;font-family:sans-serif;text-align:center;padding-top:20%">
<h1>Stand By</h1><p>Nothing is airing on this lane right now.</p>
</body></html>
`

func (s *Server) handleSlate(w http.ResponseWriter, r *http.Request) {
	if s.cfg.SlateURL != "" {
		http.Redirect(w, r, s.cfg.SlateURL, http.StatusFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(slatePage))
}
