// Package planner is the deterministic core: filter → pad → assign →
// build. Every function here is a pure transformation of its inputs plus
// config; all persistence goes through the store at the edges.
package planner

import (
	"strings"

	"github.com/lanecast/lanecast/internal/config"
	"github.com/lanecast/lanecast/internal/model"
)

// espnPlusPackage is the canonical marker token for the ESPN+ entitlement.
const espnPlusPackage = "ESPN_PLUS"

// Decision records why one event was admitted or rejected. Reasons list
// every matched exclusion rule, not just the first, so the audit view is
// useful when several rules fire at once.
type Decision struct {
	Allowed bool
	Reasons []string
}

// Filter reduces events to those admissible under cfg. Pure and
// order-independent: the admitted slice preserves input order, and the
// decision map covers every input event.
func Filter(events []model.Event, cfg config.FilterConfig) ([]model.Event, map[string]Decision) {
	admitted := make([]model.Event, 0, len(events))
	decisions := make(map[string]Decision, len(events))
	for _, e := range events {
		reasons := evaluate(e, cfg)
		if len(reasons) == 0 {
			admitted = append(admitted, e)
			decisions[e.EventID] = Decision{Allowed: true}
		} else {
			decisions[e.EventID] = Decision{Allowed: false, Reasons: reasons}
		}
	}
	return admitted, decisions
}

func evaluate(e model.Event, cfg config.FilterConfig) []string {
	var reasons []string

	if len(cfg.Networks) > 0 && !matchAny(cfg, e.Network, cfg.Networks, false) && !matchAny(cfg, e.NetworkShort, cfg.Networks, false) {
		reasons = append(reasons, "network_not_included")
	}
	if len(cfg.Sports) > 0 && !matchAny(cfg, e.Sport, cfg.Sports, false) {
		reasons = append(reasons, "sport_not_included")
	}
	if len(cfg.Leagues) > 0 && !matchAny(cfg, e.LeagueName, cfg.Leagues, cfg.PartialLeagueMatch) && !matchAny(cfg, e.LeagueAbbr, cfg.Leagues, cfg.PartialLeagueMatch) {
		reasons = append(reasons, "league_not_included")
	}
	if len(cfg.Languages) > 0 && !matchAny(cfg, e.Language, cfg.Languages, false) {
		reasons = append(reasons, "language_not_included")
	}
	if len(cfg.EventTypes) > 0 && !matchAny(cfg, string(e.EventType), cfg.EventTypes, false) {
		reasons = append(reasons, "event_type_not_included")
	}

	if matchAny(cfg, e.Network, cfg.ExcludeNetworks, false) || matchAny(cfg, e.NetworkShort, cfg.ExcludeNetworks, false) {
		reasons = append(reasons, "network_excluded")
	}
	if matchAny(cfg, e.Sport, cfg.ExcludeSports, false) {
		reasons = append(reasons, "sport_excluded")
	}
	if matchAny(cfg, e.LeagueName, cfg.ExcludeLeagues, cfg.PartialLeagueMatch) || matchAny(cfg, e.LeagueAbbr, cfg.ExcludeLeagues, cfg.PartialLeagueMatch) {
		reasons = append(reasons, "league_excluded")
	}
	if matchAny(cfg, e.Language, cfg.ExcludeLanguages, false) {
		reasons = append(reasons, "language_excluded")
	}
	if matchAny(cfg, string(e.EventType), cfg.ExcludeEventTypes, false) {
		reasons = append(reasons, "event_type_excluded")
	}

	if cfg.RequireESPNPlus && !e.HasPackage(espnPlusPackage) {
		reasons = append(reasons, "espn_plus_required")
	}
	if cfg.ExcludePPV && hasPPVPackage(e) {
		reasons = append(reasons, "ppv_excluded")
	}
	if cfg.ExcludeReair && e.IsReair {
		reasons = append(reasons, "reair_excluded")
	}
	if cfg.ExcludeNoSport && noSport(e) {
		reasons = append(reasons, "no_sport_excluded")
	}
	return reasons
}

// matchAny reports whether value matches one of wanted. Exact match by
// default; substring in either direction when partial is set. Empty
// values never match a non-empty want.
func matchAny(cfg config.FilterConfig, value string, wanted []string, partial bool) bool {
	value = strings.TrimSpace(value)
	if value == "" {
		return false
	}
	cmp := value
	if cfg.CaseInsensitive {
		cmp = strings.ToLower(cmp)
	}
	for _, w := range wanted {
		w = strings.TrimSpace(w)
		if w == "" {
			continue
		}
		if cfg.CaseInsensitive {
			w = strings.ToLower(w)
		}
		if cmp == w {
			return true
		}
		if partial && (strings.Contains(cmp, w) || strings.Contains(w, cmp)) {
			return true
		}
	}
	return false
}

func hasPPVPackage(e model.Event) bool {
	for _, p := range e.Packages {
		if strings.Contains(strings.ToUpper(p), "PPV") {
			return true
		}
	}
	return false
}

func noSport(e model.Event) bool {
	s := strings.TrimSpace(e.Sport)
	return s == "" || strings.EqualFold(s, "unknown")
}
