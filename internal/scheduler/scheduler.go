// Package scheduler drives the refresh cycle: ingest, filter, pad,
// assign, build, render. Cycles run at startup, on a timer, and on
// SIGHUP, serialized by a lock file so overlapping triggers cannot
// interleave builds.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/lanecast/lanecast/internal/config"
	"github.com/lanecast/lanecast/internal/ingest"
	"github.com/lanecast/lanecast/internal/logging"
	"github.com/lanecast/lanecast/internal/metrics"
	"github.com/lanecast/lanecast/internal/model"
	"github.com/lanecast/lanecast/internal/planner"
	"github.com/lanecast/lanecast/internal/render"
	"github.com/lanecast/lanecast/internal/store"
)

// Runner owns the refresh loop.
type Runner struct {
	cfg    *config.Config
	st     *store.Store
	client *ingest.Client
	log    zerolog.Logger

	// now is swappable in tests.
	now func() time.Time
}

func New(cfg *config.Config, st *store.Store, client *ingest.Client) *Runner {
	return &Runner{
		cfg:    cfg,
		st:     st,
		client: client,
		log:    logging.With("scheduler"),
		now:    time.Now,
	}
}

// Run performs a best-effort initial refresh, then rebuilds every
// ScheduleHours and on SIGHUP until ctx is canceled. Initial failure is
// logged, not fatal: the resolver keeps serving the prior plan.
func (r *Runner) Run(ctx context.Context) {
	if err := r.RunCycle(ctx, false); err != nil {
		r.log.Error().Err(err).Msg("initial refresh failed; serving prior state")
	}

	ticker := time.NewTicker(time.Duration(r.cfg.ScheduleHours) * time.Hour)
	defer ticker.Stop()
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.RunCycle(ctx, false); err != nil {
				r.log.Error().Err(err).Msg("scheduled refresh failed")
			}
		case <-hup:
			r.log.Info().Msg("SIGHUP received; refreshing")
			if err := r.RunCycle(ctx, false); err != nil {
				r.log.Error().Err(err).Msg("signaled refresh failed")
			}
		}
	}
}

// RunCycle executes one full refresh under the cycle lock and deadline.
// forceReplan discards the sticky map so every event is reassigned from
// scratch.
func (r *Runner) RunCycle(ctx context.Context, forceReplan bool) error {
	unlock, err := r.acquireLock()
	if err != nil {
		return err
	}
	defer unlock()

	deadline := time.Duration(r.cfg.CycleDeadlineMins) * time.Minute
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	started := r.now()
	outcome := "ok"
	err = r.cycle(ctx, forceReplan, &outcome)
	metrics.BuildsTotal.WithLabelValues(outcome).Inc()
	metrics.BuildDuration.Observe(time.Since(started).Seconds())
	return err
}

func (r *Runner) cycle(ctx context.Context, forceReplan bool, outcome *string) error {
	sourceVersion := ""
	if r.client != nil {
		stats, err := ingest.Run(ctx, r.client, r.st)
		if err != nil {
			// Last-known-good: plan against whatever is already stored.
			r.log.Warn().Err(err).Msg("ingest failed; reusing stored events")
			*outcome = "ingest_skipped"
		} else {
			sourceVersion = stats.SourceVersion
		}
	}
	if err := ctx.Err(); err != nil {
		*outcome = "aborted"
		return fmt.Errorf("cycle deadline before build: %w", err)
	}

	validFrom, validTo := r.cfg.ValidWindow(r.now())
	events, err := r.st.ListEventsInWindow(validFrom, validTo)
	if err != nil {
		*outcome = "aborted"
		return err
	}

	admitted, decisions := planner.Filter(events, r.cfg.Filter)
	r.recordFilter(decisions)
	filterEmpty := len(admitted) == 0 && len(events) > 0
	if filterEmpty {
		// Filter config that empties a non-empty corpus is treated as
		// operator error: keep every stored event and plan unfiltered.
		r.log.Error().
			Int("events", len(events)).
			Msg("filter admitted nothing; planning against unfiltered events")
		admitted = events
	}

	padded := planner.Pad(admitted, r.cfg.Padding)

	// A forced replan assigns from scratch, so the prior sticky map is
	// never consulted and not loaded.
	var sticky map[string]string
	if !forceReplan {
		if sticky, err = r.st.LoadStickyMap(); err != nil {
			*outcome = "aborted"
			return err
		}
	}
	lanes, err := r.st.ListChannels(true)
	if err != nil {
		*outcome = "aborted"
		return err
	}
	assignment := planner.Assign(padded, sticky, lanes, forceReplan, r.log)

	result, err := planner.Build(r.st, lanes, padded, assignment.Lanes, planner.BuildParams{
		ValidFrom:     validFrom,
		ValidTo:       validTo,
		AlignMins:     r.cfg.Grid.AlignMins,
		MinGapMins:    r.cfg.Grid.MinGapMins,
		SourceVersion: sourceVersion,
		Note:          buildNote(forceReplan),
	}, r.log)
	if err != nil {
		*outcome = "aborted"
		return fmt.Errorf("plan build: %w", err)
	}
	if err := ctx.Err(); err != nil {
		*outcome = "aborted"
		return fmt.Errorf("cycle deadline before render: %w", err)
	}

	if err := r.renderArtifacts(result.PlanID, lanes); err != nil {
		*outcome = "aborted"
		return err
	}

	r.log.Info().
		Int64("plan_id", result.PlanID).
		Int("programmes", result.Programmes).
		Int("placeholders", result.Placeholders).
		Int("real", result.Real).
		Int("dropped", len(assignment.Dropped)).
		Str("checksum", result.Checksum).
		Msg("refresh cycle complete")

	r.sweep(filterEmpty)
	return nil
}

func (r *Runner) renderArtifacts(planID int64, lanes []model.Channel) error {
	slots, err := r.st.ListAllSlots(planID)
	if err != nil {
		return err
	}
	events := make(map[string]model.Event)
	for _, s := range slots {
		if !s.IsEvent() {
			continue
		}
		if _, ok := events[s.EventID]; ok {
			continue
		}
		ev, err := r.st.GetEvent(s.EventID)
		if err != nil {
			return fmt.Errorf("render: slot event %s: %w", s.EventID, err)
		}
		events[s.EventID] = ev
	}
	epgPath := filepath.Join(r.cfg.OutDir, "epg.xml")
	if err := render.WriteXMLTV(epgPath, lanes, slots, events, render.GuideOptions{
		SourceName:   "lanecast",
		StandbyTitle: r.cfg.StandbyTitle,
		Location:     r.cfg.Location(),
	}); err != nil {
		return fmt.Errorf("render xmltv: %w", err)
	}
	m3uPath := filepath.Join(r.cfg.OutDir, "playlist.m3u")
	if err := render.WriteM3U(m3uPath, lanes, render.PlaylistOptions{
		GroupTitle: r.cfg.GroupTitle,
		LaneURL:    r.cfg.LaneURL,
	}); err != nil {
		return fmt.Errorf("render m3u: %w", err)
	}
	from, to := render.GuideWindow(slots)
	r.log.Debug().
		Time("guide_from", from).
		Time("guide_to", to).
		Msg("artifacts rendered")
	return nil
}

func (r *Runner) recordFilter(decisions map[string]planner.Decision) {
	audit := make(map[string]store.FilterDecision, len(decisions))
	for id, d := range decisions {
		if d.Allowed {
			metrics.EventsAdmitted.Inc()
		} else if len(d.Reasons) > 0 {
			metrics.EventsRejected.WithLabelValues(d.Reasons[0]).Inc()
		}
		audit[id] = store.FilterDecision{
			Allowed: d.Allowed,
			Reasons: joinReasons(d.Reasons),
		}
	}
	if err := r.st.ReplaceFilterAudit(audit); err != nil {
		r.log.Warn().Err(err).Msg("filter audit write failed")
	}
}

// sweep prunes expired events and old plan runs. Runs only after a
// successful cycle so a bad refresh never shrinks the corpus. The event
// TTL half is skipped on a cycle where the filter emptied a non-empty
// corpus: that is an operator error and the stored events must survive
// it untouched.
func (r *Runner) sweep(skipEventTTL bool) {
	ttl := time.Duration(r.cfg.Grid.EventTTLHrs) * time.Hour
	if ttl > 0 && !skipEventTTL {
		cutoff := r.now().UTC().Add(-ttl)
		if n, err := r.st.DeleteEventsBefore(cutoff); err != nil {
			r.log.Warn().Err(err).Msg("event TTL sweep failed")
		} else if n > 0 {
			r.log.Info().Int64("deleted", n).Msg("expired events swept")
		}
	}
	if keep := r.cfg.Grid.PlanKeep; keep > 0 {
		if n, err := r.st.DeletePlansBefore(keep); err != nil {
			r.log.Warn().Err(err).Msg("plan retention sweep failed")
		} else if n > 0 {
			r.log.Info().Int64("deleted", n).Msg("old plans swept")
		}
	}
}

// acquireLock takes the advisory cycle lock file. A lock older than one
// hour is treated as left over from a crashed process and stolen.
func (r *Runner) acquireLock() (func(), error) {
	dir := r.cfg.LockDir
	if dir == "" {
		dir = r.cfg.OutDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, "refresh.lock")
	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			f.Close()
			return func() { os.Remove(path) }, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, err
		}
		info, statErr := os.Stat(path)
		if statErr == nil && time.Since(info.ModTime()) > time.Hour {
			r.log.Warn().Str("lock", path).Msg("stealing stale cycle lock")
			os.Remove(path)
			continue
		}
		return nil, fmt.Errorf("refresh already running (lock %s held)", path)
	}
}

func buildNote(forceReplan bool) string {
	if forceReplan {
		return "force_replan"
	}
	return "scheduled"
}

func joinReasons(reasons []string) string {
	out := ""
	for i, r := range reasons {
		if i > 0 {
			out += ","
		}
		out += r
	}
	return out
}
