// Command lanecast: virtual sports lanes for a DVR.
//
//	run     Full service: refresh loop + resolver HTTP server. For systemd.
//	ingest  Fetch the watch-graph once and upsert events, then exit.
//	plan    Run one refresh cycle (ingest + plan + render), then exit.
//	render  Re-render epg.xml / playlist.m3u from the latest plan, then exit.
//	serve   Resolver HTTP server only (no refresh loop).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/lanecast/lanecast/internal/config"
	"github.com/lanecast/lanecast/internal/ingest"
	"github.com/lanecast/lanecast/internal/logging"
	"github.com/lanecast/lanecast/internal/model"
	"github.com/lanecast/lanecast/internal/render"
	"github.com/lanecast/lanecast/internal/resolver"
	"github.com/lanecast/lanecast/internal/scheduler"
	"github.com/lanecast/lanecast/internal/store"
)

func main() {
	runCmd := flag.NewFlagSet("run", flag.ExitOnError)
	runEnv := runCmd.String("env", ".env", "dotenv file (existing env vars win)")

	ingestCmd := flag.NewFlagSet("ingest", flag.ExitOnError)
	ingestEnv := ingestCmd.String("env", ".env", "dotenv file")

	planCmd := flag.NewFlagSet("plan", flag.ExitOnError)
	planEnv := planCmd.String("env", ".env", "dotenv file")
	planForce := planCmd.Bool("force", false, "discard the sticky map and reassign every event")
	planNoIngest := planCmd.Bool("no-ingest", false, "plan against stored events without fetching")

	renderCmd := flag.NewFlagSet("render", flag.ExitOnError)
	renderEnv := renderCmd.String("env", ".env", "dotenv file")

	serveCmd := flag.NewFlagSet("serve", flag.ExitOnError)
	serveEnv := serveCmd.String("env", ".env", "dotenv file")

	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s <run|ingest|plan|render|serve> [flags]\n", os.Args[0])
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "run":
		runCmd.Parse(os.Args[2:])
		err = cmdRun(*runEnv)
	case "ingest":
		ingestCmd.Parse(os.Args[2:])
		err = cmdIngest(*ingestEnv)
	case "plan":
		planCmd.Parse(os.Args[2:])
		err = cmdPlan(*planEnv, *planForce, *planNoIngest)
	case "render":
		renderCmd.Parse(os.Args[2:])
		err = cmdRender(*renderEnv)
	case "serve":
		serveCmd.Parse(os.Args[2:])
		err = cmdServe(*serveEnv)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q\n", os.Args[1])
		os.Exit(2)
	}
	if err != nil {
		logger := logging.L()
		logger.Error().Err(err).Str("command", os.Args[1]).Msg("command failed")
		os.Exit(1)
	}
}

// setup loads config and opens the store with lanes provisioned.
func setup(envFile string) (*config.Config, *store.Store, error) {
	if err := config.LoadEnvFile(envFile); err != nil {
		return nil, nil, fmt.Errorf("load %s: %w", envFile, err)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat)
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, nil, err
	}
	if err := st.EnsureLanes(cfg.LanePrefix, cfg.Lanes, cfg.GroupTitle); err != nil {
		st.Close()
		return nil, nil, err
	}
	return cfg, st, nil
}

func ingestClient(cfg *config.Config) *ingest.Client {
	if cfg.WatchGraphURL == "" {
		return nil
	}
	return ingest.New(cfg.WatchGraphURL, cfg.IngestTimeout, cfg.IngestRatePerSec, 2)
}

// signalContext cancels on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func cmdRun(envFile string) error {
	cfg, st, err := setup(envFile)
	if err != nil {
		return err
	}
	defer st.Close()
	ctx, stop := signalContext()
	defer stop()

	runner := scheduler.New(cfg, st, ingestClient(cfg))
	go runner.Run(ctx)

	return resolver.New(cfg, st).ListenAndServe(ctx)
}

func cmdIngest(envFile string) error {
	cfg, st, err := setup(envFile)
	if err != nil {
		return err
	}
	defer st.Close()
	client := ingestClient(cfg)
	if client == nil {
		return fmt.Errorf("WATCH_GRAPH_URL not configured")
	}
	ctx, stop := signalContext()
	defer stop()
	stats, err := ingest.Run(ctx, client, st)
	if err != nil {
		return err
	}
	logger := logging.L()
	logger.Info().
		Int("events", stats.Events).
		Int("feeds", stats.Feeds).
		Msg("ingest done")
	return nil
}

func cmdPlan(envFile string, force, noIngest bool) error {
	cfg, st, err := setup(envFile)
	if err != nil {
		return err
	}
	defer st.Close()
	ctx, stop := signalContext()
	defer stop()

	if force {
		if err := st.ClearStickyMap(); err != nil {
			return fmt.Errorf("clear sticky map: %w", err)
		}
	}
	client := ingestClient(cfg)
	if noIngest {
		client = nil
	}
	return scheduler.New(cfg, st, client).RunCycle(ctx, force)
}

func cmdRender(envFile string) error {
	cfg, st, err := setup(envFile)
	if err != nil {
		return err
	}
	defer st.Close()

	planID, err := st.LatestPlanID()
	if err != nil {
		return fmt.Errorf("no plan to render: %w", err)
	}
	slots, err := st.ListAllSlots(planID)
	if err != nil {
		return err
	}
	lanes, err := st.ListChannels(true)
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
		ev, err := st.GetEvent(s.EventID)
		if err != nil {
			return err
		}
		events[s.EventID] = ev
	}
	if err := render.WriteXMLTV(filepath.Join(cfg.OutDir, "epg.xml"), lanes, slots, events, render.GuideOptions{
		SourceName:   "lanecast",
		StandbyTitle: cfg.StandbyTitle,
		Location:     cfg.Location(),
	}); err != nil {
		return err
	}
	if err := render.WriteM3U(filepath.Join(cfg.OutDir, "playlist.m3u"), lanes, render.PlaylistOptions{
		GroupTitle: cfg.GroupTitle,
		LaneURL:    cfg.LaneURL,
	}); err != nil {
		return err
	}
	logger := logging.L()
	logger.Info().Int64("plan_id", planID).Int("slots", len(slots)).Msg("artifacts rendered")
	return nil
}

func cmdServe(envFile string) error {
	cfg, st, err := setup(envFile)
	if err != nil {
		return err
	}
	defer st.Close()
	ctx, stop := signalContext()
	defer stop()
	return resolver.New(cfg, st).ListenAndServe(ctx)
}
