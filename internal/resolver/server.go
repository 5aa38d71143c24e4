// Package resolver is the read-side HTTP server: per-lane tune and
// what's-on lookups against the latest committed plan, plus the rendered
// artifact and operational endpoints. All plan reads go straight to the
// store; artifacts are served from disk, never regenerated per request.
package resolver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/net/netutil"

	"github.com/lanecast/lanecast/internal/config"
	"github.com/lanecast/lanecast/internal/logging"
	"github.com/lanecast/lanecast/internal/metrics"
	"github.com/lanecast/lanecast/internal/store"
)

const requestTimeout = 15 * time.Second

type Server struct {
	cfg      *config.Config
	st       *store.Store
	log      zerolog.Logger
	deeplink DeeplinkBuilder
	router   chi.Router

	// now is swappable in tests.
	now func() time.Time
}

// New builds the resolver with the default deeplink scheme.
func New(cfg *config.Config, st *store.Store) *Server {
	s := &Server{
		cfg:      cfg,
		st:       st,
		log:      logging.With("resolver"),
		deeplink: ShortDeeplink,
		now:      time.Now,
	}
	s.router = s.routes()
	return s
}

// SetDeeplinkBuilder replaces the deeplink scheme. Call before serving.
func (s *Server) SetDeeplinkBuilder(b DeeplinkBuilder) {
	if b != nil {
		s.deeplink = b
	}
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(s.instrument)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/health", s.handleHealth)
	r.Get("/channels", s.handleChannels)
	r.Get("/channels_db", s.handleChannelsDB)
	r.Get("/vc/{lane}", s.handleTune)
	r.Get("/vc/{lane}/debug", s.handleTuneDebug)
	r.Get("/whatson/{lane}", s.handleWhatsOn)
	r.Get("/whatson_all", s.handleWhatsOnAll)
	r.Get("/deeplink/{lane}", s.handleDeeplink)
	r.Get("/out/epg.xml", s.artifact("epg.xml", "application/xml; charset=utf-8"))
	r.Get("/out/playlist.m3u", s.artifact("playlist.m3u", "audio/x-mpegurl"))
	r.Get("/playlist.m3u", s.artifact("playlist.m3u", "audio/x-mpegurl"))
	r.Get("/slate", s.handleSlate)
	r.Get("/standby", s.handleSlate)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	return r
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe runs the server until ctx is canceled, then drains
// in-flight requests. The listener is capped at cfg.MaxConns concurrent
// connections.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	if s.cfg.MaxConns > 0 {
		ln = netutil.LimitListener(ln, s.cfg.MaxConns)
	}
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	s.log.Info().Str("addr", s.cfg.Addr).Int("max_conns", s.cfg.MaxConns).Msg("resolver listening")
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// instrument logs each request and feeds the per-route counters.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		metrics.ResolverRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Dur("dur", time.Since(start)).
			Msg("request")
	})
}

func (s *Server) outPath(name string) string {
	return filepath.Join(s.cfg.OutDir, name)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
