package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/crossarb/internal/domain"
	"github.com/alanyoungcy/crossarb/internal/scheduler"
	"github.com/alanyoungcy/crossarb/internal/server"
	"github.com/alanyoungcy/crossarb/internal/server/handler"
	"github.com/alanyoungcy/crossarb/internal/server/middleware"
	"github.com/alanyoungcy/crossarb/internal/server/ws"
)

const shutdownTimeout = 5 * time.Second

// ScanMode runs the detection pipeline without the HTTP surface. Sessions
// still receive items and are reachable through the manager.
func (a *App) ScanMode(ctx context.Context, deps *Dependencies) error {
	a.logger.Info("entering scan mode")
	g, gctx := errgroup.WithContext(ctx)
	a.startEngine(gctx, g, deps)
	return clean(g.Wait())
}

// FullMode runs the pipeline plus the HTTP API and the session stream hub.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.Info("entering full mode")
	g, gctx := errgroup.WithContext(ctx)
	a.startEngine(gctx, g, deps)

	hub := ws.NewHub(ws.SessionsFunc(func(tenant string) (ws.Stream, bool) {
		s, ok := deps.Sessions.Session(tenant)
		if !ok || s.State() != domain.SessionRunning {
			return nil, false
		}
		return s, true
	}), func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || middleware.OriginAllowed(a.cfg.Server.CORSOrigins, origin)
	}, a.logger)

	handlers := server.Handlers{
		Health:   handler.NewHealthHandler(deps.Venues, a.logger),
		Status:   handler.NewStatusHandler(a.cfg.Mode, a.statusSections(deps)),
		Sessions: handler.NewSessionHandler(deps.Sessions, a.sessionDefaults(), a.logger),
		Matches:  handler.NewMatchHandler(deps.Matcher, deps.Catalog.Get),
		Hedge:    handler.NewHedgeHandler(deps.Hedge, deps.Books, deps.Monitor, a.logger),
	}
	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.Limiter, a.logger)

	g.Go(func() error { return hub.Run(gctx) })
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return clean(g.Wait())
}

// startEngine launches the shared pipeline goroutines on g.
func (a *App) startEngine(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	g.Go(func() error { return deps.Venues.Run(ctx) })
	g.Go(func() error { return deps.Feeder.Run(ctx) })
	g.Go(func() error { return deps.Scanner.Run(ctx) })
	g.Go(func() error { return deps.Monitor.Run(ctx) })
	g.Go(func() error {
		return deps.Sessions.Run(ctx, deps.Scanner.Opportunities(), deps.Monitor.Alerts())
	})
	g.Go(func() error { return deps.Scheduler.Run(ctx) })

	// Populate the catalog and fee tables before the first scheduled tick.
	g.Go(func() error {
		for _, job := range []string{scheduler.JobFeeRefresh, scheduler.JobDiscovery} {
			if err := deps.Scheduler.Trigger(ctx, job); err != nil && ctx.Err() == nil {
				a.logger.Warn("initial job failed",
					slog.String("job", job),
					slog.String("error", err.Error()),
				)
			}
		}
		return nil
	})
}

func (a *App) sessionDefaults() domain.SessionConfig {
	venues := make([]domain.VenueID, 0, len(a.cfg.Session.DefaultVenues))
	for _, v := range a.cfg.Session.DefaultVenues {
		venues = append(venues, domain.VenueID(v))
	}
	if len(venues) == 0 {
		for _, v := range a.cfg.EnabledVenues() {
			venues = append(venues, domain.VenueID(v))
		}
	}
	return domain.SessionConfig{
		MinROI:      a.cfg.Session.DefaultMinROI,
		MaxPosition: a.cfg.Session.DefaultMaxPosition,
		Venues:      venues,
	}
}

func (a *App) statusSections(deps *Dependencies) map[string]func() any {
	return map[string]func() any{
		"venues":    func() any { return deps.Venues.Statuses() },
		"books":     func() any { return deps.Books.Stats() },
		"feeder":    func() any { return deps.Feeder.Stats() },
		"scanner":   func() any { return deps.Scanner.Stats() },
		"alerts":    func() any { return deps.Monitor.Stats() },
		"sessions":  func() any { return deps.Sessions.Statuses() },
		"jobs":      func() any { return deps.Scheduler.Stats() },
		"matches":   func() any { return deps.Matcher.Current().Len() },
		"publisher": func() any { return deps.Bus != nil },
	}
}

// clean treats cancellation as a normal shutdown.
func clean(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
