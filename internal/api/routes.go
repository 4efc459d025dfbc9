package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ignite/broadcast/internal/metrics"
	"github.com/ignite/broadcast/internal/scheduler"
	"github.com/ignite/broadcast/internal/service/campaign"
	"github.com/ignite/broadcast/internal/service/contact"
	"github.com/ignite/broadcast/internal/service/sending"
	"github.com/ignite/broadcast/internal/tracking"
)

// SendRunner runs one send batch. Implemented by *sending.Orchestrator.
type SendRunner interface {
	Send(ctx context.Context, campaignID string, opts sending.Options) (*sending.Result, error)
}

// DueRunner sweeps scheduled campaigns. Implemented by *scheduler.Scheduler.
type DueRunner interface {
	RunDue(ctx context.Context) ([]scheduler.CampaignRun, error)
}

// Deps are the services the router exposes. Nil members leave their routes
// unregistered.
type Deps struct {
	Sender    SendRunner
	Campaigns *campaign.Service
	Contacts  *contact.Service
	Scheduler DueRunner
	Tracking  *tracking.Handler
	Health    *HealthChecker

	CronSecret     string
	AllowedOrigins []string
	// BatchSize applies when a request omits batchSize.
	BatchSize int
	// MaxBatchSize caps the batchSize a caller may request.
	MaxBatchSize int
	// SendTimeout bounds one manual send batch; zero means the request
	// context alone.
	SendTimeout time.Duration
}

// SetupRoutes configures all routes.
func SetupRoutes(d Deps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	origins := d.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if d.Health != nil {
		r.Get("/health", d.Health.HandleHealth)
		r.Get("/health/live", d.Health.HandleLiveness)
		r.Get("/health/ready", d.Health.HandleReadiness)
	} else {
		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"status":"ok"}`))
		})
	}
	r.Handle("/metrics", metrics.Handler())

	if d.Sender != nil {
		sh := &SendHandler{runner: d.Sender, batch: d.BatchSize, maxBatch: d.MaxBatchSize, timeout: d.SendTimeout}
		r.Post("/api/send", sh.HandleSend)
	}
	if d.Scheduler != nil {
		ch := &CronHandler{runner: d.Scheduler, secret: d.CronSecret}
		r.Get("/api/cron/send", ch.HandleCron)
	}
	if d.Campaigns != nil {
		(&CampaignHandlers{svc: d.Campaigns}).RegisterRoutes(r)
	}
	if d.Contacts != nil {
		(&ContactHandlers{svc: d.Contacts}).RegisterRoutes(r)
	}
	if d.Tracking != nil {
		d.Tracking.Register(r)
	}
	return r
}
