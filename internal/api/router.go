package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/clinic-appointments/internal/appointment"
	"github.com/hackgods/clinic-appointments/internal/directory"
	"github.com/hackgods/clinic-appointments/internal/observability/metrics"
	"github.com/hackgods/clinic-appointments/internal/prescription"
	"github.com/hackgods/clinic-appointments/internal/schedule"
	"github.com/hackgods/clinic-appointments/pkg/logging"
)

type RouterConfig struct {
	Appointments  *appointment.Service
	Schedules     *schedule.Service
	Prescriptions *prescription.Service
	Users         directory.Reader
	JWTSecret     []byte

	Logger   *logging.Logger
	Metrics  *metrics.HTTPMetrics
	Gatherer prometheus.Gatherer

	// PgPool and Redis are only pinged by the readiness probe; nil means
	// the dependency is not in use.
	PgPool  Pinger
	Redis   *redis.Client
	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(TracingMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger, cfg.Metrics))
	r.Use(middleware.Recoverer)

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(Authenticate(cfg.JWTSecret, cfg.Users))

		r.Route("/schedules", func(r chi.Router) {
			r.Post("/", createScheduleHandler(cfg.Schedules))
			r.Put("/{id}", updateScheduleHandler(cfg.Schedules))
			r.Delete("/{id}", deleteScheduleHandler(cfg.Schedules))
			r.Get("/doctor/{id}", listDoctorSchedulesHandler(cfg.Schedules))
			r.Get("/doctor/{id}/available", listAvailableHandler(cfg.Schedules))
		})

		r.Route("/appointments", func(r chi.Router) {
			r.Post("/", bookAppointmentHandler(cfg.Appointments))
			r.Get("/{id}", getAppointmentHandler(cfg.Appointments))
			r.Put("/{id}", updateAppointmentHandler(cfg.Appointments))
			r.Delete("/{id}", deleteAppointmentHandler(cfg.Appointments))
			r.Get("/{role}/{userId}", listAppointmentsHandler(cfg.Appointments))
		})

		r.Route("/prescriptions", func(r chi.Router) {
			r.Post("/", createPrescriptionHandler(cfg.Prescriptions))
			r.Get("/{id}", getPrescriptionHandler(cfg.Prescriptions))
			r.Put("/{id}", updatePrescriptionHandler(cfg.Prescriptions))
			r.Delete("/{id}", deletePrescriptionHandler(cfg.Prescriptions))
			r.Get("/{role}/{userId}", listPrescriptionsHandler(cfg.Prescriptions))
		})
	})

	return r
}
