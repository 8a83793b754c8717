package router

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/casecurrentai/casecurrent/internal/http/handlers"
	httpmiddleware "github.com/casecurrentai/casecurrent/internal/http/middleware"
	"github.com/casecurrentai/casecurrent/internal/qualify"
	"github.com/casecurrentai/casecurrent/internal/webhookout"
	"github.com/casecurrentai/casecurrent/pkg/logging"
)

// Pinger reports storage reachability for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config holds router configuration.
type Config struct {
	Logger *logging.Logger

	Telephony        *handlers.TelephonyHandler
	OnCall           *handlers.OnCallHandler
	Qualification    *qualify.Handler
	WebhookEndpoints *webhookout.Handler
	Realtime         http.Handler
	MetricsHandler   http.Handler

	APIJWTSecret       string
	CORSAllowedOrigins []string

	// Webhook routes sit behind their own per-IP rate limit; zero disables
	// it.
	WebhookRateLimit float64
	WebhookRateBurst int

	DB Pinger
}

// New creates a chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	// Public endpoints: health, metrics, provider webhooks.
	r.Group(func(public chi.Router) {
		public.Get("/healthz", healthHandler(cfg.DB))
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}

		public.Route("/webhooks", func(wr chi.Router) {
			if cfg.WebhookRateLimit > 0 {
				wr.Use(httpmiddleware.RateLimit(cfg.WebhookRateLimit, cfg.WebhookRateBurst))
			}
			wr.Route("/twilio", func(tw chi.Router) {
				tw.Post("/voice", cfg.Telephony.TwilioVoice)
				tw.Post("/status", cfg.Telephony.TwilioStatus)
				tw.Post("/recording", cfg.Telephony.TwilioRecording)
				tw.Post("/sms", cfg.Telephony.TwilioSMS)
			})
			wr.Route("/plivo", func(pl chi.Router) {
				pl.Post("/voice", cfg.Telephony.PlivoVoice)
				pl.Post("/status", cfg.Telephony.PlivoStatus)
				pl.Post("/recording", cfg.Telephony.PlivoRecording)
				pl.Post("/sms", cfg.Telephony.PlivoSMS)
			})
			wr.Post("/elevenlabs/call", cfg.Telephony.ElevenLabs)
			wr.Post("/vapi/call", cfg.Telephony.Vapi)
		})
	})

	// Org-scoped API and the dashboard websocket.
	r.Group(func(authed chi.Router) {
		authed.Use(httpmiddleware.OrgJWT(cfg.APIJWTSecret))

		if cfg.Realtime != nil {
			authed.Handle("/ws", cfg.Realtime)
		}

		authed.Route("/v1", func(v1 chi.Router) {
			v1.Route("/leads/{leadID}/qualification", func(q chi.Router) {
				q.Post("/run", cfg.Qualification.Run)
				q.Patch("/", cfg.Qualification.Override)
				q.Get("/", cfg.Qualification.Get)
			})

			v1.Route("/webhook-endpoints", func(we chi.Router) {
				we.Post("/", cfg.WebhookEndpoints.Create)
				we.Get("/", cfg.WebhookEndpoints.List)
				we.Route("/{endpointID}", func(e chi.Router) {
					e.Get("/", cfg.WebhookEndpoints.Get)
					e.Delete("/", cfg.WebhookEndpoints.Delete)
					e.Post("/rotate-secret", cfg.WebhookEndpoints.RotateSecret)
					e.Get("/deliveries", cfg.WebhookEndpoints.Deliveries)
				})
			})

			v1.Get("/oncall", cfg.OnCall.Get)
			v1.Put("/oncall", cfg.OnCall.Put)
			v1.Route("/phone-numbers/{numberID}", func(pn chi.Router) {
				pn.Get("/", cfg.OnCall.GetNumber)
				pn.Put("/oncall", cfg.OnCall.PutNumber)
			})
		})
	})

	return r
}

func healthHandler(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.Ping(ctx); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"degraded"}`))
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}
