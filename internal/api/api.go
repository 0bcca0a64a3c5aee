package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/jsherman999/roomrelay/internal/config"
	"github.com/jsherman999/roomrelay/internal/hub"
	"github.com/jsherman999/roomrelay/internal/metrics"
	"github.com/jsherman999/roomrelay/internal/webui"
)

type API struct {
	cfg      *config.Config
	hub      *hub.Hub
	reg      *prometheus.Registry
	log      zerolog.Logger
	clock    clockwork.Clock
	limiter  *rate.Limiter
	upgrader websocket.Upgrader
}

func New(cfg *config.Config, h *hub.Hub, reg *prometheus.Registry, log zerolog.Logger) *API {
	return &API{
		cfg:     cfg,
		hub:     h,
		reg:     reg,
		log:     log.With().Str("component", "api").Logger(),
		clock:   clockwork.NewRealClock(),
		limiter: rate.NewLimiter(rate.Limit(cfg.Send.RatePerSec), cfg.Send.Burst),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: true,
		MaxAge:           3600,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// Transports
	r.Get("/ws", a.handleWebSocket)
	r.Get("/sse", a.handleStream)
	r.Post("/lp", a.handleLongPoll)

	// POST /send {"room_id":"...","sender":{"id":"...","type":"..."},"command":"..."}
	r.With(rateLimit(a.limiter)).Post("/send", a.handleSend)

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		c := a.hub.Counts()
		writeJSON(w, http.StatusOK, stats{WS: c.Push, SSE: c.Stream, LongPolling: c.Poll})
	})
	r.Post("/watching_users", a.handleUserList)
	// Older clients use the misspelled path.
	r.Post("/wathing_users", a.handleUserList)

	if a.reg != nil {
		r.Handle("/metrics", metrics.Handler(a.reg))
	}

	// Web UI
	ui, uiErr := webui.Handler()
	if uiErr == nil {
		r.Handle("/*", ui)
	}

	return r
}

type stats struct {
	WS          int `json:"ws"`
	SSE         int `json:"sse"`
	LongPolling int `json:"long_polling"`
}

// identity returns the caller-provided subscriber id, or a generated one.
// Subscribers are never registered under the empty id, which is reserved
// for server heartbeats.
func identity(r *http.Request) string {
	if id := r.URL.Query().Get("id"); id != "" {
		return id
	}
	return "anon-" + uuid.NewString()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func rateLimit(l *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.Allow() {
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
