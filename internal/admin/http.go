package admin

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// channelSampler is implemented by *connector.Manager; kept as a local,
// optional interface (checked via type assertion in handleChannels) so
// StatsProvider implementations used in tests aren't forced to implement
// sampling too.
type channelSampler interface {
	ChannelSample(selectKey string, n int) []string
}

// HTTPServer serves /healthz and /stats over go-chi/chi/v5, mirroring the
// teacher's go.mod-declared chi dependency (never exercised in the
// retrieved snapshot).
type HTTPServer struct {
	router    chi.Router
	provider  StatsProvider
	startedAt time.Time
}

// NewHTTPServer builds the admin HTTP router around provider.
func NewHTTPServer(provider StatsProvider) *HTTPServer {
	s := &HTTPServer{provider: provider, startedAt: time.Now()}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/stats", s.handleStats)
	r.Get("/channels", s.handleChannels)
	s.router = r
	return s
}

func (s *HTTPServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	st := s.provider.Stats()
	w.Header().Set("Content-Type", "application/json")
	if st.State != "running" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"state": st.State})
}

func (s *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	st := Stats{Stats: s.provider.Stats(), Uptime: time.Since(s.startedAt)}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(st)
}

// handleChannels returns a deterministic, reproducible sample of registered
// channel ids (?n=, default 10; ?key= selects which sample you get) rather
// than the full registry, which can run into the thousands in production.
func (s *HTTPServer) handleChannels(w http.ResponseWriter, r *http.Request) {
	sampler, ok := s.provider.(channelSampler)
	w.Header().Set("Content-Type", "application/json")
	if !ok {
		_ = json.NewEncoder(w).Encode(map[string][]string{"channels": {}})
		return
	}

	n := 10
	if raw := r.URL.Query().Get("n"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			n = parsed
		}
	}
	key := r.URL.Query().Get("key")

	_ = json.NewEncoder(w).Encode(map[string][]string{"channels": sampler.ChannelSample(key, n)})
}

// ListenAndServe starts the admin HTTP server on addr.
func (s *HTTPServer) ListenAndServe(addr string) error {
	return http.ListenAndServe(addr, s)
}
