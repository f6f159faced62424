// Package healthsrv exposes the HTTP health endpoint of spec sections
// 4.G and 6, modeled on the plain http.ServeMux idiom used elsewhere in
// this codebase for small control-plane HTTP surfaces.
package healthsrv

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"
)

// HealthChecker reports aggregate engine health and per-stream failure
// detail, implemented by *controller.Controller.
type HealthChecker interface {
	Healthy() bool
	Failures() map[string]error
}

// Server serves GET /health returning 200 when every engine is
// running, or a 5xx when any engine has a captured fatal exception and
// abort-on-fatal is not suppressed.
type Server struct {
	Checker HealthChecker
	Log     *logrus.Logger
}

// New builds a Server for checker.
func New(checker HealthChecker, log *logrus.Logger) *Server {
	return &Server{Checker: checker, Log: log}
}

// Handler returns the http.Handler to mount.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	failures := s.Checker.Failures()
	body := map[string]interface{}{
		"healthy":  s.Checker.Healthy(),
		"failures": stringifyErrors(failures),
	}

	status := http.StatusOK
	if !s.Checker.Healthy() {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.Log.WithError(err).Error("failed to encode health response")
	}
}

func stringifyErrors(failures map[string]error) map[string]string {
	out := make(map[string]string, len(failures))
	for stream, err := range failures {
		out[stream] = err.Error()
	}
	return out
}
