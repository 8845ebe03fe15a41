package httpserver

import (
	"net/http"
	"strings"

	"github.com/shek-hrd/dateherenow/internal/origin"
)

// WithOriginPolicy rejects browser requests whose Origin is neither the
// request host nor in the configured allow-list. Requests without an Origin
// header pass; native clients do not send one.
func (s *Server) WithOriginPolicy(next http.Handler) http.Handler {
	allowed := s.cfg.AllowedOrigins
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get("Origin"))
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}

		normalized, host, ok := origin.NormalizeHeader(header)
		if !ok || !origin.IsAllowed(normalized, host, r.Host, allowed) {
			s.log.Debug("rejected origin", "origin", header, "host", r.Host, "path", r.URL.Path)
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		h := w.Header()
		h.Set("Access-Control-Allow-Origin", normalized)
		h.Set("Access-Control-Allow-Credentials", "true")
		h.Set("Access-Control-Expose-Headers", requestIDHeader)
		h.Add("Vary", "Origin")

		// Preflight ends here.
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			h.Set("Access-Control-Allow-Methods", "GET,OPTIONS")
			if reqHeaders := strings.TrimSpace(r.Header.Get("Access-Control-Request-Headers")); reqHeaders != "" {
				h.Set("Access-Control-Allow-Headers", reqHeaders)
			}
			h.Set("Access-Control-Max-Age", "600")
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
