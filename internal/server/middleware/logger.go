package middleware

import (
	"log/slog"
	"net/http"
)

// NewRequestLogger logs every request reaching the control plane or the
// upgrade endpoint, tagged with the caller's resolved IP.
func NewRequestLogger(logger *slog.Logger) Middleware {
	logger = logger.With(slog.String("component", "http"))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var ip string
			if reqMeta, ok := ReqMetadataFrom(r.Context()); ok {
				ip = reqMeta.IP
			}

			logger.Info("Request received",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("ip", ip),
			)
			next.ServeHTTP(w, r)
		})
	}
}
