package server

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// NewRouter wires the title API routes; anything else falls through to
// the static file server.
func NewRouter(server *Server, staticDir string, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(zapLoggerMiddleware(logger))

	r.Get("/title", server.handleTitle)
	r.Get("/members", server.handleMembers)

	r.NotFound(http.FileServer(http.Dir(staticDir)).ServeHTTP)

	return r
}

func zapLoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("query", maskQueryToken(r.URL.RawQuery)),
				zap.String("remote", r.RemoteAddr),
				zap.String("forwardedFor", r.Header.Get("X-Forwarded-For")),
			)
			next.ServeHTTP(w, r)
		})
	}
}

// maskQueryToken masks the "t" parameter in a query string so tokens
// never land in logs.
func maskQueryToken(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return rawQuery
	}
	if t := values.Get("t"); t != "" {
		if len(t) > 4 {
			values.Set("t", t[:4]+"****")
		}
	}
	var parts []string
	for k, vs := range values {
		for _, v := range vs {
			parts = append(parts, k+"="+v)
		}
	}
	return strings.Join(parts, "&")
}
