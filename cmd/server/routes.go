package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/linnemanlabs/go-core/httpmw"
	"github.com/linnemanlabs/go-core/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/gryph/internal/authmw"
	"github.com/linnemanlabs/gryph/internal/dashboardapi"
)

// newRouter builds the main API router. Everything under /api requires
// apiToken when one is configured; routes added later by the caller do not.
func newRouter(L log.Logger, session dashboardapi.Session, apiToken string) chi.Router {
	r := chi.NewRouter()

	// Compress JSON responses only, the timeline event stream must not be buffered
	r.Use(middleware.Compress(5, "application/json"))

	// Annotate logger (and tracer if trace is recording) with http.route from chi route pattern
	r.Use(httpmw.AnnotateHTTPRoute)

	// Access log middleware
	r.Use(httpmw.AccessLog())

	// Limit request body size, this is a wrapper around http.MaxBytesHandler which returns 413 if limit is exceeded
	r.Use(httpmw.MaxBody(1024 * 64))

	api := dashboardapi.New(L, session)
	r.Group(func(r chi.Router) {
		if apiToken != "" {
			r.Use(authmw.BearerToken(apiToken))
		}
		api.RegisterRoutes(r)
	})

	return r
}

// tracedTransport propagates trace context and records a client span per request.
func tracedTransport() http.RoundTripper {
	return otelhttp.NewTransport(http.DefaultTransport)
}

// tracedClient has no overall timeout; the event stream is a long-lived response.
func tracedClient() *http.Client {
	return &http.Client{Transport: tracedTransport()}
}
