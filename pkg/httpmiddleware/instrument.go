package httpmiddleware

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Instrument wraps handlers with otelhttp server spans and metrics. Once the
// router has matched, the span is renamed to "METHOD /route/{pattern}".
func Instrument(service string, tp trace.TracerProvider, mp metric.MeterProvider) Middleware {
	return func(next http.Handler) http.Handler {
		named := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r)
			trace.SpanFromContext(r.Context()).SetName(r.Method + " " + routePattern(r))
		})
		return otelhttp.NewHandler(named, service,
			otelhttp.WithTracerProvider(tp),
			otelhttp.WithMeterProvider(mp),
			otelhttp.WithFilter(func(r *http.Request) bool {
				return r.URL.Path != "/livez" && r.URL.Path != "/readyz"
			}),
		)
	}
}
