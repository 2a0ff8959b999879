package mid

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// RoundTripperFunc adapts a function to http.RoundTripper.
type RoundTripperFunc func(*http.Request) (*http.Response, error)

func (f RoundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// TransportMiddleware wraps an outbound http.RoundTripper.
type TransportMiddleware func(http.RoundTripper) http.RoundTripper

// Transport applies middlewares to rt left-to-right (first is outermost).
// A nil rt means http.DefaultTransport.
func Transport(rt http.RoundTripper, mw ...TransportMiddleware) http.RoundTripper {
	if rt == nil {
		rt = http.DefaultTransport
	}
	for i := len(mw) - 1; i >= 0; i-- {
		rt = mw[i](rt)
	}
	return rt
}

// UserAgent sets the User-Agent header unless the request already has one.
func UserAgent(ua string) TransportMiddleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			if ua != "" && r.Header.Get("User-Agent") == "" {
				r = r.Clone(r.Context())
				r.Header.Set("User-Agent", ua)
			}
			return next.RoundTrip(r)
		})
	}
}

type sourceKey struct{}

// WithSource tags ctx with the dictionary source a request is made for.
func WithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, sourceKey{}, source)
}

// SourceFrom returns the source set by WithSource, or "".
func SourceFrom(ctx context.Context) string {
	s, _ := ctx.Value(sourceKey{}).(string)
	return s
}

// ClientLogger logs each outbound request at debug level, with its source
// when the request context carries one.
func ClientLogger(log *slog.Logger) TransportMiddleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			start := time.Now()
			resp, err := next.RoundTrip(r)
			attrs := []any{"source", SourceFrom(r.Context()), "method", r.Method, "url", r.URL.String(), "duration", time.Since(start)}
			if err != nil {
				log.Debug("fetch", append(attrs, "error", err)...)
				return resp, err
			}
			log.Debug("fetch", append(attrs, "status", resp.StatusCode)...)
			return resp, nil
		})
	}
}

// OTel creates a client span for each outbound request.
func OTel() TransportMiddleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return otelhttp.NewTransport(next)
	}
}
